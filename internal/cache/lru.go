package cache

import (
	"container/list"
	"sync"
	"time"
)

// Bounded in-process LRU with per-entry TTL. This is the hot tier of the
// scan cache: a single mutex guards insert/evict/lookup, entries expire on
// read past their deadline, and the oldest entry is evicted under capacity
// pressure.

type lruEntry struct {
	key        string
	value      []byte
	insertedAt time.Time
	expiresAt  time.Time
}

// LRU is a mutex-guarded least-recently-used cache.
type LRU struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recent
	items    map[string]*list.Element
}

// NewLRU creates an LRU bounded to capacity entries.
func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 1000
	}
	return &LRU{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Get returns the stored value and its age. Expired entries are removed on
// access and reported as a miss.
func (l *LRU) Get(key string) (value []byte, age time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, exists := l.items[key]
	if !exists {
		return nil, 0, false
	}
	entry := el.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		l.order.Remove(el)
		delete(l.items, key)
		return nil, 0, false
	}

	l.order.MoveToFront(el)
	return entry.value, time.Since(entry.insertedAt), true
}

// Put inserts or replaces a value with the given TTL, evicting the least
// recently used entry when full.
func (l *LRU) Put(key string, value []byte, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if el, exists := l.items[key]; exists {
		entry := el.Value.(*lruEntry)
		entry.value = value
		entry.insertedAt = now
		entry.expiresAt = now.Add(ttl)
		l.order.MoveToFront(el)
		return
	}

	if l.order.Len() >= l.capacity {
		oldest := l.order.Back()
		if oldest != nil {
			l.order.Remove(oldest)
			delete(l.items, oldest.Value.(*lruEntry).key)
		}
	}

	el := l.order.PushFront(&lruEntry{
		key:        key,
		value:      value,
		insertedAt: now,
		expiresAt:  now.Add(ttl),
	})
	l.items[key] = el
}

// Remove deletes a key if present.
func (l *LRU) Remove(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, exists := l.items[key]; exists {
		l.order.Remove(el)
		delete(l.items, key)
	}
}

// Clear drops every entry.
func (l *LRU) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order.Init()
	l.items = make(map[string]*list.Element, l.capacity)
}

// Len reports the live entry count, including not-yet-collected expired entries.
func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}
