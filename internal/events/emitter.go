package events

import (
	"log"
	"sync"
	"time"

	"github.com/rawblock/urlscan-engine/internal/config"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Scan event emitter. Publish never blocks the pipeline: each subscriber
// owns a bounded buffer, and when it fills the emitter either drops the
// event or unsubscribes the laggard, per configuration. Verdict latency is
// never traded for delivery.

type subscriber struct {
	ch     chan models.ScanEvent
	scanID string // empty subscribes to every scan
}

// Emitter fans scan events out to subscribers.
type Emitter struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	cfg    config.EventConfig
}

func NewEmitter(cfg config.EventConfig) *Emitter {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &Emitter{subs: make(map[int]*subscriber), cfg: cfg}
}

// Subscribe attaches a listener. scanID filters to one scan; empty receives
// everything. The returned cancel func detaches and closes the channel.
func (e *Emitter) Subscribe(scanID string) (<-chan models.ScanEvent, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	sub := &subscriber{ch: make(chan models.ScanEvent, e.cfg.BufferSize), scanID: scanID}
	e.subs[id] = sub

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if s, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Publish delivers an event to every matching subscriber without blocking.
func (e *Emitter) Publish(ev models.ScanEvent) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}

	e.mu.RLock()
	var overrun []int
	for id, sub := range e.subs {
		if sub.scanID != "" && sub.scanID != ev.ScanID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			overrun = append(overrun, id)
		}
	}
	e.mu.RUnlock()

	if len(overrun) == 0 || !e.cfg.DropSlowSubs {
		return
	}
	e.mu.Lock()
	for _, id := range overrun {
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub.ch)
			log.Printf("[Events] Dropped slow subscriber %d (buffer %d full)", id, e.cfg.BufferSize)
		}
	}
	e.mu.Unlock()
}

// SubscriberCount reports attached listeners, for the health surface.
func (e *Emitter) SubscriberCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}
