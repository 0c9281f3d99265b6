package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rawblock/urlscan-engine/internal/config"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Two-tier scan cache.
//
// Tier 1 is the in-process LRU (hot, bounded, mutex-guarded). Tier 2 is an
// optional shared redis — a miss must consult it before declaring absence,
// and hits are promoted back into the hot tier. Redis unavailability is a
// soft failure: the in-process tier is the safety net, and every cache
// error is treated as a miss.
//
// The cache is never authoritative for tombstoning: a stale entry can only
// replay a previous verdict, it cannot promote a URL to known-malicious.

// Tier tags returned with a hit, for diagnostics.
const (
	TierMemory = "memory"
	TierRedis  = "redis"
)

const (
	scanKeyPrefix  = "urlscan:scan:"
	reachKeyPrefix = "urlscan:reach:"
)

// CachedScan wraps a stored verdict with its provenance.
type CachedScan struct {
	Result *models.FinalScanResult
	Age    time.Duration
	Tier   string
}

// CachedReach wraps a stored reachability record.
type CachedReach struct {
	Record *models.ReachabilityRecord
	Age    time.Duration
	Tier   string
}

type redisEnvelope struct {
	Payload    json.RawMessage `json:"payload"`
	InsertedAt time.Time       `json:"insertedAt"`
}

// Manager coordinates both tiers.
type Manager struct {
	hot  *LRU
	rdb  redis.UniversalClient // nil when no shared tier is configured
	ttls config.CacheTTLs
}

// NewManager builds the cache. rdb may be nil for a single-tier deployment.
func NewManager(capacity int, rdb redis.UniversalClient, ttls config.CacheTTLs) *Manager {
	return &Manager{
		hot:  NewLRU(capacity),
		rdb:  rdb,
		ttls: ttls,
	}
}

// GetScan looks a verdict up by canonical URL hash.
func (m *Manager) GetScan(ctx context.Context, urlHash string) (*CachedScan, bool) {
	key := scanKeyPrefix + urlHash

	if raw, age, ok := m.hot.Get(key); ok {
		var result models.FinalScanResult
		if err := json.Unmarshal(raw, &result); err == nil {
			return &CachedScan{Result: &result, Age: age, Tier: TierMemory}, true
		}
		m.hot.Remove(key)
	}

	raw, age, ok := m.sharedGet(ctx, key)
	if !ok {
		return nil, false
	}
	var result models.FinalScanResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false
	}
	// Promote into the hot tier with the remainder of the risk TTL.
	ttl := m.ttls.TTLFor(result.RiskLevel) - age
	if ttl > 0 {
		m.hot.Put(key, raw, ttl)
	}
	return &CachedScan{Result: &result, Age: age, Tier: TierRedis}, true
}

// PutScan stores a verdict with a TTL derived from its risk level.
func (m *Manager) PutScan(ctx context.Context, urlHash string, result *models.FinalScanResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		log.Printf("[Cache] Failed to marshal scan result for %s: %v", urlHash, err)
		return
	}
	key := scanKeyPrefix + urlHash
	ttl := m.ttls.TTLFor(result.RiskLevel)

	m.hot.Put(key, raw, ttl)
	m.sharedSet(ctx, key, raw, ttl)
}

// GetReach looks a reachability record up by domain.
func (m *Manager) GetReach(ctx context.Context, domain string) (*CachedReach, bool) {
	key := reachKeyPrefix + domain

	if raw, age, ok := m.hot.Get(key); ok {
		var rec models.ReachabilityRecord
		if err := json.Unmarshal(raw, &rec); err == nil {
			return &CachedReach{Record: &rec, Age: age, Tier: TierMemory}, true
		}
		m.hot.Remove(key)
	}

	raw, age, ok := m.sharedGet(ctx, key)
	if !ok {
		return nil, false
	}
	var rec models.ReachabilityRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false
	}
	return &CachedReach{Record: &rec, Age: age, Tier: TierRedis}, true
}

// PutReach stores a reachability record under the fixed reach TTL.
func (m *Manager) PutReach(ctx context.Context, domain string, rec *models.ReachabilityRecord) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return
	}
	key := reachKeyPrefix + domain
	m.hot.Put(key, raw, m.ttls.Reach)
	m.sharedSet(ctx, key, raw, m.ttls.Reach)
}

// ClearAll wipes both tiers. Redis removal is prefix-scoped so the engine
// does not flush co-tenant keys.
func (m *Manager) ClearAll(ctx context.Context) {
	m.hot.Clear()
	if m.rdb == nil {
		return
	}
	for _, prefix := range []string{scanKeyPrefix, reachKeyPrefix} {
		iter := m.rdb.Scan(ctx, 0, prefix+"*", 200).Iterator()
		for iter.Next(ctx) {
			if err := m.rdb.Del(ctx, iter.Val()).Err(); err != nil {
				log.Printf("[Cache] Failed to delete %s: %v", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			log.Printf("[Cache] Redis scan during clear failed: %v", err)
		}
	}
}

func (m *Manager) sharedGet(ctx context.Context, key string) (payload []byte, age time.Duration, ok bool) {
	if m.rdb == nil {
		return nil, 0, false
	}
	raw, err := m.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[Cache] Redis get %s failed, treating as miss: %v", key, err)
		}
		return nil, 0, false
	}
	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, 0, false
	}
	return env.Payload, time.Since(env.InsertedAt), true
}

func (m *Manager) sharedSet(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	if m.rdb == nil || ttl <= 0 {
		return
	}
	env := redisEnvelope{Payload: payload, InsertedAt: time.Now()}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := m.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		log.Printf("[Cache] Redis set %s failed: %v", key, err)
	}
}
