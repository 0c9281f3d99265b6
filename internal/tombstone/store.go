package tombstone

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/rawblock/urlscan-engine/internal/db"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Tombstone Store — the persistent known-malicious fast path.
//
// A tombstone short-circuits every future scan of its URL to an immediate
// CRITICAL verdict. Tombstones are created by sinkhole classification,
// TI-consensus, explicit pre-gate hits, or an admin; only an admin removes
// one.
//
// The store is backed by PostgreSQL when available and degrades to an
// in-process map otherwise (the engine runs without a database, the way the
// rest of the pipeline degrades). The in-process tier is always maintained
// as a read-through cache so the stage-0 hot path stays off the network.

// Consensus rule: a tombstone is created when at least MinConsensusSources
// TI sources report malicious, each with confidence ≥ MinConsensusConfidence.
const (
	MinConsensusSources    = 5
	MinConsensusConfidence = 80
)

// Store manages tombstones across the memory and database tiers.
type Store struct {
	mu    sync.RWMutex
	local map[string]models.Tombstone
	pg    *db.PostgresStore // nil when running without persistence
}

// NewStore creates a tombstone store. pg may be nil.
func NewStore(pg *db.PostgresStore) *Store {
	return &Store{
		local: make(map[string]models.Tombstone),
		pg:    pg,
	}
}

// Check returns the tombstone for a canonical URL hash, if one exists.
func (s *Store) Check(ctx context.Context, urlHash string) (*models.Tombstone, bool) {
	s.mu.RLock()
	ts, ok := s.local[urlHash]
	s.mu.RUnlock()
	if ok {
		return &ts, true
	}

	if s.pg == nil {
		return nil, false
	}
	loaded, err := s.pg.GetTombstone(ctx, urlHash)
	if err != nil {
		return nil, false
	}

	s.mu.Lock()
	s.local[urlHash] = *loaded
	s.mu.Unlock()
	return loaded, true
}

// Create registers a tombstone. Idempotent on hash: an existing record wins
// and the call still reports success.
func (s *Store) Create(ctx context.Context, urlHash, url, source string, confidence int, metadata map[string]string) error {
	ts := models.Tombstone{
		URLHash:       urlHash,
		URL:           url,
		Verdict:       models.RiskCritical,
		Source:        source,
		Confidence:    confidence,
		ConfirmedDate: time.Now().UTC(),
		Metadata:      metadata,
	}

	s.mu.Lock()
	if _, exists := s.local[urlHash]; !exists {
		s.local[urlHash] = ts
	}
	s.mu.Unlock()

	if s.pg != nil {
		if err := s.pg.CreateTombstone(ctx, &ts); err != nil {
			// Persistence failure is non-fatal; the in-process record still guards.
			log.Printf("[Tombstone] Failed to persist tombstone for %s: %v", urlHash, err)
			return err
		}
	}

	log.Printf("[Tombstone] Created (%s, confidence %d) for %s", source, confidence, url)
	return nil
}

// Remove deletes a tombstone. Admin path only.
func (s *Store) Remove(ctx context.Context, urlHash string) (bool, error) {
	s.mu.Lock()
	_, existed := s.local[urlHash]
	delete(s.local, urlHash)
	s.mu.Unlock()

	if s.pg != nil {
		removed, err := s.pg.DeleteTombstone(ctx, urlHash)
		if err != nil {
			return existed, err
		}
		return existed || removed, nil
	}
	return existed, nil
}

// ListRecent returns the newest n tombstones.
func (s *Store) ListRecent(ctx context.Context, n int) []models.Tombstone {
	if s.pg != nil {
		if list, err := s.pg.ListRecentTombstones(ctx, n); err == nil {
			return list
		}
	}

	s.mu.RLock()
	list := make([]models.Tombstone, 0, len(s.local))
	for _, ts := range s.local {
		list = append(list, ts)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].ConfirmedDate.After(list[j].ConfirmedDate)
	})
	if n > 0 && len(list) > n {
		list = list[:n]
	}
	return list
}

// GetStats summarizes the store.
func (s *Store) GetStats(ctx context.Context) *models.TombstoneStats {
	if s.pg != nil {
		if stats, err := s.pg.TombstoneStats(ctx); err == nil {
			return stats
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &models.TombstoneStats{BySource: make(map[string]int)}
	for _, ts := range s.local {
		stats.Total++
		stats.BySource[ts.Source]++
		if stats.Newest == nil || ts.ConfirmedDate.After(*stats.Newest) {
			t := ts.ConfirmedDate
			stats.Newest = &t
		}
	}
	return stats
}

// CheckTIConsensus evaluates the TI layer's per-source results against the
// consensus rule and creates a tombstone when it fires. The stored
// confidence is the mean confidence of the qualifying sources.
func (s *Store) CheckTIConsensus(ctx context.Context, urlHash, url string, results []models.TISourceResult) (bool, error) {
	var qualifying []models.TISourceResult
	for _, r := range results {
		if r.Verdict == models.TIVerdictMalicious && r.Confidence >= MinConsensusConfidence {
			qualifying = append(qualifying, r)
		}
	}
	if len(qualifying) < MinConsensusSources {
		return false, nil
	}

	sum := 0
	names := ""
	for i, r := range qualifying {
		sum += r.Confidence
		if i > 0 {
			names += ","
		}
		names += r.Source
	}
	mean := sum / len(qualifying)

	err := s.Create(ctx, urlHash, url, models.TombstoneSourceTIConsensus, mean, map[string]string{
		"sources": names,
	})
	return true, err
}
