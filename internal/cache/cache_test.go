package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rawblock/urlscan-engine/internal/config"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

func testTTLs() config.CacheTTLs {
	return config.CacheTTLs{
		Critical: 5 * time.Minute,
		High:     30 * time.Minute,
		Medium:   time.Hour,
		Low:      4 * time.Hour,
		Safe:     24 * time.Hour,
		Reach:    10 * time.Minute,
	}
}

func sampleResult(hash, riskLevel string) *models.FinalScanResult {
	return &models.FinalScanResult{
		ScanID:         "scan-" + hash,
		URL:            models.URLComponents{Hash: hash, Canonical: "https://example.org/" + hash},
		RiskLevel:      riskLevel,
		FinalScore:     120,
		ActiveMaxScore: 570,
		Timestamp:      time.Now().UTC(),
	}
}

func TestLRUEviction(t *testing.T) {
	l := NewLRU(3)
	l.Put("a", []byte("1"), time.Minute)
	l.Put("b", []byte("2"), time.Minute)
	l.Put("c", []byte("3"), time.Minute)

	// Touch "a" so "b" becomes the eviction candidate.
	if _, _, ok := l.Get("a"); !ok {
		t.Fatalf("expected hit for a")
	}

	l.Put("d", []byte("4"), time.Minute)

	if _, _, ok := l.Get("b"); ok {
		t.Errorf("expected b to be evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, _, ok := l.Get(k); !ok {
			t.Errorf("expected %s to survive eviction", k)
		}
	}
}

func TestLRUTTLExpiry(t *testing.T) {
	l := NewLRU(10)
	l.Put("short", []byte("x"), 10*time.Millisecond)

	if _, _, ok := l.Get("short"); !ok {
		t.Fatalf("expected immediate hit")
	}
	time.Sleep(25 * time.Millisecond)
	if _, _, ok := l.Get("short"); ok {
		t.Errorf("expected expiry after TTL")
	}
}

func TestMemoryTierScanRoundTrip(t *testing.T) {
	m := NewManager(100, nil, testTTLs())
	ctx := context.Background()

	if _, ok := m.GetScan(ctx, "deadbeef"); ok {
		t.Fatalf("unexpected hit on empty cache")
	}

	m.PutScan(ctx, "deadbeef", sampleResult("deadbeef", models.RiskSafe))

	hit, ok := m.GetScan(ctx, "deadbeef")
	if !ok {
		t.Fatalf("expected hit after put")
	}
	if hit.Tier != TierMemory {
		t.Errorf("Tier = %s, want %s", hit.Tier, TierMemory)
	}
	if hit.Result.ScanID != "scan-deadbeef" {
		t.Errorf("ScanID = %s", hit.Result.ScanID)
	}
}

func TestRedisTierFallthrough(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	writer := NewManager(100, rdb, testTTLs())
	ctx := context.Background()
	writer.PutScan(ctx, "cafe01", sampleResult("cafe01", models.RiskMedium))

	// A second process with a cold hot tier must find the verdict in redis.
	reader := NewManager(100, rdb, testTTLs())
	hit, ok := reader.GetScan(ctx, "cafe01")
	if !ok {
		t.Fatalf("expected redis-tier hit")
	}
	if hit.Tier != TierRedis {
		t.Errorf("Tier = %s, want %s", hit.Tier, TierRedis)
	}

	// Promotion: the next read is served from memory.
	hit2, ok := reader.GetScan(ctx, "cafe01")
	if !ok {
		t.Fatalf("expected promoted hit")
	}
	if hit2.Tier != TierMemory {
		t.Errorf("promoted Tier = %s, want %s", hit2.Tier, TierMemory)
	}
}

func TestRedisTTLFollowsRiskLevel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := NewManager(100, rdb, testTTLs())
	ctx := context.Background()

	m.PutScan(ctx, "feed02", sampleResult("feed02", models.RiskCritical))

	ttl := mr.TTL(scanKeyPrefix + "feed02")
	if ttl != 5*time.Minute {
		t.Errorf("critical TTL = %v, want 5m", ttl)
	}

	// Expire in redis; a cold reader must now miss.
	mr.FastForward(6 * time.Minute)
	reader := NewManager(100, rdb, testTTLs())
	if _, ok := reader.GetScan(ctx, "feed02"); ok {
		t.Errorf("expected miss after redis TTL expiry")
	}
}

func TestReachRoundTrip(t *testing.T) {
	m := NewManager(100, nil, testTTLs())
	ctx := context.Background()

	rec := &models.ReachabilityRecord{
		State: models.StateOnline,
		DNS:   models.DNSProbe{Resolved: true, IPs: []string{"93.184.216.34"}},
	}
	m.PutReach(ctx, "example.org", rec)

	hit, ok := m.GetReach(ctx, "example.org")
	if !ok {
		t.Fatalf("expected reach hit")
	}
	if hit.Record.State != models.StateOnline {
		t.Errorf("State = %s", hit.Record.State)
	}
	if !hit.Record.DNS.Resolved {
		t.Errorf("DNS.Resolved lost in round trip")
	}
}

func TestClearAll(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := NewManager(100, rdb, testTTLs())
	ctx := context.Background()

	m.PutScan(ctx, "aa11", sampleResult("aa11", models.RiskLow))
	m.PutReach(ctx, "example.org", &models.ReachabilityRecord{State: models.StateOffline})

	m.ClearAll(ctx)

	if _, ok := m.GetScan(ctx, "aa11"); ok {
		t.Errorf("scan survived ClearAll")
	}
	if _, ok := m.GetReach(ctx, "example.org"); ok {
		t.Errorf("reach survived ClearAll")
	}
}

func TestRedisDownDegradesToMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	m := NewManager(100, rdb, testTTLs())
	ctx := context.Background()

	mr.Close() // shared tier gone

	m.PutScan(ctx, "bb22", sampleResult("bb22", models.RiskSafe))
	hit, ok := m.GetScan(ctx, "bb22")
	if !ok {
		t.Fatalf("in-process tier should serve despite redis outage")
	}
	if hit.Tier != TierMemory {
		t.Errorf("Tier = %s, want %s", hit.Tier, TierMemory)
	}
}
