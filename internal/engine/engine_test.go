package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rawblock/urlscan-engine/internal/cache"
	"github.com/rawblock/urlscan-engine/internal/categories"
	"github.com/rawblock/urlscan-engine/internal/config"
	"github.com/rawblock/urlscan-engine/internal/consensus"
	"github.com/rawblock/urlscan-engine/internal/events"
	"github.com/rawblock/urlscan-engine/internal/tombstone"
	"github.com/rawblock/urlscan-engine/internal/urlnorm"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

// ─── stage stubs ───

type stubProber struct{ rec models.ReachabilityRecord }

func (s *stubProber) Probe(_ context.Context, _ *models.URLComponents) *models.ReachabilityRecord {
	rec := s.rec
	return &rec
}

type stubGatherer struct{}

func (stubGatherer) Gather(_ context.Context, scanID string, u *models.URLComponents,
	reach *models.ReachabilityRecord, pipeline models.PipelineType) *models.ScanContext {
	return &models.ScanContext{URL: *u, Reachability: *reach, Pipeline: pipeline, ScanID: scanID}
}

type stubRunner struct{ summary categories.Summary }

func (s *stubRunner) Run(_ context.Context, _ *models.ScanContext, onStart categories.OnStart,
	onComplete categories.OnComplete) *categories.Summary {
	for _, r := range s.summary.Results {
		if onStart != nil {
			onStart(r.CategoryID)
		}
		if onComplete != nil {
			onComplete(r)
		}
	}
	sum := s.summary
	return &sum
}

type stubTI struct{ result models.TILayerResult }

func (s *stubTI) Run(_ context.Context, _ string) *models.TILayerResult {
	r := s.result
	return &r
}

type stubGate struct{ result models.PreGateResult }

func (s *stubGate) Run(_ context.Context, _ string) *models.PreGateResult {
	r := s.result
	return &r
}

type stubAI struct{ result models.AIConsensusResult }

func (s *stubAI) Run(_ context.Context, _ *consensus.Evidence) *models.AIConsensusResult {
	r := s.result
	return &r
}

type neutralFP struct{ lastSuppressed bool }

func (f *neutralFP) Run(_ *models.ScanContext, suppressed bool) *models.FPRebalanceResult {
	f.lastSuppressed = suppressed
	return &models.FPRebalanceResult{AdjustmentMultiplier: 1.0, Suppressed: suppressed}
}

func onlineProbe() *stubProber {
	return &stubProber{rec: models.ReachabilityRecord{
		State: models.StateOnline,
		DNS:   models.DNSProbe{Resolved: true, IPs: []string{"93.184.216.34"}},
		TCP:   models.TCPProbe{Connected: true, Port: 443},
		HTTP:  models.HTTPProbe{OK: true, StatusCode: 200},
	}}
}

func testEngine(cfg *config.Config) *Engine {
	return &Engine{
		cfg:        cfg,
		cache:      cache.NewManager(64, nil, cfg.CacheTTLs),
		tombstones: tombstone.NewStore(nil),
		emitter:    events.NewEmitter(cfg.Events),
		preGate:    &stubGate{},
		prober:     onlineProbe(),
		gatherer:   stubGatherer{},
		executor: &stubRunner{summary: categories.Summary{
			Results: []models.CategoryResult{
				{CategoryID: "phishing_patterns", Score: 40, MaxWeight: 50},
				{CategoryID: "domain_analysis", Score: 20, MaxWeight: 50},
			},
			BaseCategoryScore: 60,
			ActiveCategoryMax: 100,
		}},
		tiLayer:    &stubTI{result: models.TILayerResult{Score: 20, MaxWeight: 55}},
		consensus:  &stubAI{result: models.AIConsensusResult{Verdict: models.AIVerdictPhishing, Multiplier: 1.2}},
		rebalancer: &neutralFP{},
	}
}

func TestValidationFailureIsFatal(t *testing.T) {
	e := testEngine(config.Default())
	if _, err := e.Scan(context.Background(), "http://127.0.0.1/admin", Options{}); err == nil {
		t.Fatalf("private-network target accepted")
	}
	if _, err := e.Scan(context.Background(), "ftp://example.com", Options{}); err == nil {
		t.Fatalf("non-http scheme accepted")
	}
}

func TestFullPipelineArithmetic(t *testing.T) {
	e := testEngine(config.Default())

	result, err := e.Scan(context.Background(), "https://example.com/login", Options{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if result.Pipeline != models.PipelineFull {
		t.Errorf("Pipeline = %s", result.Pipeline)
	}
	if result.BaseScore != 80 { // 60 category + 20 TI
		t.Errorf("BaseScore = %v, want 80", result.BaseScore)
	}
	if result.ActiveMaxScore != 155 { // 100 active category max + 55 TI
		t.Errorf("ActiveMaxScore = %v, want 155", result.ActiveMaxScore)
	}
	if result.FinalScore != 96 { // round(80 × 1.2)
		t.Errorf("FinalScore = %v, want 96", result.FinalScore)
	}
	if result.RiskLevel != models.RiskHigh { // 96/155 ≈ 62%
		t.Errorf("RiskLevel = %s", result.RiskLevel)
	}
	if result.FastPath != "" {
		t.Errorf("FastPath = %s on a full scan", result.FastPath)
	}
}

func TestCacheReplay(t *testing.T) {
	e := testEngine(config.Default())
	ctx := context.Background()

	first, err := e.Scan(ctx, "https://example.com/login", Options{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	second, err := e.Scan(ctx, "https://example.com/login", Options{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !second.Cached {
		t.Fatalf("second scan not served from cache")
	}
	if second.FastPath != FastPathCache {
		t.Errorf("FastPath = %s", second.FastPath)
	}
	if second.FinalScore != first.FinalScore {
		t.Errorf("replayed score %v differs from original %v", second.FinalScore, first.FinalScore)
	}

	forced, err := e.Scan(ctx, "https://example.com/login", Options{SkipCache: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if forced.Cached {
		t.Errorf("SkipCache still replayed the cache")
	}
}

func TestTombstoneFastPath(t *testing.T) {
	e := testEngine(config.Default())
	ctx := context.Background()

	u, err := urlnorm.Validate("https://seized.example/payload")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := e.tombstones.Create(ctx, u.Hash, u.Canonical, models.TombstoneSourceManual, 99, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	result, err := e.Scan(ctx, "https://seized.example/payload", Options{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.FastPath != FastPathTombstone {
		t.Fatalf("FastPath = %s", result.FastPath)
	}
	if result.RiskLevel != models.RiskCritical {
		t.Errorf("RiskLevel = %s", result.RiskLevel)
	}
	if result.FinalScore != result.ActiveMaxScore {
		t.Errorf("FinalScore %v != ActiveMaxScore %v", result.FinalScore, result.ActiveMaxScore)
	}
	if len(result.Categories) != 0 {
		t.Errorf("categories ran on the tombstone path")
	}
}

func TestPreGateStopCreatesTombstone(t *testing.T) {
	e := testEngine(config.Default())
	e.preGate = &stubGate{result: models.PreGateResult{
		ShouldStop: true, Source: "safe_browsing", Reason: "SOCIAL_ENGINEERING", Confidence: 95,
	}}
	ctx := context.Background()

	result, err := e.Scan(ctx, "https://phish.example/login", Options{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.FastPath != FastPathPreGate {
		t.Fatalf("FastPath = %s", result.FastPath)
	}
	if result.RiskLevel != models.RiskCritical {
		t.Errorf("RiskLevel = %s", result.RiskLevel)
	}

	u, _ := urlnorm.Validate("https://phish.example/login")
	ts, ok := e.tombstones.Check(ctx, u.Hash)
	if !ok {
		t.Fatalf("pre-gate stop did not tombstone the URL")
	}
	if ts.Source != models.TombstoneSourceTIConsensus || ts.Confidence != 95 {
		t.Errorf("tombstone = %+v", ts)
	}

	// The next scan of the same URL rides the tombstone path.
	again, err := e.Scan(ctx, "https://phish.example/login", Options{SkipCache: true})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if again.FastPath != FastPathTombstone {
		t.Errorf("FastPath = %s, want tombstone replay", again.FastPath)
	}
}

func TestSinkholeAutoCritical(t *testing.T) {
	e := testEngine(config.Default())
	e.prober = &stubProber{rec: models.ReachabilityRecord{
		State:     models.StateSinkhole,
		DNS:       models.DNSProbe{Resolved: true, IPs: []string{"10.10.10.10"}},
		Detection: "this domain has been seized",
	}}
	ctx := context.Background()

	result, err := e.Scan(ctx, "https://botnet.example", Options{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if result.FastPath != FastPathSinkhole {
		t.Fatalf("FastPath = %s", result.FastPath)
	}
	if result.Pipeline != models.PipelineSinkhole {
		t.Errorf("Pipeline = %s", result.Pipeline)
	}
	if result.RiskLevel != models.RiskCritical {
		t.Errorf("RiskLevel = %s", result.RiskLevel)
	}

	u, _ := urlnorm.Validate("https://botnet.example")
	ts, ok := e.tombstones.Check(ctx, u.Hash)
	if !ok || ts.Source != models.TombstoneSourceSinkhole {
		t.Errorf("sinkhole tombstone missing or wrong source: %+v", ts)
	}
}

func TestTIConsensusSuppressesFP(t *testing.T) {
	e := testEngine(config.Default())
	fp := &neutralFP{}
	e.rebalancer = fp

	// Five confident malicious sources trip the mid-scan consensus rule.
	sources := make([]models.TISourceResult, 5)
	for i := range sources {
		sources[i] = models.TISourceResult{
			Source: "src", Verdict: models.TIVerdictMalicious, Confidence: 90,
		}
	}
	e.tiLayer = &stubTI{result: models.TILayerResult{Score: 55, MaxWeight: 55, MaliciousCount: 5, Sources: sources}}

	result, err := e.Scan(context.Background(), "https://confirmed.example", Options{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !fp.lastSuppressed {
		t.Errorf("FP rebalancer not suppressed after TI consensus")
	}
	if !result.FPRebalance.Suppressed {
		t.Errorf("Suppressed not recorded on result")
	}
}

func TestScanEventsStreamInOrder(t *testing.T) {
	e := testEngine(config.Default())
	ch, cancel := e.emitter.Subscribe("")
	defer cancel()

	if _, err := e.Scan(context.Background(), "https://example.com", Options{}); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	var types []string
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
			if ev.Type == models.EventScanComplete {
				goto done
			}
		case <-deadline:
			t.Fatalf("no scan-complete event; got %v", types)
		}
	}
done:
	if types[0] != models.EventScanStart {
		t.Errorf("first event = %s", types[0])
	}
	for _, want := range []string{
		models.EventCategoryStart,
		models.EventCategoryComplete,
		models.EventProgress,
	} {
		seen := false
		for _, ty := range types {
			if ty == want {
				seen = true
				break
			}
		}
		if !seen {
			t.Errorf("no %s event in %v", want, types)
		}
	}
	// A category never completes before it starts.
	firstStart, firstComplete := -1, -1
	for i, ty := range types {
		if ty == models.EventCategoryStart && firstStart < 0 {
			firstStart = i
		}
		if ty == models.EventCategoryComplete && firstComplete < 0 {
			firstComplete = i
		}
	}
	if firstStart > firstComplete {
		t.Errorf("category-complete at %d precedes category-start at %d", firstComplete, firstStart)
	}
}

func TestPipelineForStates(t *testing.T) {
	tests := []struct {
		state    models.ReachabilityState
		pipeline models.PipelineType
	}{
		{models.StateOnline, models.PipelineFull},
		{models.StateOffline, models.PipelinePassive},
		{models.StateParked, models.PipelineParked},
		{models.StateWAFChallenge, models.PipelineWAF},
		{models.StateSinkhole, models.PipelineSinkhole},
	}
	for _, tt := range tests {
		if got := pipelineFor(tt.state); got != tt.pipeline {
			t.Errorf("pipelineFor(%s) = %s, want %s", tt.state, got, tt.pipeline)
		}
	}
}
