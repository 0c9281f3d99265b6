package intel

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rawblock/urlscan-engine/internal/config"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

func testBreaker() config.BreakerConfig {
	return config.BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenCooldown:     time.Minute,
	}
}

func sourceFor(name, endpoint string, tier int) *Source {
	return NewSource(config.TISourceConfig{
		Name:       name,
		Tier:       tier,
		Endpoint:   endpoint,
		Timeout:    2 * time.Second,
		RatePerSec: 1000,
		Enabled:    true,
	}, "test-key", testBreaker())
}

func TestVirusTotalClient(t *testing.T) {
	target := "https://evil.example/payload"

	tests := []struct {
		name      string
		malicious int
		verdict   string
	}{
		{"engine quorum flags malicious", 7, models.TIVerdictMalicious},
		{"single engine is suspicious", 1, models.TIVerdictSuspicious},
		{"clean report is safe", 0, models.TIVerdictSafe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				wantID := base64.RawURLEncoding.EncodeToString([]byte(target))
				if !strings.HasSuffix(r.URL.Path, "/"+wantID) {
					t.Errorf("path = %s, want suffix /%s", r.URL.Path, wantID)
				}
				if r.Header.Get("x-apikey") != "test-key" {
					t.Errorf("x-apikey missing")
				}
				fmt.Fprintf(w, `{"data":{"attributes":{"last_analysis_stats":{"malicious":%d,"suspicious":0}}}}`, tt.malicious)
			}))
			defer srv.Close()

			src := sourceFor(SourceVirusTotal, srv.URL, 1)
			result := src.Check(context.Background(), target)
			if result.Verdict != tt.verdict {
				t.Errorf("Verdict = %s, want %s (%s)", result.Verdict, tt.verdict, result.Details)
			}
		})
	}
}

func TestVirusTotalDetectionThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"attributes":{"last_analysis_stats":{"malicious":3,"suspicious":0}}}}`)
	}))
	defer srv.Close()

	// Three detections sit below the default quorum of five.
	strict := sourceFor(SourceVirusTotal, srv.URL, 1)
	if got := strict.Check(context.Background(), "https://x.example").Verdict; got != models.TIVerdictSuspicious {
		t.Errorf("default quorum: Verdict = %s, want suspicious", got)
	}

	lowered := NewSource(config.TISourceConfig{
		Name:               SourceVirusTotal,
		Tier:               1,
		Endpoint:           srv.URL,
		Timeout:            2 * time.Second,
		RatePerSec:         1000,
		DetectionThreshold: 3,
		Enabled:            true,
	}, "test-key", testBreaker())
	if got := lowered.Check(context.Background(), "https://x.example").Verdict; got != models.TIVerdictMalicious {
		t.Errorf("quorum 3: Verdict = %s, want malicious", got)
	}
}

func TestPreGateAppliesVTThreshold(t *testing.T) {
	cfg := config.Default()
	cfg.PreGate.VTThreshold = 2
	cfg.TISources = []config.TISourceConfig{
		{Name: SourceVirusTotal, Tier: 1, Endpoint: "http://unused", Enabled: true},
	}
	secrets, err := config.NewSecrets("")
	if err != nil {
		t.Fatalf("NewSecrets: %v", err)
	}

	gate := NewPreGate(cfg, secrets)
	if len(gate.sources) != 1 {
		t.Fatalf("gate sources = %d, want 1", len(gate.sources))
	}
	if got := gate.sources[0].cfg.DetectionThreshold; got != 2 {
		t.Errorf("DetectionThreshold = %d, want the pre-gate quorum 2", got)
	}
}

func TestSafeBrowsingClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("api key not passed as query param")
		}
		fmt.Fprint(w, `{"matches":[{"threatType":"SOCIAL_ENGINEERING"}]}`)
	}))
	defer srv.Close()

	src := sourceFor(SourceSafeBrowsing, srv.URL, 1)
	result := src.Check(context.Background(), "https://evil.example/login")
	if result.Verdict != models.TIVerdictMalicious {
		t.Errorf("Verdict = %s", result.Verdict)
	}
	if result.Confidence != 95 {
		t.Errorf("Confidence = %d, want 95", result.Confidence)
	}
	if !strings.Contains(result.Details, "SOCIAL_ENGINEERING") {
		t.Errorf("Details = %q", result.Details)
	}
}

func TestURLhausClient(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		verdict string
	}{
		{"active listing", `{"query_status":"ok","url_status":"online","threat":"malware_download"}`, models.TIVerdictMalicious},
		{"offline listing", `{"query_status":"ok","url_status":"offline"}`, models.TIVerdictSuspicious},
		{"unknown url", `{"query_status":"no_results"}`, models.TIVerdictSafe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := r.ParseForm(); err != nil || r.PostForm.Get("url") == "" {
					t.Errorf("url form field missing")
				}
				fmt.Fprint(w, tt.reply)
			}))
			defer srv.Close()

			src := sourceFor(SourceURLhaus, srv.URL, 2)
			result := src.Check(context.Background(), "https://evil.example/drop.exe")
			if result.Verdict != tt.verdict {
				t.Errorf("Verdict = %s, want %s", result.Verdict, tt.verdict)
			}
		})
	}
}

func TestSourceErrorsBecomeErrorVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := sourceFor(SourceVirusTotal, srv.URL, 1)
	result := src.Check(context.Background(), "https://x.example")
	if result.Verdict != models.TIVerdictError {
		t.Errorf("Verdict = %s, want error", result.Verdict)
	}
}

func TestBreakerOpensAfterFailureBurst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := sourceFor(SourceVirusTotal, srv.URL, 1)
	for i := 0; i < 3; i++ {
		src.Check(context.Background(), "https://x.example")
	}

	result := src.Check(context.Background(), "https://x.example")
	if result.Verdict != models.TIVerdictError {
		t.Fatalf("Verdict = %s", result.Verdict)
	}
	if !strings.Contains(result.Details, "open") {
		t.Errorf("expected fail-fast breaker error, got %q", result.Details)
	}
}

func TestLayerAggregation(t *testing.T) {
	layer := &Layer{
		maxWeight: 55,
		sources: []*Source{
			sourceFor("t1a", "http://unused", 1),
			sourceFor("t1b", "http://unused", 1),
			sourceFor("t2a", "http://unused", 2),
			sourceFor("t3a", "http://unused", 3),
		},
	}

	t.Run("all malicious reaches max weight", func(t *testing.T) {
		result := &models.TILayerResult{MaxWeight: 55, Sources: []models.TISourceResult{
			{Verdict: models.TIVerdictMalicious}, {Verdict: models.TIVerdictMalicious},
			{Verdict: models.TIVerdictMalicious}, {Verdict: models.TIVerdictMalicious},
		}}
		layer.aggregate(result)
		if result.Score != 55 {
			t.Errorf("Score = %v, want 55", result.Score)
		}
		if !result.DualTier1Hit {
			t.Errorf("dual tier-1 not flagged with two tier-1 hits")
		}
	})

	t.Run("errors contribute nothing", func(t *testing.T) {
		result := &models.TILayerResult{MaxWeight: 55, Sources: []models.TISourceResult{
			{Verdict: models.TIVerdictMalicious}, {Verdict: models.TIVerdictError},
			{Verdict: models.TIVerdictError}, {Verdict: models.TIVerdictError},
		}}
		layer.aggregate(result)
		// Only the tier-1 hit responded, so the hit ratio is 1.
		if result.Score != 55 {
			t.Errorf("Score = %v, want 55 from sole responding source", result.Score)
		}
		if result.ErrorCount != 3 {
			t.Errorf("ErrorCount = %d", result.ErrorCount)
		}
		if result.DualTier1Hit {
			t.Errorf("dual tier-1 flagged with one hit")
		}
	})

	t.Run("all safe scores zero", func(t *testing.T) {
		result := &models.TILayerResult{MaxWeight: 55, Sources: []models.TISourceResult{
			{Verdict: models.TIVerdictSafe}, {Verdict: models.TIVerdictSafe},
			{Verdict: models.TIVerdictSafe}, {Verdict: models.TIVerdictSafe},
		}}
		layer.aggregate(result)
		if result.Score != 0 {
			t.Errorf("Score = %v", result.Score)
		}
	})

	t.Run("community hit weighs less than tier-1 hit", func(t *testing.T) {
		tier1Hit := &models.TILayerResult{MaxWeight: 55, Sources: []models.TISourceResult{
			{Verdict: models.TIVerdictMalicious}, {Verdict: models.TIVerdictSafe},
			{Verdict: models.TIVerdictSafe}, {Verdict: models.TIVerdictSafe},
		}}
		layer.aggregate(tier1Hit)

		tier3Hit := &models.TILayerResult{MaxWeight: 55, Sources: []models.TISourceResult{
			{Verdict: models.TIVerdictSafe}, {Verdict: models.TIVerdictSafe},
			{Verdict: models.TIVerdictSafe}, {Verdict: models.TIVerdictMalicious},
		}}
		layer.aggregate(tier3Hit)

		if tier3Hit.Score >= tier1Hit.Score {
			t.Errorf("tier-3 hit %v should score below tier-1 hit %v", tier3Hit.Score, tier1Hit.Score)
		}
	})
}

func TestPreGateHardStop(t *testing.T) {
	phishSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":{"in_database":true,"valid":true}}`)
	}))
	defer phishSrv.Close()
	safeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"matches":[]}`)
	}))
	defer safeSrv.Close()

	gate := &PreGate{
		cfg: config.PreGateConfig{SourceTimeout: 1500 * time.Millisecond, TotalBudget: 2 * time.Second},
		sources: []*Source{
			sourceFor(SourceSafeBrowsing, safeSrv.URL, 1),
			sourceFor(SourcePhishTank, phishSrv.URL, 2),
		},
	}

	result := gate.Run(context.Background(), "https://evil.example/login")
	if !result.ShouldStop {
		t.Fatalf("expected hard stop")
	}
	if result.Source != SourcePhishTank {
		t.Errorf("Source = %s", result.Source)
	}
	if result.Confidence != 90 {
		t.Errorf("Confidence = %d, want 90", result.Confidence)
	}
}

func TestPreGateFailuresAreNonEvidence(t *testing.T) {
	downSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer downSrv.Close()

	gate := &PreGate{
		cfg: config.PreGateConfig{SourceTimeout: 1500 * time.Millisecond, TotalBudget: 2 * time.Second},
		sources: []*Source{
			sourceFor(SourceSafeBrowsing, downSrv.URL, 1),
			sourceFor(SourceURLhaus, downSrv.URL, 2),
		},
	}

	result := gate.Run(context.Background(), "https://fine.example")
	if result.ShouldStop {
		t.Errorf("source failures must not stop the scan")
	}
	for _, sr := range result.Results {
		if sr.Verdict != models.TIVerdictError {
			t.Errorf("%s verdict = %s, want error", sr.Source, sr.Verdict)
		}
	}
}

func TestDefaultRosterShape(t *testing.T) {
	roster := DefaultSources()
	if len(roster) != 11 {
		t.Fatalf("roster size = %d, want 11", len(roster))
	}
	tier1 := 0
	for _, sc := range roster {
		if sc.Tier < 1 || sc.Tier > 3 {
			t.Errorf("%s tier %d out of range", sc.Name, sc.Tier)
		}
		if sc.Tier == 1 {
			tier1++
		}
	}
	if tier1 < 2 {
		t.Errorf("need at least two tier-1 sources for the dual-tier-1 rule, got %d", tier1)
	}
}
