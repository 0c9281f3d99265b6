package intel

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rawblock/urlscan-engine/internal/config"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

// TI pre-gate: a latency-bounded sweep of the four top feeds before any
// probing happens. A confirmed-malicious answer hard-stops the whole scan.
// The pre-gate owns its own source clients — it is independent of the full
// TI layer, which still runs on scans that proceed.

// preGateRoster names the feeds consulted, in stop-precedence order.
var preGateRoster = []string{SourceSafeBrowsing, SourceVirusTotal, SourcePhishTank, SourceURLhaus}

// stopConfidence per winning source. Bounded to [80, 95] by construction.
var stopConfidence = map[string]int{
	SourceSafeBrowsing: 95,
	SourcePhishTank:    90,
	SourceURLhaus:      88,
	SourceVirusTotal:   85,
}

// PreGate runs the stage-0 hard-stop sweep.
type PreGate struct {
	sources []*Source
	cfg     config.PreGateConfig
}

// NewPreGate builds the gate from the same source records the layer uses,
// but with the tighter per-source deadline the gate's budget demands.
func NewPreGate(cfg *config.Config, secrets *config.Secrets) *PreGate {
	roster := cfg.TISources
	if len(roster) == 0 {
		roster = DefaultSources()
	}
	byName := make(map[string]config.TISourceConfig, len(roster))
	for _, sc := range roster {
		byName[sc.Name] = sc
	}

	gate := &PreGate{cfg: cfg.PreGate}
	for _, name := range preGateRoster {
		sc, ok := byName[name]
		if !ok || !sc.Enabled || sc.Endpoint == "" {
			continue
		}
		apiKey := secrets.Decrypt(sc.EncryptedKey, sc.KeyEnv)
		if apiKey == "" && sc.KeyEnv != "" {
			continue
		}
		sc.Timeout = cfg.PreGate.SourceTimeout
		if name == SourceVirusTotal && cfg.PreGate.VTThreshold > 0 {
			sc.DetectionThreshold = cfg.PreGate.VTThreshold
		}
		gate.sources = append(gate.sources, NewSource(sc, apiKey, cfg.Breaker))
	}
	log.Printf("[Intel] Pre-gate active with %d/%d sources", len(gate.sources), len(preGateRoster))
	return gate
}

// Run sweeps the gate's sources inside the total budget. Source failures are
// recorded and treated as non-evidence — only a positive answer stops a scan.
func (g *PreGate) Run(ctx context.Context, targetURL string) *models.PreGateResult {
	start := time.Now()
	result := &models.PreGateResult{
		Results: make([]models.TISourceResult, len(g.sources)),
	}
	defer func() { result.Duration = time.Since(start).Milliseconds() }()

	if len(g.sources) == 0 {
		return result
	}

	gateCtx, cancel := context.WithTimeout(ctx, g.cfg.TotalBudget)
	defer cancel()

	eg, egCtx := errgroup.WithContext(gateCtx)
	for i, src := range g.sources {
		eg.Go(func() error {
			result.Results[i] = src.Check(egCtx, targetURL)
			return nil
		})
	}
	_ = eg.Wait()

	// Precedence follows the roster order so the stop decision is stable no
	// matter which source answered first.
	// Each client already encodes its hard-stop rule into the malicious
	// verdict (VirusTotal's engine quorum, PhishTank's verified flag,
	// URLhaus's active status).
	for i, src := range g.sources {
		sr := result.Results[i]
		if sr.Verdict != models.TIVerdictMalicious {
			continue
		}
		result.ShouldStop = true
		result.Source = src.Name()
		result.Reason = sr.Details
		result.Confidence = stopConfidence[src.Name()]
		return result
	}
	return result
}
