package intel

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rawblock/urlscan-engine/internal/config"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

// tierWeights translate trust tiers into scoring weight. Tier 1 feeds are
// trusted fully; community feeds count for a fraction.
var tierWeights = map[int]float64{1: 1.0, 2: 0.6, 3: 0.3}

// Layer fans a URL out to the full source roster and folds the answers into
// one weighted TILayerResult capped at the configured max weight.
type Layer struct {
	sources     []*Source
	maxWeight   float64
	concurrency int
}

// NewLayer builds the TI layer from configuration. Sources whose endpoint or
// key cannot be resolved are dropped at boot with a log line, not at scan
// time.
func NewLayer(cfg *config.Config, secrets *config.Secrets) *Layer {
	roster := cfg.TISources
	if len(roster) == 0 {
		roster = DefaultSources()
	}

	layer := &Layer{
		maxWeight:   cfg.TIMaxWeight,
		concurrency: cfg.Concurrency.TISources,
	}
	for _, sc := range roster {
		if !sc.Enabled {
			continue
		}
		if sc.Endpoint == "" {
			log.Printf("[Intel] Source %s disabled: no endpoint configured", sc.Name)
			continue
		}
		apiKey := secrets.Decrypt(sc.EncryptedKey, sc.KeyEnv)
		if apiKey == "" && sc.KeyEnv != "" {
			log.Printf("[Intel] Source %s disabled: no API key available", sc.Name)
			continue
		}
		layer.sources = append(layer.sources, NewSource(sc, apiKey, cfg.Breaker))
	}
	if layer.concurrency <= 0 {
		layer.concurrency = len(layer.sources)
	}
	log.Printf("[Intel] TI layer active with %d/%d sources", len(layer.sources), len(roster))
	return layer
}

// Sources exposes the active roster, for metrics and the health surface.
func (l *Layer) Sources() []*Source { return l.sources }

// Run sweeps every active source. Ordering within the sweep is undefined;
// aggregation is deterministic over the collected set.
func (l *Layer) Run(ctx context.Context, targetURL string) *models.TILayerResult {
	start := time.Now()
	result := &models.TILayerResult{
		MaxWeight: l.maxWeight,
		Sources:   make([]models.TISourceResult, len(l.sources)),
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(l.concurrency)
	for i, src := range l.sources {
		eg.Go(func() error {
			result.Sources[i] = src.Check(egCtx, targetURL)
			return nil
		})
	}
	_ = eg.Wait() // source failures surface as error verdicts

	l.aggregate(result)
	result.Duration = time.Since(start).Milliseconds()
	return result
}

// aggregate folds per-source answers into counts, the weighted score, and
// the dual-tier-1 indicator. Error verdicts contribute nothing — degraded
// sweeps score on the sources that answered.
func (l *Layer) aggregate(result *models.TILayerResult) {
	var weightedHit, weightResponded float64
	tier1Malicious := 0

	for i, sr := range result.Sources {
		src := l.sources[i]
		w := tierWeights[src.Tier()]
		switch sr.Verdict {
		case models.TIVerdictMalicious:
			result.MaliciousCount++
			weightedHit += w
			weightResponded += w
			if src.Tier() == 1 {
				tier1Malicious++
			}
		case models.TIVerdictSuspicious:
			result.SuspiciousCount++
			weightedHit += w * 0.5
			weightResponded += w
		case models.TIVerdictSafe:
			result.SafeCount++
			weightResponded += w
		default:
			result.ErrorCount++
		}
	}

	if weightResponded > 0 {
		result.Score = l.maxWeight * weightedHit / weightResponded
	}
	if result.Score > l.maxWeight {
		result.Score = l.maxWeight
	}
	result.DualTier1Hit = tier1Malicious >= 2
}
