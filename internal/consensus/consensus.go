package consensus

import (
	"context"
	"log"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rawblock/urlscan-engine/internal/config"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

// AI consensus engine: every enabled model judges the assembled scan
// evidence in parallel; the verdicts are folded by a vote weighted on
// per-model weight and reported confidence into one bounded multiplier. All failure modes degrade to the fallback
// multiplier — AI never blocks or breaks a scan.

// Evidence is the assembled input every model receives.
type Evidence struct {
	URL            models.URLComponents
	Reachability   models.ReachabilityState
	Pipeline       models.PipelineType
	BaseScore      float64
	ActiveMaxScore float64
	Categories     []models.CategoryResult
	TILayer        *models.TILayerResult
}

// Engine coordinates the model roster.
type Engine struct {
	cfg    config.AIConfig
	models []*modelClient
	limit  int
}

// NewEngine builds the engine. Models without a resolvable API key are
// dropped at boot.
func NewEngine(cfg *config.Config, secrets *config.Secrets) *Engine {
	e := &Engine{cfg: cfg.AI, limit: cfg.Concurrency.AIModels}
	for _, mc := range cfg.AI.Models {
		if !mc.Enabled {
			continue
		}
		apiKey := secrets.Decrypt(mc.EncryptedKey, mc.KeyEnv)
		if apiKey == "" {
			log.Printf("[Consensus] Model %s disabled: no API key available", mc.ModelID)
			continue
		}
		e.models = append(e.models, newModelClient(mc, apiKey))
	}
	if e.limit <= 0 {
		e.limit = len(e.models)
	}
	log.Printf("[Consensus] AI consensus active with %d models", len(e.models))
	return e
}

// ModelCount returns the active roster size.
func (e *Engine) ModelCount() int { return len(e.models) }

// Run queries every model and folds the votes. With an empty roster or all
// models failing, the result carries the fallback multiplier and an UNKNOWN
// verdict.
func (e *Engine) Run(ctx context.Context, ev *Evidence) *models.AIConsensusResult {
	start := time.Now()
	result := &models.AIConsensusResult{
		Verdict:       models.AIVerdictUnknown,
		Multiplier:    e.cfg.FallbackMultiplier,
		ModelsQueried: len(e.models),
		Votes:         make([]models.AIModelVote, len(e.models)),
	}
	defer func() { result.Duration = time.Since(start).Milliseconds() }()

	if len(e.models) == 0 {
		return result
	}

	prompt := buildPrompt(ev, e.cfg.MaxFindingsInPrompt)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.limit)
	for i, mc := range e.models {
		eg.Go(func() error {
			result.Votes[i] = mc.vote(egCtx, prompt, e.cfg)
			return nil
		})
	}
	_ = eg.Wait() // per-model failures live inside the vote records

	e.aggregate(result)
	return result
}

// aggregate computes the argmax verdict over model-weight × confidence, the
// clamped multiplier from agreeing models, and the agreement rate.
func (e *Engine) aggregate(result *models.AIConsensusResult) {
	type tally struct {
		weight float64
	}
	votesByVerdict := make(map[string]*tally)
	succeeded := 0

	for i, v := range result.Votes {
		if v.Error != "" {
			result.ModelsFailed++
			continue
		}
		succeeded++
		t := votesByVerdict[v.Verdict]
		if t == nil {
			t = &tally{}
			votesByVerdict[v.Verdict] = t
		}
		t.weight += e.modelWeight(i) * float64(v.Confidence)
	}
	if succeeded == 0 {
		return // fallback multiplier and UNKNOWN already set
	}

	// Deterministic argmax: ties break on verdict name.
	verdicts := make([]string, 0, len(votesByVerdict))
	for v := range votesByVerdict {
		verdicts = append(verdicts, v)
	}
	sort.Strings(verdicts)
	best, bestWeight := "", -1.0
	for _, v := range verdicts {
		if w := votesByVerdict[v].weight; w > bestWeight {
			best, bestWeight = v, w
		}
	}
	result.Verdict = best

	// Final multiplier: weighted mean over agreeing models, with the same
	// model-weight × confidence weighting as the verdict vote.
	var sum, weight float64
	agreeing := 0
	for i, v := range result.Votes {
		if v.Error != "" || v.Verdict != best {
			continue
		}
		agreeing++
		w := e.modelWeight(i) * float64(v.Confidence)
		sum += v.Multiplier * w
		weight += w
	}
	if weight > 0 {
		result.Multiplier = clamp(sum/weight, e.cfg.MinMultiplier, e.cfg.MaxMultiplier)
	}
	result.AgreementRate = float64(agreeing) / float64(succeeded)
}

// modelWeight is the configured vote weight for roster index i; unset weights
// count as 1.
func (e *Engine) modelWeight(i int) float64 {
	if w := e.models[i].cfg.Weight; w > 0 {
		return w
	}
	return 1.0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
