package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rawblock/urlscan-engine/internal/cache"
	"github.com/rawblock/urlscan-engine/internal/categories"
	"github.com/rawblock/urlscan-engine/internal/config"
	"github.com/rawblock/urlscan-engine/internal/consensus"
	"github.com/rawblock/urlscan-engine/internal/db"
	"github.com/rawblock/urlscan-engine/internal/events"
	"github.com/rawblock/urlscan-engine/internal/fprebalance"
	"github.com/rawblock/urlscan-engine/internal/gather"
	"github.com/rawblock/urlscan-engine/internal/intel"
	"github.com/rawblock/urlscan-engine/internal/probe"
	"github.com/rawblock/urlscan-engine/internal/scoring"
	"github.com/rawblock/urlscan-engine/internal/tombstone"
	"github.com/rawblock/urlscan-engine/internal/urlnorm"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Scan orchestrator.
//
// Stage 0 runs strictly in sequence: validate → cache → tombstone → TI
// pre-gate → reachability probe → pipeline selection. Each step may
// short-circuit the scan onto a fast path. Scans that proceed fan out into
// context gathering, parallel category execution alongside the TI sweep,
// AI consensus, FP rebalancing, and final scoring.

// Fast-path tags recorded on short-circuited results.
const (
	FastPathCache     = "cache"
	FastPathTombstone = "tombstone"
	FastPathPreGate   = "pregate"
	FastPathSinkhole  = "sinkhole"
)

// Narrow views of the pipeline stages, for substitution in tests.
type reachProber interface {
	Probe(ctx context.Context, u *models.URLComponents) *models.ReachabilityRecord
}

type contextGatherer interface {
	Gather(ctx context.Context, scanID string, u *models.URLComponents,
		reach *models.ReachabilityRecord, pipeline models.PipelineType) *models.ScanContext
}

type categoryRunner interface {
	Run(ctx context.Context, sc *models.ScanContext, onStart categories.OnStart,
		onComplete categories.OnComplete) *categories.Summary
}

type tiSweeper interface {
	Run(ctx context.Context, targetURL string) *models.TILayerResult
}

type preGater interface {
	Run(ctx context.Context, targetURL string) *models.PreGateResult
}

type aiJudge interface {
	Run(ctx context.Context, ev *consensus.Evidence) *models.AIConsensusResult
}

type fpChecker interface {
	Run(sc *models.ScanContext, suppressed bool) *models.FPRebalanceResult
}

// Options tune a single scan request.
type Options struct {
	SkipCache bool // force a fresh verdict, bypassing the result cache
}

// Engine wires the full scan pipeline.
type Engine struct {
	cfg        *config.Config
	cache      *cache.Manager
	tombstones *tombstone.Store
	pg         *db.PostgresStore // nil without a database
	emitter    *events.Emitter

	preGate    preGater
	prober     reachProber
	gatherer   contextGatherer
	executor   categoryRunner
	tiLayer    tiSweeper
	consensus  aiJudge
	rebalancer fpChecker

	tiRoster []*intel.Source
}

// TISources exposes the live TI roster for breaker instrumentation.
func (e *Engine) TISources() []*intel.Source { return e.tiRoster }

// New assembles the engine from configuration. cacheMgr and tombStore are
// required; pg may be nil for a database-less deployment.
func New(cfg *config.Config, secrets *config.Secrets, cacheMgr *cache.Manager,
	tombStore *tombstone.Store, pg *db.PostgresStore, emitter *events.Emitter) *Engine {

	layer := intel.NewLayer(cfg, secrets)
	return &Engine{
		cfg:        cfg,
		cache:      cacheMgr,
		tombstones: tombStore,
		pg:         pg,
		emitter:    emitter,
		preGate:    intel.NewPreGate(cfg, secrets),
		prober:     probe.New(cfg.Probe, cfg.Markers),
		gatherer:   gather.New(),
		executor:   categories.NewExecutor(categories.BuildRegistry(cfg), cfg.Concurrency.Categories),
		tiLayer:    layer,
		consensus:  consensus.NewEngine(cfg, secrets),
		rebalancer: fprebalance.New(),
		tiRoster:   layer.Sources(),
	}
}

// Scan runs the full pipeline for one URL. The only error returned is a
// validation failure; everything past validation degrades into the result.
func (e *Engine) Scan(ctx context.Context, rawURL string, opts Options) (*models.FinalScanResult, error) {
	started := time.Now()
	scanID := uuid.New().String()

	// ── Stage 0.1: validate & canonicalize ──
	u, err := urlnorm.Validate(rawURL)
	if err != nil {
		e.emit(models.ScanEvent{ScanID: scanID, Type: models.EventScanError, Message: err.Error()})
		return nil, err
	}

	e.emit(models.ScanEvent{
		ScanID: scanID, Type: models.EventScanStart, Message: u.Canonical,
		Data: map[string]any{"urlHash": u.Hash},
	})
	e.emitStage(scanID, models.EventStageStart, "stage0")

	// ── Stage 0.2: result cache ──
	if !opts.SkipCache {
		if hit, ok := e.cache.GetScan(ctx, u.Hash); ok {
			result := *hit.Result
			result.Cached = true
			result.CacheAge = int64(hit.Age.Seconds())
			result.FastPath = FastPathCache
			e.emitComplete(scanID, &result, started)
			return &result, nil
		}
	}

	// ── Stage 0.3: tombstone ──
	if ts, ok := e.tombstones.Check(ctx, u.Hash); ok {
		result := e.fastPathResult(scanID, u, FastPathTombstone,
			fmt.Sprintf("tombstoned via %s (confidence %d)", ts.Source, ts.Confidence), started)
		e.finish(ctx, result, started)
		return result, nil
	}

	// ── Stage 0.4: TI pre-gate ──
	gate := e.preGate.Run(ctx, u.Canonical)
	if gate.ShouldStop {
		if err := e.tombstones.Create(ctx, u.Hash, u.Canonical, models.TombstoneSourceTIConsensus, 95,
			map[string]string{"pregate_source": gate.Source}); err != nil {
			log.Printf("[Engine] Tombstone create after pre-gate stop failed: %v", err)
		}
		result := e.fastPathResult(scanID, u, FastPathPreGate, gate.Reason, started)
		result.PreGate = gate
		e.finish(ctx, result, started)
		return result, nil
	}

	// ── Stage 0.5: reachability probe (with reach cache) ──
	var reach *models.ReachabilityRecord
	if cached, ok := e.cache.GetReach(ctx, u.Domain); ok {
		reach = cached.Record
	} else {
		reach = e.prober.Probe(ctx, u)
		e.cache.PutReach(ctx, u.Domain, reach)
	}

	// ── Stage 0.6: pipeline selection ──
	pipeline := pipelineFor(reach.State)
	stage0Done := time.Now()
	e.emitStage(scanID, models.EventStageComplete, "stage0")

	if reach.State == models.StateSinkhole {
		if err := e.tombstones.Create(ctx, u.Hash, u.Canonical, models.TombstoneSourceSinkhole, 100,
			map[string]string{"detection": reach.Detection}); err != nil {
			log.Printf("[Engine] Tombstone create for sinkhole failed: %v", err)
		}
		result := e.fastPathResult(scanID, u, FastPathSinkhole,
			"sinkhole marker: "+reach.Detection, started)
		result.Reachability = reach
		result.Pipeline = models.PipelineSinkhole
		result.Stages.Stage0 = stage0Done.Sub(started).Milliseconds()
		e.finish(ctx, result, started)
		return result, nil
	}

	result := &models.FinalScanResult{
		ScanID:       scanID,
		URL:          *u,
		Reachability: reach,
		Pipeline:     pipeline,
		PreGate:      gate,
		Timestamp:    time.Now().UTC(),
	}
	result.Stages.Stage0 = stage0Done.Sub(started).Milliseconds()

	// ── Context gather ──
	e.emitStage(scanID, models.EventStageStart, "gather")
	gatherStart := time.Now()
	sc := e.gatherer.Gather(ctx, scanID, u, reach, pipeline)
	result.Stages.Gather = time.Since(gatherStart).Milliseconds()
	e.emitStage(scanID, models.EventStageComplete, "gather")

	// ── Categories ∥ TI layer ──
	e.emitStage(scanID, models.EventStageStart, "analysis")
	var summary *categories.Summary
	var ti *models.TILayerResult

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		catStart := time.Now()
		summary = e.executor.Run(egCtx, sc, func(categoryID string) {
			e.emit(models.ScanEvent{ScanID: scanID, Type: models.EventCategoryStart, Category: categoryID})
		}, func(cr models.CategoryResult) {
			e.emit(models.ScanEvent{
				ScanID: scanID, Type: models.EventCategoryComplete, Category: cr.CategoryID,
				Data: map[string]any{"score": cr.Score, "maxWeight": cr.MaxWeight, "skipped": cr.Meta.Skipped},
			})
		})
		result.Stages.Categories = time.Since(catStart).Milliseconds()
		return nil
	})
	eg.Go(func() error {
		tiStart := time.Now()
		ti = e.tiLayer.Run(egCtx, u.Canonical)
		result.Stages.TILayer = time.Since(tiStart).Milliseconds()
		return nil
	})
	_ = eg.Wait()
	e.emitStage(scanID, models.EventStageComplete, "analysis")

	result.Categories = summary.Results
	result.TILayer = ti

	// A mid-scan TI consensus (≥5 confident malicious sources) tombstones
	// the URL and overrides the FP rebalancer.
	consensusHit, err := e.tombstones.CheckTIConsensus(ctx, u.Hash, u.Canonical, ti.Sources)
	if err != nil {
		result.Errors = append(result.Errors, "ti consensus check: "+err.Error())
	}

	// ── AI consensus ──
	e.emitStage(scanID, models.EventStageStart, "ai")
	ai := e.consensus.Run(ctx, &consensus.Evidence{
		URL:            *u,
		Reachability:   reach.State,
		Pipeline:       pipeline,
		BaseScore:      summary.BaseCategoryScore + ti.Score,
		ActiveMaxScore: summary.ActiveCategoryMax + ti.MaxWeight,
		Categories:     summary.Results,
		TILayer:        ti,
	})
	result.AIConsensus = ai
	result.Stages.AI = ai.Duration
	e.emitStage(scanID, models.EventStageComplete, "ai")

	// ── FP rebalance & scoring ──
	fp := e.rebalancer.Run(sc, consensusHit)
	result.FPRebalance = fp

	out := scoring.Combine(scoring.Input{
		Categories:   summary.Results,
		TIScore:      ti.Score,
		TIMaxWeight:  ti.MaxWeight,
		AIMultiplier: ai.Multiplier,
		FPAdjustment: fp.AdjustmentMultiplier,
	}, e.cfg.Thresholds)

	result.BaseScore = out.BaseScore
	result.AIMultiplier = ai.Multiplier
	result.FinalScore = out.FinalScore
	result.ActiveMaxScore = out.ActiveMaxScore
	result.RiskLevel = out.RiskLevel
	result.RiskPercentage = out.RiskPercentage

	e.finish(ctx, result, started)
	return result, nil
}

// finish stamps durations, persists, caches, and emits the final event.
func (e *Engine) finish(ctx context.Context, result *models.FinalScanResult, started time.Time) {
	result.Stages.Total = time.Since(started).Milliseconds()
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now().UTC()
	}

	if e.pg != nil {
		if err := e.pg.SaveScanResult(ctx, result); err != nil {
			log.Printf("[Engine] Persist of scan %s failed: %v", result.ScanID, err)
			result.Errors = append(result.Errors, "persist: "+err.Error())
		}
	}
	// Fast-path verdicts are not cached: the tombstone store stays the
	// canonical short-circuit, so an admin removal takes effect immediately.
	if result.FastPath == "" {
		e.cache.PutScan(ctx, result.URL.Hash, result)
	}
	e.emitComplete(result.ScanID, result, started)
}

// fastPathResult builds a short-circuit critical verdict pinned at the full
// active max: no categories ran, so the denominator is the configured total.
func (e *Engine) fastPathResult(scanID string, u *models.URLComponents, fastPath, reason string, started time.Time) *models.FinalScanResult {
	e.emit(models.ScanEvent{
		ScanID: scanID, Type: models.EventLog, Severity: "warn",
		Message: fmt.Sprintf("fast path %s: %s", fastPath, reason),
	})
	max := e.fullActiveMax()
	return &models.FinalScanResult{
		ScanID:         scanID,
		URL:            *u,
		Pipeline:       models.PipelineFull,
		FinalScore:     max,
		ActiveMaxScore: max,
		RiskLevel:      models.RiskCritical,
		RiskPercentage: 100,
		FastPath:       fastPath,
		Errors:         nil,
		Timestamp:      time.Now().UTC(),
		Categories:     []models.CategoryResult{},
		AIMultiplier:   1.0,
		BaseScore:      max,
		Stages:         models.StageDurations{Stage0: time.Since(started).Milliseconds()},
	}
}

func (e *Engine) fullActiveMax() float64 {
	var max float64
	for _, w := range e.cfg.CategoryWeights {
		max += w
	}
	return max + e.cfg.TIMaxWeight
}

func pipelineFor(state models.ReachabilityState) models.PipelineType {
	switch state {
	case models.StateOnline:
		return models.PipelineFull
	case models.StateOffline:
		return models.PipelinePassive
	case models.StateParked:
		return models.PipelineParked
	case models.StateWAFChallenge:
		return models.PipelineWAF
	case models.StateSinkhole:
		return models.PipelineSinkhole
	default:
		return models.PipelineFull
	}
}

func (e *Engine) emit(ev models.ScanEvent) {
	if e.emitter != nil {
		e.emitter.Publish(ev)
	}
}

// stageProgress maps each completed stage to a coarse percent-done figure
// for subscriber progress bars.
var stageProgress = map[string]int{"stage0": 20, "gather": 35, "analysis": 75, "ai": 90}

func (e *Engine) emitStage(scanID, eventType, stage string) {
	e.emit(models.ScanEvent{ScanID: scanID, Type: eventType, Stage: stage})
	if eventType == models.EventStageComplete {
		if pct, ok := stageProgress[stage]; ok {
			e.emit(models.ScanEvent{
				ScanID: scanID, Type: models.EventProgress, Stage: stage,
				Data: map[string]any{"percent": pct},
			})
		}
	}
}

func (e *Engine) emitComplete(scanID string, result *models.FinalScanResult, started time.Time) {
	e.emit(models.ScanEvent{
		ScanID: scanID, Type: models.EventScanComplete,
		Message: result.RiskLevel,
		Data: map[string]any{
			"finalScore":     result.FinalScore,
			"activeMaxScore": result.ActiveMaxScore,
			"riskLevel":      result.RiskLevel,
			"fastPath":       result.FastPath,
			"durationMs":     time.Since(started).Milliseconds(),
		},
	})
}
