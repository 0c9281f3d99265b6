package categories

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Executor fans the pipeline's analyzers out in parallel and seals their
// outputs into CategoryResults. A panicking analyzer is isolated: its
// category comes back skipped with an error reason and the scan continues.
type Executor struct {
	analyzers   []Analyzer
	concurrency int
}

// NewExecutor builds an executor over a fixed analyzer registry.
func NewExecutor(analyzers []Analyzer, concurrency int) *Executor {
	if concurrency <= 0 {
		concurrency = len(analyzers)
	}
	return &Executor{analyzers: analyzers, concurrency: concurrency}
}

// Summary aggregates one execution round.
type Summary struct {
	Results           []models.CategoryResult
	BaseCategoryScore float64
	ActiveCategoryMax float64
	Duration          time.Duration
}

// OnStart is invoked as each category begins executing.
type OnStart func(categoryID string)

// OnComplete is invoked per finished category, for event streaming.
type OnComplete func(result models.CategoryResult)

// Run executes every registered analyzer against the context. Results come
// back in registry order regardless of completion order, so aggregation is
// deterministic.
func (e *Executor) Run(ctx context.Context, sc *models.ScanContext, onStart OnStart, onComplete OnComplete) *Summary {
	start := time.Now()
	results := make([]models.CategoryResult, len(e.analyzers))

	var mu sync.Mutex
	eg, _ := errgroup.WithContext(ctx)
	eg.SetLimit(e.concurrency)

	for i, a := range e.analyzers {
		eg.Go(func() error {
			if onStart != nil {
				mu.Lock()
				onStart(a.ID())
				mu.Unlock()
			}
			result := e.runOne(a, sc)
			results[i] = result
			if onComplete != nil {
				mu.Lock()
				onComplete(result)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait() // analyzer failures are captured per-result, never returned

	summary := &Summary{Results: results, Duration: time.Since(start)}
	for _, r := range results {
		if r.Meta.Skipped {
			continue
		}
		summary.BaseCategoryScore += r.Score
		summary.ActiveCategoryMax += r.MaxWeight
	}
	return summary
}

// runOne executes one analyzer with panic isolation and clamping.
func (e *Executor) runOne(a Analyzer, sc *models.ScanContext) (result models.CategoryResult) {
	start := time.Now()
	result = models.CategoryResult{
		CategoryID: a.ID(),
		Name:       a.Name(),
		MaxWeight:  a.MaxWeight(),
		Findings:   []models.Finding{},
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[Categories] Analyzer %s panicked: %v", a.ID(), rec)
			result.Score = 0
			result.Findings = []models.Finding{}
			result.Meta = models.CategoryMeta{
				Skipped:    true,
				SkipReason: fmt.Sprintf("Error: %v", rec),
				Duration:   time.Since(start).Milliseconds(),
			}
		}
	}()

	if !a.ShouldRun(sc.Reachability.State, sc.Pipeline) {
		result.Meta = models.CategoryMeta{
			Skipped:    true,
			SkipReason: fmt.Sprintf("not part of %s pipeline", sc.Pipeline),
			Duration:   time.Since(start).Milliseconds(),
		}
		return result
	}

	report := a.Analyze(sc)

	var total float64
	for _, f := range report.Findings {
		total += f.Score
	}
	if total > a.MaxWeight() {
		total = a.MaxWeight()
	}

	result.Score = total
	if report.Findings != nil {
		result.Findings = report.Findings
	}
	result.Meta = models.CategoryMeta{
		ChecksRun:     report.ChecksRun,
		ChecksSkipped: report.ChecksSkipped,
		Duration:      time.Since(start).Milliseconds(),
	}
	return result
}
