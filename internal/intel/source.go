package intel

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/rawblock/urlscan-engine/internal/config"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Threat-intelligence source wrapper: every external feed is guarded by a
// circuit breaker and a rate limiter, and always answers with a
// TISourceResult — errors become an "error" verdict, never a failed scan.

// verdict is a client's raw answer before bookkeeping.
type verdict struct {
	Verdict    string
	Score      float64
	Confidence int
	Details    string
}

// queryFunc implements one source's wire format.
type queryFunc func(ctx context.Context, client *http.Client, cfg config.TISourceConfig, apiKey, targetURL string) (*verdict, error)

// Source is one registered TI feed.
type Source struct {
	cfg     config.TISourceConfig
	apiKey  string
	query   queryFunc
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	client  *http.Client
}

// NewSource wires a feed with its breaker and limiter. The API key is
// resolved up front (decrypted or from env); a source whose key is required
// but missing should be disabled by the caller.
func NewSource(cfg config.TISourceConfig, apiKey string, brk config.BreakerConfig) *Source {
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 1
	}
	return &Source{
		cfg:    cfg,
		apiKey: apiKey,
		query:  clientFor(cfg.Name),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: brk.SuccessThreshold,
			Timeout:     brk.OpenCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= brk.FailureThreshold
			},
		}),
		limiter: rate.NewLimiter(rate.Limit(perSec), 1),
		client:  &http.Client{},
	}
}

// Name returns the source identifier.
func (s *Source) Name() string { return s.cfg.Name }

// Tier returns the trust tier (1 most trusted).
func (s *Source) Tier() int { return s.cfg.Tier }

// BreakerState exposes the breaker for metrics.
func (s *Source) BreakerState() gobreaker.State { return s.breaker.State() }

// Check queries the feed for one URL. All failure modes — limiter starved,
// breaker open, timeout, transport error, bad payload — collapse into an
// "error" verdict with zero contribution.
func (s *Source) Check(ctx context.Context, targetURL string) models.TISourceResult {
	start := time.Now()
	result := models.TISourceResult{Source: s.cfg.Name}
	defer func() { result.Duration = time.Since(start).Milliseconds() }()

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	srcCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.limiter.Wait(srcCtx); err != nil {
		result.Verdict = models.TIVerdictError
		result.Details = fmt.Sprintf("rate limit wait: %v", err)
		return result
	}

	answer, err := s.breaker.Execute(func() (interface{}, error) {
		return s.query(srcCtx, s.client, s.cfg, s.apiKey, targetURL)
	})
	if err != nil {
		result.Verdict = models.TIVerdictError
		result.Details = err.Error()
		return result
	}

	v := answer.(*verdict)
	result.Verdict = v.Verdict
	result.Score = v.Score
	result.Confidence = v.Confidence
	result.Details = v.Details
	return result
}
