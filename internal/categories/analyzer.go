package categories

import (
	"strings"

	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Category analyzers are pure scorers: each reads the shared ScanContext and
// emits findings with fixed per-check weights. The executor owns clamping,
// parallelism, and failure isolation — an analyzer never sees another
// analyzer's output.

// Analyzer is the contract every category implements.
type Analyzer interface {
	ID() string
	Name() string
	MaxWeight() float64
	ShouldRun(state models.ReachabilityState, pipeline models.PipelineType) bool
	Analyze(sc *models.ScanContext) *Report
}

// Report is an analyzer's raw output before the executor seals it.
type Report struct {
	Findings      []models.Finding
	ChecksRun     int
	ChecksSkipped int
}

// hit records a fired check.
func (r *Report) hit(checkID, checkName, severity string, score float64, message string, evidence map[string]any) {
	r.ChecksRun++
	r.Findings = append(r.Findings, models.Finding{
		CheckID:   checkID,
		CheckName: checkName,
		Severity:  severity,
		Score:     score,
		Message:   message,
		Evidence:  evidence,
	})
}

// miss records a check that ran clean.
func (r *Report) miss() {
	r.ChecksRun++
}

// skip records a check whose input was unavailable (nil WHOIS, empty body).
// Skipped checks are never evidence.
func (r *Report) skip() {
	r.ChecksSkipped++
}

// base carries the identity every concrete analyzer shares.
type base struct {
	id        string
	name      string
	maxWeight float64
	pipelines map[models.PipelineType]bool
}

func (b base) ID() string         { return b.id }
func (b base) Name() string       { return b.name }
func (b base) MaxWeight() float64 { return b.maxWeight }

func (b base) ShouldRun(_ models.ReachabilityState, pipeline models.PipelineType) bool {
	return b.pipelines[pipeline]
}

// containsAny reports the first needle found in haystack (both lowercased).
func containsAny(haystack string, needles []string) (string, bool) {
	lower := strings.ToLower(haystack)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return n, true
		}
	}
	return "", false
}

// countAny counts how many distinct needles appear in haystack.
func countAny(haystack string, needles []string) int {
	lower := strings.ToLower(haystack)
	count := 0
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			count++
		}
	}
	return count
}

// levenshtein is the classic edit distance, used for typosquat detection.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
