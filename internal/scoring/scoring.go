package scoring

import (
	"math"

	"github.com/rawblock/urlscan-engine/internal/config"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

// Scoring arithmetic and risk banding. Pure functions: the same inputs
// always yield the same verdict.

// Input collects the stage outputs the combiner folds.
type Input struct {
	Categories   []models.CategoryResult
	TIScore      float64
	TIMaxWeight  float64
	AIMultiplier float64
	FPAdjustment float64
}

// Output is the combined verdict arithmetic.
type Output struct {
	BaseScore      float64 // category points + TI points
	FinalScore     float64
	ActiveMaxScore float64
	RiskLevel      string
	RiskPercentage float64
}

// Combine folds category scores, the TI layer, the AI multiplier, and the
// FP adjustment into the final score:
//
//	final = clamp(round((categories + ti) × aiMultiplier) × fpAdjustment, 0, activeMax)
//
// Skipped categories contribute nothing to either side of the ratio, so a
// PASSIVE scan is banded against the weights that actually ran.
func Combine(in Input, thresholds config.Thresholds) Output {
	var categoryScore, activeMax float64
	for _, c := range in.Categories {
		if c.Meta.Skipped {
			continue
		}
		categoryScore += c.Score
		activeMax += c.MaxWeight
	}
	activeMax += in.TIMaxWeight

	aiMult := in.AIMultiplier
	if aiMult == 0 {
		aiMult = 1.0
	}
	fpAdj := in.FPAdjustment
	if fpAdj == 0 {
		fpAdj = 1.0
	}

	base := categoryScore + in.TIScore
	final := math.Round(base*aiMult) * fpAdj
	if final < 0 {
		final = 0
	}
	if final > activeMax {
		final = activeMax
	}

	out := Output{
		BaseScore:      base,
		FinalScore:     final,
		ActiveMaxScore: activeMax,
	}
	out.RiskLevel, out.RiskPercentage = Band(final, activeMax, thresholds)
	return out
}

// Band maps a score to its risk level as a percentage of activeMax.
// Monotone in score: raising the score can never lower the band.
func Band(score, activeMax float64, t config.Thresholds) (string, float64) {
	if activeMax <= 0 {
		return models.RiskSafe, 0
	}
	pct := 100 * score / activeMax
	switch {
	case pct >= t.Critical:
		return models.RiskCritical, pct
	case pct >= t.High:
		return models.RiskHigh, pct
	case pct >= t.Medium:
		return models.RiskMedium, pct
	case pct >= t.Low:
		return models.RiskLow, pct
	default:
		return models.RiskSafe, pct
	}
}
