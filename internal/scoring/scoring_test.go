package scoring

import (
	"testing"

	"github.com/rawblock/urlscan-engine/internal/config"
	"github.com/rawblock/urlscan-engine/pkg/models"
)

func defaultThresholds() config.Thresholds {
	return config.Thresholds{Critical: 80, High: 60, Medium: 30, Low: 15}
}

func category(score, max float64, skipped bool) models.CategoryResult {
	return models.CategoryResult{Score: score, MaxWeight: max, Meta: models.CategoryMeta{Skipped: skipped}}
}

func TestCombineArithmetic(t *testing.T) {
	out := Combine(Input{
		Categories: []models.CategoryResult{
			category(30, 50, false),
			category(10, 40, false),
		},
		TIScore:      20,
		TIMaxWeight:  55,
		AIMultiplier: 1.2,
		FPAdjustment: 1.0,
	}, defaultThresholds())

	if out.BaseScore != 60 {
		t.Errorf("BaseScore = %v, want 60", out.BaseScore)
	}
	if out.ActiveMaxScore != 145 {
		t.Errorf("ActiveMaxScore = %v, want 145", out.ActiveMaxScore)
	}
	// round(60 × 1.2) = 72.
	if out.FinalScore != 72 {
		t.Errorf("FinalScore = %v, want 72", out.FinalScore)
	}
}

func TestSkippedCategoriesLeaveBothSides(t *testing.T) {
	out := Combine(Input{
		Categories: []models.CategoryResult{
			category(40, 50, false),
			category(0, 45, true), // skipped: no score, no max
		},
		TIScore:      0,
		TIMaxWeight:  55,
		AIMultiplier: 1.0,
		FPAdjustment: 1.0,
	}, defaultThresholds())

	if out.ActiveMaxScore != 105 {
		t.Errorf("ActiveMaxScore = %v, want 105 (skipped max excluded)", out.ActiveMaxScore)
	}
	if out.BaseScore != 40 {
		t.Errorf("BaseScore = %v", out.BaseScore)
	}
}

func TestFinalScoreClampedToActiveMax(t *testing.T) {
	out := Combine(Input{
		Categories:   []models.CategoryResult{category(50, 50, false)},
		TIScore:      55,
		TIMaxWeight:  55,
		AIMultiplier: 1.3,
		FPAdjustment: 1.0,
	}, defaultThresholds())

	if out.FinalScore != out.ActiveMaxScore {
		t.Errorf("FinalScore = %v, want clamp to %v", out.FinalScore, out.ActiveMaxScore)
	}
	if out.RiskLevel != models.RiskCritical {
		t.Errorf("RiskLevel = %s", out.RiskLevel)
	}
}

func TestFPAdjustmentAppliedAfterRounding(t *testing.T) {
	out := Combine(Input{
		Categories:   []models.CategoryResult{category(41, 50, false)},
		TIMaxWeight:  55,
		AIMultiplier: 1.1,
		FPAdjustment: 0.5,
	}, defaultThresholds())

	// round(41 × 1.1) = 45, then × 0.5 = 22.5.
	if out.FinalScore != 22.5 {
		t.Errorf("FinalScore = %v, want 22.5", out.FinalScore)
	}
}

func TestZeroMultipliersTreatedAsNeutral(t *testing.T) {
	out := Combine(Input{
		Categories:  []models.CategoryResult{category(30, 50, false)},
		TIMaxWeight: 55,
	}, defaultThresholds())

	if out.FinalScore != 30 {
		t.Errorf("FinalScore = %v, want 30 with neutral multipliers", out.FinalScore)
	}
}

func TestBandThresholds(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		level string
	}{
		{"critical at boundary", 80, models.RiskCritical},
		{"high just below critical", 79.9, models.RiskHigh},
		{"high at boundary", 60, models.RiskHigh},
		{"medium at boundary", 30, models.RiskMedium},
		{"low at boundary", 15, models.RiskLow},
		{"safe below low", 14.9, models.RiskSafe},
		{"safe at zero", 0, models.RiskSafe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, pct := Band(tt.score, 100, defaultThresholds())
			if level != tt.level {
				t.Errorf("Band(%v) = %s, want %s", tt.score, level, tt.level)
			}
			if pct != tt.score {
				t.Errorf("pct = %v, want %v over max 100", pct, tt.score)
			}
		})
	}
}

func TestBandMonotone(t *testing.T) {
	order := map[string]int{
		models.RiskSafe: 0, models.RiskLow: 1, models.RiskMedium: 2,
		models.RiskHigh: 3, models.RiskCritical: 4,
	}
	prev := -1
	for score := 0.0; score <= 100; score += 0.5 {
		level, _ := Band(score, 100, defaultThresholds())
		if order[level] < prev {
			t.Fatalf("band regressed at score %v: %s", score, level)
		}
		prev = order[level]
	}
}

func TestBandZeroDenominator(t *testing.T) {
	level, pct := Band(10, 0, defaultThresholds())
	if level != models.RiskSafe || pct != 0 {
		t.Errorf("Band with zero max = %s/%v, want safe/0", level, pct)
	}
}
