package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rawblock/urlscan-engine/pkg/models"
)

func TestObserveScanCounters(t *testing.T) {
	r := New(nil)

	r.ObserveScan(&models.FinalScanResult{
		RiskLevel:      models.RiskHigh,
		Pipeline:       models.PipelineFull,
		FinalScore:     96,
		ActiveMaxScore: 155,
		Stages:         models.StageDurations{Stage0: 1200, Total: 8000},
	})
	r.ObserveScan(&models.FinalScanResult{
		RiskLevel:      models.RiskCritical,
		Pipeline:       models.PipelineFull,
		FastPath:       "tombstone",
		FinalScore:     590,
		ActiveMaxScore: 590,
	})

	if got := testutil.ToFloat64(r.scansTotal.WithLabelValues("high", "FULL")); got != 1 {
		t.Errorf("scans_total{high,FULL} = %v", got)
	}
	if got := testutil.ToFloat64(r.fastPathsTotal.WithLabelValues("tombstone")); got != 1 {
		t.Errorf("fast_paths_total{tombstone} = %v", got)
	}
}

func TestValidationErrorCounter(t *testing.T) {
	r := New(nil)
	r.ObserveValidationError()
	r.ObserveValidationError()
	if got := testutil.ToFloat64(r.scanErrors); got != 2 {
		t.Errorf("scan_errors_total = %v", got)
	}
}

func TestSubscriberGauge(t *testing.T) {
	count := 3
	r := New(func() int { return count })
	if got := testutil.ToFloat64(r.subscribers); got != 3 {
		t.Errorf("event_subscribers = %v", got)
	}
}
