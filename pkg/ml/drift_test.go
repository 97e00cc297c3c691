package ml

import (
	"context"
	"math/rand"
	"testing"
	"time"
)

func observeColumn(m *FeatureDriftMonitor, values []float64) {
	rows := make([][]float64, len(values))
	for i, v := range values {
		rows[i] = []float64{v}
	}
	m.ObserveBatch(context.Background(), rows)
}

func TestFeatureDriftMonitor_BootstrapBaseline(t *testing.T) {
	m := NewFeatureDriftMonitor(nil, []string{"line_length"}, 0.1, 50)

	rng := rand.New(rand.NewSource(3))
	values := make([]float64, 50)
	for i := range values {
		values[i] = rng.Float64() * 100
	}
	observeColumn(m, values)

	base := m.Baseline("line_length")
	if base == nil {
		t.Fatal("Baseline not established after first full window")
	}
	if base.Count != 50 {
		t.Errorf("Baseline count = %d, want 50", base.Count)
	}
	if len(base.Bins) != driftHistogramBins+1 {
		t.Errorf("Baseline bins = %d, want %d", len(base.Bins), driftHistogramBins+1)
	}
	total := 0
	for _, c := range base.Histogram {
		total += c
	}
	if total != 50 {
		t.Errorf("Histogram mass = %d, want 50", total)
	}
}

func TestFeatureDriftMonitor_AlertOnShift(t *testing.T) {
	m := NewFeatureDriftMonitor(nil, []string{"digit_count"}, 0.1, 50)

	alerts := make(chan DriftAlert, 1)
	m.SetAlertCallback(func(a DriftAlert) { alerts <- a })

	rng := rand.New(rand.NewSource(5))
	baseline := make([]float64, 50)
	for i := range baseline {
		baseline[i] = rng.Float64()
	}
	observeColumn(m, baseline)

	// Second window shifted far outside the baseline range.
	shifted := make([]float64, 50)
	for i := range shifted {
		shifted[i] = 100 + rng.Float64()
	}
	observeColumn(m, shifted)

	select {
	case alert := <-alerts:
		if alert.FeatureName != "digit_count" {
			t.Errorf("Alert feature = %q, want digit_count", alert.FeatureName)
		}
		if alert.Severity != DriftSeverityCritical {
			t.Errorf("Alert severity = %q, want critical for a full shift", alert.Severity)
		}
		if alert.PSI <= 0.25 {
			t.Errorf("Alert PSI = %v, want > 0.25", alert.PSI)
		}
		if alert.BaselineStats == nil || alert.CurrentStats == nil {
			t.Error("Alert must carry both stat snapshots")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No drift alert for a fully shifted window")
	}
}

func TestFeatureDriftMonitor_StableDistribution(t *testing.T) {
	m := NewFeatureDriftMonitor(nil, []string{"space_count"}, 0.1, 40)

	fired := make(chan DriftAlert, 1)
	m.SetAlertCallback(func(a DriftAlert) { fired <- a })

	// Identical windows produce PSI of exactly zero.
	values := make([]float64, 40)
	rng := rand.New(rand.NewSource(9))
	for i := range values {
		values[i] = rng.Float64() * 10
	}
	observeColumn(m, values)
	observeColumn(m, values)

	select {
	case a := <-fired:
		t.Fatalf("Unexpected drift alert: PSI=%v", a.PSI)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFeatureDriftMonitor_SetBaseline(t *testing.T) {
	m := NewFeatureDriftMonitor(nil, []string{"colon_count"}, 0.1, 10)

	m.SetBaseline(context.Background(), map[string][]float64{
		"colon_count": {1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
	})

	base := m.Baseline("colon_count")
	if base == nil {
		t.Fatal("Baseline missing after SetBaseline")
	}
	if base.Min != 1 || base.Max != 10 {
		t.Errorf("Baseline range [%v, %v], want [1, 10]", base.Min, base.Max)
	}
	if m.Baseline("unknown") != nil {
		t.Error("Baseline for unknown feature should be nil")
	}
}

func TestBinFor(t *testing.T) {
	bins := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	tests := []struct {
		value float64
		want  int
	}{
		{-5, 0}, // clamps low
		{0, 0},
		{4.5, 4},
		{9.99, 9},
		{10, 9},   // top edge folds into last bin
		{1000, 9}, // clamps high
	}
	for _, tt := range tests {
		if got := binFor(tt.value, bins); got != tt.want {
			t.Errorf("binFor(%v) = %d, want %d", tt.value, got, tt.want)
		}
	}

	if got := binFor(5, []float64{2, 2, 2}); got != 0 {
		t.Errorf("Zero-width bins should collapse to 0, got %d", got)
	}
}

func TestPSISeverity(t *testing.T) {
	tests := []struct {
		psi  float64
		want DriftSeverity
	}{
		{0.05, DriftSeverityLow},
		{0.12, DriftSeverityMedium},
		{0.2, DriftSeverityHigh},
		{0.5, DriftSeverityCritical},
	}
	for _, tt := range tests {
		if got := psiSeverity(tt.psi); got != tt.want {
			t.Errorf("psiSeverity(%v) = %q, want %q", tt.psi, got, tt.want)
		}
	}
}

func TestCalculatePSI_Identical(t *testing.T) {
	stats := statsFromValues("f", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	if psi := calculatePSI(stats, stats); psi != 0 {
		t.Errorf("PSI of identical distributions = %v, want 0", psi)
	}
}
