package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// FeatureDriftMonitor watches the distribution of extracted feature
// columns across batches and raises an alert when a window shifts too far
// from the baseline (PSI over the baseline's histogram bins). The first
// completed window becomes the baseline unless one was set or restored
// explicitly. A nil Redis client disables persistence; everything else
// keeps working in memory.
type FeatureDriftMonitor struct {
	redisClient   *redis.Client
	mu            sync.Mutex
	names         []string
	baseline      map[string]*FeatureStats
	windows       map[string]*featureWindow
	psiThreshold  float64
	windowSize    int
	alertCallback func(DriftAlert)
}

var (
	driftAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "l1sentry", Subsystem: "drift", Name: "alerts_total", Help: "Total number of feature drift alerts by severity."},
		[]string{"severity", "feature"},
	)
	driftPSIGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "l1sentry", Subsystem: "drift", Name: "psi", Help: "Latest population stability index per feature."},
		[]string{"feature"},
	)
)

func init() {
	_ = prometheus.Register(driftAlerts)
	_ = prometheus.Register(driftPSIGauge)
}

const driftHistogramBins = 10

// FeatureStats stores distribution information about one feature.
type FeatureStats struct {
	FeatureName string    `json:"feature_name"`
	Mean        float64   `json:"mean"`
	Variance    float64   `json:"variance"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	Count       int       `json:"count"`
	Histogram   []int     `json:"histogram"`
	Bins        []float64 `json:"bins"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DriftAlert represents one detected distribution shift.
type DriftAlert struct {
	AlertID       string        `json:"alert_id"`
	FeatureName   string        `json:"feature_name"`
	Severity      DriftSeverity `json:"severity"`
	PSI           float64       `json:"psi"`
	BaselineStats *FeatureStats `json:"baseline_stats"`
	CurrentStats  *FeatureStats `json:"current_stats"`
	DetectedAt    time.Time     `json:"detected_at"`
	Message       string        `json:"message"`
}

// DriftSeverity indicates how strong a detected shift is.
type DriftSeverity string

const (
	DriftSeverityLow      DriftSeverity = "low"
	DriftSeverityMedium   DriftSeverity = "medium"
	DriftSeverityHigh     DriftSeverity = "high"
	DriftSeverityCritical DriftSeverity = "critical"
)

// featureWindow accumulates one in-flight comparison window. Mean and
// variance update incrementally (Welford); the histogram fills against
// the baseline's bins once a baseline exists, otherwise raw values are
// buffered so the bootstrap window can derive its own bins.
type featureWindow struct {
	stats  FeatureStats
	m2     float64
	values []float64
}

func NewFeatureDriftMonitor(redisClient *redis.Client, names []string, psiThreshold float64, windowSize int) *FeatureDriftMonitor {
	if psiThreshold <= 0 {
		psiThreshold = 0.1
	}
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &FeatureDriftMonitor{
		redisClient:  redisClient,
		names:        names,
		baseline:     make(map[string]*FeatureStats),
		windows:      make(map[string]*featureWindow),
		psiThreshold: psiThreshold,
		windowSize:   windowSize,
	}
}

// SetAlertCallback registers a function invoked (on its own goroutine)
// for every drift alert.
func (m *FeatureDriftMonitor) SetAlertCallback(callback func(DriftAlert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertCallback = callback
}

// ObserveBatch feeds every row of X into the per-feature windows. Column
// j maps to the j-th configured feature name; extra columns are ignored.
func (m *FeatureDriftMonitor) ObserveBatch(ctx context.Context, X [][]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range X {
		for j, v := range row {
			if j >= len(m.names) {
				break
			}
			m.observe(ctx, m.names[j], v)
		}
	}
}

func (m *FeatureDriftMonitor) observe(ctx context.Context, name string, value float64) {
	w, ok := m.windows[name]
	if !ok {
		w = &featureWindow{stats: FeatureStats{
			FeatureName: name,
			Min:         value,
			Max:         value,
			Histogram:   make([]int, driftHistogramBins),
		}}
		m.windows[name] = w
	}

	s := &w.stats
	s.Count++
	if value < s.Min {
		s.Min = value
	}
	if value > s.Max {
		s.Max = value
	}

	// Welford's online update
	delta := value - s.Mean
	s.Mean += delta / float64(s.Count)
	w.m2 += delta * (value - s.Mean)
	s.Variance = w.m2 / float64(s.Count)
	s.UpdatedAt = time.Now()

	if base, ok := m.baseline[name]; ok {
		s.Histogram[binFor(value, base.Bins)]++
	} else {
		w.values = append(w.values, value)
	}

	if s.Count >= m.windowSize {
		m.closeWindow(ctx, name, w)
		delete(m.windows, name)
	}
}

func (m *FeatureDriftMonitor) closeWindow(ctx context.Context, name string, w *featureWindow) {
	base, ok := m.baseline[name]
	if !ok {
		// Bootstrap: this window becomes the baseline.
		stats := statsFromValues(name, w.values)
		m.baseline[name] = stats
		m.persistStats(ctx, "baseline", name, stats)
		return
	}

	current := w.stats
	current.Bins = base.Bins
	psi := calculatePSI(base, &current)
	driftPSIGauge.WithLabelValues(name).Set(psi)

	if psi <= m.psiThreshold {
		return
	}

	severity := psiSeverity(psi)
	alert := DriftAlert{
		AlertID:       fmt.Sprintf("drift_%s_%d", name, time.Now().UnixNano()),
		FeatureName:   name,
		Severity:      severity,
		PSI:           psi,
		BaselineStats: base,
		CurrentStats:  &current,
		DetectedAt:    time.Now(),
		Message:       fmt.Sprintf("feature drift detected: PSI=%.4f over %d samples", psi, current.Count),
	}
	m.storeAlert(ctx, &alert)
	driftAlerts.WithLabelValues(string(severity), name).Inc()

	if m.alertCallback != nil {
		go m.alertCallback(alert)
	}
}

// SetBaseline fixes the reference distributions from explicit samples
// instead of waiting for the bootstrap window.
func (m *FeatureDriftMonitor) SetBaseline(ctx context.Context, features map[string][]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, values := range features {
		stats := statsFromValues(name, values)
		m.baseline[name] = stats
		m.persistStats(ctx, "baseline", name, stats)
	}
}

// Baseline returns a copy of the current baseline for a feature, or nil.
func (m *FeatureDriftMonitor) Baseline(name string) *FeatureStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	base, ok := m.baseline[name]
	if !ok {
		return nil
	}
	cp := *base
	return &cp
}

// LoadBaseline restores persisted baselines from Redis. Missing keys are
// not an error; the bootstrap path covers them.
func (m *FeatureDriftMonitor) LoadBaseline(ctx context.Context) error {
	if m.redisClient == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.names {
		key := fmt.Sprintf("l1sentry:drift:baseline:%s", name)
		data, err := m.redisClient.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return fmt.Errorf("load baseline for %s: %w", name, err)
		}
		var stats FeatureStats
		if err := json.Unmarshal(data, &stats); err != nil {
			return fmt.Errorf("decode baseline for %s: %w", name, err)
		}
		m.baseline[name] = &stats
	}
	return nil
}

func (m *FeatureDriftMonitor) persistStats(ctx context.Context, kind, name string, stats *FeatureStats) {
	if m.redisClient == nil {
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	key := fmt.Sprintf("l1sentry:drift:%s:%s", kind, name)
	_ = m.redisClient.Set(ctx, key, data, 7*24*time.Hour).Err()
}

func (m *FeatureDriftMonitor) storeAlert(ctx context.Context, alert *DriftAlert) {
	if m.redisClient == nil {
		return
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return
	}
	key := fmt.Sprintf("l1sentry:drift:alert:%s", alert.AlertID)
	_ = m.redisClient.Set(ctx, key, data, 30*24*time.Hour).Err()
}

// statsFromValues computes full stats plus histogram bins spanning the
// observed range.
func statsFromValues(name string, values []float64) *FeatureStats {
	stats := &FeatureStats{
		FeatureName: name,
		Count:       len(values),
		Histogram:   make([]int, driftHistogramBins),
		UpdatedAt:   time.Now(),
	}
	if len(values) == 0 {
		return stats
	}

	stats.Min = values[0]
	stats.Max = values[0]
	sum := 0.0
	for _, v := range values {
		sum += v
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
	}
	stats.Mean = sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		diff := v - stats.Mean
		variance += diff * diff
	}
	stats.Variance = variance / float64(len(values))

	stats.Bins = make([]float64, driftHistogramBins+1)
	binWidth := (stats.Max - stats.Min) / float64(driftHistogramBins)
	for i := range stats.Bins {
		stats.Bins[i] = stats.Min + float64(i)*binWidth
	}
	for _, v := range values {
		stats.Histogram[binFor(v, stats.Bins)]++
	}

	return stats
}

// binFor places a value into the histogram bin for the given edges.
// Values outside the range clamp to the edge bins.
func binFor(value float64, bins []float64) int {
	if len(bins) < 2 {
		return 0
	}
	width := (bins[len(bins)-1] - bins[0]) / float64(len(bins)-1)
	if width <= 0 {
		return 0
	}
	bin := int((value - bins[0]) / width)
	if bin < 0 {
		return 0
	}
	if bin >= len(bins)-1 {
		return len(bins) - 2
	}
	return bin
}

// calculatePSI is the population stability index between two histograms
// over the same bins.
func calculatePSI(baseline, current *FeatureStats) float64 {
	psi := 0.0
	for i := 0; i < len(baseline.Histogram) && i < len(current.Histogram); i++ {
		baselinePct := float64(baseline.Histogram[i]) / float64(baseline.Count)
		currentPct := float64(current.Histogram[i]) / float64(current.Count)

		// Avoid log(0)
		if baselinePct < 0.0001 {
			baselinePct = 0.0001
		}
		if currentPct < 0.0001 {
			currentPct = 0.0001
		}
		psi += (currentPct - baselinePct) * math.Log(currentPct/baselinePct)
	}
	return psi
}

func psiSeverity(psi float64) DriftSeverity {
	switch {
	case psi > 0.25:
		return DriftSeverityCritical
	case psi > 0.15:
		return DriftSeverityHigh
	case psi > 0.10:
		return DriftSeverityMedium
	default:
		return DriftSeverityLow
	}
}
