// Package analyzer runs the per-file anomaly pipeline: batch
// normalization, the unsupervised detector ensemble, vote aggregation,
// and severity/category classification. One Engine call handles one
// batch; nothing is carried between files.
package analyzer

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"l1sentry/pkg/ml"
	"l1sentry/shared/config"
)

// Policy defaults preserved from the fielded analyzer.
const (
	DefaultContamination  = 0.10
	DefaultAgreementRatio = 0.75
	DefaultOversizeBytes  = 9600
	DefaultSeqWidthBits   = 16
	DefaultSeed           = 42
)

var (
	samplesAnalyzed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "l1sentry",
		Subsystem: "analyzer",
		Name:      "samples_total",
		Help:      "Feature vectors pushed through the ensemble.",
	})
	anomaliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "l1sentry",
		Subsystem: "analyzer",
		Name:      "anomalies_total",
		Help:      "Anomaly records emitted, by severity.",
	}, []string{"severity"})
	modelFlags = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "l1sentry",
		Subsystem: "analyzer",
		Name:      "model_flags_total",
		Help:      "Samples flagged per detector.",
	}, []string{"model"})
	modelSkips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "l1sentry",
		Subsystem: "analyzer",
		Name:      "model_skips_total",
		Help:      "Detector executions dropped from the vote set.",
	}, []string{"model"})
	batchSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "l1sentry",
		Subsystem: "analyzer",
		Name:      "batch_duration_seconds",
		Help:      "Wall time per analyzed batch.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	_ = prometheus.Register(samplesAnalyzed)
	_ = prometheus.Register(anomaliesTotal)
	_ = prometheus.Register(modelFlags)
	_ = prometheus.Register(modelSkips)
	_ = prometheus.Register(batchSeconds)
}

// Config carries the pipeline policy knobs.
type Config struct {
	Contamination     float64
	AgreementRatio    float64
	OversizeThreshold int
	SequenceWidthBits int
	Seed              int64
}

// DefaultConfig returns the fielded policy values.
func DefaultConfig() Config {
	return Config{
		Contamination:     DefaultContamination,
		AgreementRatio:    DefaultAgreementRatio,
		OversizeThreshold: DefaultOversizeBytes,
		SequenceWidthBits: DefaultSeqWidthBits,
		Seed:              DefaultSeed,
	}
}

// ConfigFromEnv reads policy overrides from the environment, falling
// back to the fielded defaults.
func ConfigFromEnv() Config {
	return Config{
		Contamination:     config.GetFloat("ANALYZER_CONTAMINATION", DefaultContamination),
		AgreementRatio:    config.GetFloat("ANALYZER_AGREEMENT_RATIO", DefaultAgreementRatio),
		OversizeThreshold: config.GetInt("ANALYZER_OVERSIZE_BYTES", DefaultOversizeBytes),
		SequenceWidthBits: config.GetInt("ANALYZER_SEQ_WIDTH_BITS", DefaultSeqWidthBits),
		Seed:              int64(config.GetInt("ANALYZER_SEED", DefaultSeed)),
	}
}

func (c Config) withDefaults() Config {
	if c.Contamination <= 0 || c.Contamination >= 1 {
		c.Contamination = DefaultContamination
	}
	if c.AgreementRatio <= 0 || c.AgreementRatio > 1 {
		c.AgreementRatio = DefaultAgreementRatio
	}
	if c.OversizeThreshold <= 0 {
		c.OversizeThreshold = DefaultOversizeBytes
	}
	if c.SequenceWidthBits <= 0 || c.SequenceWidthBits > 16 {
		c.SequenceWidthBits = DefaultSeqWidthBits
	}
	if c.Seed == 0 {
		c.Seed = DefaultSeed
	}
	return c
}

// Sample pairs one feature vector with its position in the source: line
// number for logs, packet index for captures.
type Sample struct {
	Position int
	Vector   []float64
}

// Batch is one source's worth of samples sharing a dimensionality.
type Batch struct {
	Source  string
	Samples []Sample
}

// AnomalyRecord is the immutable per-sample verdict emitted by the
// pipeline.
type AnomalyRecord struct {
	SampleIndex    int                  `json:"sample_index"`
	Position       int                  `json:"position"`
	Source         string               `json:"source"`
	Description    string               `json:"description"`
	Confidence     float64              `json:"confidence"`
	ModelAgreement int                  `json:"model_agreement"`
	ModelsExecuted int                  `json:"models_executed"`
	Votes          map[string]ModelVote `json:"model_votes"`
	Severity       Severity             `json:"severity"`
	Category       string               `json:"category"`
	Persist        bool                 `json:"persist"`
	Timestamp      time.Time            `json:"timestamp"`
}

// SkippedModel reports a detector dropped from this batch's vote set.
type SkippedModel struct {
	Model  string `json:"model"`
	Reason string `json:"reason"`
}

// Report is the outcome of one batch analysis.
type Report struct {
	Source          string          `json:"source"`
	SamplesAnalyzed int             `json:"samples_analyzed"`
	Models          []string        `json:"models"`
	Skipped         []SkippedModel  `json:"skipped,omitempty"`
	Records         []AnomalyRecord `json:"anomalies"`
	Elapsed         time.Duration   `json:"elapsed_ns"`
}

// Engine wires the pipeline stages behind one call. A fresh ensemble is
// trained per batch, so engines are safe for concurrent use.
type Engine struct {
	cfg        Config
	supervised ml.Detector
}

// New builds an engine, replacing out-of-range config values with
// defaults.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// WithSupervised attaches an optional fourth detector. It votes exactly
// like the core three and widens the agreement denominator.
func (e *Engine) WithSupervised(d ml.Detector) *Engine {
	e.supervised = d
	return e
}

// Config returns the effective policy after default substitution.
func (e *Engine) Config() Config { return e.cfg }

// AnalyzeBatch normalizes the batch, runs the ensemble, and folds votes
// into anomaly records. An empty batch yields an empty report and no
// error. Mixed dimensionality within a batch is an error; detector
// failures are not, they shrink the vote denominator instead.
func (e *Engine) AnalyzeBatch(batch Batch) (*Report, error) {
	start := time.Now()
	report := &Report{Source: batch.Source, SamplesAnalyzed: len(batch.Samples)}
	if len(batch.Samples) == 0 {
		return report, nil
	}

	dims := len(batch.Samples[0].Vector)
	if dims == 0 {
		return nil, errors.New("analyze batch: empty feature vectors")
	}
	X := make([][]float64, len(batch.Samples))
	for i, s := range batch.Samples {
		if len(s.Vector) != dims {
			return nil, fmt.Errorf("analyze batch: sample %d has %d features, batch uses %d", i, len(s.Vector), dims)
		}
		X[i] = s.Vector
	}

	scaled, err := ml.NewStandardScaler().FitTransform(X)
	if err != nil {
		return nil, fmt.Errorf("normalize batch: %w", err)
	}

	ensemble := ml.DefaultEnsemble(e.cfg.Contamination, e.cfg.Seed)
	if e.supervised != nil {
		ensemble.Append(e.supervised)
	}
	outputs, skipped := ensemble.Run(scaled)

	for _, out := range outputs {
		report.Models = append(report.Models, out.Model)
		flagged := 0
		for _, label := range out.Labels {
			if label == ml.LabelAnomaly {
				flagged++
			}
		}
		modelFlags.WithLabelValues(out.Model).Add(float64(flagged))
	}
	for _, sk := range skipped {
		report.Skipped = append(report.Skipped, SkippedModel{Model: sk.Model, Reason: sk.Reason.Error()})
		modelSkips.WithLabelValues(sk.Model).Inc()
	}

	category := CategoryFor(batch.Source)
	now := time.Now().UTC()
	for _, vs := range AggregateVotes(outputs, e.cfg.AgreementRatio) {
		rec := AnomalyRecord{
			SampleIndex:    vs.SampleIndex,
			Position:       batch.Samples[vs.SampleIndex].Position,
			Source:         batch.Source,
			Description:    fmt.Sprintf("Anomaly detected by %d/%d detectors", vs.Agreement, vs.Executed),
			Confidence:     vs.Confidence,
			ModelAgreement: vs.Agreement,
			ModelsExecuted: vs.Executed,
			Votes:          vs.Votes,
			Severity:       SeverityFor(vs.Confidence, vs.Agreement),
			Category:       category,
			Persist:        vs.Persist,
			Timestamp:      now,
		}
		report.Records = append(report.Records, rec)
		anomaliesTotal.WithLabelValues(string(rec.Severity)).Inc()
	}

	samplesAnalyzed.Add(float64(len(batch.Samples)))
	report.Elapsed = time.Since(start)
	batchSeconds.Observe(report.Elapsed.Seconds())
	return report, nil
}
