package ml

import (
	"fmt"
	"sync"
)

// Prediction labels shared by all detectors.
const (
	LabelAnomaly = -1
	LabelNormal  = 1
)

// Canonical model identifiers. Vote ordering and explanation selection
// depend on these being stable across releases.
const (
	ModelIsolationForest = "isolation_forest"
	ModelOneClassSVM     = "one_class_svm"
	ModelDBSCAN          = "dbscan"
)

// Detector is the contract every ensemble member implements. Fit learns
// batch structure from X; Predict labels every row of the same batch with
// LabelAnomaly or LabelNormal plus a continuous decision score whose sign
// follows the label (negative = anomalous) and whose magnitude feeds the
// ensemble confidence.
type Detector interface {
	Fit(X [][]float64) error
	Predict(X [][]float64) (labels []int, scores []float64, err error)
	Name() string
}

// ModelOutput is one detector's verdict over a batch.
type ModelOutput struct {
	Model  string
	Labels []int
	Scores []float64
}

// SkippedModel records a detector that produced no output for the current
// batch, with the reason it was dropped. Skipped detectors do not count
// toward the voting denominator.
type SkippedModel struct {
	Model  string
	Reason error
}

// Ensemble runs a fixed, ordered set of detectors over a batch and
// isolates per-detector failures: one detector erroring out never
// prevents the others from voting.
type Ensemble struct {
	detectors []Detector
}

// NewEnsemble builds an ensemble over the given detectors. Order is
// preserved and determines vote ordering downstream.
func NewEnsemble(detectors ...Detector) *Ensemble {
	return &Ensemble{detectors: detectors}
}

// DefaultEnsemble assembles the three stock detectors in canonical order:
// isolation forest, one-class SVM, DBSCAN. contamination sets both the
// forest's flag fraction and the SVM's nu.
func DefaultEnsemble(contamination float64, seed int64) *Ensemble {
	return NewEnsemble(
		NewIsolationForest(IsolationForestConfig{Contamination: contamination, Seed: seed}),
		NewOneClassSVM(OneClassSVMConfig{Nu: contamination}),
		NewDBSCAN(DBSCANConfig{}),
	)
}

// Append adds a detector after the stock members. Used to plug a trained
// supervised model in as an extra voter.
func (e *Ensemble) Append(d Detector) {
	e.detectors = append(e.detectors, d)
}

// Models returns detector names in execution order.
func (e *Ensemble) Models() []string {
	names := make([]string, len(e.detectors))
	for i, d := range e.detectors {
		names[i] = d.Name()
	}
	return names
}

// Run fits and predicts every detector against X. Detectors execute
// concurrently, each writing only its own slot; the returned slices
// preserve ensemble order. A detector that errors, or that returns
// malformed output, lands in the skipped list instead of the outputs.
func (e *Ensemble) Run(X [][]float64) ([]ModelOutput, []SkippedModel) {
	outs := make([]ModelOutput, len(e.detectors))
	errs := make([]error, len(e.detectors))

	var wg sync.WaitGroup
	for i, d := range e.detectors {
		wg.Add(1)
		go func(i int, d Detector) {
			defer wg.Done()
			outs[i], errs[i] = runDetector(d, X)
		}(i, d)
	}
	wg.Wait()

	outputs := make([]ModelOutput, 0, len(e.detectors))
	var skipped []SkippedModel
	for i, d := range e.detectors {
		if errs[i] != nil {
			skipped = append(skipped, SkippedModel{Model: d.Name(), Reason: errs[i]})
			continue
		}
		outputs = append(outputs, outs[i])
	}
	return outputs, skipped
}

func runDetector(d Detector, X [][]float64) (out ModelOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector panicked: %v", r)
		}
	}()

	if err := d.Fit(X); err != nil {
		return ModelOutput{}, fmt.Errorf("fit: %w", err)
	}
	labels, scores, err := d.Predict(X)
	if err != nil {
		return ModelOutput{}, fmt.Errorf("predict: %w", err)
	}
	if len(labels) != len(X) || len(scores) != len(X) {
		return ModelOutput{}, fmt.Errorf("output length mismatch: %d labels, %d scores for %d samples", len(labels), len(scores), len(X))
	}
	return ModelOutput{Model: d.Name(), Labels: labels, Scores: scores}, nil
}
