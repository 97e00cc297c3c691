package analyzer

import (
	"testing"

	"l1sentry/pkg/features"
	"l1sentry/pkg/ml"
)

// quietSupervised is a stand-in fourth detector that never flags.
type quietSupervised struct{}

func (quietSupervised) Fit(X [][]float64) error { return nil }

func (quietSupervised) Predict(X [][]float64) ([]int, []float64, error) {
	labels := make([]int, len(X))
	scores := make([]float64, len(X))
	for i := range X {
		labels[i] = ml.LabelNormal
		scores[i] = 0.1
	}
	return labels, scores, nil
}

func (quietSupervised) Name() string { return "random_forest" }

func logBatch(t *testing.T, source string, lines []string) Batch {
	t.Helper()
	batch := Batch{Source: source}
	for i, line := range lines {
		vec, ok := features.FromLogLine(line, i)
		if !ok {
			t.Fatalf("Line %d unexpectedly skipped: %q", i, line)
		}
		batch.Samples = append(batch.Samples, Sample{Position: i, Vector: vec})
	}
	return batch
}

// tightClusterBatch is 19 near-identical points plus one far point at
// position 19. Every stock detector flags the far point.
func tightClusterBatch(source string) Batch {
	batch := Batch{Source: source}
	for i := 0; i < 19; i++ {
		batch.Samples = append(batch.Samples, Sample{
			Position: i,
			Vector: []float64{
				0.01 * float64(i%5),
				0.02 * float64(i%3),
				0.01 * float64(i%7),
				0.02 * float64(i%2),
			},
		})
	}
	batch.Samples = append(batch.Samples, Sample{Position: 19, Vector: []float64{8, 8, 8, 8}})
	return batch
}

func TestEngine_SingleLoudOutlier(t *testing.T) {
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = "2024-01-15 10:02:11 INFO cell heartbeat ok"
	}
	lines[7] = "[CRITICAL] error error error timeout: DU-RU link failed, 999 packets lost, retry 42 [[urgent]]"

	report, err := New(DefaultConfig()).AnalyzeBatch(logBatch(t, "du_ru_capture.log", lines))
	if err != nil {
		t.Fatalf("AnalyzeBatch: %v", err)
	}
	if report.SamplesAnalyzed != 10 {
		t.Fatalf("SamplesAnalyzed = %d, want 10", report.SamplesAnalyzed)
	}

	wantModels := []string{ml.ModelIsolationForest, ml.ModelOneClassSVM, ml.ModelDBSCAN}
	if len(report.Models) != len(wantModels) {
		t.Fatalf("Executed models = %v, skips = %+v", report.Models, report.Skipped)
	}
	for i := range wantModels {
		if report.Models[i] != wantModels[i] {
			t.Errorf("Model %d = %q, want %q", i, report.Models[i], wantModels[i])
		}
	}

	// At 10% contamination on 10 samples the forest flags exactly one,
	// and it is the loud line.
	var flagged []AnomalyRecord
	for _, rec := range report.Records {
		if rec.Votes[ml.ModelIsolationForest].Prediction == 1 {
			flagged = append(flagged, rec)
		}
	}
	if len(flagged) != 1 {
		t.Fatalf("Isolation forest flagged %d samples, want exactly 1", len(flagged))
	}
	if flagged[0].Position != 7 {
		t.Errorf("Flagged position = %d, want the loud line at 7", flagged[0].Position)
	}
	if flagged[0].ModelAgreement < 1 {
		t.Errorf("Flagged record agreement = %d, want >= 1", flagged[0].ModelAgreement)
	}
	if flagged[0].Category != CategoryDURU {
		t.Errorf("Category = %q, want %q", flagged[0].Category, CategoryDURU)
	}
}

func TestEngine_UnanimousOutlierPersists(t *testing.T) {
	report, err := New(DefaultConfig()).AnalyzeBatch(tightClusterBatch("sync_capture.pcap"))
	if err != nil {
		t.Fatalf("AnalyzeBatch: %v", err)
	}
	if len(report.Skipped) != 0 {
		t.Fatalf("Detectors skipped on a healthy batch: %+v", report.Skipped)
	}

	var far *AnomalyRecord
	for i := range report.Records {
		if report.Records[i].Position == 19 {
			far = &report.Records[i]
		}
	}
	if far == nil {
		t.Fatal("Far point produced no anomaly record")
	}
	if far.ModelAgreement != 3 || far.ModelsExecuted != 3 {
		t.Fatalf("Far point agreement = %d/%d, want 3/3", far.ModelAgreement, far.ModelsExecuted)
	}
	if !far.Persist {
		t.Error("Unanimous agreement must persist at the 0.75 ratio")
	}
	for model, vote := range far.Votes {
		if vote.Prediction != 1 {
			t.Errorf("Model %s did not flag the far point", model)
		}
	}
	if far.Confidence < 0 || far.Confidence > 1 {
		t.Errorf("Confidence out of range: %v", far.Confidence)
	}
	if far.Category != CategoryTiming {
		t.Errorf("Category = %q, want %q", far.Category, CategoryTiming)
	}

	// Nothing below the quorum may carry the persist bit.
	for _, rec := range report.Records {
		if rec.ModelAgreement < 3 && rec.Persist {
			t.Errorf("Record at position %d persists with agreement %d", rec.Position, rec.ModelAgreement)
		}
	}
}

func TestEngine_SupervisedWidensDenominator(t *testing.T) {
	engine := New(DefaultConfig()).WithSupervised(quietSupervised{})
	report, err := engine.AnalyzeBatch(tightClusterBatch("capture.pcap"))
	if err != nil {
		t.Fatalf("AnalyzeBatch: %v", err)
	}
	if len(report.Models) != 4 || report.Models[3] != "random_forest" {
		t.Fatalf("Models = %v, want the supervised detector appended last", report.Models)
	}

	var far *AnomalyRecord
	for i := range report.Records {
		if report.Records[i].Position == 19 {
			far = &report.Records[i]
		}
	}
	if far == nil {
		t.Fatal("Far point produced no anomaly record")
	}
	if far.ModelsExecuted != 4 || far.ModelAgreement != 3 {
		t.Fatalf("Far point agreement = %d/%d, want 3/4", far.ModelAgreement, far.ModelsExecuted)
	}
	// ceil(0.75*4) = 3, so three of four still persists.
	if !far.Persist {
		t.Error("Three of four agreeing must persist")
	}
	if len(far.Votes) != 4 {
		t.Fatalf("Votes = %v, want all four detectors", far.Votes)
	}
	if v := far.Votes["random_forest"]; v.Prediction != 0 {
		t.Errorf("Supervised stub vote = %+v, want prediction 0", v)
	}
}

func TestEngine_EmptyBatch(t *testing.T) {
	report, err := New(Config{}).AnalyzeBatch(Batch{Source: "empty.log"})
	if err != nil {
		t.Fatalf("Empty batch must not error: %v", err)
	}
	if report.SamplesAnalyzed != 0 || len(report.Records) != 0 || len(report.Models) != 0 {
		t.Fatalf("Empty batch report = %+v", report)
	}
}

func TestEngine_MixedDimensions(t *testing.T) {
	batch := Batch{Source: "bad.log", Samples: []Sample{
		{Position: 0, Vector: []float64{1, 2, 3}},
		{Position: 1, Vector: []float64{1, 2}},
	}}
	if _, err := New(Config{}).AnalyzeBatch(batch); err == nil {
		t.Fatal("Mixed dimensionality must be rejected")
	}
}

func TestEngine_TinyBatchShrinksDenominator(t *testing.T) {
	// One sample cannot train the forest or the SVM; both are skipped
	// and recorded, DBSCAN alone votes, and the quorum adjusts to 1/1.
	batch := Batch{Source: "one.log", Samples: []Sample{{Position: 0, Vector: []float64{1, 2, 3}}}}
	report, err := New(DefaultConfig()).AnalyzeBatch(batch)
	if err != nil {
		t.Fatalf("Tiny batch must degrade, not fail: %v", err)
	}
	if len(report.Skipped) != 2 {
		t.Fatalf("Skipped = %+v, want the forest and the SVM", report.Skipped)
	}
	if len(report.Models) != 1 || report.Models[0] != ml.ModelDBSCAN {
		t.Fatalf("Models = %v, want DBSCAN alone", report.Models)
	}
	if len(report.Records) != 1 {
		t.Fatalf("Records = %+v, want the lone sample flagged as noise", report.Records)
	}
	rec := report.Records[0]
	if rec.ModelsExecuted != 1 || rec.ModelAgreement != 1 || !rec.Persist {
		t.Errorf("Record = %+v, want 1/1 agreement with persist", rec)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("ANALYZER_CONTAMINATION", "0.2")
	t.Setenv("ANALYZER_AGREEMENT_RATIO", "0.5")
	t.Setenv("ANALYZER_OVERSIZE_BYTES", "4096")

	cfg := ConfigFromEnv()
	if cfg.Contamination != 0.2 || cfg.AgreementRatio != 0.5 || cfg.OversizeThreshold != 4096 {
		t.Fatalf("ConfigFromEnv = %+v", cfg)
	}
	if cfg.SequenceWidthBits != DefaultSeqWidthBits || cfg.Seed != DefaultSeed {
		t.Errorf("Unset keys should keep defaults: %+v", cfg)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{Contamination: -1, AgreementRatio: 2, OversizeThreshold: 0, SequenceWidthBits: 99}.withDefaults()
	if cfg != DefaultConfig() {
		t.Fatalf("withDefaults = %+v, want %+v", cfg, DefaultConfig())
	}
}

func BenchmarkEngine_AnalyzeBatch(b *testing.B) {
	engine := New(DefaultConfig())
	batch := tightClusterBatch("bench_capture.pcap")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.AnalyzeBatch(batch); err != nil {
			b.Fatal(err)
		}
	}
}
