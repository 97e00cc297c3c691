package analyzer

import (
	"math"
	"testing"
)

// explainBatch has column 0 alternating 3/5 (sd 1), column 1 constant,
// and column 2 alternating 1/2 (sd 0.5).
func explainBatch() [][]float64 {
	batch := make([][]float64, 10)
	for i := range batch {
		row := []float64{3, 5, 1}
		if i%2 == 1 {
			row[0] = 5
			row[2] = 2
		}
		batch[i] = row
	}
	return batch
}

func TestExplain_RanksByDeviation(t *testing.T) {
	names := []string{"alpha", "beta", "gamma"}
	vector := []float64{5, 25, 2} // z = 1, 20, 1

	contribs := Explain(names, vector, explainBatch(), 0)
	if len(contribs) != 3 {
		t.Fatalf("Expected all 3 features, got %d", len(contribs))
	}
	if contribs[0].Name != "beta" {
		t.Fatalf("Top contributor = %q, want beta", contribs[0].Name)
	}
	if math.Abs(contribs[0].ZScore-20) > 1e-9 {
		t.Errorf("beta z-score = %v, want 20 (constant column falls back to unit scale)", contribs[0].ZScore)
	}
	// The stable sort keeps alpha before gamma on the |z| tie.
	if contribs[1].Name != "alpha" || contribs[2].Name != "gamma" {
		t.Errorf("Tie order = %q, %q, want alpha then gamma", contribs[1].Name, contribs[2].Name)
	}

	total := 0.0
	for _, c := range contribs {
		if c.Contribution < 0 {
			t.Errorf("Negative contribution for %s", c.Name)
		}
		total += c.Contribution
	}
	if math.Abs(total-1.0) > 1e-9 {
		t.Errorf("Contributions sum to %v, want 1", total)
	}
	if math.Abs(contribs[0].Contribution-20.0/22.0) > 1e-9 {
		t.Errorf("beta contribution = %v, want 20/22", contribs[0].Contribution)
	}
}

func TestExplain_TopN(t *testing.T) {
	contribs := Explain([]string{"alpha", "beta", "gamma"}, []float64{5, 25, 2}, explainBatch(), 1)
	if len(contribs) != 1 || contribs[0].Name != "beta" {
		t.Fatalf("TopN=1 returned %+v, want just beta", contribs)
	}
}

func TestExplain_NameFallback(t *testing.T) {
	contribs := Explain([]string{"alpha"}, []float64{5, 25, 2}, explainBatch(), 0)
	found := false
	for _, c := range contribs {
		if c.Name == "feature_2" {
			found = true
		}
	}
	if !found {
		t.Errorf("Missing positional fallback name, got %+v", contribs)
	}
}

func TestExplain_DegenerateInputs(t *testing.T) {
	if got := Explain(nil, nil, explainBatch(), 5); got != nil {
		t.Errorf("Empty vector should explain to nil, got %v", got)
	}
	if got := Explain(nil, []float64{1}, nil, 5); got != nil {
		t.Errorf("Empty batch should explain to nil, got %v", got)
	}

	// A vector identical to a constant batch deviates nowhere; the
	// breakdown must stay finite and zero.
	batch := [][]float64{{2, 2}, {2, 2}, {2, 2}}
	for _, c := range Explain([]string{"a", "b"}, []float64{2, 2}, batch, 0) {
		if c.ZScore != 0 || c.Contribution != 0 {
			t.Errorf("Expected zero deviation, got %+v", c)
		}
		if math.IsNaN(c.ZScore) || math.IsInf(c.ZScore, 0) {
			t.Errorf("Non-finite z-score: %+v", c)
		}
	}
}
