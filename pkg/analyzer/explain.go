package analyzer

import (
	"fmt"
	"math"
	"sort"
)

// FeatureContribution quantifies how much one feature pulled a sample
// away from the batch distribution.
type FeatureContribution struct {
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	ZScore       float64 `json:"z_score"`
	Contribution float64 `json:"contribution"`
}

// Explain scores each feature of a vector by its z-score against the
// batch it came from and returns the topN features ranked by absolute
// deviation. Contribution is |z| normalized so all features sum to 1,
// making the returned slice a percentage breakdown. topN <= 0 returns
// every feature. Missing names fall back to positional placeholders.
func Explain(names []string, vector []float64, batch [][]float64, topN int) []FeatureContribution {
	dims := len(vector)
	if dims == 0 || len(batch) == 0 {
		return nil
	}

	mean := make([]float64, dims)
	variance := make([]float64, dims)
	count := 0
	for _, row := range batch {
		if len(row) != dims {
			continue
		}
		for j, v := range row {
			mean[j] += v
		}
		count++
	}
	if count == 0 {
		return nil
	}
	for j := range mean {
		mean[j] /= float64(count)
	}
	for _, row := range batch {
		if len(row) != dims {
			continue
		}
		for j, v := range row {
			d := v - mean[j]
			variance[j] += d * d
		}
	}

	contribs := make([]FeatureContribution, dims)
	total := 0.0
	for j := 0; j < dims; j++ {
		sd := math.Sqrt(variance[j] / float64(count))
		if sd < 1e-12 {
			sd = 1.0
		}
		z := (vector[j] - mean[j]) / sd
		name := fmt.Sprintf("feature_%d", j)
		if j < len(names) {
			name = names[j]
		}
		contribs[j] = FeatureContribution{Name: name, Value: vector[j], ZScore: z}
		total += math.Abs(z)
	}
	if total > 0 {
		for j := range contribs {
			contribs[j].Contribution = math.Abs(contribs[j].ZScore) / total
		}
	}

	sort.SliceStable(contribs, func(a, b int) bool {
		return math.Abs(contribs[a].ZScore) > math.Abs(contribs[b].ZScore)
	})
	if topN > 0 && topN < len(contribs) {
		contribs = contribs[:topN]
	}
	return contribs
}
