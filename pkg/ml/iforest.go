package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// IsolationForestConfig configures the forest. Zero values fall back to
// the stock parameters: 100 trees, 256-sample subsampling, 10%
// contamination, seed 42.
type IsolationForestConfig struct {
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          int64
}

// IsolationForest scores points by average path length over random trees
// built up to a height limit. Short paths mean easy isolation, which
// means anomalous. The flagging threshold is the contamination quantile
// of the training scores, fixed at fit time.
type IsolationForest struct {
	cfg    IsolationForestConfig
	trees  []*iTree
	sizeC  float64
	offset float64
	dims   int
}

type iTree struct {
	root *iNode
}

type iNode struct {
	leaf     bool
	size     int
	dim      int
	splitVal float64
	left     *iNode
	right    *iNode
}

func NewIsolationForest(cfg IsolationForestConfig) *IsolationForest {
	if cfg.Trees <= 0 {
		cfg.Trees = 100
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 256
	}
	if cfg.Contamination <= 0 || cfg.Contamination >= 1 {
		cfg.Contamination = 0.1
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	return &IsolationForest{cfg: cfg}
}

func (f *IsolationForest) Name() string { return ModelIsolationForest }

// Fit builds the trees from X and fixes the anomaly-score threshold at
// the contamination quantile of the training scores.
func (f *IsolationForest) Fit(X [][]float64) error {
	n := len(X)
	if n < 2 {
		return fmt.Errorf("need at least 2 samples, got %d", n)
	}

	rng := rand.New(rand.NewSource(f.cfg.Seed))
	f.dims = len(X[0])

	m := f.cfg.SampleSize
	if m > n {
		m = n
	}
	heightLim := int(math.Ceil(math.Log2(float64(m))))
	if heightLim < 1 {
		heightLim = 1
	}
	f.sizeC = cFactor(m)
	if f.sizeC <= 0 {
		f.sizeC = 1
	}

	f.trees = make([]*iTree, f.cfg.Trees)
	for i := 0; i < f.cfg.Trees; i++ {
		// sample without replacement up to SampleSize
		idxs := rng.Perm(n)
		sample := make([][]float64, m)
		for j := 0; j < m; j++ {
			sample[j] = X[idxs[j]]
		}
		f.trees[i] = &iTree{root: buildTree(sample, 0, heightLim, rng)}
	}

	scores := make([]float64, n)
	for i, x := range X {
		scores[i] = f.Score(x)
	}
	f.offset = contaminationThreshold(scores, f.cfg.Contamination)

	return nil
}

// Predict labels each row against the fitted threshold. The decision
// score is threshold minus anomaly score, so flagged rows come out
// negative and plainly normal rows positive.
func (f *IsolationForest) Predict(X [][]float64) ([]int, []float64, error) {
	if len(f.trees) == 0 {
		return nil, nil, fmt.Errorf("model not trained")
	}

	labels := make([]int, len(X))
	scores := make([]float64, len(X))
	for i, x := range X {
		if len(x) != f.dims {
			return nil, nil, fmt.Errorf("sample %d dimension mismatch: expected %d, got %d", i, f.dims, len(x))
		}
		s := f.Score(x)
		scores[i] = f.offset - s
		if s >= f.offset {
			labels[i] = LabelAnomaly
		} else {
			labels[i] = LabelNormal
		}
	}
	return labels, scores, nil
}

// Score returns the anomaly score in [0,1], higher means more anomalous.
func (f *IsolationForest) Score(x []float64) float64 {
	if len(f.trees) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, t := range f.trees {
		sum += pathLength(t.root, x, 0)
	}
	Eh := sum / float64(len(f.trees))
	return math.Pow(2, -Eh/f.sizeC)
}

// contaminationThreshold returns the k-th largest score where k is the
// interpolated contamination count, so roughly a contamination fraction
// of the batch scores at or above it. At least one sample always
// qualifies.
func contaminationThreshold(scores []float64, contamination float64) float64 {
	n := len(scores)
	k := int(math.Floor(float64(n-1)*contamination)) + 1
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	sorted := make([]float64, n)
	copy(sorted, scores)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	return sorted[k-1]
}

func buildTree(X [][]float64, h, hlim int, rng *rand.Rand) *iNode {
	if len(X) <= 1 || h >= hlim {
		return &iNode{leaf: true, size: len(X)}
	}
	dim := rng.Intn(len(X[0]))
	minv, maxv := X[0][dim], X[0][dim]
	for i := 1; i < len(X); i++ {
		v := X[i][dim]
		if v < minv {
			minv = v
		}
		if v > maxv {
			maxv = v
		}
	}
	if minv == maxv { // cannot split further
		return &iNode{leaf: true, size: len(X)}
	}
	split := minv + rng.Float64()*(maxv-minv)
	left := make([][]float64, 0, len(X))
	right := make([][]float64, 0, len(X))
	for _, row := range X {
		if row[dim] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &iNode{leaf: true, size: len(X)}
	}
	return &iNode{
		dim:      dim,
		splitVal: split,
		left:     buildTree(left, h+1, hlim, rng),
		right:    buildTree(right, h+1, hlim, rng),
	}
}

// cFactor is c(n), the average path length of an unsuccessful BST search,
// used to normalize path lengths.
func cFactor(n int) float64 {
	if n <= 1 {
		return 0
	}
	return 2.0*(math.Log(float64(n-1))+0.5772156649) - 2.0*float64(n-1)/float64(n)
}

func pathLength(node *iNode, x []float64, h int) float64 {
	if node.leaf {
		if node.size <= 1 {
			return float64(h)
		}
		return float64(h) + cFactor(node.size)
	}
	if x[node.dim] < node.splitVal {
		return pathLength(node.left, x, h+1)
	}
	return pathLength(node.right, x, h+1)
}
