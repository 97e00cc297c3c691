package ml

import (
	"fmt"
	"math"
)

// DBSCANConfig configures density clustering. Zero values fall back to
// eps 0.5 and 5 minimum points.
type DBSCANConfig struct {
	Eps       float64
	MinPoints int
}

// DBSCAN flags points that no dense cluster absorbs. It produces no
// native decision score, so one is synthesized: noise points score by
// distance to the nearest cluster centroid, clustered points get a small
// positive margin.
type DBSCAN struct {
	cfg  DBSCANConfig
	dims int
}

// Noise marks points outside every cluster.
const noiseCluster = -1

func NewDBSCAN(cfg DBSCANConfig) *DBSCAN {
	if cfg.Eps <= 0 {
		cfg.Eps = 0.5
	}
	if cfg.MinPoints <= 0 {
		cfg.MinPoints = 5
	}
	return &DBSCAN{cfg: cfg}
}

func (d *DBSCAN) Name() string { return ModelDBSCAN }

// Fit records batch shape. Clustering has no separate training phase, so
// the work happens in Predict.
func (d *DBSCAN) Fit(X [][]float64) error {
	if len(X) == 0 {
		return fmt.Errorf("training data is empty")
	}
	d.dims = len(X[0])
	return nil
}

// Predict clusters X and labels noise points anomalous. Noise scores are
// -min(0.3 + dist/10, 0.9) against the nearest centroid, -0.6 when the
// batch produced no clusters at all; clustered points score +0.1.
func (d *DBSCAN) Predict(X [][]float64) ([]int, []float64, error) {
	if len(X) == 0 {
		return nil, nil, fmt.Errorf("no samples")
	}
	for i, x := range X {
		if len(x) != d.dims {
			return nil, nil, fmt.Errorf("sample %d dimension mismatch: expected %d, got %d", i, d.dims, len(x))
		}
	}

	clusters := d.cluster(X)
	centers := clusterCenters(X, clusters)

	labels := make([]int, len(X))
	scores := make([]float64, len(X))
	for i, c := range clusters {
		if c == noiseCluster {
			labels[i] = LabelAnomaly
			scores[i] = -noiseConfidence(X[i], centers)
		} else {
			labels[i] = LabelNormal
			scores[i] = 0.1
		}
	}
	return labels, scores, nil
}

// cluster assigns each point a cluster id, or noiseCluster.
func (d *DBSCAN) cluster(X [][]float64) []int {
	n := len(X)
	clusters := make([]int, n)
	visited := make([]bool, n)
	for i := range clusters {
		clusters[i] = noiseCluster
	}

	next := 0
	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := d.regionQuery(X, i)
		if len(neighbors) < d.cfg.MinPoints {
			continue // stays noise unless a cluster reaches it
		}

		clusters[i] = next
		// Expand: grow the seed set through every core point reached.
		for k := 0; k < len(neighbors); k++ {
			j := neighbors[k]
			if !visited[j] {
				visited[j] = true
				jNeighbors := d.regionQuery(X, j)
				if len(jNeighbors) >= d.cfg.MinPoints {
					neighbors = append(neighbors, jNeighbors...)
				}
			}
			if clusters[j] == noiseCluster {
				clusters[j] = next
			}
		}
		next++
	}
	return clusters
}

// regionQuery returns indices within eps of point i, i itself included.
func (d *DBSCAN) regionQuery(X [][]float64, i int) []int {
	var neighbors []int
	for j := range X {
		if euclideanDistance(X[i], X[j]) <= d.cfg.Eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}

func clusterCenters(X [][]float64, clusters []int) [][]float64 {
	counts := make(map[int]int)
	for _, c := range clusters {
		if c != noiseCluster {
			counts[c]++
		}
	}
	if len(counts) == 0 {
		return nil
	}

	dims := len(X[0])
	centers := make([][]float64, 0, len(counts))
	for c := 0; c < len(counts); c++ {
		center := make([]float64, dims)
		for i, ci := range clusters {
			if ci != c {
				continue
			}
			for k, v := range X[i] {
				center[k] += v
			}
		}
		for k := range center {
			center[k] /= float64(counts[c])
		}
		centers = append(centers, center)
	}
	return centers
}

// noiseConfidence maps how far a noise point sits from its nearest
// cluster into [0.3, 0.9]; 0.6 when there is no cluster to measure
// against.
func noiseConfidence(x []float64, centers [][]float64) float64 {
	if len(centers) == 0 {
		return 0.6
	}
	minDist := math.Inf(1)
	for _, c := range centers {
		if dist := euclideanDistance(x, c); dist < minDist {
			minDist = dist
		}
	}
	return math.Min(0.3+minDist/10, 0.9)
}

func euclideanDistance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
