package ml

import (
	"fmt"
	"math"
	"sync"
)

// OneClassSVM learns a boundary around the batch in RBF feature space and
// flags points that fall outside it. The dual problem is solved with a
// simplified SMO sweep.
type OneClassSVM struct {
	mu sync.RWMutex

	// Hyperparameters
	nu        float64 // Upper bound on fraction of outliers (0 < nu <= 1)
	gamma     float64 // RBF kernel parameter; <= 0 means scale by feature variance
	kernel    string  // Kernel type: "rbf", "linear", "poly"
	degree    int     // Degree for polynomial kernel
	tolerance float64 // Training convergence tolerance
	maxIter   int     // Maximum training iterations

	// Model parameters
	supportVectors [][]float64
	alphas         []float64
	rho            float64
	fitGamma       float64
	trained        bool

	numFeatures int
}

// OneClassSVMConfig configures the SVM.
type OneClassSVMConfig struct {
	Nu        float64 // Fraction of outliers (default: 0.1)
	Gamma     float64 // RBF gamma (default: scale = 1/(n_features * variance))
	Kernel    string  // "rbf", "linear", "poly"
	Degree    int     // For polynomial kernel
	Tolerance float64 // Convergence tolerance
	MaxIter   int     // Max iterations
}

func NewOneClassSVM(config OneClassSVMConfig) *OneClassSVM {
	if config.Nu <= 0 || config.Nu > 1 {
		config.Nu = 0.1
	}
	if config.Kernel == "" {
		config.Kernel = "rbf"
	}
	if config.Degree <= 0 {
		config.Degree = 3
	}
	if config.Tolerance <= 0 {
		config.Tolerance = 1e-3
	}
	if config.MaxIter <= 0 {
		config.MaxIter = 1000
	}

	return &OneClassSVM{
		nu:        config.Nu,
		gamma:     config.Gamma,
		kernel:    config.Kernel,
		degree:    config.Degree,
		tolerance: config.Tolerance,
		maxIter:   config.MaxIter,
	}
}

func (svm *OneClassSVM) Name() string { return ModelOneClassSVM }

// Fit trains the boundary on the batch via SMO.
func (svm *OneClassSVM) Fit(data [][]float64) error {
	svm.mu.Lock()
	defer svm.mu.Unlock()

	if len(data) == 0 {
		return fmt.Errorf("training data is empty")
	}
	if len(data) < 2 {
		return fmt.Errorf("need at least 2 samples, got %d", len(data))
	}

	svm.numFeatures = len(data[0])
	n := len(data)

	svm.fitGamma = svm.gamma
	if svm.fitGamma <= 0 {
		svm.fitGamma = scaleGamma(data)
	}

	kernelMatrix := svm.computeKernelMatrix(data)
	alphas, rho := svm.solveQP(kernelMatrix, n)

	// Keep only support vectors (alpha > 0)
	threshold := 1e-5
	svm.supportVectors = svm.supportVectors[:0]
	svm.alphas = svm.alphas[:0]
	for i := 0; i < n; i++ {
		if alphas[i] > threshold {
			svm.supportVectors = append(svm.supportVectors, data[i])
			svm.alphas = append(svm.alphas, alphas[i])
		}
	}

	svm.rho = rho
	svm.trained = true

	return nil
}

// Predict labels every row by the sign of the decision function
// f(x) = sum(alpha_i * K(x_i, x)) - rho. Negative means outside the
// boundary, hence anomalous.
func (svm *OneClassSVM) Predict(X [][]float64) ([]int, []float64, error) {
	svm.mu.RLock()
	defer svm.mu.RUnlock()

	if !svm.trained {
		return nil, nil, fmt.Errorf("model not trained")
	}

	labels := make([]int, len(X))
	scores := make([]float64, len(X))
	for i, x := range X {
		if len(x) != svm.numFeatures {
			return nil, nil, fmt.Errorf("sample %d dimension mismatch: expected %d, got %d", i, svm.numFeatures, len(x))
		}
		d := svm.decision(x)
		scores[i] = d
		if d < 0 {
			labels[i] = LabelAnomaly
		} else {
			labels[i] = LabelNormal
		}
	}
	return labels, scores, nil
}

func (svm *OneClassSVM) decision(x []float64) float64 {
	score := -svm.rho
	for i := 0; i < len(svm.supportVectors); i++ {
		score += svm.alphas[i] * svm.kernelFunc(svm.supportVectors[i], x)
	}
	return score
}

// NumSupport returns the number of support vectors.
func (svm *OneClassSVM) NumSupport() int {
	svm.mu.RLock()
	defer svm.mu.RUnlock()
	return len(svm.supportVectors)
}

// IsTrained reports whether Fit has completed.
func (svm *OneClassSVM) IsTrained() bool {
	svm.mu.RLock()
	defer svm.mu.RUnlock()
	return svm.trained
}

// scaleGamma is 1 / (n_features * variance of all matrix entries), which
// lands near 1/n_features on standardized batches.
func scaleGamma(data [][]float64) float64 {
	n := 0
	mean := 0.0
	for _, row := range data {
		for _, v := range row {
			mean += v
			n++
		}
	}
	if n == 0 {
		return 1.0
	}
	mean /= float64(n)
	variance := 0.0
	for _, row := range data {
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
	}
	variance /= float64(n)
	if variance < 1e-12 {
		variance = 1.0
	}
	return 1.0 / (float64(len(data[0])) * variance)
}

func (svm *OneClassSVM) kernelFunc(x1, x2 []float64) float64 {
	switch svm.kernel {
	case "linear":
		return linearKernel(x1, x2)
	case "poly":
		return math.Pow(linearKernel(x1, x2)+1.0, float64(svm.degree))
	default:
		return rbfKernel(x1, x2, svm.fitGamma)
	}
}

func rbfKernel(x1, x2 []float64, gamma float64) float64 {
	sumSq := 0.0
	for i := 0; i < len(x1); i++ {
		diff := x1[i] - x2[i]
		sumSq += diff * diff
	}
	return math.Exp(-gamma * sumSq)
}

func linearKernel(x1, x2 []float64) float64 {
	sum := 0.0
	for i := 0; i < len(x1); i++ {
		sum += x1[i] * x2[i]
	}
	return sum
}

func (svm *OneClassSVM) computeKernelMatrix(data [][]float64) [][]float64 {
	n := len(data)
	K := make([][]float64, n)
	for i := 0; i < n; i++ {
		K[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			K[i][j] = svm.kernelFunc(data[i], data[j])
		}
	}
	return K
}

// solveQP solves the dual problem with a simplified SMO: pairs of alphas
// move together under the box constraint 0 <= alpha <= C with
// C = 1/(n*nu), keeping sum(alpha) fixed.
func (svm *OneClassSVM) solveQP(K [][]float64, n int) ([]float64, float64) {
	alphas := make([]float64, n)
	C := 1.0 / (float64(n) * svm.nu)
	for i := 0; i < n; i++ {
		alphas[i] = 0.5 * C
	}

	for iter := 0; iter < svm.maxIter; iter++ {
		alphaChanged := 0

		for i := 0; i < n; i++ {
			fi := 0.0
			for j := 0; j < n; j++ {
				fi += alphas[j] * K[i][j]
			}
			Ei := fi - 1.0

			// KKT violation check
			if (alphas[i] < C-svm.tolerance && Ei < -svm.tolerance) ||
				(alphas[i] > svm.tolerance && Ei > svm.tolerance) {

				j := selectSecond(i, n)

				fj := 0.0
				for k := 0; k < n; k++ {
					fj += alphas[k] * K[j][k]
				}
				Ej := fj - 1.0

				alphaJOld := alphas[j]

				L := math.Max(0, alphas[i]+alphas[j]-C)
				H := math.Min(C, alphas[i]+alphas[j])
				if math.Abs(L-H) < 1e-8 {
					continue
				}

				eta := 2*K[i][j] - K[i][i] - K[j][j]
				if eta >= -1e-8 {
					continue
				}

				alphas[j] = alphas[j] - (Ej-Ei)/eta
				alphas[j] = math.Max(L, math.Min(H, alphas[j]))
				if math.Abs(alphas[j]-alphaJOld) < 1e-5 {
					continue
				}

				// Keep the pair sum constant
				alphas[i] = alphas[i] + (alphaJOld - alphas[j])
				alphaChanged++
			}
		}

		if alphaChanged == 0 {
			break
		}
	}

	// rho from margin support vectors, falling back to all support vectors
	rho := 0.0
	numBound := 0
	for i := 0; i < n; i++ {
		if alphas[i] > svm.tolerance && alphas[i] < C-svm.tolerance {
			fi := 0.0
			for j := 0; j < n; j++ {
				fi += alphas[j] * K[i][j]
			}
			rho += fi
			numBound++
		}
	}
	if numBound == 0 {
		for i := 0; i < n; i++ {
			if alphas[i] > svm.tolerance {
				fi := 0.0
				for j := 0; j < n; j++ {
					fi += alphas[j] * K[i][j]
				}
				rho += fi
				numBound++
			}
		}
	}
	if numBound > 0 {
		rho /= float64(numBound)
	}

	return alphas, rho
}

// selectSecond picks the partner alpha. Round-robin keeps the sweep
// deterministic.
func selectSecond(i, n int) int {
	j := (i + 1) % n
	for j == i {
		j = (j + 1) % n
	}
	return j
}
