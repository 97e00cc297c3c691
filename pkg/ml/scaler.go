package ml

import (
	"fmt"
	"math"
)

// StandardScaler normalizes each feature column to zero mean and unit
// variance. It is refit on every batch, so scores from different batches
// are not directly comparable.
type StandardScaler struct {
	mean []float64
	std  []float64
}

func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

// Fit computes per-column mean and population standard deviation.
// Columns with (near-)zero variance get a unit divisor so constant
// features transform to exactly zero instead of NaN.
func (scaler *StandardScaler) Fit(data [][]float64) error {
	if len(data) == 0 {
		return fmt.Errorf("no data provided")
	}

	numFeatures := len(data[0])
	scaler.mean = make([]float64, numFeatures)
	scaler.std = make([]float64, numFeatures)

	for _, sample := range data {
		if len(sample) != numFeatures {
			return fmt.Errorf("inconsistent feature count: expected %d, got %d", numFeatures, len(sample))
		}
		for i, value := range sample {
			scaler.mean[i] += value
		}
	}
	for i := range scaler.mean {
		scaler.mean[i] /= float64(len(data))
	}

	for _, sample := range data {
		for i, value := range sample {
			diff := value - scaler.mean[i]
			scaler.std[i] += diff * diff
		}
	}
	for i := range scaler.std {
		scaler.std[i] = math.Sqrt(scaler.std[i] / float64(len(data)))
		if scaler.std[i] < 1e-12 {
			scaler.std[i] = 1.0
		}
	}

	return nil
}

// Transform applies the fitted normalization to data.
func (scaler *StandardScaler) Transform(data [][]float64) ([][]float64, error) {
	if len(scaler.mean) == 0 {
		return nil, fmt.Errorf("scaler not fitted")
	}

	result := make([][]float64, len(data))
	for i, sample := range data {
		if len(sample) != len(scaler.mean) {
			return nil, fmt.Errorf("sample %d dimension mismatch: expected %d, got %d", i, len(scaler.mean), len(sample))
		}
		scaled := make([]float64, len(sample))
		for j, value := range sample {
			scaled[j] = (value - scaler.mean[j]) / scaler.std[j]
		}
		result[i] = scaled
	}

	return result, nil
}

// FitTransform fits the scaler on data and returns the scaled batch.
func (scaler *StandardScaler) FitTransform(data [][]float64) ([][]float64, error) {
	if err := scaler.Fit(data); err != nil {
		return nil, err
	}
	return scaler.Transform(data)
}

// Mean returns the fitted per-column means.
func (scaler *StandardScaler) Mean() []float64 { return scaler.mean }

// Std returns the fitted per-column standard deviations.
func (scaler *StandardScaler) Std() []float64 { return scaler.std }
