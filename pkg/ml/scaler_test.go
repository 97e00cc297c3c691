package ml

import (
	"math"
	"testing"
)

func TestStandardScaler_FitTransform(t *testing.T) {
	data := [][]float64{
		{1.0, 10.0, 5.0},
		{2.0, 20.0, 5.0},
		{3.0, 30.0, 5.0},
		{4.0, 40.0, 5.0},
	}

	scaler := NewStandardScaler()
	scaled, err := scaler.FitTransform(data)
	if err != nil {
		t.Fatalf("FitTransform failed: %v", err)
	}
	if len(scaled) != len(data) {
		t.Fatalf("Expected %d rows, got %d", len(data), len(scaled))
	}

	// Each non-constant column must come out with mean 0 and variance 1.
	for col := 0; col < 2; col++ {
		mean := 0.0
		for _, row := range scaled {
			mean += row[col]
		}
		mean /= float64(len(scaled))
		if math.Abs(mean) > 1e-9 {
			t.Errorf("Column %d mean = %v, want 0", col, mean)
		}

		variance := 0.0
		for _, row := range scaled {
			diff := row[col] - mean
			variance += diff * diff
		}
		variance /= float64(len(scaled))
		if math.Abs(variance-1.0) > 1e-9 {
			t.Errorf("Column %d variance = %v, want 1", col, variance)
		}
	}
}

func TestStandardScaler_ConstantColumn(t *testing.T) {
	data := [][]float64{
		{5.0, 1.0},
		{5.0, 2.0},
		{5.0, 3.0},
	}

	scaler := NewStandardScaler()
	scaled, err := scaler.FitTransform(data)
	if err != nil {
		t.Fatalf("FitTransform failed: %v", err)
	}

	for i, row := range scaled {
		if math.IsNaN(row[0]) || math.IsInf(row[0], 0) {
			t.Fatalf("Row %d constant column produced %v", i, row[0])
		}
		if row[0] != 0 {
			t.Errorf("Row %d constant column = %v, want 0", i, row[0])
		}
	}

	if m := scaler.Mean(); m[0] != 5 || m[1] != 2 {
		t.Errorf("Mean() = %v, want [5 2]", m)
	}
	if s := scaler.Std(); s[0] != 1.0 {
		t.Errorf("Std() for the constant column = %v, want the unit substitute", s[0])
	}
}

func TestStandardScaler_SingleSample(t *testing.T) {
	scaler := NewStandardScaler()
	scaled, err := scaler.FitTransform([][]float64{{1.0, 2.0, 3.0}})
	if err != nil {
		t.Fatalf("FitTransform failed on single sample: %v", err)
	}
	for _, v := range scaled[0] {
		if v != 0 {
			t.Errorf("Single sample should scale to zero, got %v", v)
		}
	}
}

func TestStandardScaler_Errors(t *testing.T) {
	scaler := NewStandardScaler()
	if err := scaler.Fit(nil); err == nil {
		t.Error("Expected error fitting empty data")
	}
	if _, err := scaler.Transform([][]float64{{1.0}}); err == nil {
		t.Error("Expected error transforming before fit")
	}

	if err := scaler.Fit([][]float64{{1, 2}, {3}}); err == nil {
		t.Error("Expected error for ragged rows")
	}

	if err := scaler.Fit([][]float64{{1, 2}, {3, 4}}); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if _, err := scaler.Transform([][]float64{{1.0}}); err == nil {
		t.Error("Expected error for dimension mismatch")
	}
}
