package density

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestParseKernel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Kernel
		wantErr bool
	}{
		{"epanechnikov", "epanechnikov", Epanechnikov, false},
		{"gaussian", "gaussian", Gaussian, false},
		{"unknown", "tophat", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKernel(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownKernel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestGaussianDensityIntegratesToOne(t *testing.T) {
	data := [][]float64{{0}}
	grid, step := lineGrid(-5, 5, 0.01)

	e := NewEstimator()
	dens, err := e.Estimate(grid, data, 0.5, Gaussian)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, floats.Sum(dens)*step, 1e-3)
}

func TestEpanechnikovDensityIntegratesToOne(t *testing.T) {
	data := [][]float64{{0}, {0.1}}
	grid, step := lineGrid(-2, 2, 0.001)

	e := NewEstimator()
	dens, err := e.Estimate(grid, data, 0.5, Epanechnikov)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, floats.Sum(dens)*step, 1e-3)
}

func TestGaussianDensityIntegratesToOneIn2D(t *testing.T) {
	data := [][]float64{{0, 0}, {0.5, -0.2}}

	step := 0.05
	var grid [][]float64
	for x := -3.0; x <= 3.0; x += step {
		for y := -3.0; y <= 3.0; y += step {
			grid = append(grid, []float64{x, y})
		}
	}

	e := NewEstimator()
	dens, err := e.Estimate(grid, data, 0.4, Gaussian)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, floats.Sum(dens)*step*step, 1e-2)
}

func TestEpanechnikovVanishesOutsideBandwidth(t *testing.T) {
	data := [][]float64{{0}}

	e := NewEstimator()
	dens, err := e.Estimate([][]float64{{0}, {0.99}, {1.0}, {5}}, data, 1.0, Epanechnikov)
	require.NoError(t, err)

	assert.Greater(t, dens[0], 0.0)
	assert.Greater(t, dens[1], 0.0)
	assert.Equal(t, 0.0, dens[2])
	assert.Equal(t, 0.0, dens[3])
}

func TestAbsoluteScalingMatchesSourceCount(t *testing.T) {
	var data [][]float64
	for i := 0; i < 50; i++ {
		data = append(data, []float64{float64(i) * 0.05})
	}
	grid, _ := lineGrid(-2, 5, 0.05)

	e := NewEstimator()
	dens, err := e.EstimateAbsolute(grid, data, 0.2, Gaussian, 2)
	require.NoError(t, err)

	assert.InDelta(t, 50*2, floats.Sum(dens), 1e-9)
}

func TestWorkerCountDoesNotChangeResult(t *testing.T) {
	var data [][]float64
	for i := 0; i < 40; i++ {
		data = append(data, []float64{math.Sin(float64(i)), math.Cos(float64(i) * 0.7)})
	}
	var grid [][]float64
	for x := -1.0; x <= 1.0; x += 0.1 {
		for y := -1.0; y <= 1.0; y += 0.1 {
			grid = append(grid, []float64{x, y})
		}
	}

	serial, err := NewEstimator(WithWorkers(1)).Estimate(grid, data, 0.3, Epanechnikov)
	require.NoError(t, err)
	parallel, err := NewEstimator(WithWorkers(7)).Estimate(grid, data, 0.3, Epanechnikov)
	require.NoError(t, err)

	assert.Equal(t, serial, parallel)
}

func TestEstimateValidation(t *testing.T) {
	grid := [][]float64{{0}}
	data := [][]float64{{0}}

	e := NewEstimator()

	_, err := e.Estimate(grid, data, 0, Gaussian)
	assert.ErrorIs(t, err, ErrBandwidth)

	_, err = e.Estimate(grid, data, math.NaN(), Gaussian)
	assert.ErrorIs(t, err, ErrBandwidth)

	_, err = e.Estimate(grid, nil, 1, Gaussian)
	assert.ErrorIs(t, err, ErrNoData)

	_, err = e.Estimate([][]float64{{0, 1}}, data, 1, Gaussian)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = e.Estimate(grid, data, 1, Kernel(99))
	assert.ErrorIs(t, err, ErrUnknownKernel)

	_, err = e.EstimateAbsolute(grid, data, 1, Gaussian, 0)
	assert.ErrorIs(t, err, ErrSampling)

	_, err = e.EstimateAbsolute([][]float64{{100}}, data, 1, Epanechnikov, 2)
	assert.ErrorIs(t, err, ErrZeroMass)
}

func BenchmarkEstimate(b *testing.B) {
	var data [][]float64
	for i := 0; i < 200; i++ {
		data = append(data, []float64{math.Sin(float64(i)), math.Cos(float64(i) * 1.3)})
	}
	var grid [][]float64
	for x := -1.0; x <= 1.0; x += 0.05 {
		for y := -1.0; y <= 1.0; y += 0.05 {
			grid = append(grid, []float64{x, y})
		}
	}

	e := NewEstimator()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Estimate(grid, data, 0.25, Epanechnikov); err != nil {
			b.Fatal(err)
		}
	}
}

// Helper functions for tests

func lineGrid(lo, hi, step float64) ([][]float64, float64) {
	var grid [][]float64
	for x := lo; x <= hi; x += step {
		grid = append(grid, []float64{x})
	}
	return grid, step
}
