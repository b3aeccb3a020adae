package extmap

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dustmap/pkg/extinction"
	"dustmap/pkg/photometry"
	"dustmap/pkg/skygrid"
)

func TestParseMethod(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Method
		wantErr bool
	}{
		{name: "average", input: "average", want: MethodAverage},
		{name: "median", input: "median", want: MethodMedian},
		{name: "uniform", input: "uniform", want: MethodUniform},
		{name: "triangular", input: "triangular", want: MethodTriangular},
		{name: "gaussian", input: "gaussian", want: MethodGaussian},
		{name: "epanechnikov", input: "epanechnikov", want: MethodEpanechnikov},
		{name: "unknown", input: "tophat", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMethod(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownMethod)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestNewBuilderValidation(t *testing.T) {
	_, err := NewBuilder(0, MethodGaussian)
	assert.ErrorIs(t, err, ErrBandwidth)

	_, err = NewBuilder(math.NaN(), MethodGaussian)
	assert.ErrorIs(t, err, ErrBandwidth)

	_, err = NewBuilder(0.1, Method(99))
	assert.ErrorIs(t, err, ErrUnknownMethod)

	_, err = NewBuilder(0.1, MethodGaussian, WithSampling(0))
	assert.ErrorIs(t, err, ErrSampling)
}

func TestBuildValidation(t *testing.T) {
	b, err := NewBuilder(0.1, MethodUniform)
	require.NoError(t, err)

	grid := onePixelGrid(10, -30)

	_, err = b.Build(nil, grid)
	assert.ErrorIs(t, err, ErrExtinctionRequired)

	ext := extinctionAt(t, []float64{10, 10}, []float64{-30, -30}, []float64{1, 1}, nil)
	_, err = b.Build(ext, nil)
	assert.ErrorIs(t, err, ErrGridRequired)

	// Sources without sky coordinates cannot be mapped.
	space, err := photometry.NewMagnitudes(
		[][]float64{{1, 2}, {3, 4}},
		[][]float64{{0.1, 0.1}, {0.1, 0.1}},
		[]float64{1, 0.5})
	require.NoError(t, err)
	bare, err := extinction.NewExtinction(space, []float64{1, 1}, nil)
	require.NoError(t, err)
	_, err = b.Build(bare, grid)
	assert.ErrorIs(t, err, ErrNoCoordinates)
	_, err = b.BuildAuto(bare, skygrid.FrameGalactic)
	assert.ErrorIs(t, err, ErrNoCoordinates)

	broken := onePixelGrid(10, -30)
	broken.Header.NAxis1 = 2
	_, err = b.Build(ext, broken)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestPixelGaussianCoincidentSources(t *testing.T) {
	b, err := NewBuilder(0.1, MethodGaussian)
	require.NoError(t, err)

	ext := extinctionAt(t,
		[]float64{10, 10},
		[]float64{-30, -30},
		[]float64{1, 1},
		[]float64{0.1, 0.1})

	m, err := b.Build(ext, onePixelGrid(10, -30))
	require.NoError(t, err)

	assert.InDelta(t, 1.0, m.Ext[0][0], 1e-9)
	assert.InDelta(t, 0.1/math.Sqrt2, m.Err[0][0], 1e-9)
	assert.Equal(t, 2, m.Num[0][0])
	assert.Equal(t, 1, m.FinitePixels())
}

func TestPixelBeyondTruncationStaysEmpty(t *testing.T) {
	b, err := NewBuilder(0.1, MethodGaussian)
	require.NoError(t, err)

	ext := extinctionAt(t,
		[]float64{10, 10},
		[]float64{-30, -30},
		[]float64{1, 1},
		nil)

	m, err := b.Build(ext, onePixelGrid(11.5, -30))
	require.NoError(t, err)

	assert.True(t, math.IsNaN(m.Ext[0][0]))
	assert.True(t, math.IsNaN(m.Err[0][0]))
	assert.Equal(t, 0, m.Num[0][0])
	assert.Equal(t, 0, m.FinitePixels())
}

func TestPixelAverageAndMedian(t *testing.T) {
	lon := []float64{10, 10, 10, 10, 10}
	lat := []float64{-30, -30, -30, -30, -30}
	values := []float64{1, 2, 10, 3, math.NaN()}

	avg, err := NewBuilder(0.5, MethodAverage)
	require.NoError(t, err)
	m, err := avg.Build(extinctionAt(t, lon, lat, values, nil), onePixelGrid(10, -30))
	require.NoError(t, err)
	assert.InDelta(t, 4.0, m.Ext[0][0], 1e-9)
	assert.True(t, math.IsNaN(m.Err[0][0]))
	assert.Equal(t, 5, m.Num[0][0])

	med, err := NewBuilder(0.5, MethodMedian)
	require.NoError(t, err)
	m, err = med.Build(extinctionAt(t, lon, lat, values, nil), onePixelGrid(10, -30))
	require.NoError(t, err)
	assert.InDelta(t, 2.5, m.Ext[0][0], 1e-9)
	assert.True(t, math.IsNaN(m.Err[0][0]))
	assert.Equal(t, 5, m.Num[0][0])
}

func TestPixelRequiresTwoFiniteSources(t *testing.T) {
	b, err := NewBuilder(0.5, MethodUniform)
	require.NoError(t, err)

	ext := extinctionAt(t,
		[]float64{10, 10},
		[]float64{-30, -30},
		[]float64{1.5, math.NaN()},
		nil)

	m, err := b.Build(ext, onePixelGrid(10, -30))
	require.NoError(t, err)

	assert.True(t, math.IsNaN(m.Ext[0][0]))
	assert.Equal(t, 2, m.Num[0][0])
}

func TestPixelTriangularWeighting(t *testing.T) {
	lon := []float64{10, 10}
	lat := []float64{-30, -29.5}
	values := []float64{0, 2}

	b, err := NewBuilder(1.0, MethodTriangular)
	require.NoError(t, err)
	m, err := b.Build(extinctionAt(t, lon, lat, values, nil), onePixelGrid(10, -30))
	require.NoError(t, err)

	// Weights 1 and 1-0.5 give (0 + 0.5*2) / 1.5.
	assert.InDelta(t, 2.0/3.0, m.Ext[0][0], 1e-6)
}

func TestPixelEpanechnikovClampsTails(t *testing.T) {
	lon := []float64{10, 10, 10}
	lat := []float64{-30, -30, -29.8}
	values := []float64{1, 1, 100}

	b, err := NewBuilder(0.1, MethodEpanechnikov)
	require.NoError(t, err)
	m, err := b.Build(extinctionAt(t, lon, lat, values, nil), onePixelGrid(10, -30))
	require.NoError(t, err)

	// The far source sits at twice the bandwidth: inside the truncation
	// radius but with a clamped zero weight.
	assert.InDelta(t, 1.0, m.Ext[0][0], 1e-9)
	assert.Equal(t, 3, m.Num[0][0])
}

func TestNicestRaisesWeightedValue(t *testing.T) {
	lon := []float64{10, 10, 10, 10}
	lat := []float64{-30, -30, -30, -30}
	values := []float64{0, 0, 2, 2}

	plainBuilder, err := NewBuilder(0.5, MethodUniform)
	require.NoError(t, err)
	plain, err := plainBuilder.Build(extinctionAt(t, lon, lat, values, nil), onePixelGrid(10, -30))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, plain.Ext[0][0], 1e-9)

	nicestBuilder, err := NewBuilder(0.5, MethodUniform, WithNicest(true))
	require.NoError(t, err)
	nicest, err := nicestBuilder.Build(extinctionAt(t, lon, lat, values, nil), onePixelGrid(10, -30))
	require.NoError(t, err)

	assert.Greater(t, nicest.Ext[0][0], plain.Ext[0][0])
	boost := math.Pow(10, nicestSlope*2)
	assert.InDelta(t, 2*boost*2/(2+2*boost), nicest.Ext[0][0], 1e-9)
}

func TestFWHMNarrowsGaussian(t *testing.T) {
	lon := []float64{10, 10}
	lat := []float64{-30, -29.6}
	values := []float64{0, 2}

	plainBuilder, err := NewBuilder(0.5, MethodGaussian)
	require.NoError(t, err)
	plain, err := plainBuilder.Build(extinctionAt(t, lon, lat, values, nil), onePixelGrid(10, -30))
	require.NoError(t, err)

	fwhmBuilder, err := NewBuilder(0.5, MethodGaussian, WithFWHM(true))
	require.NoError(t, err)
	narrow, err := fwhmBuilder.Build(extinctionAt(t, lon, lat, values, nil), onePixelGrid(10, -30))
	require.NoError(t, err)

	// The narrower kernel downweights the distant source.
	assert.Less(t, narrow.Ext[0][0], plain.Ext[0][0])
}

func TestBuildAutoCoversField(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	n := 200
	lon := make([]float64, n)
	lat := make([]float64, n)
	values := make([]float64, n)
	errs := make([]float64, n)
	for i := 0; i < n; i++ {
		lon[i] = 10 + rng.Float64()
		lat[i] = -30.5 + rng.Float64()
		values[i] = 1.5
		errs[i] = 0.1
	}

	b, err := NewBuilder(0.2, MethodUniform, WithWorkers(4))
	require.NoError(t, err)
	m, err := b.BuildAuto(extinctionAt(t, lon, lat, values, errs), skygrid.FrameGalactic)
	require.NoError(t, err)

	rows, cols := m.Shape()
	assert.Equal(t, m.Header.NAxis2, rows)
	assert.Equal(t, m.Header.NAxis1, cols)
	assert.Greater(t, m.FinitePixels(), 0)

	// Every populated pixel averages identical inputs.
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if !math.IsNaN(m.Ext[y][x]) {
				assert.InDelta(t, 1.5, m.Ext[y][x], 1e-9)
			}
		}
	}
}

func TestBuildDeterministicAcrossWorkers(t *testing.T) {
	rng := rand.New(rand.NewSource(19))
	n := 150
	lon := make([]float64, n)
	lat := make([]float64, n)
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		lon[i] = 10 + rng.Float64()
		lat[i] = -30.5 + rng.Float64()
		values[i] = rng.NormFloat64()
	}
	ext := extinctionAt(t, lon, lat, values, nil)

	serialBuilder, err := NewBuilder(0.3, MethodGaussian, WithWorkers(1))
	require.NoError(t, err)
	serial, err := serialBuilder.BuildAuto(ext, skygrid.FrameGalactic)
	require.NoError(t, err)

	parallelBuilder, err := NewBuilder(0.3, MethodGaussian, WithWorkers(7))
	require.NoError(t, err)
	parallel, err := parallelBuilder.BuildAuto(ext, skygrid.FrameGalactic)
	require.NoError(t, err)

	assertSamePlane(t, serial.Ext, parallel.Ext)
	assertSamePlane(t, serial.Err, parallel.Err)
	assert.Equal(t, serial.Num, parallel.Num)
}

func BenchmarkBuild(b *testing.B) {
	rng := rand.New(rand.NewSource(3))
	n := 1000
	lon := make([]float64, n)
	lat := make([]float64, n)
	values := make([]float64, n)
	errs := make([]float64, n)
	for i := 0; i < n; i++ {
		lon[i] = 10 + rng.Float64()
		lat[i] = -30.5 + rng.Float64()
		values[i] = rng.NormFloat64()
		errs[i] = 0.1
	}

	space, err := photometry.NewMagnitudes(
		[][]float64{make([]float64, n), make([]float64, n)},
		[][]float64{constants(n, 0.1), constants(n, 0.1)},
		[]float64{1, 0.5},
		photometry.WithCoordinates(lon, lat))
	if err != nil {
		b.Fatal(err)
	}
	ext, err := extinction.NewExtinction(space, values, errs)
	if err != nil {
		b.Fatal(err)
	}
	builder, err := NewBuilder(0.2, MethodGaussian)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := builder.BuildAuto(ext, skygrid.FrameGalactic); err != nil {
			b.Fatal(err)
		}
	}
}

// Helper functions for tests

func assertSamePlane(t *testing.T, want, got [][]float64) {
	t.Helper()

	require.Equal(t, len(want), len(got))
	for y := range want {
		require.Equal(t, len(want[y]), len(got[y]))
		for x := range want[y] {
			if math.IsNaN(want[y][x]) {
				assert.True(t, math.IsNaN(got[y][x]), "pixel (%d,%d)", y, x)
				continue
			}
			assert.Equal(t, want[y][x], got[y][x], "pixel (%d,%d)", y, x)
		}
	}
}

func onePixelGrid(lon, lat float64) *skygrid.Grid {
	return &skygrid.Grid{
		Header: skygrid.Header{
			Frame:            skygrid.FrameGalactic,
			NAxis1:           1,
			NAxis2:           1,
			CRPix1:           0.5,
			CRPix2:           0.5,
			CRVal1:           lon,
			CRVal2:           lat,
			CDelt1:           -0.1,
			CDelt2:           0.1,
			StandardParallel: lat,
		},
		Lon: [][]float64{{lon}},
		Lat: [][]float64{{lat}},
	}
}

func extinctionAt(t *testing.T, lon, lat, values, errs []float64) *extinction.Extinction {
	t.Helper()

	n := len(values)
	space, err := photometry.NewMagnitudes(
		[][]float64{make([]float64, n), make([]float64, n)},
		[][]float64{constants(n, 0.1), constants(n, 0.1)},
		[]float64{1, 0.5},
		photometry.WithCoordinates(lon, lat))
	require.NoError(t, err)

	ext, err := extinction.NewExtinction(space, values, errs)
	require.NoError(t, err)
	return ext
}

func constants(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
