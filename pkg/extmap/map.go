// Package extmap aggregates per-source extinction estimates into pixelized
// sky maps.
package extmap

import (
	"errors"
	"fmt"
	"math"

	"dustmap/pkg/skygrid"
)

var (
	// ErrUnknownMethod reports a pixel aggregation method outside the
	// supported set.
	ErrUnknownMethod = errors.New(`extmap: method must be one of "average", "median", "uniform", "triangular", "gaussian", "epanechnikov"`)

	// ErrBandwidth reports a non-positive smoothing bandwidth.
	ErrBandwidth = errors.New("extmap: bandwidth must be positive")

	// ErrSampling reports a map oversampling factor below one.
	ErrSampling = errors.New("extmap: sampling must be at least 1")

	// ErrExtinctionRequired reports a nil extinction input.
	ErrExtinctionRequired = errors.New("extmap: extinction is required")

	// ErrGridRequired reports a nil pixel grid.
	ErrGridRequired = errors.New("extmap: grid is required")

	// ErrNoCoordinates reports extinction sources without sky coordinates.
	ErrNoCoordinates = errors.New("extmap: extinction sources carry no sky coordinates")

	// ErrShapeMismatch reports pixel arrays that do not share one shape.
	ErrShapeMismatch = errors.New("extmap: pixel arrays must share one shape")
)

// Method selects how sources are aggregated into a pixel.
type Method int

const (
	// MethodAverage takes the plain mean of extinction values in the pixel.
	MethodAverage Method = iota
	// MethodMedian takes the median of extinction values in the pixel.
	MethodMedian
	// MethodUniform weights all sources within the truncation radius equally.
	MethodUniform
	// MethodTriangular weights sources linearly with distance.
	MethodTriangular
	// MethodGaussian weights sources with a gaussian profile.
	MethodGaussian
	// MethodEpanechnikov weights sources with an Epanechnikov profile.
	MethodEpanechnikov
)

var methodNames = map[Method]string{
	MethodAverage:      "average",
	MethodMedian:       "median",
	MethodUniform:      "uniform",
	MethodTriangular:   "triangular",
	MethodGaussian:     "gaussian",
	MethodEpanechnikov: "epanechnikov",
}

// ParseMethod resolves a method name.
func ParseMethod(name string) (Method, error) {
	for m, n := range methodNames {
		if n == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: got %q", ErrUnknownMethod, name)
}

func (m Method) String() string {
	if n, ok := methodNames[m]; ok {
		return n
	}
	return fmt.Sprintf("Method(%d)", int(m))
}

// ExtinctionMap holds the aggregated extinction, error and source count
// planes of one map build, aligned with the grid header, indexed
// [row][column].
type ExtinctionMap struct {
	Ext    [][]float64
	Err    [][]float64
	Num    [][]int
	Header skygrid.Header
}

// NewExtinctionMap bundles pixel planes after checking that they share one
// shape.
func NewExtinctionMap(ext, errPlane [][]float64, num [][]int, header skygrid.Header) (*ExtinctionMap, error) {
	rows := len(ext)
	if len(errPlane) != rows || len(num) != rows {
		return nil, fmt.Errorf("%w: %d, %d and %d rows", ErrShapeMismatch, rows, len(errPlane), len(num))
	}
	for y := 0; y < rows; y++ {
		cols := len(ext[y])
		if len(errPlane[y]) != cols || len(num[y]) != cols {
			return nil, fmt.Errorf("%w: row %d", ErrShapeMismatch, y)
		}
	}
	return &ExtinctionMap{Ext: ext, Err: errPlane, Num: num, Header: header}, nil
}

// Shape returns the number of rows and columns.
func (m *ExtinctionMap) Shape() (rows, cols int) {
	rows = len(m.Ext)
	if rows > 0 {
		cols = len(m.Ext[0])
	}
	return rows, cols
}

// FinitePixels counts pixels with a finite extinction value.
func (m *ExtinctionMap) FinitePixels() int {
	count := 0
	for _, row := range m.Ext {
		for _, v := range row {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				count++
			}
		}
	}
	return count
}
