// Package density provides kernel density estimation of point sets over
// arbitrary evaluation grids, with the grid split across parallel workers.
package density

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrUnknownKernel reports a kernel name outside the supported set.
	ErrUnknownKernel = errors.New(`density: kernel must be "epanechnikov" or "gaussian"`)

	// ErrBandwidth reports a non-positive smoothing bandwidth.
	ErrBandwidth = errors.New("density: bandwidth must be positive")

	// ErrNoData reports an empty data set.
	ErrNoData = errors.New("density: no data points")

	// ErrDimensionMismatch reports grid and data points of unequal dimension.
	ErrDimensionMismatch = errors.New("density: grid and data dimensions differ")

	// ErrSampling reports a non-positive sampling factor.
	ErrSampling = errors.New("density: sampling must be positive")

	// ErrZeroMass reports an absolute scaling request where no density mass
	// reached the grid.
	ErrZeroMass = errors.New("density: zero total density on grid")
)

// Kernel selects the smoothing kernel of the estimator.
type Kernel int

const (
	// Epanechnikov is the truncated parabolic kernel.
	Epanechnikov Kernel = iota
	// Gaussian is the unbounded normal kernel.
	Gaussian
)

// ParseKernel maps a kernel name to its Kernel value.
func ParseKernel(name string) (Kernel, error) {
	switch name {
	case "epanechnikov":
		return Epanechnikov, nil
	case "gaussian":
		return Gaussian, nil
	default:
		return 0, fmt.Errorf("%w: got %q", ErrUnknownKernel, name)
	}
}

// String returns the kernel name.
func (k Kernel) String() string {
	switch k {
	case Epanechnikov:
		return "epanechnikov"
	case Gaussian:
		return "gaussian"
	default:
		return "unknown"
	}
}

// Estimator evaluates kernel densities of a data set over evaluation grids.
// The grid is split into contiguous chunks that run concurrently; results
// keep grid order.
type Estimator struct {
	workers int
	logger  *zap.Logger
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithWorkers sets the number of concurrent evaluation workers. Values below
// one are ignored; the default is runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(e *Estimator) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger attaches a structured logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Estimator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEstimator returns an Estimator with the given options applied.
func NewEstimator(opts ...Option) *Estimator {
	e := &Estimator{
		workers: runtime.NumCPU(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate returns the kernel density of data at every grid point, in grid
// order. Rows of grid and data are points sharing one dimension; the result
// is normalized so it integrates to one over the data dimension.
func (e *Estimator) Estimate(grid, data [][]float64, bandwidth float64, kernel Kernel) ([]float64, error) {
	if kernel != Epanechnikov && kernel != Gaussian {
		return nil, fmt.Errorf("%w: got %d", ErrUnknownKernel, int(kernel))
	}
	if err := validate(grid, data, bandwidth); err != nil {
		return nil, err
	}
	if len(grid) == 0 {
		return []float64{}, nil
	}

	dim := len(data[0])
	norm := normalization(kernel, dim, bandwidth, len(data))
	out := make([]float64, len(grid))
	chunk := (len(grid) + e.workers - 1) / e.workers

	e.logger.Debug("estimating density",
		zap.Int("gridPoints", len(grid)),
		zap.Int("dataPoints", len(data)),
		zap.Int("dimensions", dim),
		zap.Float64("bandwidth", bandwidth),
		zap.Stringer("kernel", kernel),
		zap.Int("workers", e.workers),
	)

	var g errgroup.Group
	for start := 0; start < len(grid); start += chunk {
		end := start + chunk
		if end > len(grid) {
			end = len(grid)
		}
		section := grid[start:end]
		target := out[start:end]
		g.Go(func() error {
			evaluate(target, section, data, bandwidth, kernel, norm)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EstimateAbsolute evaluates the density and rescales it so the grid total
// equals the number of data points times the sampling factor, turning the
// normalized density into per-cell source counts.
func (e *Estimator) EstimateAbsolute(grid, data [][]float64, bandwidth float64, kernel Kernel, sampling int) ([]float64, error) {
	if sampling <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrSampling, sampling)
	}

	dens, err := e.Estimate(grid, data, bandwidth, kernel)
	if err != nil {
		return nil, err
	}
	if len(dens) == 0 {
		return dens, nil
	}

	total := floats.Sum(dens)
	if total == 0 {
		return nil, ErrZeroMass
	}
	floats.Scale(float64(len(data))/total*float64(sampling), dens)
	return dens, nil
}

func validate(grid, data [][]float64, bandwidth float64) error {
	if !(bandwidth > 0) || math.IsInf(bandwidth, 0) {
		return fmt.Errorf("%w: got %g", ErrBandwidth, bandwidth)
	}
	if len(data) == 0 {
		return ErrNoData
	}

	dim := len(data[0])
	if dim == 0 {
		return fmt.Errorf("%w: zero-dimensional data", ErrDimensionMismatch)
	}
	for _, p := range data {
		if len(p) != dim {
			return fmt.Errorf("%w: ragged data rows", ErrDimensionMismatch)
		}
	}
	for _, p := range grid {
		if len(p) != dim {
			return fmt.Errorf("%w: grid dimension %d, data dimension %d", ErrDimensionMismatch, len(p), dim)
		}
	}
	return nil
}

// normalization converts summed kernel responses into a probability density
// for the given dimension, bandwidth and data count.
func normalization(kernel Kernel, dim int, bandwidth float64, n int) float64 {
	hd := math.Pow(bandwidth, float64(dim))
	switch kernel {
	case Gaussian:
		return 1 / (float64(n) * hd * math.Pow(2*math.Pi, float64(dim)/2))
	default:
		unitBall := math.Pow(math.Pi, float64(dim)/2) / math.Gamma(float64(dim)/2+1)
		return (float64(dim) + 2) / (2 * unitBall * hd * float64(n))
	}
}

func evaluate(out []float64, grid, data [][]float64, bandwidth float64, kernel Kernel, norm float64) {
	h2 := bandwidth * bandwidth
	for i, point := range grid {
		var sum float64
		if kernel == Gaussian {
			for _, d := range data {
				sum += math.Exp(-0.5 * squaredDistance(point, d) / h2)
			}
		} else {
			for _, d := range data {
				u2 := squaredDistance(point, d) / h2
				if u2 < 1 {
					sum += 1 - u2
				}
			}
		}
		out[i] = sum * norm
	}
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
