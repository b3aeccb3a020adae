package extinction

import (
	"fmt"
	"math"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"dustmap/pkg/density"
	"dustmap/pkg/photometry"
)

// maxExtinctionError is the ceiling above which a selected estimate carries
// no information and is discarded.
const maxExtinctionError = 10.0

// Pnicer estimates per-source extinction from the density contrast between a
// science field and an extinction-free control field. Both fields are rotated
// so the extinction vector points along the first feature axis, the control
// density is mapped over that axis, and every science source is assigned the
// displacement from the density-weighted mean at its transverse position.
// All feature combinations are evaluated and each source keeps the estimate
// with the smallest error.
type Pnicer struct {
	estimator *density.Estimator
	sampling  int
	kernel    density.Kernel
	useColors bool
	workers   int
	logger    *zap.Logger
}

// PnicerOption configures a Pnicer estimator.
type PnicerOption func(*Pnicer)

// WithSampling sets the number of grid cells per kernel bandwidth. Values
// below one are ignored; the default is 2.
func WithSampling(n int) PnicerOption {
	return func(p *Pnicer) {
		if n > 0 {
			p.sampling = n
		}
	}
}

// WithKernel sets the density kernel. The default is Epanechnikov.
func WithKernel(k density.Kernel) PnicerOption {
	return func(p *Pnicer) {
		p.kernel = k
	}
}

// WithColors makes Estimate convert magnitude spaces to adjacent-band colors
// before combining features.
func WithColors(use bool) PnicerOption {
	return func(p *Pnicer) {
		p.useColors = use
	}
}

// WithWorkers sets the number of density evaluation workers. Values below
// one are ignored; the default is runtime.NumCPU().
func WithWorkers(n int) PnicerOption {
	return func(p *Pnicer) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLogger attaches a structured logger. The default discards everything.
func WithLogger(logger *zap.Logger) PnicerOption {
	return func(p *Pnicer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPnicer returns a Pnicer with the given options applied.
func NewPnicer(opts ...PnicerOption) *Pnicer {
	p := &Pnicer{
		sampling: 2,
		kernel:   density.Epanechnikov,
		workers:  runtime.NumCPU(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.estimator = density.NewEstimator(density.WithWorkers(p.workers), density.WithLogger(p.logger))
	return p
}

// Estimate derives extinction for every science source. Science and control
// must be feature spaces of the same kind with equal feature counts. The
// result is aligned with the science space as passed in, also when the color
// option converts the working spaces.
func (p *Pnicer) Estimate(science, control *photometry.FeatureSpace) (*Extinction, error) {
	if science == nil || control == nil {
		return nil, ErrSpaceRequired
	}
	if science.Space() != control.Space() {
		return nil, fmt.Errorf("%w: %s vs %s", ErrSpaceMismatch, science.Space(), control.Space())
	}
	if science.NumFeatures() != control.NumFeatures() {
		return nil, fmt.Errorf("%w: %d vs %d features", ErrSpaceMismatch, science.NumFeatures(), control.NumFeatures())
	}

	result := science
	if p.useColors {
		var err error
		if science, err = science.ToColors(); err != nil {
			return nil, err
		}
		if control, err = control.ToColors(); err != nil {
			return nil, err
		}
	}

	scienceCombos := science.AllCombinations()
	controlCombos := control.AllCombinations()

	names := make([]string, len(scienceCombos))
	values := make([][]float64, len(scienceCombos))
	errs := make([][]float64, len(scienceCombos))
	for i := range scienceCombos {
		name := "(" + strings.Join(scienceCombos[i].Names(), ",") + ")"
		p.logger.Debug("estimating feature combination", zap.String("combination", name))

		ext, extErr, err := p.single(scienceCombos[i], controlCombos[i])
		if err != nil {
			return nil, fmt.Errorf("combination %s: %w", name, err)
		}
		names[i] = name
		values[i] = ext
		errs[i] = extErr
	}

	selected, selectedErr := selectMinimumError(values, errs, science.NumSources())

	out, err := NewExtinction(result, selected, selectedErr)
	if err != nil {
		return nil, err
	}
	out.combinationNames = names
	out.combinationValues = values
	out.combinationErrors = errs

	p.logger.Info("pnicer estimation finished",
		zap.Int("sources", out.NumSources()),
		zap.Int("finite", out.NumFinite()),
		zap.Int("combinations", len(names)),
	)
	return out, nil
}

// single runs the estimation for one science/control combination pair and
// scatters the results back to full source length.
func (p *Pnicer) single(science, control *photometry.FeatureSpace) ([]float64, []float64, error) {
	scienceRot := science.Rotate()
	controlRot := control.Rotate()
	if scienceRot.NumSources() == 0 || controlRot.NumSources() == 0 {
		return nil, nil, ErrNoValidSources
	}

	// Kernel bandwidth from the mean science error, per-cell width from the
	// sampling factor.
	bandwidth := math.Round(meanFeatureError(science)*100) / 100
	if !(bandwidth > 0) {
		return nil, nil, fmt.Errorf("%w: mean feature error rounds to %g", density.ErrBandwidth, bandwidth)
	}
	binWidth := bandwidth / float64(p.sampling)

	transverse := photometry.BuildGrid(controlRot.Points(1), binWidth)

	reddening := scienceRot.Feature(0)
	lo := math.Floor(floats.Min(reddening))
	hi := math.Ceil(floats.Max(reddening))
	axis := arange(lo, hi, binWidth)
	if len(axis) == 0 {
		return nil, nil, ErrEmptyAxis
	}

	grid := make([][]float64, 0, len(transverse)*len(axis))
	for _, vertex := range transverse {
		for _, a := range axis {
			row := make([]float64, 0, len(vertex)+1)
			row = append(row, a)
			row = append(row, vertex...)
			grid = append(grid, row)
		}
	}

	dens, err := p.estimator.EstimateAbsolute(grid, controlRot.Points(0), bandwidth, p.kernel, p.sampling)
	if err != nil {
		return nil, nil, err
	}

	// Density-weighted mean and dispersion along the reddening axis, one per
	// transverse vertex. Vertices with less than 3 sources worth of density
	// carry no estimate.
	norm := science.Vector().Norm()
	vertexMean := make([]float64, len(transverse))
	vertexStd := make([]float64, len(transverse))
	for t := range transverse {
		cell := dens[t*len(axis) : (t+1)*len(axis)]
		if floats.Sum(cell) < 3 {
			vertexMean[t] = math.NaN()
			vertexStd[t] = math.NaN()
			continue
		}
		mean, variance := weightedMoments(axis, cell)
		vertexMean[t] = mean
		vertexStd[t] = math.Sqrt(variance) / norm
	}

	nearest := nearestVertices(transverse, scienceRot.Points(1))

	mask := science.CombinedMask()
	outExt := nanSlice(science.NumSources())
	outErr := nanSlice(science.NumSources())
	row := 0
	for s, ok := range mask {
		if !ok {
			continue
		}
		t := nearest[row]
		outExt[s] = (reddening[row] - vertexMean[t]) / norm
		outErr[s] = vertexStd[t]
		row++
	}
	return outExt, outErr, nil
}

// selectMinimumError picks per source the combination with the smallest
// error. Non-finite errors are replaced by 100 times the largest finite
// error so they lose against every real estimate; selected errors above
// maxExtinctionError discard the source.
func selectMinimumError(values, errs [][]float64, n int) ([]float64, []float64) {
	maxFinite := math.Inf(-1)
	for _, row := range errs {
		for _, e := range row {
			if isFinite(e) && e > maxFinite {
				maxFinite = e
			}
		}
	}
	sentinel := math.NaN()
	if !math.IsInf(maxFinite, -1) {
		sentinel = 100 * maxFinite
	}

	work := make([][]float64, len(errs))
	for i, row := range errs {
		w := make([]float64, len(row))
		for s, e := range row {
			if isFinite(e) {
				w[s] = e
			} else {
				w[s] = sentinel
			}
		}
		work[i] = w
	}

	outVal := nanSlice(n)
	outErr := nanSlice(n)
	for s := 0; s < n; s++ {
		best := -1
		bestErr := math.Inf(1)
		for i := range work {
			if work[i][s] < bestErr {
				bestErr = work[i][s]
				best = i
			}
		}
		if best < 0 {
			continue
		}
		outVal[s] = values[best][s]
		outErr[s] = work[best][s]
		if outErr[s] > maxExtinctionError {
			outVal[s] = math.NaN()
			outErr[s] = math.NaN()
		}
	}
	return outVal, outErr
}

// weightedMoments returns the weighted mean and the population-weighted
// variance of values.
func weightedMoments(values, weights []float64) (float64, float64) {
	mean := stat.Mean(values, weights)
	var sumW, sumVar float64
	for i, v := range values {
		d := v - mean
		sumVar += weights[i] * d * d
		sumW += weights[i]
	}
	return mean, sumVar / sumW
}

// meanFeatureError averages the per-feature mean errors, skipping NaN
// entries the way masked measurements are stored.
func meanFeatureError(space *photometry.FeatureSpace) float64 {
	total := 0.0
	for i := 0; i < space.NumFeatures(); i++ {
		total += nanMean(space.FeatureErr(i))
	}
	return total / float64(space.NumFeatures())
}

func nanMean(xs []float64) float64 {
	var sum float64
	var n int
	for _, x := range xs {
		if math.IsNaN(x) {
			continue
		}
		sum += x
		n++
	}
	return sum / float64(n)
}

// arange returns lo, lo+step, ... up to but excluding hi.
func arange(lo, hi, step float64) []float64 {
	n := int(math.Ceil((hi - lo) / step))
	if n < 0 {
		n = 0
	}
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, lo+float64(i)*step)
	}
	return out
}
