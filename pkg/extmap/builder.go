package extmap

import (
	"math"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"

	"dustmap/pkg/extinction"
	"dustmap/pkg/skygrid"
)

// nicestSlope is the exponent slope of the NICEST weight correction per
// magnitude of extinction.
const nicestSlope = 0.33

// Builder smooths discrete extinction estimates onto a pixel grid.
type Builder struct {
	bandwidth float64
	method    Method
	nicest    bool
	useFWHM   bool
	sampling  int
	workers   int
	logger    *zap.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithNicest enables the NICEST weight correction for cloud substructure.
func WithNicest(enabled bool) BuilderOption {
	return func(b *Builder) {
		b.nicest = enabled
	}
}

// WithFWHM interprets the bandwidth as a full width at half maximum for the
// gaussian method.
func WithFWHM(enabled bool) BuilderOption {
	return func(b *Builder) {
		b.useFWHM = enabled
	}
}

// WithSampling sets the pixels per bandwidth used by BuildAuto.
func WithSampling(sampling int) BuilderOption {
	return func(b *Builder) {
		b.sampling = sampling
	}
}

// WithWorkers sets the number of goroutines used to fill pixel rows.
func WithWorkers(workers int) BuilderOption {
	return func(b *Builder) {
		if workers > 0 {
			b.workers = workers
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBuilder creates a map builder with the given smoothing bandwidth in
// degrees.
func NewBuilder(bandwidth float64, method Method, opts ...BuilderOption) (*Builder, error) {
	if !(bandwidth > 0) || math.IsInf(bandwidth, 0) {
		return nil, ErrBandwidth
	}
	if _, ok := methodNames[method]; !ok {
		return nil, ErrUnknownMethod
	}

	b := &Builder{
		bandwidth: bandwidth,
		method:    method,
		sampling:  2,
		workers:   runtime.NumCPU(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.sampling < 1 {
		return nil, ErrSampling
	}
	return b, nil
}

// BuildAuto builds a grid over the source coordinates with a pixel size of
// bandwidth/sampling and fills it.
func (b *Builder) BuildAuto(ext *extinction.Extinction, frame skygrid.Frame) (*ExtinctionMap, error) {
	if ext == nil {
		return nil, ErrExtinctionRequired
	}
	space := ext.Space()
	if !space.HasCoordinates() {
		return nil, ErrNoCoordinates
	}

	grid, err := skygrid.Build(space.Lon(), space.Lat(), frame, b.bandwidth/float64(b.sampling))
	if err != nil {
		return nil, err
	}
	return b.Build(ext, grid)
}

// Build fills the given pixel grid with smoothed extinction values. Each
// pixel aggregates the sources within its truncation radius; pixels with
// fewer than two finite extinction values stay NaN.
func (b *Builder) Build(ext *extinction.Extinction, grid *skygrid.Grid) (*ExtinctionMap, error) {
	if ext == nil {
		return nil, ErrExtinctionRequired
	}
	if grid == nil {
		return nil, ErrGridRequired
	}
	space := ext.Space()
	if !space.HasCoordinates() {
		return nil, ErrNoCoordinates
	}

	rows := grid.Header.NAxis2
	cols := grid.Header.NAxis1
	if len(grid.Lon) != rows || len(grid.Lat) != rows {
		return nil, ErrShapeMismatch
	}
	for y := 0; y < rows; y++ {
		if len(grid.Lon[y]) != cols || len(grid.Lat[y]) != cols {
			return nil, ErrShapeMismatch
		}
	}

	bandwidth := b.bandwidth
	if b.useFWHM && b.method == MethodGaussian {
		bandwidth /= 2 * math.Sqrt(2*math.Ln2)
	}
	radius := truncation(b.method) * bandwidth

	lon := space.Lon()
	lat := space.Lat()
	values := ext.Values()
	errs := ext.Errors()

	b.logger.Info("building extinction map",
		zap.Int("rows", rows),
		zap.Int("cols", cols),
		zap.Stringer("method", b.method),
		zap.Float64("bandwidth", bandwidth),
		zap.Bool("nicest", b.nicest),
		zap.Int("workers", b.workers))

	type rowResult struct {
		row int
		ext []float64
		err []float64
		num []int
	}

	rowsPerWorker := (rows + b.workers - 1) / b.workers
	results := make(chan rowResult, rows)
	var wg sync.WaitGroup

	for start := 0; start < rows; start += rowsPerWorker {
		end := start + rowsPerWorker
		if end > rows {
			end = rows
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				rowExt := make([]float64, cols)
				rowErr := make([]float64, cols)
				rowNum := make([]int, cols)
				for x := 0; x < cols; x++ {
					rowExt[x], rowErr[x], rowNum[x] = b.pixel(
						grid.Lon[y][x], grid.Lat[y][x], bandwidth, radius, lon, lat, values, errs)
				}
				results <- rowResult{row: y, ext: rowExt, err: rowErr, num: rowNum}
			}
		}(start, end)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	extPlane := make([][]float64, rows)
	errPlane := make([][]float64, rows)
	numPlane := make([][]int, rows)
	for r := range results {
		extPlane[r.row] = r.ext
		errPlane[r.row] = r.err
		numPlane[r.row] = r.num
	}

	m, err := NewExtinctionMap(extPlane, errPlane, numPlane, grid.Header)
	if err != nil {
		return nil, err
	}

	b.logger.Info("extinction map complete",
		zap.Int("pixels", rows*cols),
		zap.Int("finitePixels", m.FinitePixels()))
	return m, nil
}

// truncation returns the cutoff radius in bandwidths. The plain average and
// median use only the immediate neighborhood while kernel methods reach
// further into the tails.
func truncation(method Method) float64 {
	if method == MethodAverage || method == MethodMedian {
		return 1
	}
	return 3
}

// pixel aggregates the sources around one pixel center and returns the
// smoothed extinction, its error and the number of sources in the radius.
func (b *Builder) pixel(pixLon, pixLat, bandwidth, radius float64, lon, lat, values, errs []float64) (float64, float64, int) {
	// Cheap box preselection before the spherical distances.
	box := make([]int, 0, 64)
	for i := range lon {
		if lon[i] > pixLon-radius && lon[i] < pixLon+radius &&
			lat[i] > pixLat-radius && lat[i] < pixLat+radius {
			box = append(box, i)
		}
	}
	if len(box) == 0 {
		return math.NaN(), math.NaN(), 0
	}

	kept := make([]int, 0, len(box))
	dist := make([]float64, 0, len(box))
	for _, i := range box {
		d := skygrid.AngularDistance(lon[i], lat[i], pixLon, pixLat)
		if d < radius {
			kept = append(kept, i)
			dist = append(dist, d)
		}
	}

	num := len(kept)
	finiteExt := 0
	for _, i := range kept {
		if isFinite(values[i]) {
			finiteExt++
		}
	}
	if num == 0 || finiteExt < 2 {
		return math.NaN(), math.NaN(), num
	}

	switch b.method {
	case MethodAverage:
		picked := make([]float64, 0, num)
		for _, i := range kept {
			picked = append(picked, values[i])
		}
		return nanMean(picked), math.NaN(), num
	case MethodMedian:
		picked := make([]float64, 0, num)
		for _, i := range kept {
			picked = append(picked, values[i])
		}
		return nanMedian(picked), math.NaN(), num
	}

	weights := make([]float64, num)
	for j := range kept {
		u := dist[j] / bandwidth
		switch b.method {
		case MethodUniform:
			weights[j] = 1
		case MethodTriangular:
			weights[j] = 1 - math.Abs(u)
		case MethodGaussian:
			weights[j] = math.Exp(-0.5*u*u) / (2 * math.Pi)
		case MethodEpanechnikov:
			weights[j] = 1 - u*u
		}
		if weights[j] < 0 {
			weights[j] = 0
		}
	}

	if b.nicest {
		for j, i := range kept {
			weights[j] *= math.Pow(10, nicestSlope*values[i])
		}
	}
	for j, i := range kept {
		if !isFinite(values[i]) {
			weights[j] = math.NaN()
		}
	}

	var sumW, sumWV float64
	for j, i := range kept {
		if math.IsNaN(weights[j]) {
			continue
		}
		sumW += weights[j]
		sumWV += weights[j] * values[i]
	}

	var sumWE2 float64
	for j, i := range kept {
		if math.IsNaN(weights[j]) {
			continue
		}
		p := weights[j] * errs[i]
		if math.IsNaN(p) {
			continue
		}
		sumWE2 += p * p
	}

	return sumWV / sumW, math.Sqrt(sumWE2) / sumW, num
}

func nanMean(xs []float64) float64 {
	var sum float64
	count := 0
	for _, x := range xs {
		if !math.IsNaN(x) {
			sum += x
			count++
		}
	}
	if count == 0 {
		return math.NaN()
	}
	return sum / float64(count)
}

func nanMedian(xs []float64) float64 {
	finite := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			finite = append(finite, x)
		}
	}
	if len(finite) == 0 {
		return math.NaN()
	}
	sort.Float64s(finite)
	mid := len(finite) / 2
	if len(finite)%2 == 0 {
		return (finite[mid-1] + finite[mid]) / 2
	}
	return finite[mid]
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
