package photometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Space discriminates magnitude from color feature spaces.
type Space int

const (
	// SpaceMagnitude marks features that are apparent magnitudes.
	SpaceMagnitude Space = iota
	// SpaceColor marks features that are color indices between bands.
	SpaceColor
)

// String returns the space kind as a word.
func (s Space) String() string {
	switch s {
	case SpaceMagnitude:
		return "magnitudes"
	case SpaceColor:
		return "colors"
	default:
		return "unknown"
	}
}

// FeatureSpace holds per-source photometric features with measurement errors,
// per-feature validity masks, optional sky coordinates, and the extinction
// vector of the feature set. Features are indexed [feature][source].
//
// Constructors retain the provided slices; callers must not modify them
// afterwards.
type FeatureSpace struct {
	space  Space
	values [][]float64
	errs   [][]float64
	masks  [][]bool
	names  []string
	vector *ExtinctionVector
	lon    []float64
	lat    []float64
}

// Option configures optional feature-space fields at construction.
type Option func(*FeatureSpace)

// WithNames sets the feature names. The default is Mag1..MagN for magnitudes
// and Color1..ColorN for colors.
func WithNames(names []string) Option {
	return func(f *FeatureSpace) {
		f.names = names
	}
}

// WithCoordinates attaches per-source sky coordinates in degrees.
func WithCoordinates(lon, lat []float64) Option {
	return func(f *FeatureSpace) {
		f.lon = lon
		f.lat = lat
	}
}

// NewMagnitudes builds a magnitude feature space. values and errs hold one
// slice per band, aligned by source; coefficients is the extinction law
// evaluated in those bands.
func NewMagnitudes(values, errs [][]float64, coefficients []float64, opts ...Option) (*FeatureSpace, error) {
	return newFeatureSpace(SpaceMagnitude, values, errs, coefficients, opts)
}

// NewColors builds a color feature space from precomputed color indices and
// the extinction-law differences that redden them.
func NewColors(values, errs [][]float64, coefficients []float64, opts ...Option) (*FeatureSpace, error) {
	return newFeatureSpace(SpaceColor, values, errs, coefficients, opts)
}

func newFeatureSpace(space Space, values, errs [][]float64, coefficients []float64, opts []Option) (*FeatureSpace, error) {
	f := &FeatureSpace{space: space, values: values, errs: errs}
	for _, opt := range opts {
		opt(f)
	}

	if len(values) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrFeatureCount, len(values))
	}
	if len(errs) != len(values) {
		return nil, fmt.Errorf("%w: %d value features but %d error features", ErrLengthMismatch, len(values), len(errs))
	}

	n := len(values[0])
	for i := range values {
		if len(values[i]) != n || len(errs[i]) != n {
			return nil, fmt.Errorf("%w: feature %d", ErrLengthMismatch, i)
		}
	}

	vector, err := NewExtinctionVector(coefficients)
	if err != nil {
		return nil, err
	}
	if vector.Dim() != len(values) {
		return nil, fmt.Errorf("%w: %d components for %d features", ErrVectorMismatch, vector.Dim(), len(values))
	}
	f.vector = vector

	if f.names == nil {
		f.names = defaultNames(space, len(values))
	} else if len(f.names) != len(values) {
		return nil, fmt.Errorf("%w: %d names for %d features", ErrNameCount, len(f.names), len(values))
	}

	if (f.lon == nil) != (f.lat == nil) {
		return nil, fmt.Errorf("%w: longitude and latitude must come together", ErrCoordinateMismatch)
	}
	if f.lon != nil && (len(f.lon) != n || len(f.lat) != n) {
		return nil, fmt.Errorf("%w: %d/%d coordinates for %d sources", ErrCoordinateMismatch, len(f.lon), len(f.lat), n)
	}

	f.masks = make([][]bool, len(values))
	for i := range values {
		m := make([]bool, n)
		for s := 0; s < n; s++ {
			m[s] = isFinite(values[i][s]) && isFinite(errs[i][s])
		}
		f.masks[i] = m
	}

	return f, nil
}

func defaultNames(space Space, n int) []string {
	prefix := "Mag"
	if space == SpaceColor {
		prefix = "Color"
	}
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%s%d", prefix, i+1)
	}
	return names
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Space returns the feature space kind.
func (f *FeatureSpace) Space() Space {
	return f.space
}

// NumFeatures returns the number of features.
func (f *FeatureSpace) NumFeatures() int {
	return len(f.values)
}

// NumSources returns the number of sources.
func (f *FeatureSpace) NumSources() int {
	return len(f.values[0])
}

// Names returns the feature names. The slice is the space's own.
func (f *FeatureSpace) Names() []string {
	return f.names
}

// Name returns the name of feature i.
func (f *FeatureSpace) Name(i int) string {
	return f.names[i]
}

// Feature returns the values of feature i. The slice is the space's own.
func (f *FeatureSpace) Feature(i int) []float64 {
	return f.values[i]
}

// FeatureErr returns the measurement errors of feature i. The slice is the
// space's own.
func (f *FeatureSpace) FeatureErr(i int) []float64 {
	return f.errs[i]
}

// Mask returns the validity mask of feature i: true where both the value and
// its error are finite.
func (f *FeatureSpace) Mask(i int) []bool {
	return f.masks[i]
}

// Vector returns the extinction vector of the feature set.
func (f *FeatureSpace) Vector() *ExtinctionVector {
	return f.vector
}

// HasCoordinates reports whether sky coordinates are attached.
func (f *FeatureSpace) HasCoordinates() bool {
	return f.lon != nil
}

// Lon returns the source longitudes in degrees, or nil.
func (f *FeatureSpace) Lon() []float64 {
	return f.lon
}

// Lat returns the source latitudes in degrees, or nil.
func (f *FeatureSpace) Lat() []float64 {
	return f.lat
}

// CombinedMask returns the conjunction of all per-feature masks: true for
// sources finite in every feature and every error.
func (f *FeatureSpace) CombinedMask() []bool {
	n := f.NumSources()
	mask := make([]bool, n)
	for s := 0; s < n; s++ {
		ok := true
		for i := range f.masks {
			if !f.masks[i][s] {
				ok = false
				break
			}
		}
		mask[s] = ok
	}
	return mask
}

// Points returns the sources as rows over the features starting at
// fromFeature, aligned with the source index.
func (f *FeatureSpace) Points(fromFeature int) [][]float64 {
	n := f.NumSources()
	d := len(f.values) - fromFeature
	pts := make([][]float64, n)
	for s := 0; s < n; s++ {
		row := make([]float64, d)
		for i := 0; i < d; i++ {
			row[i] = f.values[fromFeature+i][s]
		}
		pts[s] = row
	}
	return pts
}

// Rotate projects the feature space onto the frame in which the extinction
// vector points along the first axis. Only sources passing the combined mask
// survive; values and errors are both rotated, coordinates are carried along,
// and feature names gain a "_rot" suffix.
func (f *FeatureSpace) Rotate() *FeatureSpace {
	mask := f.CombinedMask()
	nValid := 0
	for _, ok := range mask {
		if ok {
			nValid++
		}
	}

	d := len(f.values)
	values := make([][]float64, d)
	errs := make([][]float64, d)
	names := make([]string, d)
	for i := 0; i < d; i++ {
		values[i] = make([]float64, nValid)
		errs[i] = make([]float64, nValid)
		names[i] = f.names[i] + "_rot"
	}

	if nValid > 0 {
		stacked := mat.NewDense(d, nValid, nil)
		stackedErr := mat.NewDense(d, nValid, nil)
		col := 0
		for s, ok := range mask {
			if !ok {
				continue
			}
			for i := 0; i < d; i++ {
				stacked.Set(i, col, f.values[i][s])
				stackedErr.Set(i, col, f.errs[i][s])
			}
			col++
		}

		var rotated, rotatedErr mat.Dense
		rotated.Mul(f.vector.RotationMatrix(), stacked)
		rotatedErr.Mul(f.vector.RotationMatrix(), stackedErr)

		for i := 0; i < d; i++ {
			mat.Row(values[i], i, &rotated)
			mat.Row(errs[i], i, &rotatedErr)
		}
	}

	var lon, lat []float64
	if f.HasCoordinates() {
		lon = make([]float64, 0, nValid)
		lat = make([]float64, 0, nValid)
		for s, ok := range mask {
			if !ok {
				continue
			}
			lon = append(lon, f.lon[s])
			lat = append(lat, f.lat[s])
		}
	}

	opts := []Option{WithNames(names)}
	if lon != nil {
		opts = append(opts, WithCoordinates(lon, lat))
	}
	out, _ := newFeatureSpace(f.space, values, errs, f.vector.Rotated(), opts)
	return out
}

// AllCombinations returns the feature subsets of size two and larger,
// smallest subsets first and lexicographic within one size. The full feature
// set is the last entry. Subsets share the backing arrays of the parent.
func (f *FeatureSpace) AllCombinations() []*FeatureSpace {
	d := len(f.values)
	var combos []*FeatureSpace
	for size := 2; size <= d; size++ {
		for _, indices := range combinationIndices(d, size) {
			combos = append(combos, f.subsetSpace(indices))
		}
	}
	return combos
}

func (f *FeatureSpace) subsetSpace(indices []int) *FeatureSpace {
	values := make([][]float64, len(indices))
	errs := make([][]float64, len(indices))
	masks := make([][]bool, len(indices))
	names := make([]string, len(indices))
	for i, idx := range indices {
		values[i] = f.values[idx]
		errs[i] = f.errs[idx]
		masks[i] = f.masks[idx]
		names[i] = f.names[idx]
	}
	vector, _ := f.vector.Subset(indices)
	return &FeatureSpace{
		space:  f.space,
		values: values,
		errs:   errs,
		masks:  masks,
		names:  names,
		vector: vector,
		lon:    f.lon,
		lat:    f.lat,
	}
}

// combinationIndices enumerates k-subsets of 0..n-1 in lexicographic order.
func combinationIndices(n, k int) [][]int {
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	var out [][]int
	for {
		out = append(out, append([]int(nil), idx...))
		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			break
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
	return out
}

// ToColors converts a magnitude space into the adjacent-band color space:
// color k is band k minus band k+1, with errors added in quadrature, the
// extinction vector differenced accordingly, and names joined as "A-B".
func (f *FeatureSpace) ToColors() (*FeatureSpace, error) {
	if f.space != SpaceMagnitude {
		return nil, ErrMagnitudesRequired
	}

	d := len(f.values)
	n := f.NumSources()
	coeffs := f.vector.Coefficients()

	values := make([][]float64, d-1)
	errs := make([][]float64, d-1)
	names := make([]string, d-1)
	colorCoeffs := make([]float64, d-1)
	for k := 1; k < d; k++ {
		cv := make([]float64, n)
		ce := make([]float64, n)
		for s := 0; s < n; s++ {
			cv[s] = f.values[k-1][s] - f.values[k][s]
			ce[s] = math.Hypot(f.errs[k-1][s], f.errs[k][s])
		}
		values[k-1] = cv
		errs[k-1] = ce
		names[k-1] = f.names[k-1] + "-" + f.names[k]
		colorCoeffs[k-1] = coeffs[k-1] - coeffs[k]
	}

	opts := []Option{WithNames(names)}
	if f.HasCoordinates() {
		opts = append(opts, WithCoordinates(f.lon, f.lat))
	}
	return NewColors(values, errs, colorCoeffs, opts...)
}
