// Package extinction derives per-source interstellar extinction from
// photometric feature spaces. It provides two estimators: Pnicer, which
// measures the displacement of science sources against the density of an
// extinction-free control field, and Nicer, the closed-form minimum-variance
// color-excess technique.
package extinction

import (
	"fmt"
	"math"

	"dustmap/pkg/photometry"
)

// Extinction holds per-source extinction estimates and their errors, aligned
// with the feature space they were derived from.
type Extinction struct {
	space  *photometry.FeatureSpace
	values []float64
	errs   []float64

	combinationNames  []string
	combinationValues [][]float64
	combinationErrors [][]float64
}

// NewExtinction binds extinction values and errors to their source feature
// space. A nil errs is taken as zero errors; lengths must match the space's
// source count.
func NewExtinction(space *photometry.FeatureSpace, values, errs []float64) (*Extinction, error) {
	if space == nil {
		return nil, ErrSpaceRequired
	}
	if len(values) != space.NumSources() {
		return nil, fmt.Errorf("%w: %d values for %d sources", ErrLengthMismatch, len(values), space.NumSources())
	}
	if errs == nil {
		errs = make([]float64, len(values))
	} else if len(errs) != len(values) {
		return nil, fmt.Errorf("%w: %d errors for %d values", ErrLengthMismatch, len(errs), len(values))
	}
	return &Extinction{space: space, values: values, errs: errs}, nil
}

// Space returns the feature space the estimates belong to.
func (e *Extinction) Space() *photometry.FeatureSpace {
	return e.space
}

// Values returns the per-source extinction estimates. NaN marks sources
// without a usable estimate.
func (e *Extinction) Values() []float64 {
	return e.values
}

// Errors returns the per-source extinction errors.
func (e *Extinction) Errors() []float64 {
	return e.errs
}

// NumSources returns the number of sources.
func (e *Extinction) NumSources() int {
	return len(e.values)
}

// NumFinite returns the number of sources with a finite extinction estimate.
func (e *Extinction) NumFinite() int {
	n := 0
	for _, v := range e.values {
		if isFinite(v) {
			n++
		}
	}
	return n
}

// CombinationNames returns the names of the feature combinations a Pnicer
// run evaluated, or nil for other estimators.
func (e *Extinction) CombinationNames() []string {
	return e.combinationNames
}

// CombinationValues returns the per-combination extinction estimates before
// minimum-error selection, aligned with CombinationNames.
func (e *Extinction) CombinationValues() [][]float64 {
	return e.combinationValues
}

// CombinationErrors returns the per-combination extinction errors before
// minimum-error selection, aligned with CombinationNames.
func (e *Extinction) CombinationErrors() [][]float64 {
	return e.combinationErrors
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
