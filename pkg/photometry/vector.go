// Package photometry models photometric feature spaces for extinction
// estimation: magnitudes or colors per source, their measurement errors,
// validity masks, and the extinction vector that ties the features to a
// common reddening law.
package photometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ExtinctionVector holds the extinction-law coefficients of a feature set
// together with the rotation that aligns the vector with the first feature
// axis. The rotation matrix, the rotated coefficients and the normalization
// are derived once at construction.
type ExtinctionVector struct {
	coefficients []float64
	rotation     *mat.Dense
	rotated      []float64
	norm         float64
}

// NewExtinctionVector derives the rotation machinery for the given
// coefficients. At least two components are required.
func NewExtinctionVector(coefficients []float64) (*ExtinctionVector, error) {
	n := len(coefficients)
	if n < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrVectorDim, n)
	}

	v := &ExtinctionVector{coefficients: append([]float64(nil), coefficients...)}
	v.rotation = rotationMatrix(v.coefficients)

	rotated := mat.NewVecDense(n, nil)
	rotated.MulVec(v.rotation, mat.NewVecDense(n, v.coefficients))
	v.rotated = rotated.RawVector().Data
	v.norm = v.rotated[0]
	return v, nil
}

// rotationMatrix composes elementary plane rotations, each zeroing one
// component of the running vector against the first axis. The composed matrix
// maps the input vector onto (norm, 0, ..., 0).
func rotationMatrix(vector []float64) *mat.Dense {
	n := len(vector)
	rot := identity(n)
	current := mat.NewVecDense(n, append([]float64(nil), vector...))

	for axis := 1; axis < n; axis++ {
		angle := math.Atan(current.AtVec(axis) / current.AtVec(0))
		sin, cos := math.Sincos(angle)

		elem := identity(n)
		elem.Set(0, 0, cos)
		elem.Set(axis, axis, cos)
		elem.Set(0, axis, sin)
		elem.Set(axis, 0, -sin)

		var composed mat.Dense
		composed.Mul(elem, rot)
		rot.Copy(&composed)

		var next mat.VecDense
		next.MulVec(elem, current)
		current.CopyVec(&next)
	}

	return rot
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// Dim returns the number of vector components.
func (v *ExtinctionVector) Dim() int {
	return len(v.coefficients)
}

// Coefficients returns a copy of the extinction-law coefficients.
func (v *ExtinctionVector) Coefficients() []float64 {
	return append([]float64(nil), v.coefficients...)
}

// Rotated returns a copy of the coefficients after rotation onto the first
// feature axis. All components beyond the first vanish up to rounding.
func (v *ExtinctionVector) Rotated() []float64 {
	return append([]float64(nil), v.rotated...)
}

// Norm returns the first rotated component, the projection normalization for
// extinction estimates along the reddening axis.
func (v *ExtinctionVector) Norm() float64 {
	return v.norm
}

// RotationMatrix returns the composed rotation. The returned matrix is the
// vector's own and must not be modified.
func (v *ExtinctionVector) RotationMatrix() mat.Matrix {
	return v.rotation
}

// Subset derives a new vector from the components selected by indices,
// re-deriving the rotation for the reduced dimensionality.
func (v *ExtinctionVector) Subset(indices []int) (*ExtinctionVector, error) {
	selected := make([]float64, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(v.coefficients) {
			return nil, fmt.Errorf("photometry: subset index %d out of range [0,%d)", idx, len(v.coefficients))
		}
		selected[i] = v.coefficients[idx]
	}
	return NewExtinctionVector(selected)
}
