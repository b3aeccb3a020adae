package photometry

import "errors"

var (
	// ErrVectorDim reports an extinction vector with fewer than two components.
	ErrVectorDim = errors.New("photometry: extinction vector needs at least two components")

	// ErrFeatureCount reports a feature space with fewer than two features.
	ErrFeatureCount = errors.New("photometry: need at least two features")

	// ErrLengthMismatch reports per-source arrays of unequal length.
	ErrLengthMismatch = errors.New("photometry: per-source arrays must share one length")

	// ErrVectorMismatch reports an extinction vector whose dimension does not
	// match the feature count.
	ErrVectorMismatch = errors.New("photometry: extinction vector does not match feature count")

	// ErrCoordinateMismatch reports coordinate arrays that do not line up with
	// the source count, or a lone longitude/latitude array.
	ErrCoordinateMismatch = errors.New("photometry: coordinate arrays do not match the source count")

	// ErrNameCount reports feature names that do not line up with the features.
	ErrNameCount = errors.New("photometry: feature names do not match feature count")

	// ErrMagnitudesRequired reports an operation that is only defined on
	// magnitude feature spaces.
	ErrMagnitudesRequired = errors.New("photometry: operation requires a magnitude feature space")
)
