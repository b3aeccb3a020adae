package extinction

import "errors"

var (
	// ErrSpaceRequired reports a missing science or control feature space.
	ErrSpaceRequired = errors.New("extinction: feature space is required")

	// ErrSpaceMismatch reports paired science and control spaces of different
	// kind or feature count.
	ErrSpaceMismatch = errors.New("extinction: science and control spaces are incompatible")

	// ErrLengthMismatch reports extinction arrays that do not line up with
	// the source count of their feature space.
	ErrLengthMismatch = errors.New("extinction: arrays must match the source count")

	// ErrNoValidSources reports a field with no jointly valid sources left
	// after masking.
	ErrNoValidSources = errors.New("extinction: no jointly valid sources")

	// ErrEmptyAxis reports a degenerate reddening axis.
	ErrEmptyAxis = errors.New("extinction: reddening axis is empty")
)
