package svm

import "errors"

// Configuration errors are returned before any solve starts. They are wrapped
// with the offending value, match them with errors.Is.
var (
	ErrUnsupportedKernel  = errors.New("svm: unsupported kernel type")
	ErrZeroGamma          = errors.New("svm: gamma must not be zero")
	ErrInvalidDegree      = errors.New("svm: polynomial degree must be at least 1")
	ErrInvalidCost        = errors.New("svm: cost must be positive")
	ErrInvalidEpsilon     = errors.New("svm: epsilon must be positive")
	ErrUnsupportedBackend = errors.New("svm: unsupported backend")
)

var (
	ErrDimensionMismatch = errors.New("svm: dimension mismatch")
	ErrAliasedBuffers    = errors.New("svm: operator input and output alias")

	// ErrDegenerateDirection is returned by SolveCG when pᵀAp is zero or not
	// finite. The solve is aborted; it is never retried automatically.
	ErrDegenerateDirection = errors.New("svm: zero curvature along search direction")
)
