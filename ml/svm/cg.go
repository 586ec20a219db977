package svm

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// DefaultResidualRefresh is the number of iterations after which the
// residual is recomputed from b − A·x instead of being updated in place.
const DefaultResidualRefresh = 50

type CGOptions struct {
	Epsilon float64
	// MaxIterations <= 0 allows as many iterations as the system has rows.
	MaxIterations int
	// ResidualRefresh < 0 disables the periodic recomputation, 0 selects
	// DefaultResidualRefresh.
	ResidualRefresh int
	// Initial is the starting guess, nil means zero.
	Initial []float64
	// OnIteration, if set, is called after every iteration with the current
	// residual norm.
	OnIteration func(iteration int, residual float64)
}

// CGResult is the outcome of SolveCG. When the budget ran out Converged is
// false and X is the iterate with the smallest residual norm seen.
type CGResult struct {
	X          []float64
	Iterations int
	Residual   float64
	Converged  bool
}

// SolveCG solves A·x = b by conjugate gradients, terminating once
// ‖b − A·x‖ < Epsilon. Running out of iterations is not an error. A search
// direction with zero or non-finite curvature aborts the solve with
// ErrDegenerateDirection.
func SolveCG(ctx context.Context, op LinearOperator, b []float64, opts CGOptions) (CGResult, error) {
	n := op.Dim()
	if len(b) != n {
		return CGResult{}, fmt.Errorf("%w: system of order %d, len(b) = %d", ErrDimensionMismatch, n, len(b))
	}
	if !(opts.Epsilon > 0) {
		return CGResult{}, fmt.Errorf("%w: epsilon = %v", ErrInvalidEpsilon, opts.Epsilon)
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = n
	}
	refresh := opts.ResidualRefresh
	if refresh == 0 {
		refresh = DefaultResidualRefresh
	}

	x := make([]float64, n)
	r := make([]float64, n)
	copy(r, b)
	if opts.Initial != nil {
		if len(opts.Initial) != n {
			return CGResult{}, fmt.Errorf("%w: len(initial) = %d", ErrDimensionMismatch, len(opts.Initial))
		}
		copy(x, opts.Initial)
		if err := op.Apply(ctx, x, r, -1); err != nil {
			return CGResult{}, err
		}
	}

	rr := floats.Dot(r, r)
	best := append([]float64(nil), x...)
	bestNorm := math.Sqrt(rr)
	if bestNorm < opts.Epsilon {
		return CGResult{X: x, Residual: bestNorm, Converged: true}, nil
	}

	p := append([]float64(nil), r...)
	ap := make([]float64, n)
	for it := 1; it <= maxIter; it++ {
		for i := range ap {
			ap[i] = 0
		}
		if err := op.Apply(ctx, p, ap, 1); err != nil {
			return CGResult{}, fmt.Errorf("iteration %d: %w", it, err)
		}
		pap := floats.Dot(p, ap)
		if pap == 0 || math.IsNaN(pap) || math.IsInf(pap, 0) {
			return CGResult{}, fmt.Errorf("%w: iteration %d, pᵀAp = %v", ErrDegenerateDirection, it, pap)
		}
		alpha := rr / pap
		floats.AddScaled(x, alpha, p)

		if refresh > 0 && it%refresh == 0 {
			copy(r, b)
			if err := op.Apply(ctx, x, r, -1); err != nil {
				return CGResult{}, fmt.Errorf("iteration %d: %w", it, err)
			}
		} else {
			floats.AddScaled(r, -alpha, ap)
		}

		rrNext := floats.Dot(r, r)
		norm := math.Sqrt(rrNext)
		if opts.OnIteration != nil {
			opts.OnIteration(it, norm)
		}
		if norm < bestNorm {
			copy(best, x)
			bestNorm = norm
		}
		if norm < opts.Epsilon {
			return CGResult{X: x, Iterations: it, Residual: norm, Converged: true}, nil
		}

		beta := rrNext / rr
		floats.Scale(beta, p)
		floats.Add(p, r)
		rr = rrNext
	}
	return CGResult{X: best, Iterations: maxIter, Residual: bestNorm, Converged: false}, nil
}
