package svm

import (
	"context"
	"fmt"
	"unsafe"

	"gonum.org/v1/gonum/floats"

	"lssvm.dev/trainer/comm"
)

// LinearOperator applies a symmetric n×n matrix without storing it.
// Apply adds add·A·d to ret.
type LinearOperator interface {
	Dim() int
	Apply(ctx context.Context, d, ret []float64, add float64) error
}

// Operator is the distributed implicit kernel-matrix operator. Each rank
// evaluates the rows assigned to it by PartitionRows, the partial vectors are
// combined by the reducer, and every rank adds the same full product to ret.
// An Operator is not safe for concurrent use.
type Operator struct {
	problem *Problem
	backend Backend
	group   comm.Communicator
	reducer comm.Reducer
	rows    Range
	partial []float64
}

func NewOperator(problem *Problem, backend Backend, group comm.Communicator, reducer comm.Reducer) *Operator {
	n := problem.Dim()
	return &Operator{
		problem: problem,
		backend: backend,
		group:   group,
		reducer: reducer,
		rows:    RowRange(n, group.Rank(), group.Size()),
		partial: make([]float64, n),
	}
}

func (op *Operator) Dim() int {
	return op.problem.Dim()
}

// Rows is the slice of the lower triangle evaluated by this rank.
func (op *Operator) Rows() Range {
	return op.rows
}

func (op *Operator) Apply(ctx context.Context, d, ret []float64, add float64) error {
	n := op.Dim()
	if len(d) != n || len(ret) != n {
		return fmt.Errorf("%w: operator of order %d, len(d) = %d, len(ret) = %d", ErrDimensionMismatch, n, len(d), len(ret))
	}
	if overlaps(d, ret) {
		return ErrAliasedBuffers
	}

	for i := range op.partial {
		op.partial[i] = 0
	}
	op.backend.Accumulate(op.problem, op.rows, d, op.partial, add)
	if err := op.reducer.Reduce(ctx, op.group, op.partial); err != nil {
		return fmt.Errorf("rank %d: %w", op.group.Rank(), err)
	}
	floats.Add(ret, op.partial)
	return nil
}

// overlaps reports whether a and b share any element of backing memory.
func overlaps(a, b []float64) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	size := unsafe.Sizeof(a[0])
	aStart := uintptr(unsafe.Pointer(&a[0]))
	bStart := uintptr(unsafe.Pointer(&b[0]))
	aEnd := aStart + uintptr(len(a))*size
	bEnd := bStart + uintptr(len(b))*size
	return aStart < bEnd && bStart < aEnd
}
