package svm

import "fmt"

// Problem holds the inputs of the implicit system matrix
//
//	A[i][j] = K(x_i, x_j) + QACost − q_i − q_j + δ_ij·Diag,  0 <= i, j < n
//
// where the last training point x_n has been folded into q and QACost to
// eliminate the bias term. A Problem is immutable once built and is shared
// read-only by every worker of a rank.
type Problem struct {
	Data   [][]float64
	Q      []float64
	QACost float64
	Diag   float64
	Kernel Kernel
}

// NewProblem derives q and QACost from the training points. The points are
// referenced, not copied.
func NewProblem(points [][]float64, param Parameter) (*Problem, error) {
	if err := param.Validate(); err != nil {
		return nil, err
	}
	if len(points) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 points, got %d", ErrDimensionMismatch, len(points))
	}
	kernel, err := ResolveKernel(param)
	if err != nil {
		return nil, err
	}
	n := len(points) - 1
	last := points[n]
	q := make([]float64, n)
	for i := 0; i < n; i++ {
		q[i] = kernel(points[i], last)
	}
	return &Problem{
		Data:   points,
		Q:      q,
		QACost: kernel(last, last) + 1/param.Cost,
		Diag:   1 / param.Cost,
		Kernel: kernel,
	}, nil
}

// Dim is the order n of the system, one less than the number of points.
func (p *Problem) Dim() int {
	return len(p.Q)
}

// Entry evaluates A[i][j] directly. It is meant for checks and small
// problems; the operator never materialises A. Entry(i, j) and Entry(j, i)
// are bit-identical.
func (p *Problem) Entry(i, j int) float64 {
	if i < j {
		i, j = j, i
	}
	v := p.Kernel(p.Data[i], p.Data[j]) + p.QACost - p.Q[i] - p.Q[j]
	if i == j {
		v += p.Diag
	}
	return v
}
