package svm

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"lssvm.dev/trainer/data"
)

var (
	smallPoints = [][]float64{
		{0, 1}, {1, 0.5}, {2, 2}, {-1, 0.5}, {0.5, -1}, {3, 1.5},
	}
	smallLabels = []float64{1, -1, 1, -1, -1, 1}

	linearParam = Parameter{KernelType: KernelTypeLinear, Gamma: 1, Cost: 1, Epsilon: 1e-10}
	polyParam   = Parameter{KernelType: KernelTypePoly, Degree: 2, Gamma: 0.5, Coef0: 1, Cost: 1, Epsilon: 1e-10}
	rbfParam    = Parameter{KernelType: KernelTypeRbf, Gamma: 0.5, Cost: 10, Epsilon: 1e-10}
)

func smallDataset(t *testing.T) *data.Dataset {
	t.Helper()
	ds, err := data.New(smallPoints, smallLabels)
	require.NoError(t, err)
	return ds
}

func randomPoints(seed int64, count, features int) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	points := make([][]float64, count)
	for i := range points {
		points[i] = make([]float64, features)
		for k := range points[i] {
			points[i][k] = rng.Float64()*2 - 1
		}
	}
	return points
}

func randomVector(seed int64, n int) []float64 {
	rng := rand.New(rand.NewSource(seed))
	v := make([]float64, n)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	return v
}

// denseSystem materialises A with a full double loop over i and j, without
// using symmetry, independent of the blocked evaluation.
func denseSystem(p *Problem) *mat.Dense {
	n := p.Dim()
	a := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := p.Kernel(p.Data[i], p.Data[j]) + p.QACost - p.Q[i] - p.Q[j]
			if i == j {
				v += p.Diag
			}
			a.Set(i, j, v)
		}
	}
	return a
}

func denseProduct(p *Problem, d []float64) []float64 {
	var out mat.VecDense
	out.MulVec(denseSystem(p), mat.NewVecDense(len(d), d))
	return append([]float64(nil), out.RawVector().Data...)
}

// denseOperator applies an explicit matrix and is used to test the solver in
// isolation.
type denseOperator struct {
	a mat.Symmetric
}

func (op denseOperator) Dim() int {
	return op.a.SymmetricDim()
}

func (op denseOperator) Apply(_ context.Context, d, ret []float64, add float64) error {
	var out mat.VecDense
	out.MulVec(op.a, mat.NewVecDense(len(d), d))
	for i := range ret {
		ret[i] += add * out.AtVec(i)
	}
	return nil
}
