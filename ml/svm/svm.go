package svm

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"lssvm.dev/trainer/data"
)

// Decision evaluates f(x) = Σ alpha_i·K(sv_i, x) + bias. Linear models with
// precomputed weights use w·x + bias instead.
func (m *Model) Decision(x []float64) (float64, error) {
	if len(m.SV) > 0 && len(x) != len(m.SV[0]) {
		return 0, fmt.Errorf("%w: model has %d features, point has %d", ErrDimensionMismatch, len(m.SV[0]), len(x))
	}
	if m.Param.KernelType == KernelTypeLinear && len(m.Weights) == len(x) && len(x) > 0 {
		return floats.Dot(m.Weights, x) + m.Bias, nil
	}
	kernel, err := ResolveKernel(m.Param)
	if err != nil {
		return 0, err
	}
	sum := m.Bias
	for i, sv := range m.SV {
		sum += m.Alpha[i] * kernel(sv, x)
	}
	return sum, nil
}

// Predict returns the original label of the class x falls into. A decision
// value of exactly zero is assigned to the first class.
func (m *Model) Predict(x []float64) (float64, error) {
	value, err := m.Decision(x)
	if err != nil {
		return 0, err
	}
	if value >= 0 {
		return m.Labels[0], nil
	}
	return m.Labels[1], nil
}

// Accuracy is the share of points in ds whose label Predict reproduces.
func (m *Model) Accuracy(ds *data.Dataset) (float64, error) {
	if ds.NumPoints() == 0 {
		return 0, nil
	}
	correct := 0
	for i, x := range ds.Points {
		label, err := m.Predict(x)
		if err != nil {
			return 0, fmt.Errorf("point %d: %w", i, err)
		}
		if label == ds.Labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(ds.NumPoints()), nil
}
