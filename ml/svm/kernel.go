package svm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Kernel evaluates the similarity of two feature vectors of equal length.
type Kernel func(x, y []float64) float64

// ResolveKernel picks the kernel implementation once per run so the hot loops
// call a fixed function instead of switching on the kernel type per pair.
func ResolveKernel(param Parameter) (Kernel, error) {
	switch param.KernelType {
	case KernelTypeLinear:
		return dot, nil
	case KernelTypePoly:
		gamma, coef0, degree := param.Gamma, param.Coef0, param.Degree
		return func(x, y []float64) float64 {
			return powi(gamma*dot(x, y)+coef0, degree)
		}, nil
	case KernelTypeRbf:
		gamma := param.Gamma
		return func(x, y []float64) float64 {
			return math.Exp(-gamma * squaredDistance(x, y))
		}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedKernel, int(param.KernelType))
	}
}

// KFunction evaluates a single kernel value without resolving the kernel first.
func KFunction(x []float64, y []float64, param Parameter) (float64, error) {
	switch param.KernelType {
	case KernelTypeLinear:
		return dot(x, y), nil
	case KernelTypePoly:
		return powi(param.Gamma*dot(x, y)+param.Coef0, param.Degree), nil
	case KernelTypeRbf:
		return math.Exp(-param.Gamma * squaredDistance(x, y)), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedKernel, int(param.KernelType))
	}
}

func dot(x []float64, y []float64) float64 {
	return floats.Dot(x, y)
}

func squaredDistance(x []float64, y []float64) float64 {
	sum := 0.0
	y = y[:len(x)]
	for i, xi := range x {
		d := xi - y[i]
		sum += d * d
	}
	return sum
}

func powi(base float64, times int) float64 {
	tmp := base
	ret := 1.0

	for t := times; t > 0; t /= 2 {
		if t%2 == 1 {
			ret *= tmp
		}

		tmp *= tmp
	}

	return ret
}
