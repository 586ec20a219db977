package svm

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type KernelType int

const (
	KernelTypeLinear KernelType = 0
	KernelTypePoly   KernelType = 1
	KernelTypeRbf    KernelType = 2
)

func (k KernelType) String() string {
	switch k {
	case KernelTypeLinear:
		return "linear"
	case KernelTypePoly:
		return "polynomial"
	case KernelTypeRbf:
		return "rbf"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseKernelType accepts either the kernel name or its numeric code.
func ParseKernelType(s string) (KernelType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "linear":
		return KernelTypeLinear, nil
	case "polynomial", "poly":
		return KernelTypePoly, nil
	case "rbf", "radial":
		return KernelTypeRbf, nil
	}
	code, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedKernel, s)
	}
	k := KernelType(code)
	if !k.valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedKernel, code)
	}
	return k, nil
}

func (k KernelType) valid() bool {
	return k == KernelTypeLinear || k == KernelTypePoly || k == KernelTypeRbf
}

type Parameter struct {
	KernelType KernelType `json:"kernel_type"`
	Degree     int        `json:"degree"`
	Gamma      float64    `json:"gamma"`
	Coef0      float64    `json:"coef_0"`
	Cost       float64    `json:"cost"`
	Epsilon    float64    `json:"epsilon"`
}

// Validate reports configuration errors before any solve starts.
func (p Parameter) Validate() error {
	if !p.KernelType.valid() {
		return fmt.Errorf("%w: %d", ErrUnsupportedKernel, int(p.KernelType))
	}
	if p.Gamma == 0 {
		return fmt.Errorf("%w: gamma = %v", ErrZeroGamma, p.Gamma)
	}
	if p.KernelType == KernelTypePoly && p.Degree < 1 {
		return fmt.Errorf("%w: degree = %d", ErrInvalidDegree, p.Degree)
	}
	if !(p.Cost > 0) {
		return fmt.Errorf("%w: cost = %v", ErrInvalidCost, p.Cost)
	}
	if !(p.Epsilon > 0) {
		return fmt.Errorf("%w: epsilon = %v", ErrInvalidEpsilon, p.Epsilon)
	}
	return nil
}

type Model struct {
	Param Parameter `json:"param"`
	// Labels holds the original class values mapped to +1 and -1.
	Labels     [2]float64  `json:"labels"`
	Alpha      []float64   `json:"alpha"`
	Bias       float64     `json:"bias"`
	SV         [][]float64 `json:"sv"`
	Weights    []float64   `json:"weights,omitempty"`
	Iterations int         `json:"iterations"`
	Residual   float64     `json:"residual"`
	Converged  bool        `json:"converged"`
}

func (m *Model) WriteTo(w io.Writer) (int64, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

func ReadModel(r io.Reader) (*Model, error) {
	var model Model
	if err := json.NewDecoder(r).Decode(&model); err != nil {
		return nil, err
	}
	if err := model.Param.Validate(); err != nil {
		return nil, err
	}
	if len(model.Alpha) != len(model.SV) {
		return nil, fmt.Errorf("%w: %d coefficients for %d support vectors", ErrDimensionMismatch, len(model.Alpha), len(model.SV))
	}
	return &model, nil
}
