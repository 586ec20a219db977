// Package data holds validated training sets.
package data

import (
	"errors"
	"fmt"
)

var (
	ErrNotEnoughPoints = errors.New("data: at least 2 points are required")
	ErrRaggedRows      = errors.New("data: rows differ in length")
	ErrNotBinary       = errors.New("data: exactly two distinct labels are required")
	ErrInvalidFormat   = errors.New("data: invalid file format")
)

// Dataset is a dense training set. All rows share one row-major backing
// buffer and must not be modified once training starts.
type Dataset struct {
	Points      [][]float64
	Labels      []float64
	NumFeatures int
}

// New copies points into a single backing buffer and validates the result.
func New(points [][]float64, labels []float64) (*Dataset, error) {
	if len(points) != len(labels) {
		return nil, fmt.Errorf("%w: %d points but %d labels", ErrRaggedRows, len(points), len(labels))
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: got 0", ErrNotEnoughPoints)
	}
	dim := len(points[0])
	flat := make([]float64, len(points)*dim)
	rows := make([][]float64, len(points))
	for i, p := range points {
		if len(p) != dim {
			return nil, fmt.Errorf("%w: row %d has %d features, row 0 has %d", ErrRaggedRows, i, len(p), dim)
		}
		rows[i] = flat[i*dim : (i+1)*dim : (i+1)*dim]
		copy(rows[i], p)
	}
	ds := &Dataset{
		Points:      rows,
		Labels:      append([]float64(nil), labels...),
		NumFeatures: dim,
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func (ds *Dataset) NumPoints() int {
	return len(ds.Points)
}

func (ds *Dataset) Validate() error {
	if len(ds.Points) < 2 {
		return fmt.Errorf("%w: got %d", ErrNotEnoughPoints, len(ds.Points))
	}
	if len(ds.Labels) != len(ds.Points) {
		return fmt.Errorf("%w: %d points but %d labels", ErrRaggedRows, len(ds.Points), len(ds.Labels))
	}
	for i, p := range ds.Points {
		if len(p) != ds.NumFeatures {
			return fmt.Errorf("%w: row %d has %d features, expected %d", ErrRaggedRows, i, len(p), ds.NumFeatures)
		}
	}
	return nil
}

// BinaryLabels maps the two label values of the set to +1 and −1. The label
// seen first becomes +1. classes holds the original values in that order.
func (ds *Dataset) BinaryLabels() (y []float64, classes [2]float64, err error) {
	if len(ds.Labels) == 0 {
		return nil, classes, fmt.Errorf("%w: no labels", ErrNotBinary)
	}
	classes[0] = ds.Labels[0]
	seenSecond := false
	y = make([]float64, len(ds.Labels))
	for i, l := range ds.Labels {
		switch {
		case l == classes[0]:
			y[i] = 1
		case !seenSecond:
			classes[1] = l
			seenSecond = true
			y[i] = -1
		case l == classes[1]:
			y[i] = -1
		default:
			return nil, classes, fmt.Errorf("%w: found %v besides %v and %v", ErrNotBinary, l, classes[0], classes[1])
		}
	}
	if !seenSecond {
		return nil, classes, fmt.Errorf("%w: only label %v present", ErrNotBinary, classes[0])
	}
	return y, classes, nil
}
