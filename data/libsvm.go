package data

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

type sparseRow struct {
	label   float64
	indices []int
	values  []float64
}

// ParseLIBSVM reads the sparse LIBSVM text format
//
//	<label> <index>:<value> <index>:<value> ...
//
// with 1-based feature indices and returns a dense dataset. Missing features
// are zero; the number of features is the largest index seen.
func ParseLIBSVM(r io.Reader) (*Dataset, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)

	var rows []sparseRow
	numFeatures := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		label, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: label %q", ErrInvalidFormat, lineNo, fields[0])
		}
		row := sparseRow{label: label}
		for _, field := range fields[1:] {
			sep := strings.IndexByte(field, ':')
			if sep <= 0 {
				return nil, fmt.Errorf("%w: line %d: feature %q", ErrInvalidFormat, lineNo, field)
			}
			index, err := strconv.Atoi(field[:sep])
			if err != nil || index < 1 {
				return nil, fmt.Errorf("%w: line %d: feature index %q", ErrInvalidFormat, lineNo, field[:sep])
			}
			value, err := strconv.ParseFloat(field[sep+1:], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: feature value %q", ErrInvalidFormat, lineNo, field[sep+1:])
			}
			if index > numFeatures {
				numFeatures = index
			}
			row.indices = append(row.indices, index-1)
			row.values = append(row.values, value)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrNotEnoughPoints, len(rows))
	}

	flat := make([]float64, len(rows)*numFeatures)
	ds := &Dataset{
		Points:      make([][]float64, len(rows)),
		Labels:      make([]float64, len(rows)),
		NumFeatures: numFeatures,
	}
	for i, row := range rows {
		dense := flat[i*numFeatures : (i+1)*numFeatures : (i+1)*numFeatures]
		for k, index := range row.indices {
			dense[index] = row.values[k]
		}
		ds.Points[i] = dense
		ds.Labels[i] = row.label
	}
	return ds, nil
}

func LoadFile(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	ds, err := ParseLIBSVM(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}
