package svm

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"gonum.org/v1/gonum/floats"
)

const (
	BackendSerial = "serial"
	BackendCPU    = "cpu"
	BackendGPU    = "gpu"

	DefaultBlockSize = 64
)

// Backend evaluates one rank's share of the implicit matrix-vector product.
// All backends follow the same contract: for every row i in rows and every
// j <= i, add·A[i][j]·d[j] is added to ret[i] and, for j < i, the mirrored
// add·A[i][j]·d[i] to ret[j]. ret must be at least rows.Upper long.
type Backend interface {
	Name() string
	Accumulate(p *Problem, rows Range, d, ret []float64, add float64)
}

// NewBackend selects a backend by name. threads <= 0 means one worker per CPU,
// blockSize <= 0 selects DefaultBlockSize.
func NewBackend(name string, threads, blockSize int) (Backend, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	switch strings.ToLower(name) {
	case BackendSerial:
		return &serialBackend{blockSize: blockSize}, nil
	case "", BackendCPU:
		if threads <= 0 {
			threads = runtime.NumCPU()
		}
		return &cpuBackend{threads: threads, blockSize: blockSize}, nil
	case BackendGPU:
		// Device discovery and context setup live outside this package.
		return nil, fmt.Errorf("%w: %s: no device support in this build", ErrUnsupportedBackend, name)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, name)
	}
}

type serialBackend struct {
	blockSize int
}

func (b *serialBackend) Name() string {
	return BackendSerial
}

func (b *serialBackend) Accumulate(p *Problem, rows Range, d, ret []float64, add float64) {
	accumulateBlocked(p, rows, d, ret, add, b.blockSize)
}

// cpuBackend shares the rank's rows among goroutines. The mirrored update
// ret[j] may hit any row below the worker's own range, so every worker writes
// into a private buffer and the buffers are summed after the join.
type cpuBackend struct {
	threads   int
	blockSize int
}

func (b *cpuBackend) Name() string {
	return BackendCPU
}

func (b *cpuBackend) Accumulate(p *Problem, rows Range, d, ret []float64, add float64) {
	if rows.Empty() {
		return
	}
	workers := b.threads
	if workers > rows.Len() {
		workers = rows.Len()
	}
	if workers <= 1 {
		accumulateBlocked(p, rows, d, ret, add, b.blockSize)
		return
	}

	parts := splitRows(rows.Lower, rows.Upper, workers)
	partials := make([][]float64, len(parts))
	var wg sync.WaitGroup
	for w, part := range parts {
		if part.Empty() {
			continue
		}
		wg.Add(1)
		go func(w int, part Range) {
			defer wg.Done()
			buf := make([]float64, part.Upper)
			accumulateBlocked(p, part, d, buf, add, b.blockSize)
			partials[w] = buf
		}(w, part)
	}
	wg.Wait()

	for _, buf := range partials {
		if buf != nil {
			floats.Add(ret[:len(buf)], buf)
		}
	}
}

// accumulateBlocked walks the lower triangle of rows in square tiles of edge
// block so that data rows are reused while they are still in cache. The bound
// j <= i is checked per element, tiles crossing the diagonal are not skipped.
func accumulateBlocked(p *Problem, rows Range, d, ret []float64, add float64, block int) {
	data, q, kernel := p.Data, p.Q, p.Kernel
	qaCost := p.QACost
	diag := p.Diag * add

	for ib := rows.Lower; ib < rows.Upper; ib += block {
		iEnd := ib + block
		if iEnd > rows.Upper {
			iEnd = rows.Upper
		}
		for jb := 0; jb < iEnd; jb += block {
			jEnd := jb + block
			if jEnd > iEnd {
				jEnd = iEnd
			}
			for i := ib; i < iEnd; i++ {
				xi, qi, di := data[i], q[i], d[i]
				sum := 0.0
				for j := jb; j < jEnd && j <= i; j++ {
					temp := (kernel(xi, data[j]) + qaCost - qi - q[j]) * add
					if i == j {
						sum += (temp + diag) * di
						continue
					}
					sum += temp * d[j]
					ret[j] += temp * di
				}
				ret[i] += sum
			}
		}
	}
}
