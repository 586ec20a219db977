package comm

import (
	"context"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
)

const (
	ReducerRoot      = "root"
	ReducerAllReduce = "allreduce"
)

// Reducer sums buf element-wise over all ranks of c. When Reduce returns
// without error every rank holds the same combined vector in buf.
type Reducer interface {
	Reduce(ctx context.Context, c Communicator, buf []float64) error
}

func NewReducer(name string) (Reducer, error) {
	switch strings.ToLower(name) {
	case "", ReducerRoot:
		return RootReducer{}, nil
	case ReducerAllReduce:
		return AllReducer{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownReducer, name)
	}
}

// RootReducer gathers every partial at Root, accumulates them in rank order
// and broadcasts the sum back.
type RootReducer struct{}

func (RootReducer) Reduce(ctx context.Context, c Communicator, buf []float64) error {
	if c.Size() == 1 {
		return nil
	}
	if c.Rank() != Root {
		if err := c.Send(ctx, Root, buf); err != nil {
			return fmt.Errorf("send partial to root: %w", err)
		}
	} else {
		tmp := make([]float64, len(buf))
		for src := 0; src < c.Size(); src++ {
			if src == Root {
				continue
			}
			if err := c.Recv(ctx, src, tmp); err != nil {
				return fmt.Errorf("receive partial from rank %d: %w", src, err)
			}
			floats.Add(buf, tmp)
		}
	}
	if err := c.Broadcast(ctx, Root, buf); err != nil {
		return fmt.Errorf("broadcast reduced vector: %w", err)
	}
	return nil
}

// AllReducer exchanges partials between all pairs of ranks. Each rank adds
// the partials in rank order, so all ranks end with bit-identical sums.
type AllReducer struct{}

func (AllReducer) Reduce(ctx context.Context, c Communicator, buf []float64) error {
	size, rank := c.Size(), c.Rank()
	if size == 1 {
		return nil
	}
	parts := make([][]float64, size)
	parts[rank] = append([]float64(nil), buf...)

	// In step s rank r sends to r+s and receives from r−s, so every ordered
	// pair carries exactly one message per reduction.
	for s := 1; s < size; s++ {
		dst := (rank + s) % size
		src := (rank - s + size) % size
		if err := c.Send(ctx, dst, parts[rank]); err != nil {
			return fmt.Errorf("send partial to rank %d: %w", dst, err)
		}
		recv := make([]float64, len(buf))
		if err := c.Recv(ctx, src, recv); err != nil {
			return fmt.Errorf("receive partial from rank %d: %w", src, err)
		}
		parts[src] = recv
	}

	for i := range buf {
		buf[i] = 0
	}
	for _, part := range parts {
		floats.Add(buf, part)
	}
	return nil
}
