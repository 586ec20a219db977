// Package comm connects the ranks of one distributed solve.
//
// Every operation is blocking and collective operations must be entered by
// all ranks in the same order. Messages between one ordered pair of ranks are
// delivered in the order they were sent.
package comm

import (
	"context"
	"errors"
	"fmt"
)

// Root is the rank that gathers partial results in RootReducer.
const Root = 0

var (
	ErrTransport      = errors.New("comm: transport failure")
	ErrGroupClosed    = errors.New("comm: group closed")
	ErrInvalidRank    = errors.New("comm: invalid rank")
	ErrUnknownReducer = errors.New("comm: unknown reducer")
)

type Communicator interface {
	Rank() int
	Size() int
	Barrier(ctx context.Context) error
	Send(ctx context.Context, dst int, buf []float64) error
	Recv(ctx context.Context, src int, buf []float64) error
	Broadcast(ctx context.Context, root int, buf []float64) error
	Close() error
}

type single struct{}

// Single returns the communicator of a one-rank run. Every collective is a
// no-op and point-to-point traffic is rejected.
func Single() Communicator {
	return single{}
}

func (single) Rank() int { return 0 }

func (single) Size() int { return 1 }

func (single) Barrier(context.Context) error { return nil }

func (single) Send(_ context.Context, dst int, _ []float64) error {
	return rankError(dst, 1)
}

func (single) Recv(_ context.Context, src int, _ []float64) error {
	return rankError(src, 1)
}

func (single) Broadcast(_ context.Context, root int, _ []float64) error {
	if root != 0 {
		return rankError(root, 1)
	}
	return nil
}

func (single) Close() error { return nil }

func rankError(rank, size int) error {
	return fmt.Errorf("%w: %d (group size %d)", ErrInvalidRank, rank, size)
}

// checkPeer validates the other side of a point-to-point transfer.
func checkPeer(self, peer, size int) error {
	if peer < 0 || peer >= size || peer == self {
		return rankError(peer, size)
	}
	return nil
}
