package comm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tevino/abool"
)

// LocalGroup runs the ranks of one solve as goroutines of the same process.
// Every ordered pair of ranks owns a queue of depth one, so Send blocks until
// the previous message on that pair has been received.
type LocalGroup struct {
	size    int
	links   [][]chan []float64 // links[src][dst]
	bcast   [][]chan []float64 // bcast[root][dst]
	barrier *barrier
	broken  *abool.AtomicBool
	done    chan struct{}
}

func NewLocalGroup(size int) (*LocalGroup, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: group size %d", ErrInvalidRank, size)
	}
	g := &LocalGroup{
		size:    size,
		links:   makeLinks(size),
		bcast:   makeLinks(size),
		barrier: &barrier{size: size, release: make(chan struct{})},
		broken:  abool.New(),
		done:    make(chan struct{}),
	}
	return g, nil
}

func makeLinks(size int) [][]chan []float64 {
	links := make([][]chan []float64, size)
	for src := range links {
		links[src] = make([]chan []float64, size)
		for dst := range links[src] {
			if src != dst {
				links[src][dst] = make(chan []float64, 1)
			}
		}
	}
	return links
}

func (g *LocalGroup) Size() int {
	return g.size
}

// Endpoint returns the communicator used by rank.
func (g *LocalGroup) Endpoint(rank int) Communicator {
	return &localEndpoint{group: g, rank: rank}
}

func (g *LocalGroup) Endpoints() []Communicator {
	endpoints := make([]Communicator, g.size)
	for rank := range endpoints {
		endpoints[rank] = g.Endpoint(rank)
	}
	return endpoints
}

// Abort fails every pending and future operation of the group with
// ErrGroupClosed. A failed rank must abort the group, otherwise its peers
// block forever.
func (g *LocalGroup) Abort() {
	if g.broken.SetToIf(false, true) {
		close(g.done)
	}
}

func (g *LocalGroup) put(ctx context.Context, ch chan<- []float64, msg []float64) error {
	if g.broken.IsSet() {
		return ErrGroupClosed
	}
	select {
	case ch <- msg:
		return nil
	case <-g.done:
		return ErrGroupClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTransport, ctx.Err())
	}
}

func (g *LocalGroup) take(ctx context.Context, ch <-chan []float64, buf []float64) error {
	if g.broken.IsSet() {
		return ErrGroupClosed
	}
	select {
	case msg := <-ch:
		if len(msg) != len(buf) {
			return fmt.Errorf("%w: got %d values, expected %d", ErrTransport, len(msg), len(buf))
		}
		copy(buf, msg)
		return nil
	case <-g.done:
		return ErrGroupClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTransport, ctx.Err())
	}
}

type localEndpoint struct {
	group *LocalGroup
	rank  int
}

func (e *localEndpoint) Rank() int {
	return e.rank
}

func (e *localEndpoint) Size() int {
	return e.group.size
}

func (e *localEndpoint) Barrier(ctx context.Context) error {
	if e.group.broken.IsSet() {
		return ErrGroupClosed
	}
	return e.group.barrier.wait(ctx, e.group.done)
}

func (e *localEndpoint) Send(ctx context.Context, dst int, buf []float64) error {
	if err := checkPeer(e.rank, dst, e.group.size); err != nil {
		return err
	}
	msg := append([]float64(nil), buf...)
	return e.group.put(ctx, e.group.links[e.rank][dst], msg)
}

func (e *localEndpoint) Recv(ctx context.Context, src int, buf []float64) error {
	if err := checkPeer(e.rank, src, e.group.size); err != nil {
		return err
	}
	return e.group.take(ctx, e.group.links[src][e.rank], buf)
}

func (e *localEndpoint) Broadcast(ctx context.Context, root int, buf []float64) error {
	g := e.group
	if root < 0 || root >= g.size {
		return rankError(root, g.size)
	}
	if e.rank != root {
		return g.take(ctx, g.bcast[root][e.rank], buf)
	}
	// receivers copy out of msg, it is never written after this point
	msg := append([]float64(nil), buf...)
	for dst := 0; dst < g.size; dst++ {
		if dst == root {
			continue
		}
		if err := g.put(ctx, g.bcast[root][dst], msg); err != nil {
			return err
		}
	}
	return nil
}

func (e *localEndpoint) Close() error {
	return nil
}

// barrier is a reusable rendezvous of size goroutines. Each generation gets
// a fresh release channel that is closed by the last arrival.
type barrier struct {
	mu      sync.Mutex
	size    int
	arrived int
	release chan struct{}
}

func (b *barrier) wait(ctx context.Context, done <-chan struct{}) error {
	b.mu.Lock()
	release := b.release
	b.arrived++
	if b.arrived == b.size {
		b.arrived = 0
		b.release = make(chan struct{})
		close(release)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-done:
		return ErrGroupClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTransport, ctx.Err())
	}
}
