package comm

import (
	"context"
	"fmt"
	"time"

	"lssvm.dev/trainer/utils"
)

// Store is the subset of list and counter commands the Redis group needs.
// BlockingPop reports ok == false when timeout elapsed without a value.
type Store interface {
	Push(ctx context.Context, key string, value []byte) error
	BlockingPop(ctx context.Context, key string, timeout time.Duration) (value []byte, ok bool, err error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

const keyTTL = time.Hour

// RedisGroup connects ranks running in separate processes. Every ordered pair
// of ranks exchanges frames over its own Redis list; the barrier counts
// arrivals with INCR and releases the ranks through a token list.
type RedisGroup struct {
	store      Store
	prefix     string
	rank       int
	size       int
	timeout    time.Duration
	barrierGen int
}

// NewRedisGroup joins the group of runID as rank. timeout bounds every wait
// for a peer; a peer that does not answer in time fails the solve.
func NewRedisGroup(store Store, runID string, rank, size int, timeout time.Duration) (*RedisGroup, error) {
	if size < 1 || rank < 0 || rank >= size {
		return nil, rankError(rank, size)
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &RedisGroup{
		store:   store,
		prefix:  fmt.Sprintf("lssvm:comm:%016x", utils.HashString(runID)),
		rank:    rank,
		size:    size,
		timeout: timeout,
	}, nil
}

func (g *RedisGroup) Rank() int {
	return g.rank
}

func (g *RedisGroup) Size() int {
	return g.size
}

func (g *RedisGroup) Barrier(ctx context.Context) error {
	gen := g.barrierGen
	g.barrierGen++
	counterKey := g.barrierKey(gen)
	releaseKey := counterKey + ":release"

	arrived, err := g.store.Incr(ctx, counterKey)
	if err != nil {
		return fmt.Errorf("%w: barrier %d: %w", ErrTransport, gen, err)
	}
	if err := g.store.Expire(ctx, counterKey, keyTTL); err != nil {
		return fmt.Errorf("%w: barrier %d: %w", ErrTransport, gen, err)
	}
	// A counter left by an earlier run under the same id is a multiple of
	// size, so the last arrival is recognised by the remainder.
	if arrived%int64(g.size) == 0 {
		for i := 0; i < g.size; i++ {
			if err := g.push(ctx, releaseKey, nil); err != nil {
				return err
			}
		}
	}
	if _, err := g.pop(ctx, releaseKey); err != nil {
		return fmt.Errorf("barrier %d: %w", gen, err)
	}
	return nil
}

func (g *RedisGroup) Send(ctx context.Context, dst int, buf []float64) error {
	if err := checkPeer(g.rank, dst, g.size); err != nil {
		return err
	}
	return g.push(ctx, g.linkKey("p2p", g.rank, dst), encodeFrame(buf))
}

func (g *RedisGroup) Recv(ctx context.Context, src int, buf []float64) error {
	if err := checkPeer(g.rank, src, g.size); err != nil {
		return err
	}
	frame, err := g.pop(ctx, g.linkKey("p2p", src, g.rank))
	if err != nil {
		return fmt.Errorf("recv from rank %d: %w", src, err)
	}
	return decodeFrame(frame, buf)
}

func (g *RedisGroup) Broadcast(ctx context.Context, root int, buf []float64) error {
	if root < 0 || root >= g.size {
		return rankError(root, g.size)
	}
	if g.rank != root {
		frame, err := g.pop(ctx, g.linkKey("bcast", root, g.rank))
		if err != nil {
			return fmt.Errorf("broadcast from rank %d: %w", root, err)
		}
		return decodeFrame(frame, buf)
	}
	frame := encodeFrame(buf)
	for dst := 0; dst < g.size; dst++ {
		if dst == root {
			continue
		}
		if err := g.push(ctx, g.linkKey("bcast", root, dst), frame); err != nil {
			return err
		}
	}
	return nil
}

// Close leaves the group. The store is owned by the caller and stays open.
func (g *RedisGroup) Close() error {
	return nil
}

func (g *RedisGroup) barrierKey(gen int) string {
	return fmt.Sprintf("%s:barrier:%d", g.prefix, gen)
}

func (g *RedisGroup) linkKey(tag string, src, dst int) string {
	return fmt.Sprintf("%s:%s:%d:%d", g.prefix, tag, src, dst)
}

func (g *RedisGroup) push(ctx context.Context, key string, frame []byte) error {
	if err := g.store.Push(ctx, key, frame); err != nil {
		return fmt.Errorf("%w: push %s: %w", ErrTransport, key, err)
	}
	if err := g.store.Expire(ctx, key, keyTTL); err != nil {
		return fmt.Errorf("%w: expire %s: %w", ErrTransport, key, err)
	}
	return nil
}

func (g *RedisGroup) pop(ctx context.Context, key string) ([]byte, error) {
	frame, ok, err := g.store.BlockingPop(ctx, key, g.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: pop %s: %w", ErrTransport, key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: no message on %s within %s", ErrTransport, key, g.timeout)
	}
	return frame, nil
}
