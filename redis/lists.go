package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// The list and counter commands below let a Client carry the message
// traffic of a process group.

func (client *Client) Push(ctx context.Context, key string, value []byte) error {
	return client.client.RPush(ctx, key, value).Err()
}

// BlockingPop waits up to timeout for a value at the head of key. ok is false
// when the timeout elapsed.
func (client *Client) BlockingPop(ctx context.Context, key string, timeout time.Duration) (value []byte, ok bool, err error) {
	result, err := client.client.BLPop(ctx, timeout, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	// result holds the key followed by the value.
	return []byte(result[1]), true, nil
}

func (client *Client) Incr(ctx context.Context, key string) (int64, error) {
	return client.client.Incr(ctx, key).Result()
}

func (client *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return client.client.Expire(ctx, key, ttl).Err()
}
