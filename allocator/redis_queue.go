package allocator

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue with Redis lists: LPUSH/RPUSH for enqueue,
// RPOP for FIFO dequeue. Normal arrivals push at the left (LPUSH) and drain
// oldest-first from the right (RPOP). An urgent arrival pushes at the right
// (RPUSH) instead, landing next to the pop end and jumping ahead of
// everything already queued, including earlier urgent items: among urgent
// items the most recently pushed one is popped first.
type RedisQueue struct {
	Client *redis.Client
	Prefix string
}

// NewRedisQueue constructs a RedisQueue. prefix namespaces keys, e.g.
// "yawl:queue:".
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "yawl:queue:"
	}
	return &RedisQueue{Client: client, Prefix: prefix}
}

// Push implements Queue. Normal arrivals go in at the left with LPUSH, so
// RPop drains oldest-first. An urgent arrival goes in at the right with
// RPUSH instead, landing next to the pop end and jumping the line ahead of
// everything already queued.
func (q *RedisQueue) Push(ctx context.Context, key, itemID string, front bool) error {
	k := q.Prefix + key
	if front {
		return q.Client.RPush(ctx, k, itemID).Err()
	}
	return q.Client.LPush(ctx, k, itemID).Err()
}

// Pop implements Queue, popping the oldest non-urgent arrival (or the
// most recently pushed urgent one) from the right end of the list.
func (q *RedisQueue) Pop(ctx context.Context, key string) (string, bool, error) {
	k := q.Prefix + key
	val, err := q.Client.RPop(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
