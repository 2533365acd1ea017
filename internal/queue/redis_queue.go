package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "queues:"

// RedisQueue stores jobs in Redis lists, one list per queue, with a sorted
// set per queue holding delayed jobs.
type RedisQueue struct {
	rdb redis.Cmdable
	now func() time.Time
}

// NewRedisQueue creates a Redis-backed Queue.
func NewRedisQueue(rdb redis.Cmdable) *RedisQueue {
	return &RedisQueue{rdb: rdb, now: time.Now}
}

func listKey(queue string) string {
	return keyPrefix + queue
}

func delayedKey(queue string) string {
	return keyPrefix + queue + ":delayed"
}

func (q *RedisQueue) Connection() string {
	return "redis"
}

func (q *RedisQueue) Push(ctx context.Context, queue string, payload []byte) error {
	if err := q.rdb.LPush(ctx, listKey(queue), payload).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", queue, err)
	}
	return nil
}

func (q *RedisQueue) Later(ctx context.Context, queue string, payload []byte, delay time.Duration) error {
	at := q.now().Add(delay).Unix()
	if err := q.rdb.ZAdd(ctx, delayedKey(queue), redis.Z{Score: float64(at), Member: payload}).Err(); err != nil {
		return fmt.Errorf("schedule on %s: %w", queue, err)
	}
	return nil
}

// Size counts ready and delayed jobs.
func (q *RedisQueue) Size(ctx context.Context, queue string) (int64, error) {
	pipe := q.rdb.Pipeline()
	ready := pipe.LLen(ctx, listKey(queue))
	delayed := pipe.ZCard(ctx, delayedKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("size of %s: %w", queue, err)
	}
	return ready.Val() + delayed.Val(), nil
}

func (q *RedisQueue) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	if err := q.migrateDue(ctx, queue); err != nil {
		return nil, err
	}

	res, err := q.rdb.BRPop(ctx, timeout, listKey(queue)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("pop from %s: %w", queue, err)
	}
	// BRPOP returns [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("pop from %s: unexpected reply length %d", queue, len(res))
	}
	return []byte(res[1]), nil
}

// migrateDue moves delayed jobs whose release time has passed onto the ready list.
func (q *RedisQueue) migrateDue(ctx context.Context, queue string) error {
	max := strconv.FormatInt(q.now().Unix(), 10)
	due, err := q.rdb.ZRangeByScore(ctx, delayedKey(queue), &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return fmt.Errorf("read delayed jobs of %s: %w", queue, err)
	}
	for _, job := range due {
		removed, err := q.rdb.ZRem(ctx, delayedKey(queue), job).Result()
		if err != nil {
			return fmt.Errorf("release delayed job on %s: %w", queue, err)
		}
		// Another worker already released it.
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, listKey(queue), job).Err(); err != nil {
			return fmt.Errorf("release delayed job on %s: %w", queue, err)
		}
	}
	return nil
}
