package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/lumiscan/lumiscan-api/internal/errors"
)

// RedisRateWindow counts verification failures per (job, source address)
// over a rolling window backed by Redis INCR with a first-write TTL. The
// window is approximate: the whole counter expires at once rather than
// sliding per event, which can under-count but never blocks longer than
// one full window.
type RedisRateWindow struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRateWindow creates a rate window on the given Redis client.
func NewRedisRateWindow(client redis.UniversalClient) *RedisRateWindow {
	return &RedisRateWindow{client: client, prefix: "verify:fail"}
}

func (w *RedisRateWindow) key(jobID, sourceAddr string) string {
	return fmt.Sprintf("%s:%s:%s", w.prefix, jobID, sourceAddr)
}

// Incr bumps the window counter and returns the new count. The TTL is
// attached only when the key is created, so the window starts at the
// first failure and is not extended by later ones.
func (w *RedisRateWindow) Incr(ctx context.Context, jobID, sourceAddr string, window time.Duration) (int, error) {
	key := w.key(jobID, sourceAddr)

	pipe := w.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "increment rate window")
	}
	return int(incr.Val()), nil
}

// Count returns the current window counter without modifying it.
func (w *RedisRateWindow) Count(ctx context.Context, jobID, sourceAddr string) (int, error) {
	count, err := w.client.Get(ctx, w.key(jobID, sourceAddr)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "read rate window")
	}
	return count, nil
}

// Reset clears the window counter. Successful verification is the caller.
func (w *RedisRateWindow) Reset(ctx context.Context, jobID, sourceAddr string) error {
	if err := w.client.Del(ctx, w.key(jobID, sourceAddr)).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "reset rate window")
	}
	return nil
}
