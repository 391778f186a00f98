package reports

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	keyPrefix   = "reports:"
	loadTimeout = 10 * time.Second
)

// Cache is a read-through cache for report results. Redis failures are
// logged and fall through to the loader; they never fail a report.
type Cache struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

func NewCache(rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{rdb: rdb, ttl: ttl, logger: logger}
}

// cached returns the value stored under key, or runs load once for all
// concurrent callers that missed and stores its result. A nil cache just
// runs load.
func cached[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}
	key = keyPrefix + key

	if v, ok := lookup[T](ctx, c, key); ok {
		return v, nil
	}

	// The shared load outlives whichever caller started it; each caller
	// still stops waiting when its own context ends.
	ch := c.group.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		if v, ok := lookup[T](ctx, c, key); ok {
			return v, nil
		}
		fresh, err := load(ctx)
		if err != nil {
			return fresh, err
		}
		c.store(ctx, key, fresh)
		return fresh, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func lookup[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var v T
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("report cache read failed", "error", err, "key", key)
		}
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Warn("report cache entry corrupt", "error", err, "key", key)
		return v, false
	}
	return v, true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("failed to encode report for cache", "error", err, "key", key)
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("report cache write failed", "error", err, "key", key)
	}
}
