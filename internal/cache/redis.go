package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"fintrack/internal/core"
)

// RedisStatsCache shares statistics across instances. Every entry is its own
// key carrying the user's generation, so invalidation is a single INCR and a
// stale fill lands on a key nobody reads again.
type RedisStatsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ StatsCache = (*RedisStatsCache)(nil)

// NewRedisStatsCache connects and pings the server at addr.
func NewRedisStatsCache(ctx context.Context, addr string, ttl time.Duration) (*RedisStatsCache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}

	slog.Info("Connected to Redis", "addr", addr)
	return &RedisStatsCache{rdb: rdb, ttl: ttl}, nil
}

// generationKey never expires; letting it lapse would reuse old generations.
func generationKey(userID string) string {
	return "fintrack:stats:gen:" + userID
}

func entryKey(userID string, gen uint64, key string) string {
	return "fintrack:stats:" + userID + ":" + strconv.FormatUint(gen, 10) + ":" + key
}

func (c *RedisStatsCache) Generation(ctx context.Context, userID string) (uint64, bool) {
	gen, err := c.rdb.Get(ctx, generationKey(userID)).Uint64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, true
	case err != nil:
		slog.WarnContext(ctx, "Redis stats generation lookup failed", "user_id", userID, "error", err)
		return 0, false
	}
	return gen, true
}

func (c *RedisStatsCache) GetStats(ctx context.Context, userID string, gen uint64, key string) (core.MonthlyStatistics, bool) {
	raw, err := c.rdb.Get(ctx, entryKey(userID, gen, key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.WarnContext(ctx, "Redis stats lookup failed", "user_id", userID, "error", err)
		}
		return core.MonthlyStatistics{}, false
	}

	var stats core.MonthlyStatistics
	if err := json.Unmarshal(raw, &stats); err != nil {
		slog.WarnContext(ctx, "Discarding corrupt stats entry", "user_id", userID, "key", key, "error", err)
		return core.MonthlyStatistics{}, false
	}
	return stats, true
}

// SetStats writes the entry only while gen is still current. The check and the
// write run under WATCH so an InvalidateUser in between aborts the fill.
func (c *RedisStatsCache) SetStats(ctx context.Context, userID string, gen uint64, key string, stats core.MonthlyStatistics) {
	raw, err := json.Marshal(stats)
	if err != nil {
		slog.WarnContext(ctx, "Failed to encode stats for cache", "error", err)
		return
	}

	genKey := generationKey(userID)
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, entryKey(userID, gen, key), raw, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		slog.WarnContext(ctx, "Redis stats write failed", "user_id", userID, "error", err)
	}
}

// InvalidateUser bumps the generation; entries of older generations expire on their own.
func (c *RedisStatsCache) InvalidateUser(ctx context.Context, userID string) {
	if err := c.rdb.Incr(ctx, generationKey(userID)).Err(); err != nil {
		slog.WarnContext(ctx, "Redis stats invalidation failed", "user_id", userID, "error", err)
	}
}

func (c *RedisStatsCache) Close() error {
	return c.rdb.Close()
}
