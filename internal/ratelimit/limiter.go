// Package ratelimit bounds how fast a single user can drive the command
// surface. The counter lives in redis so the limit survives restarts and is
// shared across replicas.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter allows up to limit commands per user per window.
type Limiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
	logger *slog.Logger
}

// New creates a limiter from a redis URL.
func New(redisURL string, limit int, window time.Duration, logger *slog.Logger) (*Limiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return &Limiter{
		rdb:    redis.NewClient(opts),
		limit:  int64(limit),
		window: window,
		logger: logger,
	}, nil
}

// Allow reports whether userID may run another command right now.
// Fails open: if redis is unreachable the command goes through, since
// dropping user commands is worse than briefly losing the limit.
func (l *Limiter) Allow(ctx context.Context, userID int64) bool {
	bucket := time.Now().Unix() / int64(l.window.Seconds())
	key := fmt.Sprintf("pagecourier:ratelimit:%d:%d", userID, bucket)

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("Rate limiter unavailable, allowing request", "error", err.Error())
		return true
	}
	if count == 1 {
		l.rdb.Expire(ctx, key, l.window)
	}
	return count <= l.limit
}

// Close closes the underlying redis connection.
func (l *Limiter) Close() error {
	return l.rdb.Close()
}
