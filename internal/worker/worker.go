// Package worker runs the background side of the bot: the periodic tick
// that evaluates every user for a scheduled delivery, and the maintenance
// cleanup of rendered images and orphaned uploads.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/avasilev/pagecourier/internal/cleanup"
	"github.com/avasilev/pagecourier/internal/config"
	"github.com/avasilev/pagecourier/internal/delivery"
)

// Task type constants
const (
	TaskEvaluateDeliveries = "delivery:evaluate"
	TaskCleanup            = "maintenance:cleanup"
)

const orphanedUploadMaxAge = 24 * time.Hour

// asynqLoggerAdapter exposes a slog.Logger through the asynq.Logger interface.
type asynqLoggerAdapter struct {
	logger *slog.Logger
}

func (a *asynqLoggerAdapter) Debug(args ...interface{}) { a.logger.Debug(fmt.Sprint(args...)) }
func (a *asynqLoggerAdapter) Info(args ...interface{})  { a.logger.Info(fmt.Sprint(args...)) }
func (a *asynqLoggerAdapter) Warn(args ...interface{})  { a.logger.Warn(fmt.Sprint(args...)) }
func (a *asynqLoggerAdapter) Error(args ...interface{}) { a.logger.Error(fmt.Sprint(args...)) }
func (a *asynqLoggerAdapter) Fatal(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
	panic(fmt.Sprint(args...))
}

// Start starts the worker server in non-blocking mode and returns a stop
// function so the caller can coordinate shutdown with the rest of the
// process.
func Start(cfg *config.Config, engine *delivery.Engine, cleaner *cleanup.Manager, logger *slog.Logger) (stop func(), err error) {
	srv, mux, err := newServer(cfg, engine, cleaner, logger)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return func() { srv.Shutdown() }, nil
}

func newServer(cfg *config.Config, engine *delivery.Engine, cleaner *cleanup.Manager, logger *slog.Logger) (*asynq.Server, *asynq.ServeMux, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:     2,
			ShutdownTimeout: 30 * time.Second,
			ErrorHandler:    asynq.ErrorHandlerFunc(makeErrorHandler(logger)),
			Logger:          &asynqLoggerAdapter{logger: logger},
		},
	)

	// Dedicated redis client for the tick guard, separate from the asynq
	// internal connection.
	guard, err := newTickGuard(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create tick guard client: %w", err)
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskEvaluateDeliveries, handleEvaluateDeliveries(logger, engine, guard))
	mux.HandleFunc(TaskCleanup, handleCleanup(logger, cleaner))

	logger.Info("Worker starting", "redis", cfg.RedisURL)
	return srv, mux, nil
}

// handleEvaluateDeliveries runs one scheduler tick. A redis guard keyed by
// the current minute makes the tick idempotent when the task fires twice
// (scheduler restart, retry): the second run is a no-op.
func handleEvaluateDeliveries(logger *slog.Logger, engine *delivery.Engine, guard *tickGuard) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		acquired, err := guard.acquire(ctx)
		if err != nil {
			logger.Warn("Tick guard unavailable, running anyway", "error", err.Error())
		} else if !acquired {
			logger.Debug("Tick already handled this minute, skipping")
			return nil
		}

		delivered, err := engine.EvaluateAllUsers(ctx)
		if err != nil {
			// Listing candidates failed; retryable.
			return fmt.Errorf("evaluation tick failed: %w", err)
		}
		if delivered > 0 {
			logger.Info("Scheduled deliveries sent", "count", delivered)
		}
		return nil
	}
}

// handleCleanup removes expired rendered images and stale uploads.
func handleCleanup(logger *slog.Logger, cleaner *cleanup.Manager) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		images, imgErr := cleaner.CleanImages()
		if imgErr != nil {
			logger.Error("Image cleanup failed", "error", imgErr.Error())
		}
		uploads, upErr := cleaner.CleanOrphanedUploads(orphanedUploadMaxAge)
		if upErr != nil {
			logger.Error("Upload cleanup failed", "error", upErr.Error())
		}
		if imgErr != nil && upErr != nil {
			// Both walks failed; a retry hits the same filesystem state.
			return fmt.Errorf("cleanup failed: %v: %w", imgErr, asynq.SkipRetry)
		}

		usage := cleaner.StorageUsage()
		logger.Info("Cleanup task complete",
			"images_deleted", images,
			"uploads_deleted", uploads,
			"storage_used", cleanup.FormatSize(usage.TotalBytes),
		)
		return nil
	}
}

// makeErrorHandler creates an error handler function with logger closure.
func makeErrorHandler(logger *slog.Logger) func(context.Context, *asynq.Task, error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)

		logger.Error(
			"Task execution failed",
			"task_type", task.Type(),
			"error", err.Error(),
			"retry_count", retried,
			"max_retry", maxRetry,
		)

		if retried >= maxRetry {
			logger.Error(
				"Task moved to dead letter queue (all retries exhausted)",
				"task_type", task.Type(),
			)
		}
	}
}

// tickGuard dedupes evaluation ticks across scheduler restarts.
type tickGuard struct {
	rdb *redis.Client
}

func newTickGuard(redisURL string) (*tickGuard, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &tickGuard{rdb: redis.NewClient(opts)}, nil
}

// acquire claims the current minute. Returns false when another tick
// already ran in this minute.
func (g *tickGuard) acquire(ctx context.Context) (bool, error) {
	key := fmt.Sprintf("pagecourier:tick:%s", time.Now().UTC().Format("200601021504"))
	return g.rdb.SetNX(ctx, key, 1, 2*time.Minute).Result()
}
