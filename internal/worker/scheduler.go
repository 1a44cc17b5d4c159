package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/avasilev/pagecourier/internal/config"
)

// StartScheduler creates and starts an asynq Scheduler that enqueues the
// periodic evaluation tick and the maintenance cleanup. Returns a stop
// function for graceful shutdown.
func StartScheduler(cfg *config.Config, logger *slog.Logger) (stop func(), err error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("Invalid timezone, using UTC", "timezone", cfg.Timezone, "error", err.Error())
		location = time.UTC
	}

	scheduler := asynq.NewScheduler(
		redisOpt,
		&asynq.SchedulerOpts{
			Location: location,
			LogLevel: asynq.InfoLevel,
			Logger:   &asynqLoggerAdapter{logger: logger},
		},
	)

	evaluateTask := asynq.NewTask(
		TaskEvaluateDeliveries,
		nil, // the handler walks all users itself
		asynq.MaxRetry(1),
		asynq.Timeout(10*time.Minute),
		asynq.Unique(time.Minute), // prevent duplicate if scheduler runs twice
	)
	if _, err := scheduler.Register(cfg.EvaluateSchedule, evaluateTask); err != nil {
		return nil, fmt.Errorf("failed to register evaluation schedule: %w", err)
	}

	cleanupTask := asynq.NewTask(
		TaskCleanup,
		nil,
		asynq.MaxRetry(2),
		asynq.Timeout(10*time.Minute),
		asynq.Retention(24*time.Hour),
		asynq.Unique(time.Hour),
	)
	if _, err := scheduler.Register(cfg.CleanupSchedule, cleanupTask); err != nil {
		return nil, fmt.Errorf("failed to register cleanup schedule: %w", err)
	}

	if err := scheduler.Start(); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.Info(
		"Scheduler started",
		"evaluate_schedule", cfg.EvaluateSchedule,
		"cleanup_schedule", cfg.CleanupSchedule,
		"timezone", cfg.Timezone,
	)

	return func() { scheduler.Shutdown() }, nil
}
