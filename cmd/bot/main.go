package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/avasilev/pagecourier/internal/admin"
	"github.com/avasilev/pagecourier/internal/bot"
	"github.com/avasilev/pagecourier/internal/cleanup"
	"github.com/avasilev/pagecourier/internal/config"
	"github.com/avasilev/pagecourier/internal/database"
	"github.com/avasilev/pagecourier/internal/delivery"
	"github.com/avasilev/pagecourier/internal/docstore"
	"github.com/avasilev/pagecourier/internal/events"
	"github.com/avasilev/pagecourier/internal/gamification"
	"github.com/avasilev/pagecourier/internal/logging"
	"github.com/avasilev/pagecourier/internal/notify"
	"github.com/avasilev/pagecourier/internal/ratelimit"
	"github.com/avasilev/pagecourier/internal/store"
	"github.com/avasilev/pagecourier/internal/worker"
)

const (
	commandRateLimit  = 10
	commandRateWindow = time.Minute
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting pagecourier", "env", cfg.Env)

	db, err := database.Init(cfg.DatabaseURL)
	if err != nil {
		logger.Error("Database init failed", "error", err.Error())
		os.Exit(1)
	}
	defer database.Close(db)

	if err := database.RunMigrations(db); err != nil {
		logger.Error("Migrations failed", "error", err.Error())
		os.Exit(1)
	}
	if cfg.Env == "development" {
		if err := database.SeedDevData(db); err != nil {
			logger.Warn("Dev seed failed", "error", err.Error())
		}
	}

	catalog, err := gamification.LoadCatalog()
	if err != nil {
		logger.Error("Achievement catalog load failed", "error", err.Error())
		os.Exit(1)
	}

	users := store.NewUsers(db, catalog, cfg.PointsPerPage, logger)
	settings := store.NewSettings(db, store.SettingsDefaults{
		PagesPerSend:  cfg.DefaultPagesPerSend,
		ScheduleTime:  cfg.DefaultScheduleTime,
		IntervalHours: cfg.DefaultIntervalHours,
		ImageQuality:  cfg.DefaultImageQuality,
	}, logger)

	for _, dir := range []string{cfg.OutputDir, cfg.UploadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("Failed to create data directory", "dir", dir, "error", err.Error())
			os.Exit(1)
		}
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.BotToken,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		logger.Error("Bot init failed", "error", err.Error())
		os.Exit(1)
	}

	renderer := docstore.NewRenderer(cfg.OutputDir)
	validator := docstore.NewValidator(cfg.MaxFileSizeBytes())
	notifier := notify.NewTelegram(b, false, logger)
	cleaner := cleanup.NewManager(cfg.OutputDir, cfg.UploadDir, cfg.ImageRetentionDays, logger)

	publisher, err := events.NewPublisher(cfg.RedisURL)
	if err != nil {
		logger.Warn("Event publisher unavailable, continuing without events", "error", err.Error())
		publisher = nil
	} else {
		defer publisher.Close()
	}

	limiter, err := ratelimit.New(cfg.RedisURL, commandRateLimit, commandRateWindow, logger)
	if err != nil {
		logger.Warn("Rate limiter unavailable, continuing without limits", "error", err.Error())
		limiter = nil
	}

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("Invalid timezone, using UTC", "timezone", cfg.Timezone)
		location = time.UTC
	}

	engine := delivery.NewEngine(users, settings, renderer, notifier, publisher, location, logger)

	stopWorker, err := worker.Start(cfg, engine, cleaner, logger)
	if err != nil {
		logger.Error("Worker start failed", "error", err.Error())
		os.Exit(1)
	}
	defer stopWorker()

	stopScheduler, err := worker.StartScheduler(cfg, logger)
	if err != nil {
		logger.Error("Scheduler start failed", "error", err.Error())
		os.Exit(1)
	}
	defer stopScheduler()

	adminSrv := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: admin.New(users, cleaner, logger).Router(cfg.Env),
	}
	go func() {
		logger.Info("Admin server listening", "addr", cfg.AdminAddr)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin server failed", "error", err.Error())
		}
	}()

	handlers := bot.New(b, engine, users, settings, renderer, notifier, validator, limiter, cfg, logger)
	handlers.Register()

	go func() {
		logger.Info("Bot polling started")
		b.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("Shutting down", "signal", sig.String())

	b.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin shutdown failed", "error", err.Error())
	}
	logger.Info("Shutdown complete")
}
