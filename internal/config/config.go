package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment variables
type Config struct {
	BotToken    string
	DatabaseURL string
	RedisURL    string

	OutputDir string
	UploadDir string

	// Per-user defaults, copied into a user's settings row on first access
	// and never read again for that user afterwards.
	DefaultPagesPerSend  int
	DefaultScheduleTime  string // "HH:MM" or "disabled"
	DefaultIntervalHours int
	DefaultImageQuality  int

	PointsPerPage int

	MaxFileSizeMB      int
	ImageRetentionDays int

	// Cron specs for the periodic worker tasks.
	EvaluateSchedule string
	CleanupSchedule  string

	AdminAddr string
	Timezone  string
	LogLevel  string
	LogFormat string
	Env       string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is honored when present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env file")
	}

	return &Config{
		BotToken:    os.Getenv("BOT_TOKEN"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnvWithDefault("REDIS_URL", "redis://localhost:6379/0"),

		OutputDir: getEnvWithDefault("OUTPUT_DIR", "output"),
		UploadDir: getEnvWithDefault("UPLOAD_DIR", "uploads"),

		DefaultPagesPerSend:  getEnvInt("PAGES_PER_SEND", 3),
		DefaultScheduleTime:  getEnvWithDefault("SCHEDULE_TIME", "disabled"),
		DefaultIntervalHours: getEnvInt("INTERVAL_HOURS", 6),
		DefaultImageQuality:  getEnvInt("IMAGE_QUALITY", 85),

		PointsPerPage: getEnvInt("POINTS_PER_PAGE", 5),

		MaxFileSizeMB:      getEnvInt("MAX_FILE_SIZE_MB", 50),
		ImageRetentionDays: getEnvInt("IMAGE_RETENTION_DAYS", 7),

		EvaluateSchedule: getEnvWithDefault("EVALUATE_SCHEDULE", "* * * * *"),
		CleanupSchedule:  getEnvWithDefault("CLEANUP_SCHEDULE", "0 3 * * *"),

		AdminAddr: getEnvWithDefault("ADMIN_ADDR", ":8080"),
		Timezone:  getEnvWithDefault("TIMEZONE", "UTC"),
		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "text"),
		Env:       getEnvWithDefault("ENV", "development"),
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN environment variable is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}
	return nil
}

// MaxFileSizeBytes returns the upload size limit in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("WARNING: invalid integer for %s=%q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}
