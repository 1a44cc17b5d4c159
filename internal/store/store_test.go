package store

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/avasilev/pagecourier/internal/gamification"
	"github.com/avasilev/pagecourier/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.UserSettings{},
		&models.UserAchievement{},
		&models.DeliveryLog{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCatalog(t *testing.T) *gamification.Catalog {
	t.Helper()
	c, err := gamification.LoadCatalog()
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}
	return c
}

func newTestUsers(t *testing.T, db *gorm.DB) *Users {
	t.Helper()
	return NewUsers(db, testCatalog(t), 5, testLogger())
}
