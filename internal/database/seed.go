package database

import (
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/avasilev/pagecourier/internal/models"
)

const devUserID int64 = 10001

// SeedDevData populates the database with development test data.
// Idempotent: skips if data already exists.
func SeedDevData(db *gorm.DB) error {
	var existing models.User
	if err := db.First(&existing, devUserID).Error; err == nil {
		log.Println("Seed data already exists, skipping")
		return nil
	}

	user := models.User{
		ID:          devUserID,
		Username:    "dev_reader",
		JoinedAt:    time.Now(),
		CurrentPage: 1,
		Level:       1,
	}
	if err := db.Create(&user).Error; err != nil {
		return err
	}

	settings := models.UserSettings{
		UserID:               devUserID,
		PagesPerSend:         3,
		ScheduleTime:         "07:00",
		IntervalHours:        6,
		AutoSendEnabled:      true,
		ImageQuality:         85,
		NotificationsEnabled: true,
	}
	if err := db.Create(&settings).Error; err != nil {
		return err
	}

	log.Println("Seeded dev data: 1 user, 1 settings row")
	return nil
}
