package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"gorm.io/gorm"

	"github.com/avasilev/pagecourier/internal/models"
)

var scheduleTimeRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// SettingsDefaults are the global fallback values copied into a user's
// settings row on first access. They are never read again for that user.
type SettingsDefaults struct {
	PagesPerSend  int
	ScheduleTime  string
	IntervalHours int
	ImageQuality  int
}

// Settings is the settings resolver: one row per user, created lazily with
// the global defaults, mutated only through the validated Update path.
type Settings struct {
	db       *gorm.DB
	locks    *userLocks
	defaults SettingsDefaults
	logger   *slog.Logger
}

// NewSettings creates the settings resolver.
func NewSettings(db *gorm.DB, defaults SettingsDefaults, logger *slog.Logger) *Settings {
	return &Settings{
		db:       db,
		locks:    newUserLocks(),
		defaults: defaults,
		logger:   logger,
	}
}

// Get returns the settings for id, creating the row with global defaults on
// first access. The duplicate-avoidance requirement is met by running the
// check-then-create under the per-user lock.
func (s *Settings) Get(ctx context.Context, id int64) (*models.UserSettings, error) {
	unlock := s.locks.lock(id)
	defer unlock()
	return s.getLocked(ctx, id)
}

func (s *Settings) getLocked(ctx context.Context, id int64) (*models.UserSettings, error) {
	var settings models.UserSettings
	err := s.db.WithContext(ctx).First(&settings, "user_id = ?", id).Error
	if err == nil {
		return &settings, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to fetch settings for user %d: %w", id, err)
	}

	settings = models.UserSettings{
		UserID:               id,
		PagesPerSend:         s.defaults.PagesPerSend,
		ScheduleTime:         s.defaults.ScheduleTime,
		IntervalHours:        s.defaults.IntervalHours,
		AutoSendEnabled:      true,
		ImageQuality:         s.defaults.ImageQuality,
		NotificationsEnabled: true,
	}
	if err := s.db.WithContext(ctx).Create(&settings).Error; err != nil {
		return nil, fmt.Errorf("failed to create settings for user %d: %w", id, err)
	}
	s.logger.Info("Created default settings", "user_id", id)
	return &settings, nil
}

// Field validators: each checks the candidate value and returns the column
// to write. Unknown fields and out-of-range values are rejected with no
// write performed; that rejection is an expected outcome, not an error.
var settingsValidators = map[string]struct {
	column string
	valid  func(value interface{}) bool
}{
	"pages_per_send": {"pages_per_send", func(v interface{}) bool {
		n, ok := v.(int)
		return ok && n >= 1 && n <= 10
	}},
	"schedule_time": {"schedule_time", func(v interface{}) bool {
		str, ok := v.(string)
		return ok && (str == models.ScheduleDisabled || scheduleTimeRe.MatchString(str))
	}},
	"interval_hours": {"interval_hours", func(v interface{}) bool {
		n, ok := v.(int)
		return ok && n >= 1 && n <= 168
	}},
	"auto_send_enabled": {"auto_send_enabled", func(v interface{}) bool {
		_, ok := v.(bool)
		return ok
	}},
	"image_quality": {"image_quality", func(v interface{}) bool {
		n, ok := v.(int)
		return ok && n >= 1 && n <= 100
	}},
	"notifications_enabled": {"notifications_enabled", func(v interface{}) bool {
		_, ok := v.(bool)
		return ok
	}},
}

// Update validates value against the per-field rule table and persists it.
// Returns false (and writes nothing) when the field is unknown or the value
// is out of bounds. This is the only path by which settings change.
func (s *Settings) Update(ctx context.Context, id int64, field string, value interface{}) (bool, error) {
	rule, known := settingsValidators[field]
	if !known || !rule.valid(value) {
		s.logger.Warn("Rejected settings update", "user_id", id, "field", field, "value", value)
		return false, nil
	}

	unlock := s.locks.lock(id)
	defer unlock()

	// Ensure the row exists so first-time updates behave like get-then-set.
	if _, err := s.getLocked(ctx, id); err != nil {
		return false, err
	}

	if err := s.db.WithContext(ctx).
		Model(&models.UserSettings{}).
		Where("user_id = ?", id).
		Update(rule.column, value).Error; err != nil {
		return false, fmt.Errorf("failed to update %s for user %d: %w", field, id, err)
	}

	s.logger.Info("Settings updated", "user_id", id, "field", field, "value", value)
	return true, nil
}

// ListAutoSendEnabled returns the effective settings of every user who has
// auto-send on. The schedule trigger uses this to skip opted-out users.
func (s *Settings) ListAutoSendEnabled(ctx context.Context) ([]models.UserSettings, error) {
	var rows []models.UserSettings
	if err := s.db.WithContext(ctx).
		Where("auto_send_enabled = ?", true).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list auto-send users: %w", err)
	}
	return rows, nil
}

// Delete removes a user's settings row (explicit account removal only).
func (s *Settings) Delete(ctx context.Context, id int64) error {
	unlock := s.locks.lock(id)
	defer unlock()

	if err := s.db.WithContext(ctx).
		Delete(&models.UserSettings{}, "user_id = ?", id).Error; err != nil {
		return fmt.Errorf("failed to delete settings for user %d: %w", id, err)
	}
	return nil
}
