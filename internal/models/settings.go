package models

import "time"

// ScheduleDisabled is the sentinel schedule_time value for users who receive
// pages on an hourly interval instead of at a fixed time of day.
const ScheduleDisabled = "disabled"

// UserSettings holds one user's delivery preferences. Rows are created
// lazily with global defaults on first access and are only ever mutated
// through the validated update path in the settings store.
type UserSettings struct {
	UserID int64 `gorm:"primaryKey"`

	PagesPerSend         int    `gorm:"not null;default:3"`
	ScheduleTime         string `gorm:"not null;default:'disabled'"` // "HH:MM" or "disabled"
	IntervalHours        int    `gorm:"not null;default:6"`
	AutoSendEnabled      bool   `gorm:"not null;default:true"`
	ImageQuality         int    `gorm:"not null;default:85"`
	NotificationsEnabled bool   `gorm:"not null;default:true"`

	CreatedAt   time.Time
	LastUpdated time.Time `gorm:"autoUpdateTime"`
}

// DailySchedule reports whether the user gets one delivery per day at a
// fixed HH:MM instant rather than on a rolling interval.
func (s *UserSettings) DailySchedule() bool {
	return s.ScheduleTime != "" && s.ScheduleTime != ScheduleDisabled
}
