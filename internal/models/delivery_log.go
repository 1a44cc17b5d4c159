package models

import (
	"time"

	"gorm.io/datatypes"
)

// Delivery trigger constants
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// DeliveryLog records one successful delivery: which pages went out, what
// triggered it and when. Written best-effort after the cursor advance; it is
// an audit trail, not part of the cursor's source of truth.
type DeliveryLog struct {
	ID         uint   `gorm:"primaryKey"`
	DeliveryID string `gorm:"not null;index"`
	UserID     int64  `gorm:"not null;index"`
	Trigger    string `gorm:"not null"`
	Pages      datatypes.JSON
	PageCount  int `gorm:"not null;default:0"`
	CreatedAt  time.Time
}
