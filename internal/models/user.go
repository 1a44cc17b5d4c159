package models

import (
	"time"

	"gorm.io/datatypes"
)

// ReadingState classifies where a user is in their current book. It is
// derived from the document reference and cursor rather than stored, so every
// consumer agrees on the same classification.
type ReadingState int

const (
	// StateNoDocument means the user has not uploaded a readable document yet.
	StateNoDocument ReadingState = iota
	// StateInProgress means the cursor still points inside the document.
	StateInProgress
	// StateFinished means the cursor has moved past the last page.
	StateFinished
)

func (s ReadingState) String() string {
	switch s {
	case StateNoDocument:
		return "no_document"
	case StateInProgress:
		return "in_progress"
	case StateFinished:
		return "finished"
	}
	return "unknown"
}

// User is one chat user's durable reading record. The primary key is the
// stable numeric chat user id, never the username.
type User struct {
	ID       int64  `gorm:"primaryKey"`
	Username string `gorm:"not null;default:''"`
	JoinedAt time.Time

	// Reading cursor. CurrentPage is 1-based; a value past TotalPages means
	// the book is finished.
	DocumentPath string `gorm:"not null;default:''"`
	CurrentPage  int    `gorm:"not null;default:1"`
	TotalPages   int    `gorm:"not null;default:0"`
	LastSentAt   *time.Time

	// Gamification counters. PagesRead counts pages explicitly confirmed
	// read, which is distinct from the delivery cursor.
	TotalPoints    int `gorm:"not null;default:0"`
	Experience     int `gorm:"not null;default:0"`
	Level          int `gorm:"not null;default:1"`
	PagesRead      int `gorm:"not null;default:0"`
	CurrentStreak  int `gorm:"not null;default:0"`
	LongestStreak  int `gorm:"not null;default:0"`
	LastReadDate   *datatypes.Date
	PagesReadToday int `gorm:"not null;default:0"`
	BooksCompleted int `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Achievements []UserAchievement `gorm:"constraint:OnDelete:CASCADE;"`
}

// State derives the reading state from the record.
func (u *User) State() ReadingState {
	if u.DocumentPath == "" || u.TotalPages <= 0 {
		return StateNoDocument
	}
	if u.CurrentPage > u.TotalPages {
		return StateFinished
	}
	return StateInProgress
}

// Progress returns reading progress as a percentage in [0, 100].
func (u *User) Progress() float64 {
	if u.TotalPages <= 0 {
		return 0
	}
	p := float64(u.CurrentPage-1) / float64(u.TotalPages) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// UserAchievement records one unlocked achievement for one user. The
// composite primary key is what makes unlocking idempotent at the storage
// level: inserting the same (user, achievement) pair twice is a conflict.
type UserAchievement struct {
	UserID        int64  `gorm:"primaryKey;autoIncrement:false"`
	AchievementID string `gorm:"primaryKey"`
	UnlockedAt    time.Time
}
