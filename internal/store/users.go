// Package store owns the durable per-user state: the reading record with its
// cursor and gamification counters, and the per-user delivery settings. All
// mutation goes through the narrow operation set here; nothing else writes
// these tables.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/avasilev/pagecourier/internal/gamification"
	"github.com/avasilev/pagecourier/internal/models"
)

// Users is the user record store. Operations for different users run in
// parallel; operations for the same user are serialized by a per-user mutex,
// so a cursor advance is atomic relative to other advances for that id.
type Users struct {
	db            *gorm.DB
	locks         *userLocks
	catalog       *gamification.Catalog
	pointsPerPage int
	logger        *slog.Logger
	now           func() time.Time
}

// NewUsers creates the user record store. pointsPerPage is the fixed award
// for one confirmed page; the achievement point values come from the catalog.
func NewUsers(db *gorm.DB, catalog *gamification.Catalog, pointsPerPage int, logger *slog.Logger) *Users {
	return &Users{
		db:            db,
		locks:         newUserLocks(),
		catalog:       catalog,
		pointsPerPage: pointsPerPage,
		logger:        logger,
		now:           time.Now,
	}
}

// ReadResult is the outcome of one confirmed page read.
type ReadResult struct {
	PointsEarned    int
	NewAchievements []gamification.Achievement
	LevelUp         bool
	NewLevel        int
	CurrentStreak   int
	PagesRead       int
}

// Get returns the record for id, or ErrUserNotFound.
func (s *Users) Get(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to fetch user %d: %w", id, err)
	}
	return &user, nil
}

// GetOrCreate returns the existing record for id or creates one with the
// cursor at page 1 and all counters zeroed. Safe to call concurrently for
// the same id; the duplicate-id check runs under the per-user lock.
func (s *Users) GetOrCreate(ctx context.Context, id int64, username string) (*models.User, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	user, err := s.Get(ctx, id)
	if err == nil {
		// Username is advisory only; refresh it when it changed.
		if username != "" && username != user.Username {
			if err := s.db.WithContext(ctx).Model(user).Update("username", username).Error; err != nil {
				return nil, fmt.Errorf("failed to update username for user %d: %w", id, err)
			}
			user.Username = username
		}
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	user = &models.User{
		ID:          id,
		Username:    username,
		JoinedAt:    s.now(),
		CurrentPage: 1,
		Level:       1,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user %d: %w", id, err)
	}
	s.logger.Info("Created user record", "user_id", id, "username", username)
	return user, nil
}

// SetDocument replaces the user's document, resets the cursor to page 1 and
// overwrites the cached page count. This is the only operation allowed to
// move the cursor backward implicitly.
func (s *Users) SetDocument(ctx context.Context, id int64, path string, totalPages int) error {
	unlock := s.locks.lock(id)
	defer unlock()

	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"document_path": path,
		"current_page":  1,
		"total_pages":   totalPages,
	}
	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to set document for user %d: %w", id, err)
	}
	s.logger.Info("Document assigned", "user_id", id, "path", path, "total_pages", totalPages)
	return nil
}

// AdvanceCursor adds delta to the cursor and returns the new value.
func (s *Users) AdvanceCursor(ctx context.Context, id int64, delta int) (int, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	user, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}

	newPage := user.CurrentPage + delta
	if err := s.db.WithContext(ctx).Model(user).Update("current_page", newPage).Error; err != nil {
		return 0, fmt.Errorf("failed to advance cursor for user %d: %w", id, err)
	}
	return newPage, nil
}

// SetCursor is the absolute jump used by "go to page". Business validation
// (1 <= page <= total) happens at the call site; this only persists.
func (s *Users) SetCursor(ctx context.Context, id int64, page int) error {
	unlock := s.locks.lock(id)
	defer unlock()

	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(user).Update("current_page", page).Error; err != nil {
		return fmt.Errorf("failed to set cursor for user %d: %w", id, err)
	}
	return nil
}

// RecordDelivery sets the last-delivery timestamp.
func (s *Users) RecordDelivery(ctx context.Context, id int64, at time.Time) error {
	unlock := s.locks.lock(id)
	defer unlock()

	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("last_sent_at", at)
	if res.Error != nil {
		return fmt.Errorf("failed to record delivery for user %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// MarkPageRead counts one explicitly confirmed page: it increments the read
// counter, updates the streak by calendar-date comparison, awards the
// per-page points, recomputes the level and evaluates the achievement
// catalog. Unlocks are written in the same transaction as the counter
// update, so concurrent evaluations cannot double-award an achievement.
//
// Calling this twice legitimately counts two pages; callers must not call it
// twice for the same physical page.
func (s *Users) MarkPageRead(ctx context.Context, id int64) (*ReadResult, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	now := s.now()
	result := &ReadResult{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("failed to fetch user %d: %w", id, err)
		}

		user.PagesRead++

		// Streak by calendar date: same day is a no-op, the previous day
		// extends the streak, any other gap resets it to 1.
		today := dateOf(now)
		switch {
		case user.LastReadDate != nil && sameDate(*user.LastReadDate, today):
			// already counted today
		case user.LastReadDate != nil && sameDate(*user.LastReadDate, dateOf(now.AddDate(0, 0, -1))):
			user.CurrentStreak++
			user.LastReadDate = &today
			user.PagesReadToday = 0
		default:
			user.CurrentStreak = 1
			user.LastReadDate = &today
			user.PagesReadToday = 0
		}
		if user.CurrentStreak > user.LongestStreak {
			user.LongestStreak = user.CurrentStreak
		}
		user.PagesReadToday++

		oldLevel := user.Level
		points := s.pointsPerPage

		held, err := heldAchievements(tx, id)
		if err != nil {
			return err
		}
		unlocked := s.catalog.Evaluate(gamification.Input{
			PagesRead:     user.PagesRead,
			CurrentStreak: user.CurrentStreak,
			SessionPages:  user.PagesReadToday,
			Now:           now,
		}, held)

		for _, a := range unlocked {
			if err := tx.Create(&models.UserAchievement{
				UserID:        id,
				AchievementID: a.ID,
				UnlockedAt:    now,
			}).Error; err != nil {
				return fmt.Errorf("failed to unlock achievement %s for user %d: %w", a.ID, id, err)
			}
			points += a.Points
		}

		user.TotalPoints += points
		user.Experience += points
		user.Level = levelFor(user.Experience)

		if err := tx.Save(&user).Error; err != nil {
			return fmt.Errorf("failed to save user %d: %w", id, err)
		}

		result.PointsEarned = points
		result.NewAchievements = unlocked
		result.LevelUp = user.Level > oldLevel
		result.NewLevel = user.Level
		result.CurrentStreak = user.CurrentStreak
		result.PagesRead = user.PagesRead
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(result.NewAchievements) > 0 {
		ids := make([]string, len(result.NewAchievements))
		for i, a := range result.NewAchievements {
			ids[i] = a.ID
		}
		s.logger.Info("Achievements unlocked", "user_id", id, "achievements", ids)
	}
	return result, nil
}

// CompleteBook increments the completed-book counter and unlocks the
// book_complete achievement. The unlock (and its points) happens at most
// once; repeat completions only bump the counter.
func (s *Users) CompleteBook(ctx context.Context, id int64) (*ReadResult, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	now := s.now()
	result := &ReadResult{}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("failed to fetch user %d: %w", id, err)
		}

		user.BooksCompleted++

		held, err := heldAchievements(tx, id)
		if err != nil {
			return err
		}
		if !held["book_complete"] {
			if a, ok := s.catalog.Get("book_complete"); ok {
				if err := tx.Create(&models.UserAchievement{
					UserID:        id,
					AchievementID: a.ID,
					UnlockedAt:    now,
				}).Error; err != nil {
					return fmt.Errorf("failed to unlock achievement %s for user %d: %w", a.ID, id, err)
				}
				oldLevel := user.Level
				user.TotalPoints += a.Points
				user.Experience += a.Points
				user.Level = levelFor(user.Experience)

				result.PointsEarned = a.Points
				result.NewAchievements = []gamification.Achievement{a}
				result.LevelUp = user.Level > oldLevel
			}
		}
		result.NewLevel = user.Level

		if err := tx.Save(&user).Error; err != nil {
			return fmt.Errorf("failed to save user %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Book completed", "user_id", id)
	return result, nil
}

// List returns every user record.
func (s *Users) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// LogDelivery appends one delivery audit row. Best-effort by contract: the
// caller logs and ignores the error, since the cursor has already advanced.
func (s *Users) LogDelivery(ctx context.Context, deliveryID string, userID int64, trigger string, pages []int) error {
	payload, err := json.Marshal(pages)
	if err != nil {
		return fmt.Errorf("failed to marshal pages: %w", err)
	}
	entry := models.DeliveryLog{
		DeliveryID: deliveryID,
		UserID:     userID,
		Trigger:    trigger,
		Pages:      datatypes.JSON(payload),
		PageCount:  len(pages),
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to log delivery: %w", err)
	}
	return nil
}

// LeaderboardEntry is one row of the points leaderboard.
type LeaderboardEntry struct {
	Rank           int    `json:"rank"`
	UserID         int64  `json:"user_id"`
	Username       string `json:"username"`
	TotalPoints    int    `json:"total_points"`
	Level          int    `json:"level"`
	PagesRead      int    `json:"pages_read"`
	BooksCompleted int    `json:"books_completed"`
}

// Leaderboard returns the top users by total points.
func (s *Users) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).
		Order("total_points DESC").
		Limit(limit).
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}

	entries := make([]LeaderboardEntry, len(users))
	for i, u := range users {
		entries[i] = LeaderboardEntry{
			Rank:           i + 1,
			UserID:         u.ID,
			Username:       u.Username,
			TotalPoints:    u.TotalPoints,
			Level:          u.Level,
			PagesRead:      u.PagesRead,
			BooksCompleted: u.BooksCompleted,
		}
	}
	return entries, nil
}

// UserStats is the full gamification summary for one user.
type UserStats struct {
	TotalPoints   int                        `json:"total_points"`
	Experience    int                        `json:"experience"`
	Level         int                        `json:"level"`
	NextLevelExp  int                        `json:"next_level_exp"`
	PagesRead     int                        `json:"pages_read"`
	BooksComplete int                        `json:"books_completed"`
	CurrentStreak int                        `json:"current_streak"`
	LongestStreak int                        `json:"longest_streak"`
	Achievements  []gamification.Achievement `json:"achievements"`
}

// Stats returns the gamification summary for id.
func (s *Users) Stats(ctx context.Context, id int64) (*UserStats, error) {
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var rows []models.UserAchievement
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", id).
		Order("unlocked_at").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch achievements for user %d: %w", id, err)
	}

	achievements := make([]gamification.Achievement, 0, len(rows))
	for _, row := range rows {
		if a, ok := s.catalog.Get(row.AchievementID); ok {
			achievements = append(achievements, a)
		}
	}

	return &UserStats{
		TotalPoints:   user.TotalPoints,
		Experience:    user.Experience,
		Level:         user.Level,
		NextLevelExp:  user.Level*100 - user.Experience,
		PagesRead:     user.PagesRead,
		BooksComplete: user.BooksCompleted,
		CurrentStreak: user.CurrentStreak,
		LongestStreak: user.LongestStreak,
		Achievements:  achievements,
	}, nil
}

// Count returns the number of registered users.
func (s *Users) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// DeliveriesSince counts delivery-log rows newer than t.
func (s *Users) DeliveriesSince(ctx context.Context, t time.Time) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).
		Model(&models.DeliveryLog{}).
		Where("created_at >= ?", t).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count deliveries: %w", err)
	}
	return n, nil
}

func heldAchievements(tx *gorm.DB, userID int64) (map[string]bool, error) {
	var rows []models.UserAchievement
	if err := tx.Where("user_id = ?", userID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch achievements for user %d: %w", userID, err)
	}
	held := make(map[string]bool, len(rows))
	for _, row := range rows {
		held[row.AchievementID] = true
	}
	return held, nil
}

func levelFor(experience int) int {
	return experience/100 + 1
}

func dateOf(t time.Time) datatypes.Date {
	y, m, d := t.Date()
	return datatypes.Date(time.Date(y, m, d, 0, 0, 0, 0, t.Location()))
}

func sameDate(a, b datatypes.Date) bool {
	return time.Time(a).Format("2006-01-02") == time.Time(b).Format("2006-01-02")
}
