package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestGetOrCreate(t *testing.T) {
	db := openTestDB(t)
	users := newTestUsers(t, db)
	ctx := context.Background()

	created, err := users.GetOrCreate(ctx, 42, "reader")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if created.CurrentPage != 1 {
		t.Errorf("expected new user at page 1, got %d", created.CurrentPage)
	}
	if created.Level != 1 {
		t.Errorf("expected new user at level 1, got %d", created.Level)
	}

	again, err := users.GetOrCreate(ctx, 42, "reader")
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if again.ID != created.ID {
		t.Errorf("expected same user back, got %d", again.ID)
	}

	n, err := users.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 user, got %d", n)
	}
}

func TestGetOrCreateRefreshesUsername(t *testing.T) {
	db := openTestDB(t)
	users := newTestUsers(t, db)
	ctx := context.Background()

	if _, err := users.GetOrCreate(ctx, 42, "old_name"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	updated, err := users.GetOrCreate(ctx, 42, "new_name")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if updated.Username != "new_name" {
		t.Errorf("expected username refreshed to new_name, got %s", updated.Username)
	}
}

func TestGetUnknownUser(t *testing.T) {
	db := openTestDB(t)
	users := newTestUsers(t, db)

	if _, err := users.Get(context.Background(), 999); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSetDocumentResetsCursor(t *testing.T) {
	db := openTestDB(t)
	users := newTestUsers(t, db)
	ctx := context.Background()

	if _, err := users.GetOrCreate(ctx, 42, "reader"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if err := users.SetDocument(ctx, 42, "/books/a.pdf", 100); err != nil {
		t.Fatalf("SetDocument failed: %v", err)
	}
	if err := users.SetCursor(ctx, 42, 57); err != nil {
		t.Fatalf("SetCursor failed: %v", err)
	}

	if err := users.SetDocument(ctx, 42, "/books/b.pdf", 30); err != nil {
		t.Fatalf("second SetDocument failed: %v", err)
	}

	user, err := users.Get(ctx, 42)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if user.CurrentPage != 1 {
		t.Errorf("expected cursor reset to 1, got %d", user.CurrentPage)
	}
	if user.TotalPages != 30 {
		t.Errorf("expected total pages 30, got %d", user.TotalPages)
	}
	if user.DocumentPath != "/books/b.pdf" {
		t.Errorf("expected new document path, got %s", user.DocumentPath)
	}
}

func TestAdvanceCursorConcurrent(t *testing.T) {
	db := openTestDB(t)
	users := newTestUsers(t, db)
	ctx := context.Background()

	if _, err := users.GetOrCreate(ctx, 42, "reader"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if err := users.SetDocument(ctx, 42, "/books/a.pdf", 100); err != nil {
		t.Fatalf("SetDocument failed: %v", err)
	}

	// Two simultaneous advances of 3 must both land: 1 -> 4 -> 7.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := users.AdvanceCursor(ctx, 42, 3); err != nil {
				t.Errorf("AdvanceCursor failed: %v", err)
			}
		}()
	}
	wg.Wait()

	user, err := users.Get(ctx, 42)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if user.CurrentPage != 7 {
		t.Errorf("expected cursor at 7 after two advances, got %d", user.CurrentPage)
	}
}

func TestRecordDeliveryUnknownUser(t *testing.T) {
	db := openTestDB(t)
	users := newTestUsers(t, db)

	err := users.RecordDelivery(context.Background(), 999, time.Now())
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestMarkPageReadAwardsPointsAndFirstPage(t *testing.T) {
	db := openTestDB(t)
	users := newTestUsers(t, db)
	ctx := context.Background()
	users.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }

	if _, err := users.GetOrCreate(ctx, 42, "reader"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	result, err := users.MarkPageRead(ctx, 42)
	if err != nil {
		t.Fatalf("MarkPageRead failed: %v", err)
	}

	// 5 per page + 10 for first_page.
	if result.PointsEarned != 15 {
		t.Errorf("expected 15 points, got %d", result.PointsEarned)
	}
	if len(result.NewAchievements) != 1 || result.NewAchievements[0].ID != "first_page" {
		t.Errorf("expected first_page unlock, got %v", result.NewAchievements)
	}
	if result.CurrentStreak != 1 {
		t.Errorf("expected streak 1, got %d", result.CurrentStreak)
	}

	// Second read the same day: no re-award, streak unchanged.
	result, err = users.MarkPageRead(ctx, 42)
	if err != nil {
		t.Fatalf("second MarkPageRead failed: %v", err)
	}
	if result.PointsEarned != 5 {
		t.Errorf("expected 5 points on second read, got %d", result.PointsEarned)
	}
	if len(result.NewAchievements) != 0 {
		t.Errorf("expected no new achievements, got %v", result.NewAchievements)
	}
	if result.CurrentStreak != 1 {
		t.Errorf("expected streak still 1, got %d", result.CurrentStreak)
	}
}

func TestMarkPageReadStreak(t *testing.T) {
	db := openTestDB(t)
	users := newTestUsers(t, db)
	ctx := context.Background()

	if _, err := users.GetOrCreate(ctx, 42, "reader"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	day := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	readOn := func(t2 time.Time) *ReadResult {
		t.Helper()
		users.now = func() time.Time { return t2 }
		result, err := users.MarkPageRead(ctx, 42)
		if err != nil {
			t.Fatalf("MarkPageRead failed: %v", err)
		}
		return result
	}

	if r := readOn(day); r.CurrentStreak != 1 {
		t.Errorf("day 1: expected streak 1, got %d", r.CurrentStreak)
	}
	if r := readOn(day.AddDate(0, 0, 1)); r.CurrentStreak != 2 {
		t.Errorf("day 2: expected streak 2, got %d", r.CurrentStreak)
	}
	if r := readOn(day.AddDate(0, 0, 2)); r.CurrentStreak != 3 {
		t.Errorf("day 3: expected streak 3, got %d", r.CurrentStreak)
	}

	// Two-day gap resets to 1, longest streak is kept.
	if r := readOn(day.AddDate(0, 0, 5)); r.CurrentStreak != 1 {
		t.Errorf("after gap: expected streak 1, got %d", r.CurrentStreak)
	}

	user, err := users.Get(ctx, 42)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if user.LongestStreak != 3 {
		t.Errorf("expected longest streak 3, got %d", user.LongestStreak)
	}
}

func TestMarkPageReadLevelUp(t *testing.T) {
	db := openTestDB(t)
	users := newTestUsers(t, db)
	ctx := context.Background()
	users.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }

	if _, err := users.GetOrCreate(ctx, 42, "reader"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	// Read 1: 15 points (first_page). Reads 2-17: 5 each. Read 18 crosses 100.
	var last *ReadResult
	for i := 0; i < 18; i++ {
		r, err := users.MarkPageRead(ctx, 42)
		if err != nil {
			t.Fatalf("MarkPageRead %d failed: %v", i+1, err)
		}
		last = r
	}

	if !last.LevelUp {
		t.Error("expected level up on crossing 100 experience")
	}
	if last.NewLevel != 2 {
		t.Errorf("expected level 2, got %d", last.NewLevel)
	}
}

func TestCompleteBookAwardsOnce(t *testing.T) {
	db := openTestDB(t)
	users := newTestUsers(t, db)
	ctx := context.Background()

	if _, err := users.GetOrCreate(ctx, 42, "reader"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	first, err := users.CompleteBook(ctx, 42)
	if err != nil {
		t.Fatalf("CompleteBook failed: %v", err)
	}
	if first.PointsEarned != 300 {
		t.Errorf("expected 300 points for book completion, got %d", first.PointsEarned)
	}
	if len(first.NewAchievements) != 1 || first.NewAchievements[0].ID != "book_complete" {
		t.Errorf("expected book_complete unlock, got %v", first.NewAchievements)
	}

	second, err := users.CompleteBook(ctx, 42)
	if err != nil {
		t.Fatalf("second CompleteBook failed: %v", err)
	}
	if second.PointsEarned != 0 {
		t.Errorf("expected no points on repeat completion, got %d", second.PointsEarned)
	}
	if len(second.NewAchievements) != 0 {
		t.Errorf("expected no unlock on repeat completion, got %v", second.NewAchievements)
	}

	user, err := users.Get(ctx, 42)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if user.BooksCompleted != 2 {
		t.Errorf("expected books completed 2, got %d", user.BooksCompleted)
	}
}

func TestLogDeliveryAndCount(t *testing.T) {
	db := openTestDB(t)
	users := newTestUsers(t, db)
	ctx := context.Background()

	if err := users.LogDelivery(ctx, "d-1", 42, "manual", []int{9, 10, 11}); err != nil {
		t.Fatalf("LogDelivery failed: %v", err)
	}
	if err := users.LogDelivery(ctx, "d-2", 42, "scheduled", []int{12}); err != nil {
		t.Fatalf("LogDelivery failed: %v", err)
	}

	n, err := users.DeliveriesSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("DeliveriesSince failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deliveries, got %d", n)
	}
}

func TestLeaderboardOrder(t *testing.T) {
	db := openTestDB(t)
	users := newTestUsers(t, db)
	ctx := context.Background()

	for id, points := range map[int64]int{1: 50, 2: 200, 3: 120} {
		user, err := users.GetOrCreate(ctx, id, "")
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		if err := db.Model(user).Update("total_points", points).Error; err != nil {
			t.Fatalf("failed to seed points: %v", err)
		}
	}

	entries, err := users.Leaderboard(ctx, 2)
	if err != nil {
		t.Fatalf("Leaderboard failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].UserID != 2 || entries[1].UserID != 3 {
		t.Errorf("expected order [2 3], got [%d %d]", entries[0].UserID, entries[1].UserID)
	}
	if entries[0].Rank != 1 || entries[1].Rank != 2 {
		t.Errorf("expected ranks 1 and 2, got %d and %d", entries[0].Rank, entries[1].Rank)
	}
}

func TestStats(t *testing.T) {
	db := openTestDB(t)
	users := newTestUsers(t, db)
	ctx := context.Background()
	users.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }

	if _, err := users.GetOrCreate(ctx, 42, "reader"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if _, err := users.MarkPageRead(ctx, 42); err != nil {
		t.Fatalf("MarkPageRead failed: %v", err)
	}

	stats, err := users.Stats(ctx, 42)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalPoints != 15 {
		t.Errorf("expected 15 points, got %d", stats.TotalPoints)
	}
	if stats.PagesRead != 1 {
		t.Errorf("expected 1 page read, got %d", stats.PagesRead)
	}
	if stats.NextLevelExp != 85 {
		t.Errorf("expected 85 XP to next level, got %d", stats.NextLevelExp)
	}
	if len(stats.Achievements) != 1 {
		t.Errorf("expected 1 achievement, got %d", len(stats.Achievements))
	}
}
