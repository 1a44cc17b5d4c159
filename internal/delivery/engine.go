// Package delivery implements the core engine: deciding for every user
// whether and what to send next, dispatching rendered pages in reading
// order, and advancing the authoritative cursor exactly once per delivery.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avasilev/pagecourier/internal/events"
	"github.com/avasilev/pagecourier/internal/models"
	"github.com/avasilev/pagecourier/internal/store"
)

// Renderer is the document-store capability the engine consumes. Page
// indices are 1-based; a failed render of one page never aborts the batch.
type Renderer interface {
	PageCount(path string) (int, error)
	RenderPage(path string, page, quality int) ([]byte, error)
}

// Notifier is the chat-transport capability. Failures are folded into the
// delivery outcome and never propagate past the engine boundary.
type Notifier interface {
	SendPageImage(ctx context.Context, userID int64, image []byte, caption string) error
	SendText(ctx context.Context, userID int64, text string) error
}

// Expected conditions of the read-confirmation path.
var (
	ErrNoDocument   = errors.New("no document assigned")
	ErrBookFinished = errors.New("book already finished")
)

// Outcome failure reasons.
const (
	ReasonNoDocument   = "no_document"
	ReasonFinished     = "finished"
	ReasonRenderFailed = "render_failed"
	ReasonNotifyFailed = "notify_failed"
)

// Outcome is the ephemeral result of one delivery attempt.
type Outcome struct {
	DeliveryID string
	PagesSent  []int
	NewCursor  int
	Finished   bool
	Success    bool
	Reason     string
}

// Engine coordinates the stores, the renderer and the notifier. It never
// mutates either store directly; all writes go through their operations.
type Engine struct {
	users    *store.Users
	settings *store.Settings
	renderer Renderer
	notifier Notifier
	events   *events.Publisher // optional; nil disables event publishing
	logger   *slog.Logger
	loc      *time.Location
	now      func() time.Time
}

// NewEngine creates the delivery engine. publisher may be nil.
func NewEngine(users *store.Users, settings *store.Settings, renderer Renderer, notifier Notifier, publisher *events.Publisher, loc *time.Location, logger *slog.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		users:    users,
		settings: settings,
		renderer: renderer,
		notifier: notifier,
		events:   publisher,
		logger:   logger,
		loc:      loc,
		now:      time.Now,
	}
}

// Deliver renders and dispatches the next batch of pages starting at
// startPage (or at the user's cursor when startPage <= 0), then advances the
// cursor by the full requested batch size and records the delivery time.
//
// The cursor always advances by pages-per-send, not by the count of pages
// that actually rendered: a page that will not render must not pin the
// cursor forever. Notifier failures do not roll back an advance either; the
// delivery has happened once dispatch was attempted.
func (e *Engine) Deliver(ctx context.Context, userID int64, startPage int, trigger string) (*Outcome, error) {
	settings, err := e.settings.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	user, err := e.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{
		DeliveryID: uuid.New().String(),
		NewCursor:  user.CurrentPage,
	}

	switch user.State() {
	case models.StateNoDocument:
		outcome.Reason = ReasonNoDocument
		return outcome, nil
	case models.StateFinished:
		outcome.Finished = true
		outcome.Reason = ReasonFinished
		return outcome, nil
	}

	if startPage <= 0 {
		startPage = user.CurrentPage
	}

	// Candidate range clamped to the document; indices past the end are
	// simply not attempted.
	end := startPage + settings.PagesPerSend - 1
	if end > user.TotalPages {
		end = user.TotalPages
	}

	var batch []renderedPage
	for page := startPage; page <= end; page++ {
		img, err := e.renderer.RenderPage(user.DocumentPath, page, settings.ImageQuality)
		if err != nil {
			e.logger.Warn("Page render failed, skipping",
				"delivery_id", outcome.DeliveryID,
				"user_id", userID,
				"page", page,
				"error", err.Error(),
			)
			continue
		}
		batch = append(batch, renderedPage{number: page, image: img})
	}

	if len(batch) == 0 {
		// Nothing rendered: report failure without touching the cursor or
		// the delivery timestamp.
		outcome.Reason = ReasonRenderFailed
		return outcome, nil
	}

	if settings.NotificationsEnabled {
		header := fmt.Sprintf("📖 Page %d of %d", startPage, user.TotalPages)
		if err := e.notifier.SendText(ctx, userID, header); err != nil {
			e.logger.Warn("Header send failed",
				"delivery_id", outcome.DeliveryID, "user_id", userID, "error", err.Error())
		}
	}

	// Dispatch in ascending page order; reading order is a user-facing
	// guarantee.
	var sent []int
	for _, p := range batch {
		caption := fmt.Sprintf("📖 Page %d", p.number)
		if err := e.notifier.SendPageImage(ctx, userID, p.image, caption); err != nil {
			e.logger.Warn("Page dispatch failed",
				"delivery_id", outcome.DeliveryID,
				"user_id", userID,
				"page", p.number,
				"error", err.Error(),
			)
			continue
		}
		sent = append(sent, p.number)
	}

	// Dispatch attempts are complete: advance by the requested batch size
	// and stamp the delivery, regardless of individual page failures.
	newCursor, err := e.users.AdvanceCursor(ctx, userID, settings.PagesPerSend)
	if err != nil {
		return nil, err
	}
	if err := e.users.RecordDelivery(ctx, userID, e.now()); err != nil {
		return nil, err
	}

	outcome.NewCursor = newCursor
	outcome.Finished = newCursor > user.TotalPages
	outcome.PagesSent = sent
	if len(sent) == 0 {
		outcome.Reason = ReasonNotifyFailed
	} else {
		outcome.Success = true
	}

	if err := e.users.LogDelivery(ctx, outcome.DeliveryID, userID, trigger, sent); err != nil {
		e.logger.Warn("Delivery log write failed",
			"delivery_id", outcome.DeliveryID, "user_id", userID, "error", err.Error())
	}
	e.publishEvent(ctx, outcome, userID, trigger)

	e.logger.Info("Delivery complete",
		"delivery_id", outcome.DeliveryID,
		"user_id", userID,
		"trigger", trigger,
		"pages_sent", len(sent),
		"new_cursor", newCursor,
		"finished", outcome.Finished,
	)
	return outcome, nil
}

// EvaluateAllUsers walks every auto-send user on a scheduler tick and
// delivers where due. A failure for one user is logged and never blocks the
// rest of the batch. Returns the number of deliveries performed.
func (e *Engine) EvaluateAllUsers(ctx context.Context) (int, error) {
	candidates, err := e.settings.ListAutoSendEnabled(ctx)
	if err != nil {
		return 0, err
	}

	now := e.now().In(e.loc)
	delivered := 0
	for _, settings := range candidates {
		if err := e.evaluateUser(ctx, settings, now, &delivered); err != nil {
			e.logger.Error("Scheduled evaluation failed for user",
				"user_id", settings.UserID, "error", err.Error())
		}
	}

	e.logger.Info("Evaluation tick complete", "candidates", len(candidates), "delivered", delivered)
	return delivered, nil
}

func (e *Engine) evaluateUser(ctx context.Context, settings models.UserSettings, now time.Time, delivered *int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during evaluation: %v", r)
		}
	}()

	user, err := e.users.Get(ctx, settings.UserID)
	if err != nil {
		return err
	}

	switch user.State() {
	case models.StateNoDocument:
		e.logger.Debug("Skipping user without document", "user_id", user.ID)
		return nil
	case models.StateFinished:
		e.logger.Debug("Skipping finished user", "user_id", user.ID)
		return nil
	}

	if !due(settings, user.LastSentAt, now) {
		return nil
	}

	outcome, err := e.Deliver(ctx, user.ID, user.CurrentPage, models.TriggerScheduled)
	if err != nil {
		return err
	}
	if outcome.Success {
		*delivered++
	} else {
		// Scheduled failures are silent to the user; the next due tick
		// retries naturally.
		e.logger.Warn("Scheduled delivery did not send",
			"user_id", user.ID, "reason", outcome.Reason)
	}
	return nil
}

// MarkPageRead is the explicit read-confirmation flow: it records the
// gamification credit, then advances the cursor one page. On crossing the
// last page it also credits the book completion.
func (e *Engine) MarkPageRead(ctx context.Context, userID int64) (*store.ReadResult, int, error) {
	user, err := e.users.Get(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	switch user.State() {
	case models.StateNoDocument:
		return nil, user.CurrentPage, ErrNoDocument
	case models.StateFinished:
		return nil, user.CurrentPage, ErrBookFinished
	}

	result, err := e.users.MarkPageRead(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	newPage, err := e.users.AdvanceCursor(ctx, userID, 1)
	if err != nil {
		return result, user.CurrentPage, err
	}

	if newPage > user.TotalPages {
		completion, err := e.users.CompleteBook(ctx, userID)
		if err != nil {
			return result, newPage, err
		}
		result.PointsEarned += completion.PointsEarned
		result.NewAchievements = append(result.NewAchievements, completion.NewAchievements...)
		if completion.LevelUp {
			result.LevelUp = true
		}
		result.NewLevel = completion.NewLevel
	}

	return result, newPage, nil
}

func (e *Engine) publishEvent(ctx context.Context, outcome *Outcome, userID int64, trigger string) {
	if e.events == nil {
		return
	}
	_, err := e.events.PublishDelivery(ctx, events.DeliveryEvent{
		DeliveryID: outcome.DeliveryID,
		UserID:     userID,
		Trigger:    trigger,
		Pages:      outcome.PagesSent,
		NewCursor:  outcome.NewCursor,
	})
	if err != nil {
		e.logger.Warn("Delivery event publish failed",
			"delivery_id", outcome.DeliveryID, "error", err.Error())
	}
}

type renderedPage struct {
	number int
	image  []byte
}

// due decides whether a scheduled delivery should fire now. In daily mode
// the user gets exactly one delivery per calendar day, as soon as a tick
// runs at or after the scheduled instant. In interval mode deliveries are
// spaced at least interval-hours apart, drifting with tick latency.
func due(settings models.UserSettings, lastSent *time.Time, now time.Time) bool {
	if settings.DailySchedule() {
		var hour, minute int
		if _, err := fmt.Sscanf(settings.ScheduleTime, "%d:%d", &hour, &minute); err != nil {
			return false
		}
		scheduled := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if now.Before(scheduled) {
			return false
		}
		if lastSent == nil {
			return true
		}
		y1, m1, d1 := lastSent.In(now.Location()).Date()
		y2, m2, d2 := now.Date()
		return y1 != y2 || m1 != m2 || d1 != d2
	}

	if lastSent == nil {
		return true
	}
	return now.Sub(*lastSent) >= time.Duration(settings.IntervalHours)*time.Hour
}
