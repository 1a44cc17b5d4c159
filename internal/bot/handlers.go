// Package bot is the chat command surface. Handlers stay thin: they parse
// the command, call one of the exported engine/store entry points and format
// the reply. No reading-state logic lives here.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/avasilev/pagecourier/internal/config"
	"github.com/avasilev/pagecourier/internal/delivery"
	"github.com/avasilev/pagecourier/internal/docstore"
	"github.com/avasilev/pagecourier/internal/models"
	"github.com/avasilev/pagecourier/internal/ratelimit"
	"github.com/avasilev/pagecourier/internal/store"
)

const commandTimeout = 90 * time.Second

// Handlers binds chat commands to the delivery engine and stores.
type Handlers struct {
	bot       *tele.Bot
	engine    *delivery.Engine
	users     *store.Users
	settings  *store.Settings
	renderer  delivery.Renderer
	notifier  delivery.Notifier
	validator *docstore.Validator
	limiter   *ratelimit.Limiter
	cfg       *config.Config
	logger    *slog.Logger
}

// New creates the handler set. limiter may be nil to disable rate limiting.
func New(bot *tele.Bot, engine *delivery.Engine, users *store.Users, settings *store.Settings, renderer delivery.Renderer, notifier delivery.Notifier, validator *docstore.Validator, limiter *ratelimit.Limiter, cfg *config.Config, logger *slog.Logger) *Handlers {
	return &Handlers{
		bot:       bot,
		engine:    engine,
		users:     users,
		settings:  settings,
		renderer:  renderer,
		notifier:  notifier,
		validator: validator,
		limiter:   limiter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Register attaches every handler to the bot.
func (h *Handlers) Register() {
	h.bot.Handle("/start", h.start)
	h.bot.Handle("/help", h.help)
	h.bot.Handle("/status", h.status)
	h.bot.Handle("/next", h.next)
	h.bot.Handle("/current", h.current)
	h.bot.Handle("/goto", h.goTo)
	h.bot.Handle("/read", h.read)
	h.bot.Handle("/book", h.book)
	h.bot.Handle("/stats", h.stats)
	h.bot.Handle("/settings", h.settingsCmd)
	h.bot.Handle(tele.OnDocument, h.upload)
}

func (h *Handlers) start(c tele.Context) error {
	ctx, cancel := h.opContext()
	defer cancel()

	sender := c.Sender()
	if _, err := h.users.GetOrCreate(ctx, sender.ID, sender.Username); err != nil {
		h.logger.Error("Failed to register user", "user_id", sender.ID, "error", err.Error())
		return c.Send("❌ Something went wrong. Please try again later.")
	}
	if _, err := h.settings.Get(ctx, sender.ID); err != nil {
		h.logger.Error("Failed to create settings", "user_id", sender.ID, "error", err.Error())
	}

	h.logger.Info("New user started", "user_id", sender.ID, "username", sender.Username)
	return c.Send(
		"📚 Welcome to Page Courier!\n\n" +
			"Send me a PDF and I will deliver its pages to you on your schedule.\n\n" +
			"Use /help to see every command.\n\n📖 Happy reading!")
}

func (h *Handlers) help(c tele.Context) error {
	return c.Send(
		"📚 Page Courier Help\n\n" +
			"/start - Register and begin\n" +
			"/status - Reading progress and next delivery\n" +
			"/next - Get the next batch of pages now\n" +
			"/current - Resend the current page\n" +
			"/goto <page> - Jump to a specific page\n" +
			"/read - Confirm the current page as read (earns points)\n" +
			"/book - Info about your current book\n" +
			"/stats - Your points, streak and achievements\n" +
			"/settings - Show or change delivery preferences\n\n" +
			"📎 Send a PDF file to set or replace your book.")
}

func (h *Handlers) status(c tele.Context) error {
	ctx, cancel := h.opContext()
	defer cancel()

	user, settings, err := h.userAndSettings(ctx, c)
	if err != nil {
		return h.replyLookupError(c, err)
	}
	if user.State() == models.StateNoDocument {
		return c.Send("You need to upload a PDF book first. Just send me the file!")
	}

	lastSent := "Never"
	nextSend := "Soon"
	if user.LastSentAt != nil {
		lastSent = user.LastSentAt.Format("2006-01-02 15:04")
		if settings.DailySchedule() {
			nextSend = "Daily at " + settings.ScheduleTime
		} else {
			nextSend = user.LastSentAt.Add(time.Duration(settings.IntervalHours) * time.Hour).Format("2006-01-02 15:04")
		}
	}

	return c.Send(fmt.Sprintf(
		"📊 Reading Progress\n\n"+
			"📖 Current page: %d\n"+
			"📚 Total pages: %d\n"+
			"📈 Progress: %.1f%%\n"+
			"⏰ Last sent: %s\n"+
			"⏭️ Next send: %s\n"+
			"📄 Pages per send: %d",
		user.CurrentPage, user.TotalPages, user.Progress(), lastSent, nextSend, settings.PagesPerSend))
}

func (h *Handlers) next(c tele.Context) error {
	ctx, cancel := h.opContext()
	defer cancel()

	if !h.allow(ctx, c.Sender().ID) {
		return c.Send("⏳ Easy there! Please wait a moment before the next command.")
	}

	outcome, err := h.engine.Deliver(ctx, c.Sender().ID, 0, models.TriggerManual)
	if err != nil {
		return h.replyLookupError(c, err)
	}

	switch {
	case outcome.Success && outcome.Finished:
		return c.Send("🏁 That was the end of your book! Upload a new one whenever you like.")
	case outcome.Success:
		return c.Send(fmt.Sprintf("📍 Current page is now: %d", outcome.NewCursor))
	case outcome.Reason == delivery.ReasonNoDocument:
		return c.Send("You need to upload a PDF book first. Just send me the file!")
	case outcome.Reason == delivery.ReasonFinished:
		return c.Send("🏁 You have finished your book. Upload a new one to keep reading!")
	default:
		return c.Send("❌ Error sending pages. Please try again later.")
	}
}

func (h *Handlers) current(c tele.Context) error {
	ctx, cancel := h.opContext()
	defer cancel()

	user, settings, err := h.userAndSettings(ctx, c)
	if err != nil {
		return h.replyLookupError(c, err)
	}
	if user.State() == models.StateNoDocument {
		return c.Send("You need to upload a PDF book first. Just send me the file!")
	}

	page := user.CurrentPage
	if page > user.TotalPages {
		page = user.TotalPages
	}
	img, err := h.renderer.RenderPage(user.DocumentPath, page, settings.ImageQuality)
	if err != nil {
		h.logger.Warn("Current page render failed", "user_id", user.ID, "page", page, "error", err.Error())
		return c.Send(fmt.Sprintf("📖 Current page: %d (could not render image)", page))
	}
	return h.notifier.SendPageImage(ctx, user.ID, img, fmt.Sprintf("📖 Current page: %d", page))
}

func (h *Handlers) goTo(c tele.Context) error {
	ctx, cancel := h.opContext()
	defer cancel()

	user, settings, err := h.userAndSettings(ctx, c)
	if err != nil {
		return h.replyLookupError(c, err)
	}
	if user.State() == models.StateNoDocument {
		return c.Send("You need to upload a PDF book first. Just send me the file!")
	}

	target, err := strconv.Atoi(strings.TrimSpace(c.Message().Payload))
	if err != nil {
		return c.Send("❌ Usage: /goto <page_number>")
	}
	if target < 1 || target > user.TotalPages {
		return c.Send(fmt.Sprintf("❌ Page must be between 1 and %d.", user.TotalPages))
	}

	if err := h.users.SetCursor(ctx, user.ID, target); err != nil {
		h.logger.Error("Failed to set cursor", "user_id", user.ID, "error", err.Error())
		return c.Send("❌ Error jumping to page. Please try again later.")
	}

	img, err := h.renderer.RenderPage(user.DocumentPath, target, settings.ImageQuality)
	if err != nil {
		return c.Send(fmt.Sprintf("📖 Jumped to page %d (could not render image)", target))
	}
	return h.notifier.SendPageImage(ctx, user.ID, img, fmt.Sprintf("📖 Jumped to page %d", target))
}

func (h *Handlers) read(c tele.Context) error {
	ctx, cancel := h.opContext()
	defer cancel()

	if !h.allow(ctx, c.Sender().ID) {
		return c.Send("⏳ Easy there! Please wait a moment before the next command.")
	}

	result, newPage, err := h.engine.MarkPageRead(ctx, c.Sender().ID)
	switch {
	case errors.Is(err, delivery.ErrNoDocument):
		return c.Send("You need to upload a PDF book first. Just send me the file!")
	case errors.Is(err, delivery.ErrBookFinished):
		return c.Send("🏁 You already finished this book. Upload a new one!")
	case errors.Is(err, store.ErrUserNotFound):
		return c.Send("You need to /start the bot first!")
	case err != nil:
		h.logger.Error("Mark read failed", "user_id", c.Sender().ID, "error", err.Error())
		return c.Send("❌ Something went wrong. Please try again later.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "✅ Page marked as read! +%d points\n", result.PointsEarned)
	fmt.Fprintf(&b, "🔥 Streak: %d day(s)\n", result.CurrentStreak)
	fmt.Fprintf(&b, "📍 Next page: %d", newPage)
	for _, a := range result.NewAchievements {
		fmt.Fprintf(&b, "\n%s Achievement unlocked: %s — %s", a.Icon, a.Name, a.Description)
	}
	if result.LevelUp {
		fmt.Fprintf(&b, "\n🎉 Level up! You are now level %d", result.NewLevel)
	}
	return c.Send(b.String())
}

func (h *Handlers) book(c tele.Context) error {
	ctx, cancel := h.opContext()
	defer cancel()

	user, _, err := h.userAndSettings(ctx, c)
	if err != nil {
		return h.replyLookupError(c, err)
	}
	if user.State() == models.StateNoDocument {
		return c.Send("You haven't uploaded a book yet! Send me a PDF file to add one.")
	}

	return c.Send(fmt.Sprintf(
		"📚 Your Current Book\n\n"+
			"Title: %s\n"+
			"Current page: %d of %d\n"+
			"Progress: %.1f%%\n\n"+
			"Send a new PDF to change your book.",
		filepath.Base(user.DocumentPath), user.CurrentPage, user.TotalPages, user.Progress()))
}

func (h *Handlers) stats(c tele.Context) error {
	ctx, cancel := h.opContext()
	defer cancel()

	stats, err := h.users.Stats(ctx, c.Sender().ID)
	if err != nil {
		return h.replyLookupError(c, err)
	}

	var b strings.Builder
	b.WriteString("🏆 Your Reading Stats\n\n")
	fmt.Fprintf(&b, "⭐ Points: %d\n", stats.TotalPoints)
	fmt.Fprintf(&b, "📊 Level: %d (%d XP to next)\n", stats.Level, stats.NextLevelExp)
	fmt.Fprintf(&b, "📖 Pages read: %d\n", stats.PagesRead)
	fmt.Fprintf(&b, "📚 Books completed: %d\n", stats.BooksComplete)
	fmt.Fprintf(&b, "🔥 Streak: %d (longest %d)\n", stats.CurrentStreak, stats.LongestStreak)
	if len(stats.Achievements) > 0 {
		b.WriteString("\n🎖 Achievements:\n")
		for _, a := range stats.Achievements {
			fmt.Fprintf(&b, "%s %s — %s\n", a.Icon, a.Name, a.Description)
		}
	}
	return c.Send(b.String())
}

// settingsCmd shows the settings summary, or updates one field:
// /settings pages_per_send 5
func (h *Handlers) settingsCmd(c tele.Context) error {
	ctx, cancel := h.opContext()
	defer cancel()

	args := strings.Fields(c.Message().Payload)
	if len(args) == 0 {
		return h.showSettings(ctx, c)
	}
	if len(args) != 2 {
		return c.Send("❌ Usage: /settings <name> <value>\nSend /settings alone to see current values.")
	}

	field := strings.ToLower(args[0])
	value, parseOK := parseSettingValue(field, args[1])
	if parseOK {
		ok, err := h.settings.Update(ctx, c.Sender().ID, field, value)
		if err != nil {
			h.logger.Error("Settings update failed", "user_id", c.Sender().ID, "error", err.Error())
			return c.Send("❌ Something went wrong. Please try again later.")
		}
		if ok {
			return c.Send(fmt.Sprintf("✅ %s updated to %v", field, value))
		}
	}
	return c.Send(fmt.Sprintf("❌ Invalid value for %s.", field))
}

func (h *Handlers) showSettings(ctx context.Context, c tele.Context) error {
	s, err := h.settings.Get(ctx, c.Sender().ID)
	if err != nil {
		h.logger.Error("Settings fetch failed", "user_id", c.Sender().ID, "error", err.Error())
		return c.Send("❌ Something went wrong. Please try again later.")
	}

	onOff := func(v bool) string {
		if v {
			return "🟢 on"
		}
		return "🔴 off"
	}
	return c.Send(fmt.Sprintf(
		"📋 Your settings:\n\n"+
			"📄 pages_per_send: %d\n"+
			"⏰ schedule_time: %s\n"+
			"🔄 interval_hours: %d\n"+
			"🤖 auto_send_enabled: %s\n"+
			"🖼 image_quality: %d\n"+
			"🔔 notifications_enabled: %s\n\n"+
			"Change one with /settings <name> <value>.",
		s.PagesPerSend, s.ScheduleTime, s.IntervalHours,
		onOff(s.AutoSendEnabled), s.ImageQuality, onOff(s.NotificationsEnabled)))
}

// upload replaces the user's book with an incoming PDF document.
func (h *Handlers) upload(c tele.Context) error {
	ctx, cancel := h.opContext()
	defer cancel()

	sender := c.Sender()
	doc := c.Message().Document
	if doc == nil {
		return nil
	}
	if doc.MIME != "application/pdf" {
		return c.Send("Please send a PDF file.")
	}
	if doc.FileSize > h.cfg.MaxFileSizeBytes() {
		return c.Send(fmt.Sprintf("❌ File too large. Maximum size: %dMB", h.cfg.MaxFileSizeMB))
	}

	if _, err := h.users.GetOrCreate(ctx, sender.ID, sender.Username); err != nil {
		h.logger.Error("Failed to register user", "user_id", sender.ID, "error", err.Error())
		return c.Send("❌ Something went wrong. Please try again later.")
	}

	userDir := filepath.Join(h.cfg.UploadDir, strconv.FormatInt(sender.ID, 10))
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		h.logger.Error("Failed to create upload dir", "user_id", sender.ID, "error", err.Error())
		return c.Send("❌ Something went wrong. Please try again later.")
	}

	filename := docstore.SanitizeFilename(doc.FileName)
	localPath := filepath.Join(userDir, filename)
	if err := h.bot.Download(&doc.File, localPath); err != nil {
		h.logger.Error("Upload download failed", "user_id", sender.ID, "error", err.Error())
		return c.Send("❌ An error occurred while receiving your PDF. Please try again.")
	}

	pages, err := h.validator.Validate(localPath)
	if err != nil {
		// Reject the assignment and keep the prior document.
		_ = os.Remove(localPath)
		h.logger.Warn("Upload rejected", "user_id", sender.ID, "error", err.Error())
		return c.Send(uploadRejectionMessage(err))
	}

	if err := h.users.SetDocument(ctx, sender.ID, localPath, pages); err != nil {
		_ = os.Remove(localPath)
		h.logger.Error("Failed to assign document", "user_id", sender.ID, "error", err.Error())
		return c.Send("❌ Something went wrong. Please try again later.")
	}

	return c.Send(fmt.Sprintf(
		"✅ PDF successfully uploaded!\n\n"+
			"📚 Book: %s\n"+
			"📄 Total pages: %d\n\n"+
			"Your reading starts from page 1. Use /next to get the first pages.",
		filename, pages))
}

func uploadRejectionMessage(err error) string {
	switch {
	case errors.Is(err, docstore.ErrFileTooLarge):
		return "❌ File too large."
	case errors.Is(err, docstore.ErrEmptyDocument):
		return "❌ This PDF has no pages."
	case errors.Is(err, docstore.ErrTooManyPages):
		return "❌ This PDF has too many pages (maximum: 10,000)."
	default:
		return "❌ There was a problem with your PDF file. Please try another one."
	}
}

func (h *Handlers) userAndSettings(ctx context.Context, c tele.Context) (*models.User, *models.UserSettings, error) {
	user, err := h.users.Get(ctx, c.Sender().ID)
	if err != nil {
		return nil, nil, err
	}
	settings, err := h.settings.Get(ctx, c.Sender().ID)
	if err != nil {
		return nil, nil, err
	}
	return user, settings, nil
}

func (h *Handlers) replyLookupError(c tele.Context, err error) error {
	if errors.Is(err, store.ErrUserNotFound) {
		return c.Send("You need to /start the bot first!")
	}
	h.logger.Error("Command failed", "user_id", c.Sender().ID, "error", err.Error())
	return c.Send("❌ Something went wrong. Please try again later.")
}

func (h *Handlers) allow(ctx context.Context, userID int64) bool {
	if h.limiter == nil {
		return true
	}
	return h.limiter.Allow(ctx, userID)
}

func (h *Handlers) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), commandTimeout)
}

// parseSettingValue converts the raw command argument into the typed value
// the settings store validates.
func parseSettingValue(field, raw string) (interface{}, bool) {
	switch field {
	case "pages_per_send", "interval_hours", "image_quality":
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, false
		}
		return n, true
	case "auto_send_enabled", "notifications_enabled":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, false
		}
		return b, true
	case "schedule_time":
		return raw, true
	default:
		return nil, false
	}
}
