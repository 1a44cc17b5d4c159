// Package notify adapts the Telegram transport to the notifier capability
// the delivery engine consumes.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	tele "gopkg.in/telebot.v3"
)

// Telegram sends texts and page images through a telebot instance. Failures
// are returned as plain errors; the engine folds them into the delivery
// outcome instead of propagating them.
type Telegram struct {
	bot      *tele.Bot
	logger   *slog.Logger
	stubMode bool
}

// NewTelegram wraps bot. With stubMode set, sends are logged and dropped;
// useful for local development without a bot token.
func NewTelegram(bot *tele.Bot, stubMode bool, logger *slog.Logger) *Telegram {
	return &Telegram{bot: bot, logger: logger, stubMode: stubMode}
}

// SendPageImage delivers one rendered page as a photo with a caption.
func (t *Telegram) SendPageImage(ctx context.Context, userID int64, image []byte, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.stubMode {
		t.logger.Info("stub: page image", "user_id", userID, "caption", caption, "bytes", len(image))
		return nil
	}

	photo := &tele.Photo{
		File:    tele.FromReader(bytes.NewReader(image)),
		Caption: caption,
	}
	if _, err := t.bot.Send(tele.ChatID(userID), photo); err != nil {
		return fmt.Errorf("failed to send photo to %d: %w", userID, err)
	}
	return nil
}

// SendText delivers a plain text message.
func (t *Telegram) SendText(ctx context.Context, userID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.stubMode {
		t.logger.Info("stub: text", "user_id", userID, "text", text)
		return nil
	}

	if _, err := t.bot.Send(tele.ChatID(userID), text); err != nil {
		return fmt.Errorf("failed to send message to %d: %w", userID, err)
	}
	return nil
}
