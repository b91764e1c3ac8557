// Package messenger delivers payloads to users over Telegram.
package messenger

import (
	"context"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/valentine-bot/pkg/apperr"
)

const defaultSendTimeout = 10 * time.Second

// Payload is one outbound message. Voice and photo payloads use Caption;
// plain text uses Text.
type Payload struct {
	Text        string
	VoiceFileID string
	PhotoFileID string
	Caption     string
}

type Messenger interface {
	Send(ctx context.Context, userID int64, payload Payload) error
}

// Telegram sends payloads through the Bot API with a bounded per-call timeout.
type Telegram struct {
	b       *bot.Bot
	timeout time.Duration
}

func NewTelegram(b *bot.Bot, timeout time.Duration) *Telegram {
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	return &Telegram{b: b, timeout: timeout}
}

func (t *Telegram) Send(ctx context.Context, userID int64, payload Payload) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var err error
	switch {
	case payload.VoiceFileID != "":
		_, err = t.b.SendVoice(ctx, &bot.SendVoiceParams{
			ChatID:  userID,
			Voice:   &models.InputFileString{Data: payload.VoiceFileID},
			Caption: payload.Caption,
		})
	case payload.PhotoFileID != "":
		_, err = t.b.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:  userID,
			Photo:   &models.InputFileString{Data: payload.PhotoFileID},
			Caption: payload.Caption,
		})
	default:
		_, err = t.b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: userID,
			Text:   payload.Text,
		})
	}
	if err != nil {
		return apperr.Delivery("send to user", err)
	}
	return nil
}
