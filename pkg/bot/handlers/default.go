package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"github.com/smith3v/valentine-bot/pkg/session"
	"github.com/smith3v/valentine-bot/pkg/valentine"
)

// Default routes payments and free-form messages. Messages are interpreted by
// the chat's current session state.
func (h *Handlers) Default(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update == nil {
		logger.Error("received nil update in Default")
		return
	}
	if update.PreCheckoutQuery != nil {
		h.handlePreCheckout(ctx, b, update.PreCheckoutQuery)
		return
	}
	if !validMessage(update) {
		return
	}
	msg := update.Message
	if msg.SuccessfulPayment != nil {
		h.handleSuccessfulPayment(ctx, b, msg)
		return
	}

	sess, err := h.sessions.Load(ctx, msg.Chat.ID)
	if err != nil {
		replyError(ctx, b, msg.Chat.ID, err)
		return
	}

	switch state := sess.State.(type) {
	case session.AwaitRecipientState:
		if msg.Text == "" {
			reply(ctx, b, msg.Chat.ID, "Send me the recipient's @username as text.")
			return
		}
		h.handleRecipient(ctx, b, msg, sess, state)
	case session.AwaitScheduleState:
		if msg.Text == "" {
			reply(ctx, b, msg.Chat.ID, "Send the delivery time as text.")
			return
		}
		h.handleSchedule(ctx, b, msg, sess, state)
	case session.AwaitMessageState:
		if msg.Text == "" {
			reply(ctx, b, msg.Chat.ID, "Please write your valentine as text.")
			return
		}
		h.handleContent(ctx, b, msg, sess, state.Draft, valentine.SendRequest{Message: msg.Text})
	case session.AwaitVoiceState:
		if msg.Voice == nil {
			reply(ctx, b, msg.Chat.ID, "Please record a voice message.")
			return
		}
		h.handleContent(ctx, b, msg, sess, state.Draft, valentine.SendRequest{
			Message:     msg.Caption,
			Attachments: valentine.Attachments{VoiceFileID: msg.Voice.FileID},
		})
	case session.AwaitPhotoState:
		if len(msg.Photo) == 0 {
			reply(ctx, b, msg.Chat.ID, "Please send a photo.")
			return
		}
		largest := msg.Photo[len(msg.Photo)-1]
		h.handleContent(ctx, b, msg, sess, state.Draft, valentine.SendRequest{
			Message:     msg.Caption,
			Attachments: valentine.Attachments{PhotoFileID: largest.FileID},
		})
	case session.AwaitRouletteMessageState:
		if msg.Text == "" {
			reply(ctx, b, msg.Chat.ID, "Please write your roulette message as text.")
			return
		}
		h.handleRouletteMessage(ctx, b, msg, sess)
	case session.AwaitCompatAnswerState:
		h.handleCompatAnswer(ctx, b, msg, sess, state)
	case session.InChatState:
		if msg.Text == "" {
			reply(ctx, b, msg.Chat.ID, "Only text can be sent in an anonymous chat.")
			return
		}
		h.handleChatMessage(ctx, b, msg, sess, state)
	default:
		reply(ctx, b, msg.Chat.ID, welcomeText)
	}
}
