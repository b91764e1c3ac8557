package handlers

import (
	"context"
	"errors"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/valentine-bot/pkg/entitlement"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"github.com/smith3v/valentine-bot/pkg/quota"
	"github.com/smith3v/valentine-bot/pkg/session"
)

func (h *Handlers) Roulette(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in Roulette")
		return
	}
	msg := update.Message
	h.register(ctx, msg)
	if _, err := h.sessions.Begin(ctx, msg.Chat.ID, msg.From.ID, session.AwaitRouletteMessageState{}); err != nil {
		replyError(ctx, b, msg.Chat.ID, err)
		return
	}
	reply(ctx, b, msg.Chat.ID, "🎰 Write a message for a random stranger. You will get theirs in return.")
}

func (h *Handlers) handleRouletteMessage(ctx context.Context, b *bot.Bot, msg *models.Message, sess *session.Session) {
	res, err := h.roulette.Submit(ctx, msg.From.ID, msg.Text)
	if err != nil {
		h.finish(ctx, sess)
		if errors.Is(err, quota.ErrRouletteQuotaExhausted) {
			reply(ctx, b, msg.Chat.ID, "🎰 You have used today's free match. "+h.lockedText(entitlement.Roulette))
			return
		}
		replyError(ctx, b, msg.Chat.ID, err)
		return
	}
	h.finish(ctx, sess)
	if res.Matched {
		reply(ctx, b, msg.Chat.ID, "🎉 It's a match! Your message went to a stranger and theirs is in your inbox.")
		return
	}
	reply(ctx, b, msg.Chat.ID, "⏳ You are in the queue. I will message you when someone matches.")
}
