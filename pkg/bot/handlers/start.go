package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/valentine-bot/pkg/logger"
)

const deepLinkPrefix = "valentine_"

const welcomeText = "💘 Welcome to the valentine bot!\n\n" +
	"/send - send an anonymous valentine\n" +
	"/voice - send a voice valentine\n" +
	"/photo - send a photo valentine\n" +
	"/schedule - deliver a valentine later\n" +
	"/premium - a valentine with premium design\n" +
	"/poem - a valentine written as a poem\n" +
	"/roulette - swap valentines with a stranger\n" +
	"/compat - compatibility test for two\n" +
	"/inbox - valentines you received\n" +
	"/chat - talk to the sender of a valentine\n" +
	"/gift - attach a gift to a valentine you sent\n" +
	"/stats - your stats and badges\n" +
	"/bundle - buy more valentines\n" +
	"/buy - unlock a paid feature\n" +
	"/subscribe - plans with higher limits\n" +
	"/cancel - stop what you are doing"

// Start registers the user, delivers anything that was waiting for their
// username and opens a valentine_<id> invite link when present.
func (h *Handlers) Start(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in Start")
		return
	}
	msg := update.Message
	h.register(ctx, msg)

	if msg.From.Username != "" {
		delivered, err := h.valentines.ResolvePending(ctx, msg.From.ID, msg.From.Username)
		if err != nil {
			logger.Error("failed to resolve pending valentines", "user_id", msg.From.ID, "error", err)
		} else if delivered > 0 {
			reply(ctx, b, msg.Chat.ID, fmt.Sprintf("💌 %d valentine(s) were waiting for you!", delivered))
		}
	}

	arg := commandArg(msg.Text)
	if strings.HasPrefix(arg, compatLinkPrefix) {
		h.beginCompat(ctx, b, msg.Chat.ID, msg.From.ID, strings.TrimPrefix(arg, compatLinkPrefix))
		return
	}
	if strings.HasPrefix(arg, deepLinkPrefix) {
		id, err := strconv.ParseUint(strings.TrimPrefix(arg, deepLinkPrefix), 10, 64)
		if err != nil || id == 0 {
			reply(ctx, b, msg.Chat.ID, "This invite link is broken.")
			return
		}
		v, err := h.valentines.Claim(ctx, uint(id), msg.From.ID)
		if err != nil {
			replyError(ctx, b, msg.Chat.ID, err)
			return
		}
		if v.ScheduledFor != nil && !v.IsDelivered {
			reply(ctx, b, msg.Chat.ID, "⏰ A valentine is on its way to you. It will arrive at the scheduled time.")
		}
		return
	}

	reply(ctx, b, msg.Chat.ID, welcomeText)
}
