package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"github.com/smith3v/valentine-bot/pkg/subscription"
)

const previewRunes = 60

func (h *Handlers) Inbox(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in Inbox")
		return
	}
	msg := update.Message
	page := 0
	if arg := commandArg(msg.Text); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			reply(ctx, b, msg.Chat.ID, "Usage: /inbox [page]")
			return
		}
		page = n - 1
	}

	items, err := h.valentines.Store().ListInbox(ctx, msg.From.ID, page)
	if err != nil {
		replyError(ctx, b, msg.Chat.ID, err)
		return
	}
	if len(items) == 0 {
		reply(ctx, b, msg.Chat.ID, "📭 Nothing here yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📬 Your valentines (page %d):\n", page+1))
	for _, v := range items {
		sb.WriteString(fmt.Sprintf("\n#%d %s", v.ID, preview(v.Message)))
		if v.GiftEmoji != "" {
			sb.WriteString(" " + v.GiftEmoji)
		}
		if v.IsRevealed {
			sb.WriteString(" 🔓")
		}
	}
	sb.WriteString("\n\nUse /reveal <id> to find out who sent one, or /chat <id> to talk to them anonymously.")
	reply(ctx, b, msg.Chat.ID, sb.String())
}

func (h *Handlers) Stats(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in Stats")
		return
	}
	msg := update.Message
	stats, err := h.users.Stats(ctx, msg.From.ID)
	if err != nil {
		replyError(ctx, b, msg.Chat.ID, err)
		return
	}
	plan := "free"
	if stats.Plan != subscription.PlanNone {
		plan = string(stats.Plan)
	}
	reply(ctx, b, msg.Chat.ID, fmt.Sprintf(
		"📊 Sent: %d\nReceived: %d\nRevealed as sender: %d\nBadges: %d\nChain: %d\nBonus valentines: %d\nPlan: %s",
		stats.Sent, stats.Received, stats.Revealed, stats.Badges, stats.ChainCount, stats.BonusCredits, plan,
	))
}

func preview(text string) string {
	if text == "" {
		return "(attachment)"
	}
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes]) + "…"
}

func uintString(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
