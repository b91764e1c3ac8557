package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/valentine-bot/pkg/entitlement"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"github.com/smith3v/valentine-bot/pkg/payment"
)

// unlockOffers are the one-shot unlocks sold through /buy, in menu order.
var unlockOffers = []struct {
	kind  entitlement.Kind
	title string
}{
	{entitlement.Voice, "a voice valentine (/voice)"},
	{entitlement.Schedule, "scheduled delivery (/schedule)"},
	{entitlement.Premium, "premium design (/premium)"},
	{entitlement.Poem, "a poem valentine (/poem)"},
	{entitlement.Roulette, "an extra roulette match (/roulette)"},
}

func offerTitle(kind entitlement.Kind) (string, bool) {
	for _, o := range unlockOffers {
		if o.kind == kind {
			return o.title, true
		}
	}
	return "", false
}

func (h *Handlers) lockedText(kind entitlement.Kind) string {
	title, _ := offerTitle(kind)
	return fmt.Sprintf("🔒 Unlock %s for %d⭐ with /buy %s, or get everything with /subscribe lovebomb.",
		title, h.price(payment.Payload{Kind: payment.Kind(kind)}), kind)
}

// Buy sells one paid unlock: /buy <voice|schedule|premium|poem|roulette>.
func (h *Handlers) Buy(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in Buy")
		return
	}
	msg := update.Message
	kind := entitlement.Kind(strings.ToLower(commandArg(msg.Text)))
	if _, ok := offerTitle(kind); !ok {
		var sb strings.Builder
		sb.WriteString("Unlocks:")
		for _, o := range unlockOffers {
			fmt.Fprintf(&sb, "\n/buy %s - %s, %d⭐", o.kind, o.title, h.price(payment.Payload{Kind: payment.Kind(o.kind)}))
		}
		reply(ctx, b, msg.Chat.ID, sb.String())
		return
	}
	h.sendInvoice(ctx, b, msg.Chat.ID, payment.Payload{Kind: payment.Kind(kind), UserID: msg.From.ID})
}

// Gift bills a gift for a valentine the user sent: /gift <id> <emoji>.
func (h *Handlers) Gift(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in Gift")
		return
	}
	msg := update.Message
	idPart, emoji, _ := strings.Cut(commandArg(msg.Text), " ")
	emoji = strings.TrimSpace(emoji)
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil || id == 0 || emoji == "" {
		reply(ctx, b, msg.Chat.ID, "Usage: /gift <id> <gift>. Gifts: "+strings.Join(h.gifts, " "))
		return
	}
	h.checkAndInvoice(ctx, b, msg, payment.Payload{Kind: payment.KindGift, ValentineID: uint(id), Emoji: emoji})
}

// checkAndInvoice runs the pre-checkout rules before billing, so a stale
// target is refused before the invoice is shown.
func (h *Handlers) checkAndInvoice(ctx context.Context, b *bot.Bot, msg *models.Message, p payment.Payload) {
	decision, err := h.payments.Verify(ctx, payment.Charge{
		UserID:   msg.From.ID,
		Amount:   h.price(p),
		Currency: payment.Currency,
		Payload:  p.Tag(),
	})
	if err != nil {
		replyError(ctx, b, msg.Chat.ID, err)
		return
	}
	if !decision.Accept {
		reply(ctx, b, msg.Chat.ID, decision.Reason)
		return
	}
	h.sendInvoice(ctx, b, msg.Chat.ID, p)
}
