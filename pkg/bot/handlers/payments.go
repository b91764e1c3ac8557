package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"github.com/smith3v/valentine-bot/pkg/payment"
)

func (h *Handlers) Reveal(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in Reveal")
		return
	}
	msg := update.Message
	id, err := strconv.ParseUint(commandArg(msg.Text), 10, 64)
	if err != nil || id == 0 {
		reply(ctx, b, msg.Chat.ID, "Usage: /reveal <id>. You can find ids in /inbox.")
		return
	}
	h.checkAndInvoice(ctx, b, msg, payment.Payload{Kind: payment.KindReveal, ValentineID: uint(id)})
}

func (h *Handlers) Bundle(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in Bundle")
		return
	}
	msg := update.Message
	kind := payment.KindBundle
	if commandArg(msg.Text) == "week" {
		kind = payment.KindWeekBundle
	}
	h.sendInvoice(ctx, b, msg.Chat.ID, payment.Payload{Kind: kind, UserID: msg.From.ID})
}

func (h *Handlers) Subscribe(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in Subscribe")
		return
	}
	msg := update.Message
	offer := strings.ToLower(commandArg(msg.Text))
	switch offer {
	case payment.OfferRomantic, payment.OfferLovebomb, payment.OfferLovebomb3M:
		h.sendInvoice(ctx, b, msg.Chat.ID, payment.Payload{Kind: payment.KindSub, Offer: offer, UserID: msg.From.ID})
	default:
		reply(ctx, b, msg.Chat.ID, "Plans:\n"+
			"/subscribe romantic - more free valentines every day\n"+
			"/subscribe lovebomb - unlimited valentines and all extras\n"+
			"/subscribe lovebomb3m - lovebomb for three months")
	}
}

func (h *Handlers) price(p payment.Payload) int {
	inv, err := h.payments.Invoice(p)
	if err != nil {
		return 0
	}
	return inv.Amount
}

func (h *Handlers) sendInvoice(ctx context.Context, b *bot.Bot, chatID int64, p payment.Payload) {
	inv, err := h.payments.Invoice(p)
	if err != nil {
		replyError(ctx, b, chatID, err)
		return
	}
	_, err = b.SendInvoice(ctx, &bot.SendInvoiceParams{
		ChatID:      chatID,
		Title:       inv.Title,
		Description: inv.Description,
		Payload:     inv.Payload,
		Currency:    payment.Currency,
		Prices:      []models.LabeledPrice{{Label: inv.Title, Amount: inv.Amount}},
	})
	if err != nil {
		logger.Error("failed to send invoice", "chat_id", chatID, "payload", inv.Payload, "error", err)
		reply(ctx, b, chatID, genericFailure)
	}
}

// handlePreCheckout answers from Reconciler.Verify. Declining here stops
// Telegram from capturing the charge.
func (h *Handlers) handlePreCheckout(ctx context.Context, b *bot.Bot, q *models.PreCheckoutQuery) {
	params := &bot.AnswerPreCheckoutQueryParams{PreCheckoutQueryID: q.ID}
	decision, err := h.payments.Verify(ctx, payment.Charge{
		UserID:   q.From.ID,
		Amount:   q.TotalAmount,
		Currency: q.Currency,
		Payload:  q.InvoicePayload,
	})
	switch {
	case err != nil:
		logger.Error("failed to verify payment", "payload", q.InvoicePayload, "error", err)
		params.ErrorMessage = genericFailure
	case !decision.Accept:
		logger.Info("pre-checkout rejected", "payload", q.InvoicePayload, "user_id", q.From.ID, "reason", decision.Reason)
		params.ErrorMessage = decision.Reason
	default:
		params.OK = true
	}
	if _, err := b.AnswerPreCheckoutQuery(ctx, params); err != nil {
		logger.Error("failed to answer pre-checkout query", "query_id", q.ID, "error", err)
	}
}

func (h *Handlers) handleSuccessfulPayment(ctx context.Context, b *bot.Bot, msg *models.Message) {
	sp := msg.SuccessfulPayment
	out, err := h.payments.Apply(ctx, payment.Charge{
		ChargeID: sp.TelegramPaymentChargeID,
		UserID:   msg.From.ID,
		Amount:   sp.TotalAmount,
		Currency: sp.Currency,
		Payload:  sp.InvoicePayload,
	})
	if err != nil {
		logger.Error("failed to apply payment", "charge_id", sp.TelegramPaymentChargeID, "error", err)
		reply(ctx, b, msg.Chat.ID, "Your payment was received but could not be applied yet. Please contact support.")
		return
	}
	if !out.Applied {
		return
	}
	reply(ctx, b, msg.Chat.ID, h.paymentConfirmation(ctx, out.Payload))
	if out.Payload.Kind == payment.KindCompat {
		h.beginCompat(ctx, b, msg.Chat.ID, msg.From.ID, out.Payload.Ref)
	}
}

func (h *Handlers) paymentConfirmation(ctx context.Context, p payment.Payload) string {
	switch p.Kind {
	case payment.KindReveal:
		v, err := h.valentines.Store().Get(ctx, p.ValentineID)
		if err != nil || v == nil {
			return "✅ Payment received."
		}
		sender, err := h.users.Get(ctx, v.SenderID)
		if err != nil || sender == nil {
			return "✅ The sender has been revealed, but they have no public profile."
		}
		name := sender.FirstName
		if name == "" {
			name = "Someone"
		}
		if sender.Username != "" {
			return fmt.Sprintf("🔓 It was %s (@%s)!", name, sender.Username)
		}
		return fmt.Sprintf("🔓 It was %s!", name)
	case payment.KindGift:
		return "✅ Gift " + p.Emoji + " attached!"
	case payment.KindBundle, payment.KindWeekBundle:
		return "✅ Extra valentines added to your balance."
	case payment.KindSub:
		return "🎉 Your subscription is active. Enjoy!"
	case payment.KindRoulette:
		return "✅ Extra match paid. Use /roulette to play."
	case payment.KindCompat:
		return "✅ Test paid! Answer the questions below."
	case payment.KindVoice:
		return "✅ Unlocked! Use /voice to record it."
	case payment.KindSchedule:
		return "✅ Unlocked! Use /schedule to pick a delivery time."
	case payment.KindPremium:
		return "✅ Unlocked! Use /premium to send it."
	case payment.KindPoem:
		return "✅ Unlocked! Use /poem to write it."
	default:
		return "✅ Payment received."
	}
}
