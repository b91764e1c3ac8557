package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/valentine-bot/pkg/compat"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"github.com/smith3v/valentine-bot/pkg/payment"
	"github.com/smith3v/valentine-bot/pkg/session"
)

const compatLinkPrefix = "compat_"

// Compat opens a new test and bills it. Answering starts once it is paid.
func (h *Handlers) Compat(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in Compat")
		return
	}
	msg := update.Message
	h.register(ctx, msg)
	test, err := h.compat.Create(ctx, msg.From.ID)
	if err != nil {
		replyError(ctx, b, msg.Chat.ID, err)
		return
	}
	reply(ctx, b, msg.Chat.ID, "💞 Compatibility test\n\n"+
		"1. You answer "+strconv.Itoa(len(compat.Questions))+" questions\n"+
		"2. You get a link for your partner\n"+
		"3. Your partner answers the same questions\n"+
		"4. You both get your compatibility score")
	h.sendInvoice(ctx, b, msg.Chat.ID, payment.Payload{Kind: payment.KindCompat, Ref: test.ID})
}

// beginCompat starts the questionnaire for whichever side userID is on.
func (h *Handlers) beginCompat(ctx context.Context, b *bot.Bot, chatID, userID int64, testID string) {
	if _, err := h.compat.Begin(ctx, testID, userID); err != nil {
		replyError(ctx, b, chatID, err)
		return
	}
	if _, err := h.sessions.Begin(ctx, chatID, userID, session.AwaitCompatAnswerState{TestID: testID}); err != nil {
		replyError(ctx, b, chatID, err)
		return
	}
	reply(ctx, b, chatID, compat.QuestionText(0))
}

func (h *Handlers) handleCompatAnswer(ctx context.Context, b *bot.Bot, msg *models.Message, sess *session.Session, state session.AwaitCompatAnswerState) {
	idx := len(state.Answers)
	if idx >= len(compat.Questions) {
		h.finish(ctx, sess)
		reply(ctx, b, msg.Chat.ID, genericFailure)
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(msg.Text))
	if err != nil || n < 1 || n > len(compat.Questions[idx].Options) {
		reply(ctx, b, msg.Chat.ID, "Reply with the number of your answer, from 1 to "+strconv.Itoa(len(compat.Questions[idx].Options))+".")
		return
	}
	state.Answers = append(state.Answers, n-1)

	if len(state.Answers) < len(compat.Questions) {
		if _, err := h.sessions.Transition(ctx, sess, state); err != nil {
			replyError(ctx, b, msg.Chat.ID, err)
			return
		}
		reply(ctx, b, msg.Chat.ID, compat.QuestionText(len(state.Answers)))
		return
	}

	h.finish(ctx, sess)
	res, err := h.compat.Submit(ctx, state.TestID, msg.From.ID, state.Answers)
	if err != nil {
		replyError(ctx, b, msg.Chat.ID, err)
		return
	}
	if res.Role == compat.RoleInitiator {
		reply(ctx, b, msg.Chat.ID, "✅ Your answers are saved!\n\nNow send this link to your partner: "+
			deepLink(ctx, b, compatLinkPrefix+state.TestID)+"\n\nYou will both get the result once they answer.")
		return
	}
	reply(ctx, b, msg.Chat.ID, compat.ResultText(res.Percent))
}
