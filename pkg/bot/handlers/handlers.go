// Package handlers adapts Telegram updates to the valentine services. It holds
// no business rules of its own.
package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/valentine-bot/pkg/anonchat"
	"github.com/smith3v/valentine-bot/pkg/apperr"
	"github.com/smith3v/valentine-bot/pkg/compat"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"github.com/smith3v/valentine-bot/pkg/payment"
	"github.com/smith3v/valentine-bot/pkg/roulette"
	"github.com/smith3v/valentine-bot/pkg/session"
	"github.com/smith3v/valentine-bot/pkg/users"
	"github.com/smith3v/valentine-bot/pkg/valentine"
)

const genericFailure = "Something went wrong. Please try again later."

// Services are the collaborators the handlers call into. Location is the zone
// scheduled delivery times are typed in.
type Services struct {
	Users      *users.Directory
	Valentines *valentine.Service
	Roulette   *roulette.Matcher
	Payments   *payment.Reconciler
	Compat     *compat.Service
	Chats      *anonchat.Service
	Sessions   *session.Store
	Gifts      []string
	Location   *time.Location
	Now        func() time.Time
}

type Handlers struct {
	users      *users.Directory
	valentines *valentine.Service
	roulette   *roulette.Matcher
	payments   *payment.Reconciler
	compat     *compat.Service
	chats      *anonchat.Service
	sessions   *session.Store
	gifts      []string
	location   *time.Location
	now        func() time.Time
}

func New(s Services) *Handlers {
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &Handlers{
		users:      s.Users,
		valentines: s.Valentines,
		roulette:   s.Roulette,
		payments:   s.Payments,
		compat:     s.Compat,
		chats:      s.Chats,
		sessions:   s.Sessions,
		gifts:      s.Gifts,
		location:   s.Location,
		now:        s.Now,
	}
}

func validMessage(update *models.Update) bool {
	return update != nil && update.Message != nil && update.Message.From != nil && update.Message.Chat.ID != 0
}

// register keeps the sender's profile fresh on every interaction.
func (h *Handlers) register(ctx context.Context, msg *models.Message) {
	err := h.users.Register(ctx, users.Profile{
		UserID:    msg.From.ID,
		Username:  msg.From.Username,
		FirstName: msg.From.FirstName,
	})
	if err != nil {
		logger.Error("failed to register user", "user_id", msg.From.ID, "error", err)
	}
}

func reply(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		logger.Error("failed to send reply", "chat_id", chatID, "error", err)
	}
}

// replyError shows kinded errors to the user and hides everything else.
func replyError(ctx context.Context, b *bot.Bot, chatID int64, err error) {
	if apperr.IsUserFacing(err) {
		reply(ctx, b, chatID, capitalize(apperr.Reason(err))+".")
		return
	}
	logger.Error("request failed", "chat_id", chatID, "error", err)
	reply(ctx, b, chatID, genericFailure)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// commandArg returns the text after the command, if any.
func commandArg(text string) string {
	_, arg, _ := strings.Cut(strings.TrimSpace(text), " ")
	return strings.TrimSpace(arg)
}
