package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/valentine-bot/pkg/apperr"
	"github.com/smith3v/valentine-bot/pkg/session"
	"github.com/smith3v/valentine-bot/pkg/valentine"
)

var errBadTime = apperr.Validation("send the time as YYYY-MM-DD HH:MM, or HH:MM for today")

// parseDeliveryTime reads a wall-clock time in now's location. A bare HH:MM
// means today.
func parseDeliveryTime(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	loc := now.Location()
	var at time.Time
	if t, err := time.ParseInLocation("2006-01-02 15:04", text, loc); err == nil {
		at = t
	} else if t, err := time.ParseInLocation("15:04", text, loc); err == nil {
		at = time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, loc)
	} else {
		return time.Time{}, errBadTime
	}
	if !at.After(now) {
		return time.Time{}, valentine.ErrPastSchedule
	}
	return at.UTC(), nil
}

func (h *Handlers) handleSchedule(ctx context.Context, b *bot.Bot, msg *models.Message, sess *session.Session, state session.AwaitScheduleState) {
	at, err := parseDeliveryTime(msg.Text, h.now().In(h.location))
	if err != nil {
		replyError(ctx, b, msg.Chat.ID, err)
		return
	}
	draft := state.Draft
	draft.ScheduledFor = &at
	if _, err := h.sessions.Transition(ctx, sess, session.NextForContent(state.Content, draft)); err != nil {
		replyError(ctx, b, msg.Chat.ID, err)
		return
	}
	reply(ctx, b, msg.Chat.ID, "⏰ It will arrive on "+at.In(h.location).Format("Jan 2 at 15:04")+". "+contentPrompt(state.Content))
}
