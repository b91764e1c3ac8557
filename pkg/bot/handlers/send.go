package handlers

import (
	"context"
	"errors"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/valentine-bot/pkg/apperr"
	"github.com/smith3v/valentine-bot/pkg/entitlement"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"github.com/smith3v/valentine-bot/pkg/session"
	"github.com/smith3v/valentine-bot/pkg/valentine"
)

func (h *Handlers) Send(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.beginSend(ctx, b, update, session.ContentText, session.Extras{})
}

func (h *Handlers) Voice(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.beginSend(ctx, b, update, session.ContentVoice, session.Extras{})
}

func (h *Handlers) Photo(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.beginSend(ctx, b, update, session.ContentPhoto, session.Extras{})
}

func (h *Handlers) Schedule(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.beginSend(ctx, b, update, session.ContentText, session.Extras{Schedule: true})
}

func (h *Handlers) Premium(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.beginSend(ctx, b, update, session.ContentText, session.Extras{Premium: true})
}

func (h *Handlers) Poem(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.beginSend(ctx, b, update, session.ContentText, session.Extras{Poem: true})
}

// unlocksFor lists the paid unlocks a flow will spend when it sends.
func unlocksFor(content session.Content, extras session.Extras) []entitlement.Kind {
	var kinds []entitlement.Kind
	if content == session.ContentVoice {
		kinds = append(kinds, entitlement.Voice)
	}
	if extras.Schedule {
		kinds = append(kinds, entitlement.Schedule)
	}
	if extras.Premium {
		kinds = append(kinds, entitlement.Premium)
	}
	if extras.Poem {
		kinds = append(kinds, entitlement.Poem)
	}
	return kinds
}

// beginSend refuses up front when a paid unlock is missing, so nobody types a
// valentine that cannot be sent.
func (h *Handlers) beginSend(ctx context.Context, b *bot.Bot, update *models.Update, content session.Content, extras session.Extras) {
	if !validMessage(update) {
		logger.Error("invalid update in send command")
		return
	}
	msg := update.Message
	h.register(ctx, msg)

	missing, err := h.valentines.MissingUnlock(ctx, msg.From.ID, unlocksFor(content, extras)...)
	if err != nil {
		replyError(ctx, b, msg.Chat.ID, err)
		return
	}
	if missing != "" {
		reply(ctx, b, msg.Chat.ID, h.lockedText(missing))
		return
	}

	state := session.AwaitRecipientState{Content: content, Extras: extras}
	if _, err := h.sessions.Begin(ctx, msg.Chat.ID, msg.From.ID, state); err != nil {
		replyError(ctx, b, msg.Chat.ID, err)
		return
	}
	reply(ctx, b, msg.Chat.ID, "Who is it for? Send me their @username.")
}

func (h *Handlers) Cancel(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in Cancel")
		return
	}
	msg := update.Message
	h.leaveChat(ctx, msg)
	if err := h.sessions.Reset(ctx, msg.Chat.ID); err != nil {
		replyError(ctx, b, msg.Chat.ID, err)
		return
	}
	reply(ctx, b, msg.Chat.ID, "Cancelled.")
}

func (h *Handlers) handleRecipient(ctx context.Context, b *bot.Bot, msg *models.Message, sess *session.Session, state session.AwaitRecipientState) {
	username, err := valentine.NormalizeUsername(msg.Text)
	if err != nil {
		replyError(ctx, b, msg.Chat.ID, err)
		return
	}
	draft := state.DraftFor(username)
	next := session.NextForContent(state.Content, draft)
	if state.Schedule {
		next = session.AwaitScheduleState{Content: state.Content, Draft: draft}
	}
	if _, err := h.sessions.Transition(ctx, sess, next); err != nil {
		replyError(ctx, b, msg.Chat.ID, err)
		return
	}
	if state.Schedule {
		reply(ctx, b, msg.Chat.ID, "⏰ When should it arrive? Send a time like 2025-02-14 09:00, or just 21:30 for today ("+h.location.String()+").")
		return
	}
	reply(ctx, b, msg.Chat.ID, contentPrompt(state.Content))
}

func contentPrompt(content session.Content) string {
	switch content {
	case session.ContentVoice:
		return "🎤 Now record a voice message."
	case session.ContentPhoto:
		return "📸 Now send a photo. A caption becomes the message."
	default:
		return "✍️ Now write your valentine."
	}
}

// handleContent sends the valentine for the three await-content states.
func (h *Handlers) handleContent(ctx context.Context, b *bot.Bot, msg *models.Message, sess *session.Session, draft session.Draft, req valentine.SendRequest) {
	req.SenderID = msg.From.ID
	req.ReceiverUsername = draft.Recipient
	req.ScheduledFor = draft.ScheduledFor
	req.Premium = draft.Premium
	req.Poem = draft.Poem

	res, err := h.valentines.Send(ctx, req)
	if err != nil {
		// validation problems keep the flow open so the user can retry
		if errors.Is(err, apperr.ErrValidation) {
			replyError(ctx, b, msg.Chat.ID, err)
			return
		}
		h.finish(ctx, sess)
		replyError(ctx, b, msg.Chat.ID, err)
		if errors.Is(err, entitlement.ErrMissing) {
			reply(ctx, b, msg.Chat.ID, "See /buy to unlock it.")
		}
		return
	}
	h.finish(ctx, sess)

	switch {
	case res.Deferred:
		reply(ctx, b, msg.Chat.ID, "💌 Saved! @"+draft.Recipient+" has not started the bot yet. "+
			"It will be delivered as soon as they do. Share this link with them: "+inviteLink(ctx, b, res.Valentine.ID))
	case res.Delivered:
		reply(ctx, b, msg.Chat.ID, "💌 Your valentine has been delivered anonymously!")
	default:
		reply(ctx, b, msg.Chat.ID, "💌 Your valentine is saved and will be delivered on time.")
	}
	if res.ChainBonus {
		reply(ctx, b, msg.Chat.ID, "🔥 Chain bonus! You earned an extra valentine.")
	}
}

func (h *Handlers) finish(ctx context.Context, sess *session.Session) {
	if _, err := h.sessions.Transition(ctx, sess, session.IdleState{}); err != nil {
		logger.Warn("failed to close session", "chat_id", sess.ChatID, "error", err)
	}
}

func inviteLink(ctx context.Context, b *bot.Bot, id uint) string {
	return deepLink(ctx, b, deepLinkPrefix+uintString(id))
}

// deepLink builds a t.me start link, or a /start command when the bot's
// username is unknown.
func deepLink(ctx context.Context, b *bot.Bot, payload string) string {
	me, err := b.GetMe(ctx)
	if err != nil || me.Username == "" {
		return "/start " + payload
	}
	return "https://t.me/" + me.Username + "?start=" + payload
}
