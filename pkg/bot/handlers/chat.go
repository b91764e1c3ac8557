package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/valentine-bot/pkg/anonchat"
	"github.com/smith3v/valentine-bot/pkg/apperr"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"github.com/smith3v/valentine-bot/pkg/session"
)

const chatHint = "Everything you write now goes to the other side anonymously. /endchat to stop."

// Chat opens an anonymous chat with the sender of a received valentine.
func (h *Handlers) Chat(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in Chat")
		return
	}
	msg := update.Message
	id, err := strconv.ParseUint(commandArg(msg.Text), 10, 64)
	if err != nil || id == 0 {
		reply(ctx, b, msg.Chat.ID, "Usage: /chat <id>. You can find ids in /inbox.")
		return
	}
	chat, err := h.chats.Open(ctx, uint(id), msg.From.ID)
	if err != nil {
		replyError(ctx, b, msg.Chat.ID, err)
		return
	}
	h.enterChat(ctx, b, msg, chat.ID, "💬 Chat opened. The sender has been invited. "+chatHint)
}

// Join lets the sender enter a chat the receiver opened.
func (h *Handlers) Join(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in Join")
		return
	}
	msg := update.Message
	chatID := commandArg(msg.Text)
	if chatID == "" {
		reply(ctx, b, msg.Chat.ID, "Usage: /join <chat id>")
		return
	}
	chat, err := h.chats.Join(ctx, chatID, msg.From.ID)
	if err != nil {
		replyError(ctx, b, msg.Chat.ID, err)
		return
	}
	h.enterChat(ctx, b, msg, chat.ID, "💬 You joined the chat. "+chatHint)
}

func (h *Handlers) enterChat(ctx context.Context, b *bot.Bot, msg *models.Message, chatID, text string) {
	if _, err := h.sessions.Begin(ctx, msg.Chat.ID, msg.From.ID, session.InChatState{ChatID: chatID}); err != nil {
		replyError(ctx, b, msg.Chat.ID, err)
		return
	}
	reply(ctx, b, msg.Chat.ID, text)
}

func (h *Handlers) EndChat(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !validMessage(update) {
		logger.Error("invalid update in EndChat")
		return
	}
	msg := update.Message
	if !h.leaveChat(ctx, msg) {
		reply(ctx, b, msg.Chat.ID, "You are not in a chat.")
		return
	}
	if err := h.sessions.Reset(ctx, msg.Chat.ID); err != nil {
		replyError(ctx, b, msg.Chat.ID, err)
		return
	}
	reply(ctx, b, msg.Chat.ID, "💬 Chat ended.")
}

// leaveChat closes the anonymous chat the session is in, if any. It reports
// whether there was one.
func (h *Handlers) leaveChat(ctx context.Context, msg *models.Message) bool {
	sess, err := h.sessions.Load(ctx, msg.Chat.ID)
	if err != nil {
		logger.Error("failed to load session", "chat_id", msg.Chat.ID, "error", err)
		return false
	}
	state, ok := sess.State.(session.InChatState)
	if !ok {
		return false
	}
	if err := h.chats.Close(ctx, state.ChatID, msg.From.ID); err != nil {
		logger.Warn("failed to close chat", "chat_id", state.ChatID, "error", err)
	}
	return true
}

func (h *Handlers) handleChatMessage(ctx context.Context, b *bot.Bot, msg *models.Message, sess *session.Session, state session.InChatState) {
	err := h.chats.Relay(ctx, state.ChatID, msg.From.ID, msg.Text)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrDelivery):
		reply(ctx, b, msg.Chat.ID, "⚠️ Saved, but it could not be delivered right now.")
	case errors.Is(err, anonchat.ErrChatClosed), errors.Is(err, anonchat.ErrNotParticipant):
		h.finish(ctx, sess)
		replyError(ctx, b, msg.Chat.ID, err)
	default:
		replyError(ctx, b, msg.Chat.ID, err)
	}
}
