// Package bot wires the update handlers into a go-telegram bot.
package bot

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/valentine-bot/pkg/bot/handlers"
	"github.com/smith3v/valentine-bot/pkg/logger"
)

type command struct {
	name        string
	description string
	match       bot.MatchType
	handler     func(*handlers.Handlers) bot.HandlerFunc
}

// Commands that take an argument are matched by prefix.
var commands = []command{
	{"start", "Start the bot", bot.MatchTypePrefix, func(h *handlers.Handlers) bot.HandlerFunc { return h.Start }},
	{"send", "Send an anonymous valentine", bot.MatchTypeExact, func(h *handlers.Handlers) bot.HandlerFunc { return h.Send }},
	{"voice", "Send a voice valentine", bot.MatchTypeExact, func(h *handlers.Handlers) bot.HandlerFunc { return h.Voice }},
	{"photo", "Send a photo valentine", bot.MatchTypeExact, func(h *handlers.Handlers) bot.HandlerFunc { return h.Photo }},
	{"schedule", "Send a valentine later", bot.MatchTypeExact, func(h *handlers.Handlers) bot.HandlerFunc { return h.Schedule }},
	{"premium", "Send a premium valentine", bot.MatchTypeExact, func(h *handlers.Handlers) bot.HandlerFunc { return h.Premium }},
	{"poem", "Send a poem valentine", bot.MatchTypeExact, func(h *handlers.Handlers) bot.HandlerFunc { return h.Poem }},
	{"roulette", "Swap valentines with a stranger", bot.MatchTypeExact, func(h *handlers.Handlers) bot.HandlerFunc { return h.Roulette }},
	{"inbox", "Valentines you received", bot.MatchTypePrefix, func(h *handlers.Handlers) bot.HandlerFunc { return h.Inbox }},
	{"reveal", "Find out who sent a valentine", bot.MatchTypePrefix, func(h *handlers.Handlers) bot.HandlerFunc { return h.Reveal }},
	{"chat", "Chat with a valentine's sender", bot.MatchTypePrefix, func(h *handlers.Handlers) bot.HandlerFunc { return h.Chat }},
	{"join", "Join a chat you were invited to", bot.MatchTypePrefix, func(h *handlers.Handlers) bot.HandlerFunc { return h.Join }},
	{"endchat", "Leave the anonymous chat", bot.MatchTypeExact, func(h *handlers.Handlers) bot.HandlerFunc { return h.EndChat }},
	{"gift", "Attach a gift to a valentine", bot.MatchTypePrefix, func(h *handlers.Handlers) bot.HandlerFunc { return h.Gift }},
	{"compat", "Compatibility test", bot.MatchTypeExact, func(h *handlers.Handlers) bot.HandlerFunc { return h.Compat }},
	{"stats", "Your stats and badges", bot.MatchTypeExact, func(h *handlers.Handlers) bot.HandlerFunc { return h.Stats }},
	{"buy", "Unlock paid features", bot.MatchTypePrefix, func(h *handlers.Handlers) bot.HandlerFunc { return h.Buy }},
	{"bundle", "Buy more valentines", bot.MatchTypePrefix, func(h *handlers.Handlers) bot.HandlerFunc { return h.Bundle }},
	{"subscribe", "Plans with higher limits", bot.MatchTypePrefix, func(h *handlers.Handlers) bot.HandlerFunc { return h.Subscribe }},
	{"cancel", "Stop what you are doing", bot.MatchTypeExact, func(h *handlers.Handlers) bot.HandlerFunc { return h.Cancel }},
}

// Register attaches every command handler to b. Anything else, payments
// included, falls through to the default handler set with
// bot.WithDefaultHandler.
func Register(b *bot.Bot, h *handlers.Handlers) {
	for _, c := range commands {
		b.RegisterHandler(bot.HandlerTypeMessageText, "/"+c.name, c.match, c.handler(h))
	}
}

// PublishCommands sets the command menu shown by Telegram clients.
func PublishCommands(ctx context.Context, b *bot.Bot) {
	list := make([]models.BotCommand, 0, len(commands))
	for _, c := range commands {
		list = append(list, models.BotCommand{Command: c.name, Description: c.description})
	}
	if _, err := b.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: list}); err != nil {
		logger.Error("failed to publish bot commands", "error", err)
	}
}
