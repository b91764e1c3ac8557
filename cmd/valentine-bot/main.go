// cmd/valentine-bot/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/valentine-bot/pkg/achievement"
	"github.com/smith3v/valentine-bot/pkg/admin"
	"github.com/smith3v/valentine-bot/pkg/anonchat"
	botcmd "github.com/smith3v/valentine-bot/pkg/bot"
	"github.com/smith3v/valentine-bot/pkg/bot/handlers"
	"github.com/smith3v/valentine-bot/pkg/compat"
	"github.com/smith3v/valentine-bot/pkg/config"
	"github.com/smith3v/valentine-bot/pkg/db"
	"github.com/smith3v/valentine-bot/pkg/entitlement"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"github.com/smith3v/valentine-bot/pkg/messenger"
	"github.com/smith3v/valentine-bot/pkg/payment"
	"github.com/smith3v/valentine-bot/pkg/quota"
	"github.com/smith3v/valentine-bot/pkg/roulette"
	"github.com/smith3v/valentine-bot/pkg/scheduler"
	"github.com/smith3v/valentine-bot/pkg/session"
	"github.com/smith3v/valentine-bot/pkg/subscription"
	"github.com/smith3v/valentine-bot/pkg/users"
	"github.com/smith3v/valentine-bot/pkg/valentine"
	"golang.org/x/sync/errgroup"
)

const configFile = "config.json"

func main() {
	path := configFile
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		// environment-only deployments
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := logger.Configure(logger.Options{
		Level:  cfg.Logging.Level,
		File:   cfg.Logging.File,
		Format: cfg.Logging.Format,
	}); err != nil {
		logger.Error("failed to configure logger", "error", err)
	}

	gdb, err := db.Open(cfg.Database, cfg.Logging.GormLevel)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	now := func() time.Time { return time.Now().UTC() }

	var h *handlers.Handlers
	b, err := bot.New(cfg.Telegram.Token, bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *models.Update) {
		h.Default(ctx, b, update)
	}))
	if err != nil {
		logger.Error("failed to create bot", "error", err)
		os.Exit(1)
	}
	m := messenger.NewTelegram(b, cfg.Telegram.SendTimeout())

	subs := subscription.NewManager(gdb, now)
	directory := users.NewDirectory(gdb, subs)
	ledger := quota.NewLedger(gdb, subs, cfg.Limits, cfg.Location(), now)
	ents := entitlement.NewStore(gdb, now)
	achievements := achievement.NewStore(gdb, now)
	store := valentine.NewStore(gdb, cfg.Limits.InboxPageSize, now)
	service := valentine.NewService(valentine.Deps{
		DB:           gdb,
		Store:        store,
		Ledger:       ledger,
		Subs:         subs,
		Entitlements: ents,
		Achievements: achievements,
		Directory:    directory,
		Messenger:    m,
		Limits:       cfg.Limits,
		Now:          now,
	})
	matcher := roulette.NewMatcher(roulette.Deps{
		DB:           gdb,
		Valentines:   store,
		Deliverer:    service.Deliverer(),
		Ledger:       ledger,
		Entitlements: ents,
		Achievements: achievements,
		Messenger:    m,
		MaxLength:    cfg.Limits.MaxMessageLength,
		Now:          now,
	})
	tests := compat.NewService(gdb, m, now)
	chats := anonchat.NewService(anonchat.Deps{
		DB:         gdb,
		Valentines: store,
		Messenger:  m,
		MaxLength:  cfg.Limits.MaxMessageLength,
		Now:        now,
	})
	reconciler := payment.NewReconciler(payment.Deps{
		DB:           gdb,
		Valentines:   store,
		Ledger:       ledger,
		Subs:         subs,
		Entitlements: ents,
		Achievements: achievements,
		Compat:       tests,
		Messenger:    m,
		Prices:       cfg.Prices,
		Limits:       cfg.Limits,
		Gifts:        cfg.Gifts,
		Now:          now,
	})
	worker := scheduler.NewWorker(gdb, service.Deliverer(), m, cfg.Scheduler, now)

	h = handlers.New(handlers.Services{
		Users:      directory,
		Valentines: service,
		Roulette:   matcher,
		Payments:   reconciler,
		Compat:     tests,
		Chats:      chats,
		Sessions:   session.NewStore(gdb, cfg.Sessions.TTL(), now),
		Gifts:      cfg.Gifts,
		Location:   cfg.Location(),
		Now:        now,
	})
	botcmd.Register(b, h)
	botcmd.PublishCommands(ctx, b)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		db.StartSessionCleanup(gctx, gdb, cfg.Sessions.CleanupInterval(), now)
		return nil
	})
	if cfg.Admin.ListenAddr != "" {
		srv := admin.NewServer(cfg.Admin.ListenAddr, cfg.Admin.CronSecret, worker, store, now)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}
	g.Go(func() error {
		logger.Info("Starting bot...")
		b.Start(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("bot stopped with error", "error", err)
		os.Exit(1)
	}
}
