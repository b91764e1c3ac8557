// Package scheduler delivers valentines whose scheduled time has passed.
//
// A row is first leased through claimed_until, then delivered, then flipped
// to sent with a conditional update. Overlapping ticks therefore see a lost
// lease or a lost flip instead of sending twice.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/smith3v/valentine-bot/pkg/config"
	"github.com/smith3v/valentine-bot/pkg/db"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"github.com/smith3v/valentine-bot/pkg/messenger"
	"github.com/smith3v/valentine-bot/pkg/valentine"
	"gorm.io/gorm"
)

const senderNotice = "💌 Your scheduled valentine has just been delivered."

type Report struct {
	Due       int
	Delivered int
	Failed    int
	Skipped   int
}

type Worker struct {
	db        *gorm.DB
	deliverer *valentine.Deliverer
	messenger messenger.Messenger
	interval  time.Duration
	batchSize int
	lease     time.Duration
	now       func() time.Time
}

func NewWorker(gdb *gorm.DB, deliverer *valentine.Deliverer, m messenger.Messenger, cfg config.SchedulerConfig, now func() time.Time) *Worker {
	if now == nil {
		now = time.Now
	}
	w := &Worker{
		db:        gdb,
		deliverer: deliverer,
		messenger: m,
		interval:  cfg.Interval(),
		batchSize: cfg.BatchSize,
		lease:     cfg.ClaimLease(),
		now:       now,
	}
	if w.interval <= 0 {
		w.interval = 30 * time.Second
	}
	if w.batchSize <= 0 {
		w.batchSize = 100
	}
	if w.lease <= 0 {
		w.lease = 2 * time.Minute
	}
	return w
}

// Run ticks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	source := tickerFactory(w.interval)
	defer func() {
		if source.stop != nil {
			source.stop()
		}
	}()
	logger.Info("scheduler started", "interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped")
			return
		case <-source.C:
			report, err := w.Tick(ctx, w.now())
			if err != nil {
				logger.Error("scheduler tick failed", "error", err)
				continue
			}
			if report.Due > 0 {
				logger.Info("scheduler tick", "due", report.Due, "delivered", report.Delivered, "failed", report.Failed, "skipped", report.Skipped)
			}
		}
	}
}

// Tick delivers one batch of due valentines. Only a failing due query is
// returned as an error; per-row failures are counted and retried next tick.
func (w *Worker) Tick(ctx context.Context, now time.Time) (Report, error) {
	now = now.UTC()
	tx := w.db.WithContext(ctx)

	var due []db.Valentine
	err := tx.
		Where("scheduled_for <= ? AND is_scheduled_sent = ? AND is_delivered = ? AND receiver_id IS NOT NULL", now, false, false).
		Where("(claimed_until IS NULL OR claimed_until <= ?)", now).
		Order("scheduled_for ASC").
		Order("id ASC").
		Limit(w.batchSize).
		Find(&due).Error
	if err != nil {
		return Report{}, fmt.Errorf("select due valentines: %w", err)
	}

	report := Report{Due: len(due)}
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		switch w.deliver(ctx, &due[i], now) {
		case outcomeDelivered:
			report.Delivered++
		case outcomeFailed:
			report.Failed++
		default:
			report.Skipped++
		}
	}
	return report, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDelivered
	outcomeFailed
)

func (w *Worker) deliver(ctx context.Context, v *db.Valentine, now time.Time) outcome {
	tx := w.db.WithContext(ctx)

	leased, err := w.acquire(tx, v.ID, now)
	if err != nil {
		logger.Error("failed to lease scheduled valentine", "valentine_id", v.ID, "error", err)
		return outcomeFailed
	}
	if !leased {
		return outcomeSkipped
	}

	if err := w.deliverer.Deliver(ctx, v); err != nil {
		logger.Warn("scheduled delivery failed, will retry", "valentine_id", v.ID, "receiver_id", *v.ReceiverID, "error", err)
		w.release(tx, v.ID)
		return outcomeFailed
	}

	res := tx.Model(&db.Valentine{}).
		Where("id = ? AND is_scheduled_sent = ? AND is_delivered = ?", v.ID, false, false).
		Updates(map[string]any{
			"is_scheduled_sent": true,
			"is_delivered":      true,
			"delivered_at":      now,
			"claimed_until":     nil,
		})
	if res.Error != nil {
		logger.Error("failed to flip delivered valentine", "valentine_id", v.ID, "error", res.Error)
		return outcomeFailed
	}
	if res.RowsAffected == 0 {
		logger.Warn("scheduled valentine was flipped by another worker", "valentine_id", v.ID)
		return outcomeSkipped
	}

	if err := w.messenger.Send(ctx, v.SenderID, messenger.Payload{Text: senderNotice}); err != nil {
		logger.Warn("failed to notify sender", "valentine_id", v.ID, "sender_id", v.SenderID, "error", err)
	}
	return outcomeDelivered
}

func (w *Worker) acquire(tx *gorm.DB, id uint, now time.Time) (bool, error) {
	res := tx.Model(&db.Valentine{}).
		Where("id = ? AND is_scheduled_sent = ? AND is_delivered = ?", id, false, false).
		Where("(claimed_until IS NULL OR claimed_until <= ?)", now).
		Update("claimed_until", now.Add(w.lease))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (w *Worker) release(tx *gorm.DB, id uint) {
	err := tx.Model(&db.Valentine{}).
		Where("id = ? AND is_delivered = ?", id, false).
		Update("claimed_until", nil).Error
	if err != nil {
		logger.Error("failed to release delivery lease", "valentine_id", id, "error", err)
	}
}
