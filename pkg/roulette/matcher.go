// Package roulette pairs anonymous messages from strangers. Each waiting
// entry is claimed with a conditional update so two submitters can never
// match the same entry.
package roulette

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smith3v/valentine-bot/pkg/achievement"
	"github.com/smith3v/valentine-bot/pkg/db"
	"github.com/smith3v/valentine-bot/pkg/entitlement"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"github.com/smith3v/valentine-bot/pkg/messenger"
	"github.com/smith3v/valentine-bot/pkg/quota"
	"github.com/smith3v/valentine-bot/pkg/valentine"
	"gorm.io/gorm"
)

const maxClaimAttempts = 5

// Result is either a match or a queue position. QueueID is only set when
// nothing could be matched.
type Result struct {
	Matched        bool
	PartnerID      int64
	PartnerMessage string
	Sent           *db.Valentine
	Received       *db.Valentine
	QueueID        uint
}

type Deps struct {
	DB           *gorm.DB
	Valentines   *valentine.Store
	Deliverer    *valentine.Deliverer
	Ledger       *quota.Ledger
	Entitlements *entitlement.Store
	Achievements *achievement.Store
	Messenger    messenger.Messenger
	MaxLength    int
	Now          func() time.Time
}

type Matcher struct {
	db           *gorm.DB
	valentines   *valentine.Store
	deliverer    *valentine.Deliverer
	ledger       *quota.Ledger
	entitlements *entitlement.Store
	achievements *achievement.Store
	messenger    messenger.Messenger
	maxLength    int
	now          func() time.Time
}

func NewMatcher(d Deps) *Matcher {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Matcher{
		db:           d.DB,
		valentines:   d.Valentines,
		deliverer:    d.Deliverer,
		ledger:       d.Ledger,
		entitlements: d.Entitlements,
		achievements: d.Achievements,
		messenger:    d.Messenger,
		maxLength:    d.MaxLength,
		now:          d.Now,
	}
}

// Submit spends a roulette slot and either matches the oldest waiting entry
// of another user or queues the message.
func (m *Matcher) Submit(ctx context.Context, userID int64, message string) (*Result, error) {
	text, err := valentine.ValidateMessage(message, m.maxLength)
	if err != nil {
		return nil, err
	}

	var result *Result
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := m.spend(tx, userID); err != nil {
			return err
		}
		res, err := m.matchOrQueue(tx, userID, text)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Matched {
		logger.Info("roulette matched", "user_id", userID, "partner_id", result.PartnerID)
		m.notify(ctx, result.Sent)
		m.notify(ctx, result.Received)
	} else {
		logger.Info("roulette queued", "user_id", userID, "queue_id", result.QueueID)
	}

	badges, err := m.achievements.Evaluate(ctx, userID, achievement.EventRoulette)
	if err != nil {
		logger.Error("failed to evaluate achievements", "user_id", userID, "error", err)
	}
	achievement.Notify(ctx, m.messenger, userID, badges)
	return result, nil
}

// spend uses the free daily slot first and falls back to a paid unlock.
func (m *Matcher) spend(tx *gorm.DB, userID int64) error {
	err := m.ledger.ConsumeRouletteSlotTx(tx, userID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, quota.ErrRouletteQuotaExhausted) {
		return err
	}
	ok, err := m.entitlements.ConsumeTx(tx, userID, entitlement.Roulette)
	if err != nil {
		return err
	}
	if !ok {
		return quota.ErrRouletteQuotaExhausted
	}
	return nil
}

func (m *Matcher) matchOrQueue(tx *gorm.DB, userID int64, text string) (*Result, error) {
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		var entry db.RouletteEntry
		err := tx.Where("matched = ? AND user_id <> ?", false, userID).
			Order("created_at ASC").
			Order("id ASC").
			First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("find waiting entry: %w", err)
		}

		claimed, err := m.claim(tx, entry.ID, userID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			logger.Debug("roulette entry taken, searching again", "entry_id", entry.ID, "user_id", userID)
			continue
		}
		return m.pair(tx, userID, text, entry)
	}

	entry := db.RouletteEntry{UserID: userID, Message: text, CreatedAt: m.now().UTC()}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("enqueue roulette entry: %w", err)
	}
	return &Result{QueueID: entry.ID}, nil
}

func (m *Matcher) claim(tx *gorm.DB, entryID uint, userID int64) (bool, error) {
	res := tx.Model(&db.RouletteEntry{}).
		Where("id = ? AND matched = ?", entryID, false).
		Updates(map[string]any{
			"matched":    true,
			"matched_by": userID,
			"matched_at": m.now().UTC(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim roulette entry: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// pair creates both delivered valentines for a claimed entry.
func (m *Matcher) pair(tx *gorm.DB, userID int64, text string, entry db.RouletteEntry) (*Result, error) {
	partnerID := entry.UserID
	submitter := userID
	sent, err := m.valentines.CreateTx(tx, valentine.CreateParams{
		SenderID:   userID,
		ReceiverID: &partnerID,
		Message:    text,
		Source:     db.SourceRoulette,
		Delivered:  true,
	})
	if err != nil {
		return nil, err
	}
	received, err := m.valentines.CreateTx(tx, valentine.CreateParams{
		SenderID:   partnerID,
		ReceiverID: &submitter,
		Message:    entry.Message,
		Source:     db.SourceRoulette,
		Delivered:  true,
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		Matched:        true,
		PartnerID:      partnerID,
		PartnerMessage: entry.Message,
		Sent:           sent,
		Received:       received,
	}, nil
}

func (m *Matcher) notify(ctx context.Context, v *db.Valentine) {
	if err := m.deliverer.Deliver(ctx, v); err != nil {
		logger.Warn("failed to deliver roulette valentine", "valentine_id", v.ID, "receiver_id", *v.ReceiverID, "error", err)
	}
}

// Pending reports whether the user has a message waiting in the queue.
func (m *Matcher) Pending(ctx context.Context, userID int64) (bool, error) {
	var count int64
	err := m.db.WithContext(ctx).Model(&db.RouletteEntry{}).
		Where("user_id = ? AND matched = ?", userID, false).
		Count(&count).Error
	return count > 0, err
}
