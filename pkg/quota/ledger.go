// Package quota tracks daily free sends, bonus credits and roulette use.
//
// Every write is a compare-and-swap on users.version: the row is read, the
// next state is computed in Go, and the update only lands if nobody else
// wrote in between. A lost swap is retried with a fresh read.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smith3v/valentine-bot/pkg/apperr"
	"github.com/smith3v/valentine-bot/pkg/clock"
	"github.com/smith3v/valentine-bot/pkg/config"
	"github.com/smith3v/valentine-bot/pkg/db"
	"github.com/smith3v/valentine-bot/pkg/subscription"
	"gorm.io/gorm"
)

const maxSwapAttempts = 8

var (
	ErrSendQuotaExhausted     = apperr.Precondition("no free valentines left today")
	ErrRouletteQuotaExhausted = apperr.Precondition("free roulette match already used today")
	ErrContended              = apperr.Conflict("quota row is contended")
)

type PlanLookup interface {
	ActivePlanTx(tx *gorm.DB, userID int64) (subscription.Plan, error)
}

type Ledger struct {
	db     *gorm.DB
	plans  PlanLookup
	limits config.LimitsConfig
	loc    *time.Location
	now    func() time.Time
}

func NewLedger(gdb *gorm.DB, plans PlanLookup, limits config.LimitsConfig, loc *time.Location, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{db: gdb, plans: plans, limits: limits, loc: loc, now: now}
}

func (l *Ledger) today() string {
	return clock.Day(l.now(), l.loc)
}

func (l *Ledger) sendLimit(tx *gorm.DB, userID int64) (int, error) {
	plan, err := l.plans.ActivePlanTx(tx, userID)
	if err != nil {
		return 0, fmt.Errorf("lookup plan: %w", err)
	}
	return subscription.DailyLimit(plan, l.limits.FreeDaily, l.limits.RomanticDaily), nil
}

func (l *Ledger) CanSendFree(ctx context.Context, userID int64) (bool, error) {
	tx := l.db.WithContext(ctx)
	limit, err := l.sendLimit(tx, userID)
	if err != nil {
		return false, err
	}
	user, err := findUser(tx, userID)
	if err != nil {
		return false, err
	}
	return canSend(sendStateOf(user), l.today(), limit), nil
}

// ConsumeSendSlot checks the limit and consumes one slot as a single guarded
// write. It returns ErrSendQuotaExhausted when nothing is left.
func (l *Ledger) ConsumeSendSlot(ctx context.Context, userID int64) (Slot, error) {
	return l.ConsumeSendSlotTx(l.db.WithContext(ctx), userID)
}

func (l *Ledger) ConsumeSendSlotTx(tx *gorm.DB, userID int64) (Slot, error) {
	limit, err := l.sendLimit(tx, userID)
	if err != nil {
		return SlotNone, err
	}
	today := l.today()

	var slot Slot
	err = l.swap(tx, userID, func(user *db.User) (map[string]any, error) {
		next, used, ok := planSend(sendStateOf(user), today, limit)
		if !ok {
			return nil, ErrSendQuotaExhausted
		}
		slot = used
		return map[string]any{
			"free_sends_today": next.Count,
			"last_send_date":   next.Date,
			"bonus_credits":    next.Bonus,
		}, nil
	})
	if err != nil {
		return SlotNone, err
	}
	return slot, nil
}

func (l *Ledger) privileged(tx *gorm.DB, user *db.User) (bool, error) {
	if user.RouletteFreeUntil != nil && l.now().Before(*user.RouletteFreeUntil) {
		return true, nil
	}
	plan, err := l.plans.ActivePlanTx(tx, user.UserID)
	if err != nil {
		return false, fmt.Errorf("lookup plan: %w", err)
	}
	return plan != subscription.PlanNone, nil
}

func (l *Ledger) CanRouletteFree(ctx context.Context, userID int64) (bool, error) {
	tx := l.db.WithContext(ctx)
	user, err := findUser(tx, userID)
	if err != nil {
		return false, err
	}
	if user == nil {
		user = &db.User{UserID: userID}
	}
	privileged, err := l.privileged(tx, user)
	if err != nil {
		return false, err
	}
	return canRoulette(rouletteStateOf(user), l.today(), l.limits.RouletteFreeDaily, privileged), nil
}

func (l *Ledger) ConsumeRouletteSlot(ctx context.Context, userID int64) error {
	return l.ConsumeRouletteSlotTx(l.db.WithContext(ctx), userID)
}

func (l *Ledger) ConsumeRouletteSlotTx(tx *gorm.DB, userID int64) error {
	today := l.today()
	return l.swap(tx, userID, func(user *db.User) (map[string]any, error) {
		privileged, err := l.privileged(tx, user)
		if err != nil {
			return nil, err
		}
		next, ok := planRoulette(rouletteStateOf(user), today, l.limits.RouletteFreeDaily, privileged)
		if !ok {
			return nil, ErrRouletteQuotaExhausted
		}
		return map[string]any{
			"roulette_uses_today": next.Uses,
			"last_roulette_date":  next.Date,
		}, nil
	})
}

func (l *Ledger) GrantBonusCredits(ctx context.Context, userID int64, n int) error {
	return l.GrantBonusCreditsTx(l.db.WithContext(ctx), userID, n)
}

// GrantBonusCreditsTx is a blind increment; callers that must not grant twice
// guard it with their own idempotency key.
func (l *Ledger) GrantBonusCreditsTx(tx *gorm.DB, userID int64, n int) error {
	if n <= 0 {
		return apperr.Validation("bonus credits must be positive")
	}
	if err := db.EnsureUser(tx, userID); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return tx.Model(&db.User{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"bonus_credits": gorm.Expr("bonus_credits + ?", n),
			"version":       gorm.Expr("version + 1"),
		}).Error
}

func (l *Ledger) ActivateWeeklyOverride(ctx context.Context, userID int64, days int) (time.Time, error) {
	return l.ActivateWeeklyOverrideTx(l.db.WithContext(ctx), userID, days)
}

// ActivateWeeklyOverrideTx extends roulette_free_until by days, counting from
// the later of now and the current override.
func (l *Ledger) ActivateWeeklyOverrideTx(tx *gorm.DB, userID int64, days int) (time.Time, error) {
	if days <= 0 {
		return time.Time{}, apperr.Validation("override length must be positive")
	}
	var until time.Time
	err := l.swap(tx, userID, func(user *db.User) (map[string]any, error) {
		base := l.now().UTC()
		if user.RouletteFreeUntil != nil && user.RouletteFreeUntil.After(base) {
			base = user.RouletteFreeUntil.UTC()
		}
		until = base.AddDate(0, 0, days)
		return map[string]any{"roulette_free_until": until}, nil
	})
	return until, err
}

// AdvanceChainTx counts one qualifying send and grants the chain bonus when
// the counter reaches the target. The bonus is granted once per user.
func (l *Ledger) AdvanceChainTx(tx *gorm.DB, userID int64) (bool, error) {
	granted := false
	err := l.swap(tx, userID, func(user *db.User) (map[string]any, error) {
		count := user.ChainCount + 1
		granted = l.limits.ChainTarget > 0 && count == l.limits.ChainTarget && l.limits.ChainBonus > 0
		updates := map[string]any{"chain_count": count}
		if granted {
			updates["bonus_credits"] = user.BonusCredits + l.limits.ChainBonus
		}
		return updates, nil
	})
	return granted, err
}

// swap runs one compare-and-swap cycle on the user row, retrying when another
// writer bumped the version first.
func (l *Ledger) swap(tx *gorm.DB, userID int64, next func(*db.User) (map[string]any, error)) error {
	if err := db.EnsureUser(tx, userID); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		var user db.User
		if err := tx.Where("user_id = ?", userID).First(&user).Error; err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		updates, err := next(&user)
		if err != nil {
			return err
		}
		updates["version"] = user.Version + 1
		res := tx.Model(&db.User{}).
			Where("user_id = ? AND version = ?", userID, user.Version).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update user: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return nil
		}
	}
	return ErrContended
}

func findUser(tx *gorm.DB, userID int64) (*db.User, error) {
	var user db.User
	err := tx.Where("user_id = ?", userID).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

func sendStateOf(user *db.User) sendState {
	if user == nil {
		return sendState{}
	}
	return sendState{Count: user.FreeSendsToday, Date: user.LastSendDate, Bonus: user.BonusCredits}
}

func rouletteStateOf(user *db.User) rouletteState {
	if user == nil {
		return rouletteState{}
	}
	return rouletteState{Uses: user.RouletteUsesToday, Date: user.LastRouletteDate}
}
