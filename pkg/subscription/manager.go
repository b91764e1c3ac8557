// Package subscription issues and looks up paid plans. A plan lapses purely by
// time: expired rows keep is_active and are filtered at query time.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smith3v/valentine-bot/pkg/apperr"
	"github.com/smith3v/valentine-bot/pkg/db"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"gorm.io/gorm"
)

type Plan string

const (
	PlanNone     Plan = ""
	PlanRomantic Plan = "romantic"
	PlanLovebomb Plan = "lovebomb"
)

var ErrUnknownPlan = apperr.Validation("unknown subscription plan")

func ParsePlan(value string) (Plan, error) {
	switch Plan(strings.ToLower(strings.TrimSpace(value))) {
	case PlanRomantic:
		return PlanRomantic, nil
	case PlanLovebomb:
		return PlanLovebomb, nil
	default:
		return PlanNone, ErrUnknownPlan
	}
}

// Unlimited is returned by DailyLimit for plans without a send cap.
const Unlimited = -1

// DailyLimit maps a plan to its daily free-send allowance.
func DailyLimit(plan Plan, base, romantic int) int {
	switch plan {
	case PlanLovebomb:
		return Unlimited
	case PlanRomantic:
		return romantic
	default:
		return base
	}
}

type Manager struct {
	db  *gorm.DB
	now func() time.Time
}

func NewManager(gdb *gorm.DB, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{db: gdb, now: now}
}

func (m *Manager) Activate(ctx context.Context, userID int64, plan Plan, days int, chargeID string) (*db.Subscription, error) {
	var sub *db.Subscription
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sub, err = m.ActivateTx(tx, userID, plan, days, chargeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Info("subscription activated", "user_id", userID, "plan", plan, "expires_at", sub.ExpiresAt)
	return sub, nil
}

// ActivateTx deactivates every active row for the user and inserts the new
// plan. Both statements must run in the caller's transaction.
func (m *Manager) ActivateTx(tx *gorm.DB, userID int64, plan Plan, days int, chargeID string) (*db.Subscription, error) {
	if plan != PlanRomantic && plan != PlanLovebomb {
		return nil, ErrUnknownPlan
	}
	if days <= 0 {
		return nil, apperr.Validation("subscription length must be positive")
	}
	if err := db.EnsureUser(tx, userID); err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	if err := tx.Model(&db.Subscription{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Update("is_active", false).Error; err != nil {
		return nil, fmt.Errorf("deactivate subscriptions: %w", err)
	}

	now := m.now().UTC()
	sub := &db.Subscription{
		UserID:    userID,
		Plan:      string(plan),
		StartedAt: now,
		ExpiresAt: now.AddDate(0, 0, days),
		ChargeID:  chargeID,
		IsActive:  true,
	}
	if err := tx.Create(sub).Error; err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}
	return sub, nil
}

func (m *Manager) GetActive(ctx context.Context, userID int64) (*db.Subscription, error) {
	return m.GetActiveTx(m.db.WithContext(ctx), userID)
}

// GetActiveTx returns the newest active, unexpired row or nil.
func (m *Manager) GetActiveTx(tx *gorm.DB, userID int64) (*db.Subscription, error) {
	var sub db.Subscription
	err := tx.
		Where("user_id = ? AND is_active = ? AND expires_at > ?", userID, true, m.now().UTC()).
		Order("started_at DESC").
		Order("id DESC").
		First(&sub).Error
	if err == nil {
		return &sub, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

func (m *Manager) IsActive(ctx context.Context, userID int64) (bool, error) {
	sub, err := m.GetActive(ctx, userID)
	if err != nil {
		return false, err
	}
	return sub != nil, nil
}

// ActivePlanTx is the plan lookup used by the quota ledger.
func (m *Manager) ActivePlanTx(tx *gorm.DB, userID int64) (Plan, error) {
	sub, err := m.GetActiveTx(tx, userID)
	if err != nil || sub == nil {
		return PlanNone, err
	}
	return Plan(sub.Plan), nil
}
