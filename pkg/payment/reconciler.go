// Package payment checks Telegram Stars charges before capture and applies
// their effect afterwards. The charge id is the idempotency key: the payment
// row is inserted with ON CONFLICT DO NOTHING in the same transaction as the
// effect, so a replayed success update changes nothing.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smith3v/valentine-bot/pkg/achievement"
	"github.com/smith3v/valentine-bot/pkg/apperr"
	"github.com/smith3v/valentine-bot/pkg/compat"
	"github.com/smith3v/valentine-bot/pkg/config"
	"github.com/smith3v/valentine-bot/pkg/db"
	"github.com/smith3v/valentine-bot/pkg/entitlement"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"github.com/smith3v/valentine-bot/pkg/messenger"
	"github.com/smith3v/valentine-bot/pkg/quota"
	"github.com/smith3v/valentine-bot/pkg/subscription"
	"github.com/smith3v/valentine-bot/pkg/valentine"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const Currency = "XTR"

// Charge is what the gateway reports for a pending or captured payment.
// ChargeID is empty during pre-checkout.
type Charge struct {
	ChargeID string
	UserID   int64
	Amount   int
	Currency string
	Payload  string
}

type Decision struct {
	Accept bool
	Reason string
}

type Outcome struct {
	Applied bool
	Payload Payload
	Badges  []achievement.Badge
}

type Deps struct {
	DB           *gorm.DB
	Valentines   *valentine.Store
	Ledger       *quota.Ledger
	Subs         *subscription.Manager
	Entitlements *entitlement.Store
	Achievements *achievement.Store
	Compat       *compat.Service
	Messenger    messenger.Messenger
	Prices       config.PricesConfig
	Limits       config.LimitsConfig
	Gifts        []string
	Now          func() time.Time
}

type Reconciler struct {
	db           *gorm.DB
	valentines   *valentine.Store
	ledger       *quota.Ledger
	subs         *subscription.Manager
	entitlements *entitlement.Store
	achievements *achievement.Store
	compat       *compat.Service
	messenger    messenger.Messenger
	prices       config.PricesConfig
	limits       config.LimitsConfig
	gifts        []string
	now          func() time.Time
}

func NewReconciler(d Deps) *Reconciler {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Reconciler{
		db:           d.DB,
		valentines:   d.Valentines,
		ledger:       d.Ledger,
		subs:         d.Subs,
		entitlements: d.Entitlements,
		achievements: d.Achievements,
		compat:       d.Compat,
		messenger:    d.Messenger,
		prices:       d.Prices,
		limits:       d.Limits,
		gifts:        d.Gifts,
		now:          d.Now,
	}
}

func reject(reason string) Decision {
	return Decision{Reason: reason}
}

// Verify answers a pre-checkout query. Storage errors are returned as errors;
// everything else becomes a rejection with a reason the payer can read.
func (r *Reconciler) Verify(ctx context.Context, c Charge) (Decision, error) {
	p, err := ParsePayload(c.Payload)
	if err != nil {
		return reject("Unknown purchase. Please try again."), nil
	}
	if c.Currency != Currency {
		return reject("Payments are accepted in Telegram Stars only."), nil
	}
	if price := p.Price(r.prices); price <= 0 || c.Amount != price {
		return reject("The price has changed. Please request a new invoice."), nil
	}
	if p.UserID != 0 && p.UserID != c.UserID {
		return reject("This invoice was issued to someone else."), nil
	}

	switch p.Kind {
	case KindReveal:
		v, err := r.valentines.Get(ctx, p.ValentineID)
		if err != nil {
			return Decision{}, err
		}
		switch {
		case v == nil:
			return reject("This valentine no longer exists."), nil
		case v.ReceiverID == nil || *v.ReceiverID != c.UserID:
			return reject("Only the receiver can reveal the sender."), nil
		case v.IsRevealed:
			return reject("The sender is already revealed."), nil
		}
	case KindGift:
		if err := valentine.ValidateGift(p.Emoji, r.gifts); err != nil {
			return reject("This gift is not available."), nil
		}
		v, err := r.valentines.Get(ctx, p.ValentineID)
		if err != nil {
			return Decision{}, err
		}
		switch {
		case v == nil:
			return reject("This valentine no longer exists."), nil
		case v.SenderID != c.UserID:
			return reject("You can only attach gifts to your own valentines."), nil
		case v.GiftEmoji != "":
			return reject("This valentine already has a gift."), nil
		}
	case KindCompat:
		err := r.compat.CheckPayable(ctx, p.Ref, c.UserID)
		switch {
		case errors.Is(err, compat.ErrTestNotFound):
			return reject("This compatibility test no longer exists."), nil
		case errors.Is(err, compat.ErrNotInitiator):
			return reject("Only the person who started the test can pay for it."), nil
		case errors.Is(err, compat.ErrAlreadyPaid):
			return reject("This test is already paid."), nil
		case err != nil:
			return Decision{}, err
		}
	}
	return Decision{Accept: true}, nil
}

// Apply records the captured charge and performs its effect once.
func (r *Reconciler) Apply(ctx context.Context, c Charge) (*Outcome, error) {
	if c.ChargeID == "" {
		return nil, apperr.Validation("charge id is required")
	}
	p, err := ParsePayload(c.Payload)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Payload: p}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := r.record(tx, c, p)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		out.Applied = true
		return r.applyEffect(tx, c, p)
	})
	if err != nil {
		return nil, err
	}
	if !out.Applied {
		logger.Info("duplicate payment ignored", "charge_id", c.ChargeID, "user_id", c.UserID)
		return out, nil
	}
	logger.Info("payment applied", "charge_id", c.ChargeID, "user_id", c.UserID, "kind", p.Kind, "amount", c.Amount)

	if event, ok := achievementEvent(p.Kind); ok {
		badges, err := r.achievements.Evaluate(ctx, c.UserID, event)
		if err != nil {
			logger.Error("failed to evaluate achievements", "user_id", c.UserID, "error", err)
		}
		out.Badges = badges
		achievement.Notify(ctx, r.messenger, c.UserID, badges)
	}
	return out, nil
}

func (r *Reconciler) record(tx *gorm.DB, c Charge, p Payload) (bool, error) {
	payment := db.Payment{
		UserID:    c.UserID,
		Amount:    c.Amount,
		Currency:  c.Currency,
		Type:      paymentType(p),
		Payload:   c.Payload,
		ChargeID:  c.ChargeID,
		CreatedAt: r.now().UTC(),
	}
	if payment.Currency == "" {
		payment.Currency = Currency
	}
	if p.ValentineID != 0 {
		id := p.ValentineID
		payment.ValentineID = &id
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "charge_id"}},
		DoNothing: true,
	}).Create(&payment)
	if res.Error != nil {
		return false, fmt.Errorf("record payment: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *Reconciler) applyEffect(tx *gorm.DB, c Charge, p Payload) error {
	switch p.Kind {
	case KindReveal:
		revealed, err := r.valentines.MarkRevealedTx(tx, p.ValentineID)
		if err != nil {
			return keepPayment(err, c)
		}
		if !revealed {
			logger.Warn("paid reveal for an already revealed valentine", "valentine_id", p.ValentineID, "charge_id", c.ChargeID)
		}
		return nil
	case KindGift:
		attached, err := r.valentines.AttachGiftTx(tx, p.ValentineID, p.Emoji)
		if err != nil {
			return keepPayment(err, c)
		}
		if !attached {
			logger.Warn("paid gift for a valentine that already has one", "valentine_id", p.ValentineID, "charge_id", c.ChargeID)
		}
		return nil
	case KindCompat:
		paid, err := r.compat.MarkPaidTx(tx, p.Ref)
		if err != nil {
			return keepPayment(err, c)
		}
		if !paid {
			logger.Warn("paid compatibility test that was already paid", "test_id", p.Ref, "charge_id", c.ChargeID)
		}
		return nil
	case KindBundle:
		return r.ledger.GrantBonusCreditsTx(tx, c.UserID, r.limits.BundleCredits)
	case KindWeekBundle:
		if err := r.ledger.GrantBonusCreditsTx(tx, c.UserID, r.limits.WeekBundleCredits); err != nil {
			return err
		}
		_, err := r.ledger.ActivateWeeklyOverrideTx(tx, c.UserID, r.limits.WeekBundleDays)
		return err
	case KindSub:
		plan, days, err := offerPlan(p.Offer)
		if err != nil {
			return err
		}
		_, err = r.subs.ActivateTx(tx, c.UserID, plan, days, c.ChargeID)
		return err
	default:
		kind, ok := unlockKind(p.Kind)
		if !ok {
			return ErrBadPayload
		}
		_, err := r.entitlements.GrantTx(tx, c.UserID, kind, c.ChargeID)
		return err
	}
}

// keepPayment lets the payment row commit when its target vanished after
// capture. Anything else aborts the transaction.
func keepPayment(err error, c Charge) error {
	if errors.Is(err, apperr.ErrNotFound) {
		logger.Warn("paid target no longer exists", "charge_id", c.ChargeID, "payload", c.Payload)
		return nil
	}
	return err
}

func paymentType(p Payload) string {
	if p.Kind == KindSub {
		plan, _, err := offerPlan(p.Offer)
		if err == nil {
			return string(p.Kind) + "_" + string(plan)
		}
	}
	return string(p.Kind)
}

func unlockKind(kind Kind) (entitlement.Kind, bool) {
	switch kind {
	case KindRoulette:
		return entitlement.Roulette, true
	case KindPoem:
		return entitlement.Poem, true
	case KindPremium:
		return entitlement.Premium, true
	case KindVoice:
		return entitlement.Voice, true
	case KindSchedule:
		return entitlement.Schedule, true
	}
	return "", false
}

func achievementEvent(kind Kind) (achievement.Event, bool) {
	switch kind {
	case KindReveal:
		return achievement.EventReveal, true
	case KindGift:
		return achievement.EventGift, true
	case KindBundle, KindWeekBundle:
		return achievement.EventBundle, true
	case KindSub:
		return achievement.EventSubscribe, true
	}
	return "", false
}
