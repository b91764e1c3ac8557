// Package entitlement records one-shot paid unlocks such as a scheduled
// delivery or an extra roulette match.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smith3v/valentine-bot/pkg/apperr"
	"github.com/smith3v/valentine-bot/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Kind string

const (
	Poem     Kind = "poem"
	Premium  Kind = "premium"
	Voice    Kind = "voice"
	Schedule Kind = "schedule"
	Roulette Kind = "roulette"
)

const maxConsumeAttempts = 5

var ErrMissing = apperr.Precondition("this feature has to be purchased first")

// MissingError names the unlock the caller lacks.
func MissingError(kind Kind) error {
	return fmt.Errorf("%w: %s", ErrMissing, kind)
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(gdb *gorm.DB, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{db: gdb, now: now}
}

// GrantTx records an unlock bought with chargeID. A replayed charge id
// inserts nothing and reports false.
func (s *Store) GrantTx(tx *gorm.DB, userID int64, kind Kind, chargeID string) (bool, error) {
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "charge_id"}},
		DoNothing: true,
	}).Create(&db.Entitlement{UserID: userID, Kind: string(kind), ChargeID: chargeID})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) Consume(ctx context.Context, userID int64, kind Kind) (bool, error) {
	return s.ConsumeTx(s.db.WithContext(ctx), userID, kind)
}

// ConsumeTx marks the oldest open unlock of kind as used. It reports false
// when the user has none left.
func (s *Store) ConsumeTx(tx *gorm.DB, userID int64, kind Kind) (bool, error) {
	for attempt := 0; attempt < maxConsumeAttempts; attempt++ {
		var open db.Entitlement
		err := tx.Where("user_id = ? AND kind = ? AND consumed_at IS NULL", userID, string(kind)).
			Order("id ASC").
			First(&open).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		res := tx.Model(&db.Entitlement{}).
			Where("id = ? AND consumed_at IS NULL", open.ID).
			Update("consumed_at", s.now().UTC())
		if res.Error != nil {
			return false, res.Error
		}
		if res.RowsAffected == 1 {
			return true, nil
		}
	}
	return false, apperr.Conflict("entitlement contended")
}

func (s *Store) Available(ctx context.Context, userID int64, kind Kind) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&db.Entitlement{}).
		Where("user_id = ? AND kind = ? AND consumed_at IS NULL", userID, string(kind)).
		Count(&count).Error
	return count, err
}
