// Package compat runs the paid compatibility test. The initiator pays, answers
// a fixed questionnaire and shares a link; the partner answers the same
// questions and both get the share of identical answers as a percentage.
package compat

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smith3v/valentine-bot/pkg/apperr"
	"github.com/smith3v/valentine-bot/pkg/db"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"github.com/smith3v/valentine-bot/pkg/messenger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrTestNotFound     = apperr.NotFound("compatibility test not found")
	ErrNotInitiator     = apperr.Precondition("only the person who started the test can pay for it")
	ErrAlreadyPaid      = apperr.Precondition("this compatibility test is already paid")
	ErrNotPaid          = apperr.Precondition("this compatibility test has not been paid for")
	ErrAlreadyAnswered  = apperr.Precondition("you have already answered this test")
	ErrInitiatorPending = apperr.Precondition("this test is not ready yet, ask your partner to finish it first")
	ErrTaken            = apperr.Precondition("someone else has already taken this test")
	ErrBadAnswers       = apperr.Validation("answer every question with a number from 1 to 4")
)

type Role int

const (
	RoleInitiator Role = iota + 1
	RolePartner
)

// Result is returned by Submit. Percent is set only once both sides have
// answered.
type Result struct {
	Role     Role
	Test     *db.CompatTest
	Complete bool
	Percent  int
}

type Service struct {
	db        *gorm.DB
	messenger messenger.Messenger
	now       func() time.Time
}

func NewService(gdb *gorm.DB, m messenger.Messenger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{db: gdb, messenger: m, now: now}
}

func newTestID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:6])
}

// Create opens an unpaid test for initiatorID.
func (s *Service) Create(ctx context.Context, initiatorID int64) (*db.CompatTest, error) {
	test := &db.CompatTest{
		ID:          newTestID(),
		InitiatorID: initiatorID,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(test).Error; err != nil {
		return nil, fmt.Errorf("create compatibility test: %w", err)
	}
	return test, nil
}

func (s *Service) Get(ctx context.Context, id string) (*db.CompatTest, error) {
	return s.getTx(s.db.WithContext(ctx), id)
}

func (s *Service) getTx(tx *gorm.DB, id string) (*db.CompatTest, error) {
	var test db.CompatTest
	err := tx.Where("id = ?", id).First(&test).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &test, nil
}

// CheckPayable is the pre-checkout rule: the test exists, payerID started it
// and it is still unpaid.
func (s *Service) CheckPayable(ctx context.Context, id string, payerID int64) error {
	test, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case test.InitiatorID != payerID:
		return ErrNotInitiator
	case test.IsPaid:
		return ErrAlreadyPaid
	}
	return nil
}

// MarkPaidTx flips is_paid once. A second call reports false.
func (s *Service) MarkPaidTx(tx *gorm.DB, id string) (bool, error) {
	res := tx.Model(&db.CompatTest{}).
		Where("id = ? AND is_paid = ?", id, false).
		Update("is_paid", true)
	if res.Error != nil {
		return false, fmt.Errorf("mark compatibility test paid: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	if _, err := s.getTx(tx, id); err != nil {
		return false, err
	}
	return false, nil
}

// Begin reports which side userID answers for, or why they cannot answer.
func (s *Service) Begin(ctx context.Context, id string, userID int64) (Role, error) {
	test, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return roleFor(test, userID)
}

func roleFor(test *db.CompatTest, userID int64) (Role, error) {
	if !test.IsPaid {
		return 0, ErrNotPaid
	}
	if test.InitiatorID == userID {
		if answered(test.InitiatorAnswers) {
			return 0, ErrAlreadyAnswered
		}
		return RoleInitiator, nil
	}
	switch {
	case !answered(test.InitiatorAnswers):
		return 0, ErrInitiatorPending
	case answered(test.PartnerAnswers) && test.PartnerID != nil && *test.PartnerID == userID:
		return 0, ErrAlreadyAnswered
	case answered(test.PartnerAnswers):
		return 0, ErrTaken
	}
	return RolePartner, nil
}

// Submit stores a full set of answers. Each side is written with a
// conditional update on its NULL column, so only the first submission for a
// side sticks. The partner's submission computes and stores the result and
// notifies the initiator.
func (s *Service) Submit(ctx context.Context, id string, userID int64, answers []int) (*Result, error) {
	if err := ValidateAnswers(answers); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(answers)
	if err != nil {
		return nil, fmt.Errorf("encode answers: %w", err)
	}

	var result *Result
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		test, err := s.getTx(tx, id)
		if err != nil {
			return err
		}
		role, err := roleFor(test, userID)
		if err != nil {
			return err
		}
		if role == RoleInitiator {
			result, err = s.saveInitiator(tx, test, raw)
			return err
		}
		result, err = s.savePartner(tx, test, userID, answers, raw)
		return err
	})
	if err != nil {
		return nil, err
	}

	if result.Complete {
		logger.Info("compatibility test completed", "test_id", id, "percent", result.Percent)
		err := s.messenger.Send(ctx, result.Test.InitiatorID, messenger.Payload{Text: ResultText(result.Percent)})
		if err != nil {
			logger.Warn("failed to notify test initiator", "test_id", id, "user_id", result.Test.InitiatorID, "error", err)
		}
	}
	return result, nil
}

func (s *Service) saveInitiator(tx *gorm.DB, test *db.CompatTest, raw []byte) (*Result, error) {
	res := tx.Model(&db.CompatTest{}).
		Where("id = ? AND initiator_answers IS NULL", test.ID).
		Update("initiator_answers", datatypes.JSON(raw))
	if res.Error != nil {
		return nil, fmt.Errorf("save initiator answers: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrAlreadyAnswered
	}
	test.InitiatorAnswers = raw
	return &Result{Role: RoleInitiator, Test: test}, nil
}

func (s *Service) savePartner(tx *gorm.DB, test *db.CompatTest, userID int64, answers []int, raw []byte) (*Result, error) {
	var theirs []int
	if err := json.Unmarshal(test.InitiatorAnswers, &theirs); err != nil {
		return nil, fmt.Errorf("decode initiator answers: %w", err)
	}
	percent := Score(theirs, answers)
	completed := s.now().UTC()

	res := tx.Model(&db.CompatTest{}).
		Where("id = ? AND partner_answers IS NULL AND initiator_answers IS NOT NULL", test.ID).
		Updates(map[string]any{
			"partner_id":      userID,
			"partner_answers": datatypes.JSON(raw),
			"result_percent":  percent,
			"completed_at":    completed,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("save partner answers: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrTaken
	}
	test.PartnerID = &userID
	test.PartnerAnswers = raw
	test.ResultPercent = &percent
	test.CompletedAt = &completed
	return &Result{Role: RolePartner, Test: test, Complete: true, Percent: percent}, nil
}

// answered treats a NULL column, which scans as "null", as no answers.
func answered(raw datatypes.JSON) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func ValidateAnswers(answers []int) error {
	if len(answers) != len(Questions) {
		return ErrBadAnswers
	}
	for i, a := range answers {
		if a < 0 || a >= len(Questions[i].Options) {
			return ErrBadAnswers
		}
	}
	return nil
}

// Score is the share of questions answered identically, rounded down.
func Score(a, b []int) int {
	if len(Questions) == 0 {
		return 0
	}
	matches := 0
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] == b[i] {
			matches++
		}
	}
	return matches * 100 / len(Questions)
}
