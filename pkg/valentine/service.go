package valentine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smith3v/valentine-bot/pkg/achievement"
	"github.com/smith3v/valentine-bot/pkg/config"
	"github.com/smith3v/valentine-bot/pkg/db"
	"github.com/smith3v/valentine-bot/pkg/entitlement"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"github.com/smith3v/valentine-bot/pkg/messenger"
	"github.com/smith3v/valentine-bot/pkg/quota"
	"github.com/smith3v/valentine-bot/pkg/subscription"
	"github.com/smith3v/valentine-bot/pkg/users"
	"gorm.io/gorm"
)

type SendRequest struct {
	SenderID         int64
	ReceiverID       *int64
	ReceiverUsername string
	Message          string
	Attachments      Attachments
	ScheduledFor     *time.Time
	Premium          bool
	Poem             bool
}

type SendResult struct {
	Valentine  *db.Valentine
	Slot       quota.Slot
	ChainBonus bool
	Delivered  bool
	Deferred   bool
	Badges     []achievement.Badge
}

// Service runs the user-facing valentine flows on top of the store.
type Service struct {
	db           *gorm.DB
	store        *Store
	ledger       *quota.Ledger
	subs         *subscription.Manager
	entitlements *entitlement.Store
	achievements *achievement.Store
	directory    *users.Directory
	deliverer    *Deliverer
	messenger    messenger.Messenger
	limits       config.LimitsConfig
	now          func() time.Time
}

type Deps struct {
	DB           *gorm.DB
	Store        *Store
	Ledger       *quota.Ledger
	Subs         *subscription.Manager
	Entitlements *entitlement.Store
	Achievements *achievement.Store
	Directory    *users.Directory
	Messenger    messenger.Messenger
	Limits       config.LimitsConfig
	Now          func() time.Time
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		db:           d.DB,
		store:        d.Store,
		ledger:       d.Ledger,
		subs:         d.Subs,
		entitlements: d.Entitlements,
		achievements: d.Achievements,
		directory:    d.Directory,
		deliverer:    NewDeliverer(d.Messenger),
		messenger:    d.Messenger,
		limits:       d.Limits,
		now:          d.Now,
	}
}

func (s *Service) Store() *Store { return s.store }

func (s *Service) Deliverer() *Deliverer { return s.deliverer }

// Send validates the request, consumes a send slot and any paid unlocks, and
// stores the valentine in one transaction. Immediate valentines to known
// users are delivered right after the commit.
func (s *Service) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	params, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &SendResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slot, err := s.ledger.ConsumeSendSlotTx(tx, req.SenderID)
		if err != nil {
			return err
		}
		if err := s.consumeUnlocks(tx, req); err != nil {
			return err
		}
		v, err := s.store.CreateTx(tx, params)
		if err != nil {
			return err
		}
		bonus, err := s.ledger.AdvanceChainTx(tx, req.SenderID)
		if err != nil {
			return err
		}
		result.Valentine = v
		result.Slot = slot
		result.ChainBonus = bonus
		return nil
	})
	if err != nil {
		return nil, err
	}
	v := result.Valentine
	logger.Info("valentine created", "valentine_id", v.ID, "sender_id", req.SenderID, "slot", result.Slot, "scheduled", v.ScheduledFor != nil)

	switch {
	case v.ReceiverID == nil:
		result.Deferred = true
	case v.ScheduledFor == nil:
		result.Delivered = s.deliverNow(ctx, v)
	}

	result.Badges = s.evaluate(ctx, req.SenderID, sendEvents(req, result.ChainBonus)...)
	if result.Delivered {
		s.evaluate(ctx, *v.ReceiverID, achievement.EventReceived)
	}
	return result, nil
}

func (s *Service) prepare(ctx context.Context, req SendRequest) (CreateParams, error) {
	hasMedia := req.Attachments.VoiceFileID != "" || req.Attachments.PhotoFileID != ""
	message, err := ValidateMessage(req.Message, s.limits.MaxMessageLength)
	if err != nil && !(errors.Is(err, ErrEmptyMessage) && hasMedia) {
		return CreateParams{}, err
	}
	params := CreateParams{
		SenderID:     req.SenderID,
		ReceiverID:   req.ReceiverID,
		Message:      message,
		Attachments:  req.Attachments,
		ScheduledFor: req.ScheduledFor,
		Premium:      req.Premium,
		Poem:         req.Poem,
		Source:       db.SourceDirect,
	}
	if req.ScheduledFor != nil && !req.ScheduledFor.After(s.now()) {
		return CreateParams{}, ErrPastSchedule
	}

	if params.ReceiverID == nil {
		username, err := NormalizeUsername(req.ReceiverUsername)
		if err != nil {
			return CreateParams{}, err
		}
		params.ReceiverUsername = username
		receiver, err := s.directory.FindByUsername(ctx, username)
		if err != nil {
			return CreateParams{}, fmt.Errorf("resolve receiver: %w", err)
		}
		if receiver != nil {
			params.ReceiverID = &receiver.UserID
		}
	}
	if params.ReceiverID != nil && *params.ReceiverID == req.SenderID {
		return CreateParams{}, ErrSelfAddressed
	}
	return params, nil
}

// consumeUnlocks spends one paid unlock per premium feature the request uses.
// Lovebomb subscribers get them included.
func (s *Service) consumeUnlocks(tx *gorm.DB, req SendRequest) error {
	var needed []entitlement.Kind
	if req.ScheduledFor != nil {
		needed = append(needed, entitlement.Schedule)
	}
	if req.Attachments.VoiceFileID != "" {
		needed = append(needed, entitlement.Voice)
	}
	if req.Premium {
		needed = append(needed, entitlement.Premium)
	}
	if req.Poem {
		needed = append(needed, entitlement.Poem)
	}
	if len(needed) == 0 {
		return nil
	}
	plan, err := s.subs.ActivePlanTx(tx, req.SenderID)
	if err != nil {
		return err
	}
	if plan == subscription.PlanLovebomb {
		return nil
	}
	for _, kind := range needed {
		ok, err := s.entitlements.ConsumeTx(tx, req.SenderID, kind)
		if err != nil {
			return err
		}
		if !ok {
			return entitlement.MissingError(kind)
		}
	}
	return nil
}

// MissingUnlock returns the first of kinds the user has no open unlock for,
// or "" when all are covered. Lovebomb covers everything.
func (s *Service) MissingUnlock(ctx context.Context, userID int64, kinds ...entitlement.Kind) (entitlement.Kind, error) {
	if len(kinds) == 0 {
		return "", nil
	}
	plan, err := s.subs.ActivePlanTx(s.db.WithContext(ctx), userID)
	if err != nil {
		return "", err
	}
	if plan == subscription.PlanLovebomb {
		return "", nil
	}
	for _, kind := range kinds {
		n, err := s.entitlements.Available(ctx, userID, kind)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return kind, nil
		}
	}
	return "", nil
}

// deliverNow marks the valentine delivered before sending. A messenger failure
// is logged and the valentine stays in the receiver's inbox.
func (s *Service) deliverNow(ctx context.Context, v *db.Valentine) bool {
	flipped, err := s.store.MarkDelivered(ctx, v.ID)
	if err != nil {
		logger.Error("failed to mark valentine delivered", "valentine_id", v.ID, "error", err)
		return false
	}
	if !flipped {
		return false
	}
	v.IsDelivered = true
	if err := s.deliverer.Deliver(ctx, v); err != nil {
		logger.Warn("failed to deliver valentine", "valentine_id", v.ID, "receiver_id", *v.ReceiverID, "error", err)
	}
	return true
}

// Claim binds a valentine opened through an invite link to userID.
func (s *Service) Claim(ctx context.Context, id uint, userID int64) (*db.Valentine, error) {
	v, delivered, err := s.store.Claim(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if delivered {
		logger.Info("valentine claimed", "valentine_id", id, "receiver_id", userID)
		if err := s.deliverer.Deliver(ctx, v); err != nil {
			logger.Warn("failed to deliver claimed valentine", "valentine_id", id, "receiver_id", userID, "error", err)
		}
		s.evaluate(ctx, userID, achievement.EventReceived)
	}
	return v, nil
}

// ResolvePending delivers valentines that were addressed to username before
// its owner started the bot. It returns how many were delivered.
func (s *Service) ResolvePending(ctx context.Context, userID int64, username string) (int, error) {
	key, err := NormalizeUsername(username)
	if err != nil {
		return 0, nil
	}
	pending, err := s.store.BindPending(ctx, userID, key)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for i := range pending {
		if s.deliverNow(ctx, &pending[i]) {
			delivered++
		}
	}
	if delivered > 0 {
		s.evaluate(ctx, userID, achievement.EventReceived)
	}
	return delivered, nil
}

func (s *Service) evaluate(ctx context.Context, userID int64, events ...achievement.Event) []achievement.Badge {
	var all []achievement.Badge
	for _, event := range events {
		badges, err := s.achievements.Evaluate(ctx, userID, event)
		if err != nil {
			logger.Error("failed to evaluate achievements", "user_id", userID, "event", event, "error", err)
			continue
		}
		all = append(all, badges...)
	}
	achievement.Notify(ctx, s.messenger, userID, all)
	return all
}

func sendEvents(req SendRequest, chainBonus bool) []achievement.Event {
	events := []achievement.Event{achievement.EventSent}
	if req.Attachments.VoiceFileID != "" {
		events = append(events, achievement.EventVoice)
	}
	if req.Attachments.PhotoFileID != "" {
		events = append(events, achievement.EventPhoto)
	}
	if req.Attachments.MusicURL != "" {
		events = append(events, achievement.EventMusic)
	}
	if req.Poem {
		events = append(events, achievement.EventPoem)
	}
	if chainBonus {
		events = append(events, achievement.EventChain)
	}
	return events
}
