// Package anonchat relays messages between the receiver and the sender of a
// valentine without revealing who either of them is. The receiver opens the
// chat, the sender joins it, and every message is stored before it is
// forwarded.
package anonchat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smith3v/valentine-bot/pkg/apperr"
	"github.com/smith3v/valentine-bot/pkg/db"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"github.com/smith3v/valentine-bot/pkg/messenger"
	"github.com/smith3v/valentine-bot/pkg/valentine"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrChatNotFound   = apperr.NotFound("chat not found")
	ErrChatClosed     = apperr.Precondition("this chat has ended")
	ErrNotParticipant = apperr.Precondition("you are not part of this chat")
	ErrNotSender      = apperr.Precondition("only the sender of the valentine can join this chat")
)

type Role int

const (
	RoleReceiver Role = iota + 1
	RoleSender
)

type Service struct {
	db         *gorm.DB
	valentines *valentine.Store
	messenger  messenger.Messenger
	maxLength  int
	now        func() time.Time
}

type Deps struct {
	DB         *gorm.DB
	Valentines *valentine.Store
	Messenger  messenger.Messenger
	MaxLength  int
	Now        func() time.Time
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		db:         d.DB,
		valentines: d.Valentines,
		messenger:  d.Messenger,
		maxLength:  d.MaxLength,
		now:        d.Now,
	}
}

// Open starts or reopens the chat for a valentine. Only its receiver may open
// it. The sender is told how to join whenever the chat becomes active.
func (s *Service) Open(ctx context.Context, valentineID uint, userID int64) (*db.AnonChat, error) {
	v, err := s.valentines.Get(ctx, valentineID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, valentine.ErrNotFound
	}
	if v.ReceiverID == nil || *v.ReceiverID != userID || !v.IsDelivered {
		return nil, valentine.ErrNotReceiver
	}

	var (
		chat      db.AnonChat
		activated bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "valentine_id"}},
			DoNothing: true,
		}).Create(&db.AnonChat{ID: uuid.NewString(), ValentineID: valentineID, CreatedAt: s.now().UTC()})
		if res.Error != nil {
			return fmt.Errorf("create chat: %w", res.Error)
		}
		activated = res.RowsAffected > 0

		if err := tx.Where("valentine_id = ?", valentineID).First(&chat).Error; err != nil {
			return fmt.Errorf("load chat: %w", err)
		}
		if chat.ClosedAt == nil {
			return nil
		}
		res = tx.Model(&db.AnonChat{}).
			Where("id = ? AND closed_at IS NOT NULL", chat.ID).
			Update("closed_at", nil)
		if res.Error != nil {
			return fmt.Errorf("reopen chat: %w", res.Error)
		}
		activated = res.RowsAffected > 0
		chat.ClosedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	if activated {
		logger.Info("anonymous chat opened", "chat_id", chat.ID, "valentine_id", valentineID)
		err := s.messenger.Send(ctx, v.SenderID, messenger.Payload{
			Text: "💬 Someone who got your valentine wants to talk anonymously.\n\nSend /join " + chat.ID + " to answer.",
		})
		if err != nil {
			logger.Warn("failed to invite valentine sender", "chat_id", chat.ID, "user_id", v.SenderID, "error", err)
		}
	}
	return &chat, nil
}

// Join lets the valentine's sender enter an open chat.
func (s *Service) Join(ctx context.Context, chatID string, userID int64) (*db.AnonChat, error) {
	chat, v, err := s.load(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.ClosedAt != nil {
		return nil, ErrChatClosed
	}
	if v.SenderID != userID {
		return nil, ErrNotSender
	}
	return chat, nil
}

// Relay stores text from userID and forwards it to the other side. A
// delivery failure is returned after the message has been stored.
func (s *Service) Relay(ctx context.Context, chatID string, userID int64, text string) error {
	text, err := valentine.ValidateMessage(text, s.maxLength)
	if err != nil {
		return err
	}
	chat, v, err := s.load(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.ClosedAt != nil {
		return ErrChatClosed
	}
	role, to, err := roleOf(v, userID)
	if err != nil {
		return err
	}

	msg := db.AnonMessage{ChatID: chat.ID, FromSender: role == RoleSender, Text: text, CreatedAt: s.now().UTC()}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return fmt.Errorf("save chat message: %w", err)
	}

	label := "💌 Your secret admirer"
	if role == RoleReceiver {
		label = "💬 Your valentine's receiver"
	}
	if err := s.messenger.Send(ctx, to, messenger.Payload{Text: label + ":\n\n" + text}); err != nil {
		logger.Warn("failed to relay chat message", "chat_id", chat.ID, "message_id", msg.ID, "error", err)
		return apperr.Delivery("relay chat message", err)
	}
	return nil
}

// Close ends the chat for both sides. Closing an ended chat is a no-op.
func (s *Service) Close(ctx context.Context, chatID string, userID int64) error {
	chat, v, err := s.load(ctx, chatID)
	if err != nil {
		return err
	}
	_, to, err := roleOf(v, userID)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&db.AnonChat{}).
		Where("id = ? AND closed_at IS NULL", chat.ID).
		Update("closed_at", s.now().UTC())
	if res.Error != nil {
		return fmt.Errorf("close chat: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}
	if err := s.messenger.Send(ctx, to, messenger.Payload{Text: "💬 The anonymous chat has ended."}); err != nil {
		logger.Warn("failed to announce chat end", "chat_id", chat.ID, "error", err)
	}
	return nil
}

func (s *Service) load(ctx context.Context, chatID string) (*db.AnonChat, *db.Valentine, error) {
	var chat db.AnonChat
	err := s.db.WithContext(ctx).Where("id = ?", chatID).First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrChatNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	v, err := s.valentines.Get(ctx, chat.ValentineID)
	if err != nil {
		return nil, nil, err
	}
	if v == nil || v.ReceiverID == nil {
		return nil, nil, ErrChatNotFound
	}
	return &chat, v, nil
}

// roleOf names userID's side and returns the counterpart.
func roleOf(v *db.Valentine, userID int64) (Role, int64, error) {
	switch userID {
	case *v.ReceiverID:
		return RoleReceiver, v.SenderID, nil
	case v.SenderID:
		return RoleSender, *v.ReceiverID, nil
	}
	return 0, 0, ErrNotParticipant
}
