// Package session persists the per-chat conversation state machine.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smith3v/valentine-bot/pkg/apperr"
	"github.com/smith3v/valentine-bot/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidTransition = apperr.Precondition("that step is not available right now")
	ErrStale             = apperr.Conflict("session changed concurrently")
)

// Session is a loaded conversation. An empty ID means the chat is idle and
// nothing is stored for it.
type Session struct {
	ID      string
	ChatID  int64
	UserID  int64
	State   State
	Version int64
}

type Store struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

func NewStore(gdb *gorm.DB, ttl time.Duration, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{db: gdb, ttl: ttl, now: now}
}

// Load returns the live session for chatID. Missing and expired rows read as
// idle.
func (s *Store) Load(ctx context.Context, chatID int64) (*Session, error) {
	var row db.ChatSession
	err := s.db.WithContext(ctx).
		Where("chat_id = ? AND expires_at > ?", chatID, s.now().UTC()).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Session{ChatID: chatID, State: IdleState{}}, nil
	}
	if err != nil {
		return nil, err
	}
	state, err := decodeState(StateName(row.State), row.Data)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:      row.ID,
		ChatID:  row.ChatID,
		UserID:  row.UserID,
		State:   state,
		Version: row.Version,
	}, nil
}

// Begin starts a new flow for the chat, replacing whatever was in progress.
func (s *Store) Begin(ctx context.Context, chatID, userID int64, state State) (*Session, error) {
	if !Allowed(Idle, state.Name()) {
		return nil, ErrInvalidTransition
	}
	raw, err := encodeState(state)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	row := db.ChatSession{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		UserID:    userID,
		State:     string(state.Name()),
		Data:      datatypes.JSON(raw),
		Version:   1,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"id", "user_id", "state", "data", "version", "expires_at", "created_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	return &Session{ID: row.ID, ChatID: chatID, UserID: userID, State: state, Version: row.Version}, nil
}

// Transition moves sess to next if the table allows it and nobody else moved
// the session since it was loaded. Moving to idle deletes the row.
func (s *Store) Transition(ctx context.Context, sess *Session, next State) (*Session, error) {
	if !Allowed(sess.State.Name(), next.Name()) {
		return nil, ErrInvalidTransition
	}
	if sess.ID == "" {
		return s.Begin(ctx, sess.ChatID, sess.UserID, next)
	}

	tx := s.db.WithContext(ctx)
	if next.Name() == Idle {
		res := tx.Where("id = ? AND version = ?", sess.ID, sess.Version).Delete(&db.ChatSession{})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, ErrStale
		}
		return &Session{ChatID: sess.ChatID, UserID: sess.UserID, State: IdleState{}}, nil
	}

	raw, err := encodeState(next)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	res := tx.Model(&db.ChatSession{}).
		Where("id = ? AND version = ?", sess.ID, sess.Version).
		Updates(map[string]any{
			"state":      string(next.Name()),
			"data":       datatypes.JSON(raw),
			"version":    sess.Version + 1,
			"expires_at": now.Add(s.ttl),
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrStale
	}
	return &Session{
		ID:      sess.ID,
		ChatID:  sess.ChatID,
		UserID:  sess.UserID,
		State:   next,
		Version: sess.Version + 1,
	}, nil
}

// Reset drops any session for chatID.
func (s *Store) Reset(ctx context.Context, chatID int64) error {
	return s.db.WithContext(ctx).Where("chat_id = ?", chatID).Delete(&db.ChatSession{}).Error
}
