// Package valentine owns the valentine lifecycle: created, delivered to the
// receiver's inbox and optionally revealed. Every transition is a
// conditional update so replays and races leave the row unchanged.
package valentine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smith3v/valentine-bot/pkg/db"
	"gorm.io/gorm"
)

type Attachments struct {
	VoiceFileID string
	PhotoFileID string
	GiftEmoji   string
	MusicURL    string
}

type CreateParams struct {
	SenderID         int64
	ReceiverID       *int64
	ReceiverUsername string
	Message          string
	Attachments      Attachments
	ScheduledFor     *time.Time
	Premium          bool
	Poem             bool
	Source           string
	Delivered        bool
}

type LeaderboardEntry struct {
	UserID   int64
	Username string
	Total    int64
}

type Store struct {
	db       *gorm.DB
	now      func() time.Time
	pageSize int
}

func NewStore(gdb *gorm.DB, pageSize int, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	return &Store{db: gdb, now: now, pageSize: pageSize}
}

func (s *Store) Create(ctx context.Context, p CreateParams) (*db.Valentine, error) {
	return s.CreateTx(s.db.WithContext(ctx), p)
}

// CreateTx persists a valentine. Validation is the caller's job.
func (s *Store) CreateTx(tx *gorm.DB, p CreateParams) (*db.Valentine, error) {
	v := &db.Valentine{
		SenderID:         p.SenderID,
		ReceiverID:       p.ReceiverID,
		ReceiverUsername: p.ReceiverUsername,
		Message:          p.Message,
		Source:           p.Source,
		IsPremium:        p.Premium,
		IsPoem:           p.Poem,
		VoiceFileID:      p.Attachments.VoiceFileID,
		PhotoFileID:      p.Attachments.PhotoFileID,
		GiftEmoji:        p.Attachments.GiftEmoji,
		MusicURL:         p.Attachments.MusicURL,
		ScheduledFor:     utcPtr(p.ScheduledFor),
		CreatedAt:        s.now().UTC(),
	}
	if v.Source == "" {
		v.Source = db.SourceDirect
	}
	if p.Delivered {
		deliveredAt := v.CreatedAt
		v.IsDelivered = true
		v.DeliveredAt = &deliveredAt
	}
	if err := tx.Create(v).Error; err != nil {
		return nil, fmt.Errorf("insert valentine: %w", err)
	}
	return v, nil
}

func (s *Store) Get(ctx context.Context, id uint) (*db.Valentine, error) {
	return s.GetTx(s.db.WithContext(ctx), id)
}

func (s *Store) GetTx(tx *gorm.DB, id uint) (*db.Valentine, error) {
	var v db.Valentine
	err := tx.Where("id = ?", id).First(&v).Error
	if err == nil {
		return &v, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

// MarkDelivered flips is_delivered once. It reports whether this call did it.
func (s *Store) MarkDelivered(ctx context.Context, id uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&db.Valentine{}).
		Where("id = ? AND is_delivered = ?", id, false).
		Updates(map[string]any{
			"is_delivered": true,
			"delivered_at": s.now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, s.mustExist(s.db.WithContext(ctx), id)
	}
	return true, nil
}

func (s *Store) MarkRevealed(ctx context.Context, id uint) (bool, error) {
	return s.MarkRevealedTx(s.db.WithContext(ctx), id)
}

// MarkRevealedTx is the one-way reveal transition. Re-revealing is a no-op
// that reports false.
func (s *Store) MarkRevealedTx(tx *gorm.DB, id uint) (bool, error) {
	res := tx.Model(&db.Valentine{}).
		Where("id = ? AND is_revealed = ?", id, false).
		Update("is_revealed", true)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, s.mustExist(tx, id)
	}
	return true, nil
}

func (s *Store) AttachGift(ctx context.Context, id uint, emoji string) (bool, error) {
	return s.AttachGiftTx(s.db.WithContext(ctx), id, emoji)
}

// AttachGiftTx sets the gift only when none is attached yet.
func (s *Store) AttachGiftTx(tx *gorm.DB, id uint, emoji string) (bool, error) {
	res := tx.Model(&db.Valentine{}).
		Where("id = ? AND gift_emoji = ?", id, "").
		Update("gift_emoji", emoji)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, s.mustExist(tx, id)
	}
	return true, nil
}

func (s *Store) ListInbox(ctx context.Context, userID int64, page int) ([]db.Valentine, error) {
	return s.list(ctx, "receiver_id = ? AND is_delivered = ?", page, userID, true)
}

func (s *Store) ListSent(ctx context.Context, userID int64, page int) ([]db.Valentine, error) {
	return s.list(ctx, "sender_id = ?", page, userID)
}

func (s *Store) list(ctx context.Context, where string, page int, args ...any) ([]db.Valentine, error) {
	if page < 0 {
		page = 0
	}
	var out []db.Valentine
	err := s.db.WithContext(ctx).
		Where(where, args...).
		Order("created_at DESC").
		Order("id DESC").
		Limit(s.pageSize).
		Offset(page * s.pageSize).
		Find(&out).Error
	return out, err
}

// Claim binds a valentine opened through its invite link to userID. Immediate
// valentines are delivered on the spot; scheduled ones stay with the
// scheduler. The bool reports whether this call delivered it.
func (s *Store) Claim(ctx context.Context, id uint, userID int64) (*db.Valentine, bool, error) {
	tx := s.db.WithContext(ctx)
	v, err := s.GetTx(tx, id)
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, ErrNotFound
	}
	if v.SenderID == userID {
		return nil, false, ErrSelfAddressed
	}
	if v.ReceiverID != nil && *v.ReceiverID != userID {
		return nil, false, ErrNotReceiver
	}
	if v.IsDelivered {
		return v, false, nil
	}

	updates := map[string]any{"receiver_id": userID}
	immediate := v.ScheduledFor == nil
	if immediate {
		updates["is_delivered"] = true
		updates["delivered_at"] = s.now().UTC()
	}
	res := tx.Model(&db.Valentine{}).
		Where("id = ? AND is_delivered = ? AND (receiver_id IS NULL OR receiver_id = ?)", id, false, userID).
		Updates(updates)
	if res.Error != nil {
		return nil, false, res.Error
	}

	v, err = s.GetTx(tx, id)
	if err != nil {
		return nil, false, err
	}
	if v.ReceiverID == nil || *v.ReceiverID != userID {
		return nil, false, ErrNotReceiver
	}
	return v, res.RowsAffected == 1 && immediate, nil
}

// BindPending attaches every unbound valentine addressed to username to the
// user who now owns it and returns the ones still waiting for delivery.
func (s *Store) BindPending(ctx context.Context, userID int64, username string) ([]db.Valentine, error) {
	tx := s.db.WithContext(ctx)
	if err := tx.Model(&db.Valentine{}).
		Where("receiver_id IS NULL AND receiver_username = ? AND sender_id <> ?", username, userID).
		Update("receiver_id", userID).Error; err != nil {
		return nil, err
	}
	var pending []db.Valentine
	err := tx.
		Where("receiver_id = ? AND is_delivered = ? AND scheduled_for IS NULL", userID, false).
		Order("id ASC").
		Find(&pending).Error
	return pending, err
}

// React stores the receiver's reaction emoji.
func (s *Store) React(ctx context.Context, id uint, userID int64, emoji string) error {
	tx := s.db.WithContext(ctx)
	res := tx.Model(&db.Valentine{}).
		Where("id = ? AND receiver_id = ?", id, userID).
		Update("reaction", emoji)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if err := s.mustExist(tx, id); err != nil {
			return err
		}
		return ErrNotReceiver
	}
	return nil
}

func (s *Store) TopReceivers(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	return s.leaderboard(ctx, "receiver_id", limit)
}

func (s *Store) TopSenders(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	return s.leaderboard(ctx, "sender_id", limit)
}

func (s *Store) leaderboard(ctx context.Context, column string, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []LeaderboardEntry
	err := s.db.WithContext(ctx).
		Table("valentines").
		Select("valentines." + column + " AS user_id, COALESCE(users.username, '') AS username, COUNT(*) AS total").
		Joins("LEFT JOIN users ON users.user_id = valentines." + column).
		Where("valentines." + column + " IS NOT NULL").
		Group("valentines." + column + ", users.username").
		Order("total DESC").
		Order("user_id ASC").
		Limit(limit).
		Scan(&out).Error
	return out, err
}

func (s *Store) mustExist(tx *gorm.DB, id uint) error {
	var count int64
	if err := tx.Model(&db.Valentine{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
