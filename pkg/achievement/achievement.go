// Package achievement grants badges. A badge is granted at most once per
// user and only the inserting call reports it as new.
package achievement

import (
	"context"
	"fmt"
	"time"

	"github.com/smith3v/valentine-bot/pkg/db"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"github.com/smith3v/valentine-bot/pkg/messenger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Badge string

const (
	FirstValentine Badge = "first_valentine"
	SerialRomantic Badge = "serial_romantic"
	Popular        Badge = "popular"
	VoiceSender    Badge = "voice_sender"
	PhotoSender    Badge = "photo_sender"
	GiftGiver      Badge = "gift_giver"
	MusicLover     Badge = "music_lover"
	ChainMaster    Badge = "chain_master"
	Poet           Badge = "poet"
	Generous       Badge = "generous"
	Revealer       Badge = "revealer"
	Subscriber     Badge = "subscriber"
	RoulettePlayer Badge = "roulette_player"
)

const (
	serialRomanticThreshold = 5
	popularThreshold        = 10
)

var titles = map[Badge]string{
	FirstValentine: "First valentine",
	SerialRomantic: "Serial romantic",
	Popular:        "Popular",
	VoiceSender:    "Voice of love",
	PhotoSender:    "Photographer",
	GiftGiver:      "Gift giver",
	MusicLover:     "Music lover",
	ChainMaster:    "Chain master",
	Poet:           "Poet",
	Generous:       "Generous soul",
	Revealer:       "Detective",
	Subscriber:     "Subscriber",
	RoulettePlayer: "Roulette player",
}

func (b Badge) Title() string {
	if title, ok := titles[b]; ok {
		return title
	}
	return string(b)
}

type Event string

const (
	EventSent      Event = "sent"
	EventReceived  Event = "received"
	EventVoice     Event = "voice"
	EventPhoto     Event = "photo"
	EventGift      Event = "gift"
	EventMusic     Event = "music"
	EventChain     Event = "chain"
	EventPoem      Event = "poem"
	EventBundle    Event = "bundle"
	EventReveal    Event = "reveal"
	EventSubscribe Event = "subscribe"
	EventRoulette  Event = "roulette"
)

// direct maps events that earn a badge unconditionally.
var direct = map[Event]Badge{
	EventVoice:     VoiceSender,
	EventPhoto:     PhotoSender,
	EventGift:      GiftGiver,
	EventMusic:     MusicLover,
	EventChain:     ChainMaster,
	EventPoem:      Poet,
	EventBundle:    Generous,
	EventReveal:    Revealer,
	EventSubscribe: Subscriber,
	EventRoulette:  RoulettePlayer,
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

func (s *Store) Grant(ctx context.Context, userID int64, badge Badge) (bool, error) {
	return s.GrantTx(s.db.WithContext(ctx), userID, badge)
}

// GrantTx inserts the badge and reports whether this call inserted it.
func (s *Store) GrantTx(tx *gorm.DB, userID int64, badge Badge) (bool, error) {
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "badge"}},
		DoNothing: true,
	}).Create(&db.Achievement{UserID: userID, Badge: string(badge), EarnedAt: s.now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) List(ctx context.Context, userID int64) ([]db.Achievement, error) {
	var out []db.Achievement
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("earned_at ASC").
		Find(&out).Error
	return out, err
}

// Evaluate grants whatever badges event unlocks for the user and returns the
// newly granted ones.
func (s *Store) Evaluate(ctx context.Context, userID int64, event Event) ([]Badge, error) {
	candidates, err := s.candidates(ctx, userID, event)
	if err != nil {
		return nil, err
	}
	var granted []Badge
	for _, badge := range candidates {
		isNew, err := s.Grant(ctx, userID, badge)
		if err != nil {
			return granted, fmt.Errorf("grant %s: %w", badge, err)
		}
		if isNew {
			granted = append(granted, badge)
		}
	}
	return granted, nil
}

func (s *Store) candidates(ctx context.Context, userID int64, event Event) ([]Badge, error) {
	if badge, ok := direct[event]; ok {
		return []Badge{badge}, nil
	}
	tx := s.db.WithContext(ctx)
	switch event {
	case EventSent:
		var sent int64
		if err := tx.Model(&db.Valentine{}).Where("sender_id = ?", userID).Count(&sent).Error; err != nil {
			return nil, err
		}
		var out []Badge
		if sent >= 1 {
			out = append(out, FirstValentine)
		}
		if sent >= serialRomanticThreshold {
			out = append(out, SerialRomantic)
		}
		return out, nil
	case EventReceived:
		var received int64
		if err := tx.Model(&db.Valentine{}).Where("receiver_id = ?", userID).Count(&received).Error; err != nil {
			return nil, err
		}
		if received >= popularThreshold {
			return []Badge{Popular}, nil
		}
		return nil, nil
	default:
		return nil, nil
	}
}

// Notify tells the user about fresh badges. Failures are logged only.
func Notify(ctx context.Context, m messenger.Messenger, userID int64, badges []Badge) {
	for _, badge := range badges {
		err := m.Send(ctx, userID, messenger.Payload{Text: "New badge unlocked: " + badge.Title()})
		if err != nil {
			logger.Warn("failed to send badge notification", "user_id", userID, "badge", badge, "error", err)
		}
	}
}
