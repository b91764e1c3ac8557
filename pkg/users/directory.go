// Package users keeps the registry of people who have talked to the bot.
package users

import (
	"context"
	"errors"
	"strings"

	"github.com/smith3v/valentine-bot/pkg/db"
	"github.com/smith3v/valentine-bot/pkg/subscription"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Profile struct {
	UserID    int64
	Username  string
	FirstName string
}

type Stats struct {
	Sent         int64
	Received     int64
	Revealed     int64
	Badges       int64
	ChainCount   int
	BonusCredits int
	Plan         subscription.Plan
}

type Directory struct {
	db   *gorm.DB
	subs *subscription.Manager
}

func NewDirectory(gdb *gorm.DB, subs *subscription.Manager) *Directory {
	return &Directory{db: gdb, subs: subs}
}

// Register upserts the profile. Ledger columns of an existing row are kept.
func (d *Directory) Register(ctx context.Context, p Profile) error {
	username := strings.TrimPrefix(strings.TrimSpace(p.Username), "@")
	user := db.User{
		UserID:        p.UserID,
		Username:      username,
		UsernameLower: strings.ToLower(username),
		FirstName:     p.FirstName,
	}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "username_lower", "first_name", "updated_at"}),
	}).Create(&user).Error
}

func (d *Directory) Get(ctx context.Context, userID int64) (*db.User, error) {
	var user db.User
	err := d.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

// FindByUsername looks a user up case-insensitively, with or without "@".
func (d *Directory) FindByUsername(ctx context.Context, username string) (*db.User, error) {
	key := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
	if key == "" {
		return nil, nil
	}
	var user db.User
	err := d.db.WithContext(ctx).Where("username_lower = ?", key).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

func (d *Directory) Stats(ctx context.Context, userID int64) (Stats, error) {
	var stats Stats
	tx := d.db.WithContext(ctx)
	if err := tx.Model(&db.Valentine{}).Where("sender_id = ?", userID).Count(&stats.Sent).Error; err != nil {
		return stats, err
	}
	if err := tx.Model(&db.Valentine{}).Where("receiver_id = ?", userID).Count(&stats.Received).Error; err != nil {
		return stats, err
	}
	if err := tx.Model(&db.Valentine{}).Where("sender_id = ? AND is_revealed = ?", userID, true).Count(&stats.Revealed).Error; err != nil {
		return stats, err
	}
	if err := tx.Model(&db.Achievement{}).Where("user_id = ?", userID).Count(&stats.Badges).Error; err != nil {
		return stats, err
	}
	user, err := d.Get(ctx, userID)
	if err != nil {
		return stats, err
	}
	if user != nil {
		stats.ChainCount = user.ChainCount
		stats.BonusCredits = user.BonusCredits
	}
	if d.subs != nil {
		plan, err := d.subs.ActivePlanTx(tx, userID)
		if err != nil {
			return stats, err
		}
		stats.Plan = plan
	}
	return stats, nil
}
