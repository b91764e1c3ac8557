package db

import (
	"context"
	"time"

	"github.com/smith3v/valentine-bot/pkg/logger"
	"gorm.io/gorm"
)

const SessionCleanupInterval = time.Hour

// CleanupExpiredSessions drops conversation sessions past their TTL and
// releases scheduler leases that expired without a flip.
func CleanupExpiredSessions(gdb *gorm.DB, now time.Time) (int64, error) {
	if gdb == nil {
		return 0, nil
	}
	var deleted int64

	res := gdb.Where("expires_at <= ?", now).Delete(&ChatSession{})
	if res.Error != nil {
		return deleted, res.Error
	}
	deleted += res.RowsAffected

	res = gdb.Model(&Valentine{}).
		Where("claimed_until IS NOT NULL AND claimed_until <= ? AND is_delivered = ?", now, false).
		Update("claimed_until", nil)
	if res.Error != nil {
		return deleted, res.Error
	}
	if res.RowsAffected > 0 {
		logger.Info("released stale delivery leases", "count", res.RowsAffected)
	}

	return deleted, nil
}

func StartSessionCleanup(ctx context.Context, gdb *gorm.DB, interval time.Duration, now func() time.Time) {
	if interval <= 0 {
		interval = SessionCleanupInterval
	}
	if now == nil {
		now = time.Now
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := CleanupExpiredSessions(gdb.WithContext(ctx), now().UTC()); err != nil {
				logger.Error("failed to cleanup expired sessions", "error", err)
			}
		}
	}
}
