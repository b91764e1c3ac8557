// pkg/db/models.go
package db

import (
	"time"

	"gorm.io/datatypes"
)

// User holds the quota ledger columns. Dated counters are only meaningful
// while their *_date equals today; Version guards read-modify-write updates.
type User struct {
	UserID            int64  `gorm:"primaryKey;autoIncrement:false"`
	Username          string `gorm:"size:64;not null;default:''"`
	UsernameLower     string `gorm:"size:64;not null;default:'';index"`
	FirstName         string `gorm:"size:128;not null;default:''"`
	FreeSendsToday    int    `gorm:"not null;default:0"`
	LastSendDate      string `gorm:"size:10;not null;default:''"`
	BonusCredits      int    `gorm:"not null;default:0"`
	ChainCount        int    `gorm:"not null;default:0"`
	RouletteUsesToday int    `gorm:"not null;default:0"`
	LastRouletteDate  string `gorm:"size:10;not null;default:''"`
	RouletteFreeUntil *time.Time
	Version           int64 `gorm:"not null;default:0"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const (
	SourceDirect   = "direct"
	SourceRoulette = "roulette"
)

type Valentine struct {
	ID               uint       `gorm:"primaryKey"`
	SenderID         int64      `gorm:"not null;index"`
	ReceiverID       *int64     `gorm:"index"`
	ReceiverUsername string     `gorm:"size:64;not null;default:'';index"`
	Message          string     `gorm:"type:text;not null"`
	Source           string     `gorm:"size:16;not null;default:direct"`
	IsPremium        bool       `gorm:"not null;default:false"`
	IsPoem           bool       `gorm:"not null;default:false"`
	IsDelivered      bool       `gorm:"not null;default:false;index:idx_valentine_due"`
	IsRevealed       bool       `gorm:"not null;default:false"`
	IsScheduledSent  bool       `gorm:"not null;default:false;index:idx_valentine_due"`
	VoiceFileID      string     `gorm:"size:256;not null;default:''"`
	PhotoFileID      string     `gorm:"size:256;not null;default:''"`
	GiftEmoji        string     `gorm:"size:16;not null;default:''"`
	MusicURL         string     `gorm:"size:512;not null;default:''"`
	Reaction         string     `gorm:"size:16;not null;default:''"`
	ScheduledFor     *time.Time `gorm:"index:idx_valentine_due"`
	ClaimedUntil     *time.Time
	DeliveredAt      *time.Time
	CreatedAt        time.Time
}

type RouletteEntry struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    int64  `gorm:"not null;index"`
	Message   string `gorm:"type:text;not null"`
	Matched   bool   `gorm:"not null;default:false;index:idx_roulette_waiting"`
	MatchedBy *int64
	MatchedAt *time.Time
	CreatedAt time.Time `gorm:"index:idx_roulette_waiting"`
}

type Subscription struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    int64     `gorm:"not null;index:idx_subscription_active"`
	Plan      string    `gorm:"size:16;not null"`
	StartedAt time.Time `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null"`
	ChargeID  string    `gorm:"size:128;not null;default:'';index"`
	IsActive  bool      `gorm:"not null;index:idx_subscription_active"`
}

type Payment struct {
	ID          uint   `gorm:"primaryKey"`
	UserID      int64  `gorm:"not null;index"`
	Amount      int    `gorm:"not null"`
	Currency    string `gorm:"size:8;not null;default:XTR"`
	Type        string `gorm:"size:32;not null"`
	Payload     string `gorm:"size:128;not null;default:''"`
	ValentineID *uint
	ChargeID    string `gorm:"size:128;not null;uniqueIndex"`
	CreatedAt   time.Time
}

// Entitlement is a one-shot paid unlock. ConsumedAt is set exactly once.
type Entitlement struct {
	ID         uint   `gorm:"primaryKey"`
	UserID     int64  `gorm:"not null;index:idx_entitlement_open"`
	Kind       string `gorm:"size:32;not null;index:idx_entitlement_open"`
	ChargeID   string `gorm:"size:128;not null;uniqueIndex"`
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

type Achievement struct {
	UserID   int64     `gorm:"primaryKey;autoIncrement:false"`
	Badge    string    `gorm:"primaryKey;size:32"`
	EarnedAt time.Time `gorm:"not null"`
}

type ChatSession struct {
	ID        string         `gorm:"primaryKey;size:36"`
	ChatID    int64          `gorm:"not null;uniqueIndex"`
	UserID    int64          `gorm:"not null;index"`
	State     string         `gorm:"size:32;not null"`
	Data      datatypes.JSON `gorm:"not null"`
	Version   int64          `gorm:"not null;default:0"`
	ExpiresAt time.Time      `gorm:"not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CompatTest is one compatibility questionnaire. Answers are JSON arrays of
// option indexes; a NULL column means that side has not answered yet.
type CompatTest struct {
	ID               string `gorm:"primaryKey;size:16"`
	InitiatorID      int64  `gorm:"not null;index"`
	PartnerID        *int64 `gorm:"index"`
	InitiatorAnswers datatypes.JSON
	PartnerAnswers   datatypes.JSON
	ResultPercent    *int
	IsPaid           bool `gorm:"not null;default:false"`
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// AnonChat lets the receiver of a valentine talk to its sender without
// revealing either side. One chat per valentine.
type AnonChat struct {
	ID          string `gorm:"primaryKey;size:36"`
	ValentineID uint   `gorm:"not null;uniqueIndex"`
	ClosedAt    *time.Time
	CreatedAt   time.Time
}

type AnonMessage struct {
	ID         uint   `gorm:"primaryKey"`
	ChatID     string `gorm:"size:36;not null;index"`
	FromSender bool   `gorm:"not null"`
	Text       string `gorm:"type:text;not null"`
	CreatedAt  time.Time
}

// Models lists every table managed by Migrate.
func Models() []any {
	return []any{
		&User{},
		&Valentine{},
		&RouletteEntry{},
		&Subscription{},
		&Payment{},
		&Entitlement{},
		&Achievement{},
		&ChatSession{},
		&CompatTest{},
		&AnonChat{},
		&AnonMessage{},
	}
}
