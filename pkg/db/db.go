// pkg/db/db.go
package db

import (
	"fmt"
	"strconv"

	"github.com/smith3v/valentine-bot/pkg/config"
	"github.com/smith3v/valentine-bot/pkg/logger"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Open connects to the configured database and migrates the schema. All
// components share the returned handle; business logic never branches on
// the driver.
func Open(cfg config.DatabaseConfig, gormLevel string) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	gormLogger, gormErr := newGormLogger(gormLevel)
	if gormErr != nil {
		logger.Error("invalid gorm log level", "value", gormLevel, "error", gormErr)
	}
	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		logger.Error("failed to connect to database", "driver", cfg.Driver, "error", err)
		return nil, err
	}
	if cfg.Driver == "sqlite" {
		// SQLite has a single writer; one connection turns lock errors into waits.
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := Migrate(gdb); err != nil {
		logger.Error("failed to migrate database", "error", err)
		return nil, err
	}
	return gdb, nil
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "host=" + cfg.Host +
				" user=" + cfg.User +
				" password=" + cfg.Password +
				" dbname=" + cfg.DBName +
				" port=" + strconv.Itoa(cfg.Port) +
				" sslmode=" + cfg.SSLMode
		}
		return postgres.Open(dsn), nil
	case "mysql":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
				cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
		}
		return mysql.Open(dsn), nil
	case "sqlite":
		return sqlite.Open("file:" + cfg.Path + "?_busy_timeout=5000&_foreign_keys=on"), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func Migrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(Models()...); err != nil {
		return err
	}
	return migrateUsernameLower(gdb)
}

// migrateUsernameLower backfills the lookup column for rows written before
// it existed.
func migrateUsernameLower(gdb *gorm.DB) error {
	return gdb.Exec(`
UPDATE users
SET username_lower = LOWER(username)
WHERE username_lower = '' AND username <> ''
`).Error
}

// EnsureUser inserts an empty ledger row for userID when none exists.
func EnsureUser(tx *gorm.DB, userID int64) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&User{UserID: userID}).Error
}
