package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/smith3v/valentine-bot/pkg/logger"
)

type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Limits    LimitsConfig    `json:"limits"`
	Prices    PricesConfig    `json:"prices"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Sessions  SessionsConfig  `json:"sessions"`
	Admin     AdminConfig     `json:"admin"`
	Timezone  string          `json:"timezone"`
	Gifts     []string        `json:"gifts"`
}

type DatabaseConfig struct {
	Driver   string `json:"driver"` // postgres, mysql or sqlite
	DSN      string `json:"dsn"`
	Path     string `json:"path"` // sqlite only
	Host     string `json:"host"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Port     int    `json:"port"`
	SSLMode  string `json:"sslmode"`
}

type TelegramConfig struct {
	Token              string `json:"token"`
	SendTimeoutSeconds int    `json:"send_timeout_seconds"`
}

type LoggingConfig struct {
	Level     string `json:"level"`
	File      string `json:"file"`
	Format    string `json:"format"`
	GormLevel string `json:"gorm_level"`
}

type LimitsConfig struct {
	FreeDaily         int `json:"free_daily"`
	RomanticDaily     int `json:"romantic_daily"`
	RouletteFreeDaily int `json:"roulette_free_daily"`
	MaxMessageLength  int `json:"max_message_length"`
	ChainTarget       int `json:"chain_target"`
	ChainBonus        int `json:"chain_bonus"`
	InboxPageSize     int `json:"inbox_page_size"`
	BundleCredits     int `json:"bundle_credits"`
	WeekBundleCredits int `json:"week_bundle_credits"`
	WeekBundleDays    int `json:"week_bundle_days"`
}

// PricesConfig is expressed in Telegram Stars.
type PricesConfig struct {
	Reveal        int `json:"reveal"`
	Poem          int `json:"poem"`
	Premium       int `json:"premium"`
	Bundle        int `json:"bundle"`
	Voice         int `json:"voice"`
	Compat        int `json:"compat"`
	Schedule      int `json:"schedule"`
	Gift          int `json:"gift"`
	SubRomantic   int `json:"sub_romantic"`
	SubLovebomb   int `json:"sub_lovebomb"`
	SubLovebomb3M int `json:"sub_lovebomb_3m"`
	WeekBundle    int `json:"week_bundle"`
	RouletteExtra int `json:"roulette_extra"`
}

type SchedulerConfig struct {
	IntervalSeconds   int `json:"interval_seconds"`
	BatchSize         int `json:"batch_size"`
	ClaimLeaseSeconds int `json:"claim_lease_seconds"`
}

type SessionsConfig struct {
	TTLMinutes             int `json:"ttl_minutes"`
	CleanupIntervalMinutes int `json:"cleanup_interval_minutes"`
}

type AdminConfig struct {
	ListenAddr string `json:"listen_addr"`
	CronSecret string `json:"cron_secret"`
}

// Default returns the configuration used when a field is absent from the file.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Driver:  "postgres",
			Path:    "valentine_bot.db",
			Port:    5432,
			SSLMode: "disable",
		},
		Telegram: TelegramConfig{SendTimeoutSeconds: 10},
		Logging:  LoggingConfig{Level: "info", GormLevel: "warn"},
		Limits: LimitsConfig{
			FreeDaily:         3,
			RomanticDaily:     10,
			RouletteFreeDaily: 1,
			MaxMessageLength:  500,
			ChainTarget:       3,
			ChainBonus:        1,
			InboxPageSize:     10,
			BundleCredits:     5,
			WeekBundleCredits: 20,
			WeekBundleDays:    7,
		},
		Prices: PricesConfig{
			Reveal:        50,
			Poem:          30,
			Premium:       50,
			Bundle:        100,
			Voice:         30,
			Compat:        50,
			Schedule:      30,
			Gift:          20,
			SubRomantic:   150,
			SubLovebomb:   300,
			SubLovebomb3M: 700,
			WeekBundle:    120,
			RouletteExtra: 10,
		},
		Scheduler: SchedulerConfig{
			IntervalSeconds:   30,
			BatchSize:         100,
			ClaimLeaseSeconds: 120,
		},
		Sessions: SessionsConfig{
			TTLMinutes:             24 * 60,
			CleanupIntervalMinutes: 60,
		},
		Admin:    AdminConfig{ListenAddr: ":8080"},
		Timezone: "UTC",
		Gifts:    []string{"🧸", "🌹", "🍫", "💎", "🎵", "🎀", "🦋", "🌺"},
	}
}

// Load reads the JSON config at filename on top of Default, then applies a
// .env file (when present) and environment overrides.
func Load(filename string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(filename) != "" {
		file, err := os.Open(filename)
		if err != nil {
			logger.Error("failed to open config file", "error", err)
			return cfg, err
		}
		defer file.Close()

		decoder := json.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			logger.Error("failed to decode config file", "error", err)
			return cfg, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Error("failed to load .env file", "error", err)
		return cfg, err
	}
	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := firstNonEmpty(getenv("POSTGRES_URL"), getenv("DATABASE_URL")); v != "" {
		c.Database.Driver = "postgres"
		c.Database.DSN = v
	}
	if v := getenv("DATABASE_PATH"); v != "" {
		c.Database.Path = v
		if c.Database.DSN == "" && c.Database.Host == "" {
			c.Database.Driver = "sqlite"
		}
	}
	if v := getenv("CRON_SECRET"); v != "" {
		c.Admin.CronSecret = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := getenv("ADMIN_ADDR"); v != "" {
		c.Admin.ListenAddr = v
	}
	if v := getenv("TIMEZONE"); v != "" {
		c.Timezone = v
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram token is required (BOT_TOKEN)"))
	}
	switch c.Database.Driver {
	case "postgres", "mysql":
		if c.Database.DSN == "" && c.Database.Host == "" {
			errs = append(errs, fmt.Errorf("database %s needs dsn or host", c.Database.Driver))
		}
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err))
	}
	if c.Limits.FreeDaily < 0 || c.Limits.RomanticDaily < 0 || c.Limits.RouletteFreeDaily < 0 {
		errs = append(errs, errors.New("daily limits must not be negative"))
	}
	if c.Limits.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("max message length must be positive"))
	}
	if c.Scheduler.IntervalSeconds <= 0 {
		errs = append(errs, errors.New("scheduler interval must be positive"))
	}
	return errors.Join(errs...)
}

// Location is the zone used to decide what "today" is. Validate guarantees it
// loads; UTC is the fallback for hand-built configs.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c TelegramConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c SchedulerConfig) ClaimLease() time.Duration {
	return time.Duration(c.ClaimLeaseSeconds) * time.Second
}

func (c SessionsConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

func (c SessionsConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMinutes) * time.Minute
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
