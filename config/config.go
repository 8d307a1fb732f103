package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultDatabasePath      = "library.db"
	DefaultFineSweepSchedule = "0 1 * * *" // Daily at 01:00
	EnvPrefix                = "LIBRARY"
)

type (
	Config struct {
		Database
		Logging
		Circulation
		FineSweep
	}

	Database struct {
		Path string
	}
	Logging struct {
		Level  string // debug, info, warn, error
		Format string // text or json
	}
	Circulation struct {
		LoanPeriodDays int
		RemovalPolicy  string // allow or block
		LedgerStrict   bool   // reject books with more than one open loan
	}
	FineSweep struct {
		Schedule string // Cron format: "0 1 * * *" = daily at 01:00
	}
)

// flagKeys maps command-line flag names onto configuration keys. Only flags
// present in the set handed to Load are bound.
var flagKeys = map[string]string{
	"db":             "database_path",
	"log-level":      "log_level",
	"log-format":     "log_format",
	"loan-days":      "loan_period_days",
	"removal-policy": "removal_policy",
	"strict-ledger":  "ledger_strict",
	"schedule":       "fine_sweep_schedule",
}

// Load reads configuration from LIBRARY_* environment variables and the
// flags in fs, which win when set. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("loan_period_days", 14)
	v.SetDefault("removal_policy", "block")
	v.SetDefault("ledger_strict", false)
	v.SetDefault("fine_sweep_schedule", DefaultFineSweepSchedule)

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{
		Database: Database{
			Path: v.GetString("database_path"),
		},
		Logging: Logging{
			Level:  strings.ToLower(v.GetString("log_level")),
			Format: strings.ToLower(v.GetString("log_format")),
		},
		Circulation: Circulation{
			LoanPeriodDays: v.GetInt("loan_period_days"),
			RemovalPolicy:  strings.ToLower(v.GetString("removal_policy")),
			LedgerStrict:   v.GetBool("ledger_strict"),
		},
		FineSweep: FineSweep{
			Schedule: v.GetString("fine_sweep_schedule"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if _, err := c.level(); err != nil {
		return fmt.Errorf("log_level %q: %w", c.Logging.Level, err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", c.Logging.Format)
	}
	if c.LoanPeriodDays <= 0 {
		return fmt.Errorf("loan_period_days must be positive, got %d", c.LoanPeriodDays)
	}
	if c.RemovalPolicy != "allow" && c.RemovalPolicy != "block" {
		return fmt.Errorf("removal_policy must be allow or block, got %q", c.RemovalPolicy)
	}
	if err := ValidateCronSchedule(c.FineSweep.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", c.FineSweep.Schedule, err)
	}
	return nil
}

// LoanPeriod is LoanPeriodDays as a duration.
func (c *Config) LoanPeriod() time.Duration {
	return time.Duration(c.LoanPeriodDays) * 24 * time.Hour
}

// NewLogger builds the slog logger described by the Logging section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := c.level()
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (c *Config) level() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.Logging.Level))
	return level, err
}

// ValidateCronSchedule validates a five-field cron schedule string.
func ValidateCronSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(schedule)
	return err
}
