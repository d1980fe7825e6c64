package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Policy holds the product constants of the assessment flow.
type Policy struct {
	// PassThreshold is the score percentage at or above which the long
	// cooldown applies.
	PassThreshold float64
	// ShortCooldownHours follows a session scored below PassThreshold.
	ShortCooldownHours int
	// LongCooldownHours follows a session scored at or above PassThreshold.
	LongCooldownHours int
	// LearningHoursDivisor weights learning time in ranking points.
	LearningHoursDivisor float64
	// LearningActivityType names the activity type counted as learning time.
	LearningActivityType string
}

// DefaultPolicy returns the standard policy: 80% threshold, 24h/72h cooldowns.
func DefaultPolicy() Policy {
	return Policy{
		PassThreshold:        80,
		ShortCooldownHours:   24,
		LongCooldownHours:    72,
		LearningHoursDivisor: 100,
		LearningActivityType: "Learning",
	}
}

// CooldownFor returns the cooldown in hours for a closed session's score.
func (p Policy) CooldownFor(scorePercentage float64) int {
	if scorePercentage < p.PassThreshold {
		return p.ShortCooldownHours
	}
	return p.LongCooldownHours
}

// Config holds process-level settings for the CLI and services.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string

	// Backend selects where session records live.
	// Values: "sqlite", "mongo"
	Backend string

	MongoURI      string
	MongoDatabase string

	// RedisURL enables the cached rank index and the cross-process run lock.
	RedisURL string

	// BankDir holds <chapterID>.json question bank files.
	BankDir string

	// RankInterval is how often the ranking scheduler refreshes.
	RankInterval time.Duration

	// MaxAttempts bounds version-conflict retries of a record update.
	MaxAttempts int

	LogLevel slog.Level

	Policy Policy
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:       "sqlite",
		MongoDatabase: "chapterquiz",
		BankDir:       "banks",
		RankInterval:  24 * time.Hour,
		MaxAttempts:   5,
		LogLevel:      slog.LevelInfo,
		Policy:        DefaultPolicy(),
	}
}

// Load reads an optional .env file and then builds a Config from the
// environment.
func Load() (Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from CHAPTERQUIZ_* variables, falling back to
// defaults for unset values.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if p := os.Getenv("CHAPTERQUIZ_DB"); p != "" {
		cfg.DBPath = p
	}
	if b := os.Getenv("CHAPTERQUIZ_BACKEND"); b != "" {
		cfg.Backend = strings.ToLower(b)
	}
	if u := os.Getenv("CHAPTERQUIZ_MONGO_URI"); u != "" {
		cfg.MongoURI = u
	}
	if d := os.Getenv("CHAPTERQUIZ_MONGO_DATABASE"); d != "" {
		cfg.MongoDatabase = d
	}
	if u := os.Getenv("CHAPTERQUIZ_REDIS_URL"); u != "" {
		cfg.RedisURL = u
	}
	if d := os.Getenv("CHAPTERQUIZ_BANK_DIR"); d != "" {
		cfg.BankDir = d
	}

	if v := os.Getenv("CHAPTERQUIZ_RANK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("CHAPTERQUIZ_RANK_INTERVAL: %w", err)
		}
		cfg.RankInterval = d
	}
	if v := os.Getenv("CHAPTERQUIZ_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("CHAPTERQUIZ_MAX_ATTEMPTS: %w", err)
		}
		cfg.MaxAttempts = n
	}
	if v := os.Getenv("CHAPTERQUIZ_LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return cfg, fmt.Errorf("CHAPTERQUIZ_LOG_LEVEL: %w", err)
		}
	}

	if v := os.Getenv("CHAPTERQUIZ_PASS_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("CHAPTERQUIZ_PASS_THRESHOLD: %w", err)
		}
		cfg.Policy.PassThreshold = f
	}
	if v := os.Getenv("CHAPTERQUIZ_SHORT_COOLDOWN_HOURS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("CHAPTERQUIZ_SHORT_COOLDOWN_HOURS: %w", err)
		}
		cfg.Policy.ShortCooldownHours = n
	}
	if v := os.Getenv("CHAPTERQUIZ_LONG_COOLDOWN_HOURS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("CHAPTERQUIZ_LONG_COOLDOWN_HOURS: %w", err)
		}
		cfg.Policy.LongCooldownHours = n
	}

	return cfg, nil
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Backend {
	case "sqlite":
		// DBPath may be resolved later.
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("CHAPTERQUIZ_MONGO_URI is required for the mongo backend")
		}
	default:
		return fmt.Errorf("unknown record backend: %q", c.Backend)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.RankInterval <= 0 {
		return fmt.Errorf("rank interval must be positive, got %s", c.RankInterval)
	}
	if c.Policy.ShortCooldownHours < 0 || c.Policy.LongCooldownHours < 0 {
		return fmt.Errorf("cooldown hours must not be negative")
	}
	if c.Policy.LearningHoursDivisor <= 0 {
		return fmt.Errorf("learning hours divisor must be positive")
	}
	return nil
}

// DefaultDBPath resolves the database file path in priority order:
// 1. CHAPTERQUIZ_DB environment variable
// 2. $XDG_DATA_HOME/chapterquiz/chapterquiz.db
// 3. ~/.local/share/chapterquiz/chapterquiz.db
func DefaultDBPath() (string, error) {
	if p := os.Getenv("CHAPTERQUIZ_DB"); p != "" {
		return p, EnsureDir(p)
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}

	p := filepath.Join(dataHome, "chapterquiz", "chapterquiz.db")
	return p, EnsureDir(p)
}

// EnsureDir creates the parent directory of path if it doesn't exist.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
