// Package config loads process configuration. Values come from built-in
// defaults, then an optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/savepop/savepop/pkg/logger"
)

// SweepOff disables a scheduled sweep.
const SweepOff = "off"

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Auth     AuthConfig           `yaml:"auth"`
	Logging  logger.LoggingConfig `yaml:"logging"`
	Database DatabaseConfig       `yaml:"database"`
	Redis    RedisConfig          `yaml:"redis"`
	Advisor  AdvisorConfig        `yaml:"advisor"`
	Game     GameConfig           `yaml:"game"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"SAVEPOP_ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SAVEPOP_SHUTDOWN_TIMEOUT"`
	RateLimit       float64       `yaml:"rate_limit" env:"SAVEPOP_RATE_LIMIT"`
	RateBurst       int           `yaml:"rate_burst" env:"SAVEPOP_RATE_BURST"`
	AuditFile       string        `yaml:"audit_file" env:"SAVEPOP_AUDIT_FILE"`
	AuditMax        int           `yaml:"audit_max" env:"SAVEPOP_AUDIT_MAX"`
}

// AuthConfig selects the identity mode. An empty secret trusts the
// X-User-ID header and is meant for local development only.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"SAVEPOP_JWT_SECRET"`
}

// DatabaseConfig points at PostgreSQL. An empty DSN keeps everything in
// memory.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"SAVEPOP_DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"SAVEPOP_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"SAVEPOP_DB_CONN_MAX_LIFETIME"`
	Migrate         bool          `yaml:"migrate" env:"SAVEPOP_DB_MIGRATE"`
}

// RedisConfig enables the shared idempotency cache when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"SAVEPOP_REDIS_ADDR"`
	Password string `yaml:"password" env:"SAVEPOP_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"SAVEPOP_REDIS_DB"`
	Prefix   string `yaml:"prefix" env:"SAVEPOP_REDIS_PREFIX"`
}

// AdvisorConfig enables the remote level advisor when URL is set.
type AdvisorConfig struct {
	URL     string        `yaml:"url" env:"SAVEPOP_ADVISOR_URL"`
	APIKey  string        `yaml:"api_key" env:"SAVEPOP_ADVISOR_API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"SAVEPOP_ADVISOR_TIMEOUT"`
}

type GameConfig struct {
	Quorum     int           `yaml:"quorum" env:"SAVEPOP_VETO_QUORUM"`
	ResultTTL  time.Duration `yaml:"result_ttl" env:"SAVEPOP_RESULT_TTL"`
	GoalSweep  string        `yaml:"goal_sweep" env:"SAVEPOP_GOAL_SWEEP"`
	QuestSweep string        `yaml:"quest_sweep" env:"SAVEPOP_QUEST_SWEEP"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
			AuditMax:        500,
		},
		Logging: logger.LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			Migrate:         true,
		},
		Advisor: AdvisorConfig{Timeout: 3 * time.Second},
		Game: GameConfig{
			ResultTTL:  24 * time.Hour,
			GoalSweep:  "@every 15m",
			QuestSweep: "@every 5m",
		},
	}
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		errs = append(errs, "server.rate_limit and server.rate_burst must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst == 0 {
		errs = append(errs, "server.rate_burst is required when rate_limit is set")
	}
	if c.Game.Quorum < 0 {
		errs = append(errs, "game.quorum must not be negative")
	}
	if c.Game.ResultTTL < 0 {
		errs = append(errs, "game.result_ttl must not be negative")
	}
	if c.Advisor.URL != "" && c.Advisor.Timeout <= 0 {
		errs = append(errs, "advisor.timeout must be positive when advisor.url is set")
	}
	for name, spec := range map[string]string{"game.goal_sweep": c.Game.GoalSweep, "game.quest_sweep": c.Game.QuestSweep} {
		if spec == "" || spec == SweepOff {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}
