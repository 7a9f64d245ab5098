// Package config assembles runtime settings from defaults, an optional YAML
// file, and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "SLOTWISE_"

// Config holds every runtime setting for the API server.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	DatabaseDSN string `yaml:"database_dsn"`

	AuthSecret  string        `yaml:"auth_secret"`
	TokenIssuer string        `yaml:"token_issuer"`
	AccessTTL   time.Duration `yaml:"access_ttl"`
	RefreshTTL  time.Duration `yaml:"refresh_ttl"`

	InvitationTTL time.Duration `yaml:"invitation_ttl"`
	ResetTokenTTL time.Duration `yaml:"reset_token_ttl"`

	RateBurst  int `yaml:"rate_burst"`
	RatePerSec int `yaml:"rate_per_sec"`

	MigrationsDir string `yaml:"migrations_dir"`
	SeedsDir      string `yaml:"seeds_dir"`

	// Feature flags surfaced read-only through /v1/info.
	Features Features `yaml:"features"`
}

// Features toggles optional front-end integrations. Read once at startup.
type Features struct {
	SSOGoogle    bool `yaml:"sso_google"`
	SSOMicrosoft bool `yaml:"sso_microsoft"`
}

// Defaults returns development defaults. Override everything for production.
func Defaults() Config {
	return Config{
		ListenAddr:    ":8080",
		AuthSecret:    "",
		TokenIssuer:   "slotwise",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    14 * 24 * time.Hour,
		InvitationTTL: 7 * 24 * time.Hour,
		ResetTokenTTL: 1 * time.Hour,
		RateBurst:     20,
		RatePerSec:    10,
		MigrationsDir: "migrations",
		SeedsDir:      "seeds",
	}
}

// Load builds a Config from defaults, then the YAML file at path (if non-empty),
// then SLOTWISE_* environment variables.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.RatePerSec <= 0 || c.RateBurst <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.ListenAddr, "LISTEN_ADDR")
	setString(&cfg.DatabaseDSN, "PG_DSN")
	setString(&cfg.AuthSecret, "AUTH_SECRET")
	setString(&cfg.TokenIssuer, "TOKEN_ISSUER")
	setDuration(&cfg.AccessTTL, "ACCESS_TTL")
	setDuration(&cfg.RefreshTTL, "REFRESH_TTL")
	setDuration(&cfg.InvitationTTL, "INVITATION_TTL")
	setDuration(&cfg.ResetTokenTTL, "RESET_TOKEN_TTL")
	setInt(&cfg.RateBurst, "RATE_BURST")
	setInt(&cfg.RatePerSec, "RATE_PER_SEC")
	setString(&cfg.MigrationsDir, "MIGRATIONS_DIR")
	setString(&cfg.SeedsDir, "SEEDS_DIR")
	setBool(&cfg.Features.SSOGoogle, "FEATURE_SSO_GOOGLE")
	setBool(&cfg.Features.SSOMicrosoft, "FEATURE_SSO_MICROSOFT")
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			*dst = parsed
		}
	}
}
