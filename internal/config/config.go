// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	DiscordToken string
	// GuildID scopes slash command registration to one guild. Empty registers
	// the commands globally.
	GuildID    string
	ListenAddr string
	DBPath     string
	// SecretKey is the 32-byte AES key that encrypts stored tokens.
	SecretKey []byte
	// ExternalURL is the public base URL of this service. It feeds the
	// provisioned webhook URL and the keep-alive ping.
	ExternalURL string
	// WebhookSecret authenticates tunnel reports. Required with ExternalURL,
	// since that is what exposes the webhook to codespaces.
	WebhookSecret string
	LogLevel      slog.Level

	KeepAliveInterval time.Duration
	KeepAliveDelay    time.Duration

	WakeAttempts      int
	WakeTimeout       time.Duration
	WakeDelay         time.Duration
	WakeGraceAttempts int
	ProbeConcurrency  int

	CredentialTTL time.Duration
	BindingTTL    time.Duration

	SweepInterval     time.Duration
	MonitorInterval   time.Duration
	AddonPollInterval time.Duration
	CommandCooldown   time.Duration
}

// WebhookURL is where provisioned codespaces report their tunnel. Empty when
// no external URL is configured.
func (c *Config) WebhookURL() string {
	if c.ExternalURL == "" {
		return ""
	}
	return c.ExternalURL + "/api/v1/webhooks/tunnel"
}

// HealthURL is the externally reachable health endpoint pinged by keep-alive.
func (c *Config) HealthURL() string {
	if c.ExternalURL == "" {
		return ""
	}
	return c.ExternalURL + "/api/v1/health"
}

// Load reads configuration from environment variables and returns a validated Config.
// SPACEWAKE_DISCORD_TOKEN and SPACEWAKE_SECRET_KEY (64 hex characters) are
// required, and SPACEWAKE_WEBHOOK_SECRET is too once SPACEWAKE_EXTERNAL_URL
// is set. Every other variable has a default.
func Load() (*Config, error) {
	cfg := &Config{
		DiscordToken:  strings.TrimSpace(os.Getenv("SPACEWAKE_DISCORD_TOKEN")),
		GuildID:       os.Getenv("SPACEWAKE_DISCORD_GUILD_ID"),
		ListenAddr:    "127.0.0.1:8080",
		DBPath:        "spacewake.db",
		ExternalURL:   strings.TrimRight(os.Getenv("SPACEWAKE_EXTERNAL_URL"), "/"),
		WebhookSecret: os.Getenv("SPACEWAKE_WEBHOOK_SECRET"),
		LogLevel:      slog.LevelInfo,
	}
	if cfg.DiscordToken == "" {
		return nil, errors.New("SPACEWAKE_DISCORD_TOKEN is required")
	}
	if cfg.ExternalURL != "" && strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("SPACEWAKE_WEBHOOK_SECRET is required when SPACEWAKE_EXTERNAL_URL is set")
	}

	if v, ok := os.LookupEnv("SPACEWAKE_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("SPACEWAKE_DB_PATH"); ok {
		cfg.DBPath = v
	}

	key, err := secretKey(os.Getenv("SPACEWAKE_SECRET_KEY"))
	if err != nil {
		return nil, err
	}
	cfg.SecretKey = key

	if v, ok := os.LookupEnv("SPACEWAKE_LOG_LEVEL"); ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("SPACEWAKE_LOG_LEVEL has invalid level %q: %w", v, err)
		}
	}

	durations := []struct {
		key  string
		dst  *time.Duration
		def  time.Duration
		zero bool // zero allowed
	}{
		{"SPACEWAKE_KEEPALIVE_INTERVAL", &cfg.KeepAliveInterval, 10 * time.Minute, false},
		{"SPACEWAKE_KEEPALIVE_DELAY", &cfg.KeepAliveDelay, 2 * time.Minute, true},
		{"SPACEWAKE_WAKE_TIMEOUT", &cfg.WakeTimeout, 3 * time.Minute, false},
		{"SPACEWAKE_WAKE_DELAY", &cfg.WakeDelay, 3 * time.Second, true},
		{"SPACEWAKE_CREDENTIAL_TTL", &cfg.CredentialTTL, 0, true},
		{"SPACEWAKE_BINDING_TTL", &cfg.BindingTTL, 7 * 24 * time.Hour, true},
		{"SPACEWAKE_SWEEP_INTERVAL", &cfg.SweepInterval, time.Hour, false},
		{"SPACEWAKE_MONITOR_INTERVAL", &cfg.MonitorInterval, time.Minute, false},
		{"SPACEWAKE_ADDON_POLL_INTERVAL", &cfg.AddonPollInterval, 30 * time.Second, false},
		{"SPACEWAKE_COMMAND_COOLDOWN", &cfg.CommandCooldown, 10 * time.Second, true},
	}
	for _, d := range durations {
		*d.dst = d.def
		v, ok := os.LookupEnv(d.key)
		if !ok {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%s has invalid duration %q: %w", d.key, v, err)
		}
		if parsed < 0 || (parsed == 0 && !d.zero) {
			return nil, fmt.Errorf("%s must be positive, got %s", d.key, v)
		}
		*d.dst = parsed
	}

	ints := []struct {
		key string
		dst *int
		def int
		min int
	}{
		{"SPACEWAKE_WAKE_ATTEMPTS", &cfg.WakeAttempts, 12, 1},
		{"SPACEWAKE_WAKE_GRACE_ATTEMPTS", &cfg.WakeGraceAttempts, 2, 0},
		{"SPACEWAKE_PROBE_CONCURRENCY", &cfg.ProbeConcurrency, 4, 1},
	}
	for _, n := range ints {
		*n.dst = n.def
		v, ok := os.LookupEnv(n.key)
		if !ok {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s has invalid integer %q: %w", n.key, v, err)
		}
		if parsed < n.min {
			return nil, fmt.Errorf("%s must be at least %d, got %d", n.key, n.min, parsed)
		}
		*n.dst = parsed
	}

	return cfg, nil
}

func secretKey(v string) ([]byte, error) {
	if v == "" {
		return nil, errors.New("SPACEWAKE_SECRET_KEY is required (64 hex characters)")
	}
	key, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("SPACEWAKE_SECRET_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("SPACEWAKE_SECRET_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
