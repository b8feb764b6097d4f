package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port              int
	NatsURL           string
	NatsToken         string
	DatabaseURL       string
	RedisAddr         string
	RedisPassword     string
	LedgerTTL         time.Duration
	LogLevel          string
	AnthropicAPIKey   string
	AnthropicModel    string
	SlackBotToken     string
	SlackChannel      string
	APIToken          string
	CriteriaFile      string
	DownstreamTimeout time.Duration
	WebhookRateLimit  float64
	WebhookBurst      int
}

func Load() Config {
	return Config{
		Port:              envInt("INTAKE_PORT", 8760),
		NatsURL:           envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:         envStr("NATS_TOKEN", ""),
		DatabaseURL:       envStr("DATABASE_URL", ""),
		RedisAddr:         envStr("REDIS_ADDR", ""),
		RedisPassword:     envStr("REDIS_PASSWORD", ""),
		LedgerTTL:         envDuration("LEDGER_TTL", 72*time.Hour),
		LogLevel:          envStr("LOG_LEVEL", "info"),
		AnthropicAPIKey:   envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:    envStr("INTAKE_MODEL", "claude-sonnet-4-20250514"),
		SlackBotToken:     envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:      envStr("SLACK_REVIEW_CHANNEL", ""),
		APIToken:          envStr("INTAKE_API_TOKEN", ""),
		CriteriaFile:      envStr("INTAKE_CRITERIA_FILE", ""),
		DownstreamTimeout: envDuration("DOWNSTREAM_TIMEOUT", 5*time.Second),
		WebhookRateLimit:  envFloat("WEBHOOK_RATE_LIMIT", 20),
		WebhookBurst:      envInt("WEBHOOK_BURST", 40),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
