package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Engine holds every knob the validation pipeline reads. It is built once at
// startup and passed into constructors; nothing reads the environment after
// Load returns.
type Engine struct {
	HeloHost string
	MailFrom string

	ConnectTimeout   time.Duration
	MaxAttempts      int // MX hosts probed per validation
	ProbeConcurrency int // fleet-wide concurrent SMTP sockets

	TemporaryAsRisky     bool
	PolicyAsRisky        bool
	DeliverableOnConnect bool
	DeliverableDomains   []string
}

type Config struct {
	LogLevel  string
	SentryDSN string

	APIAddr string
	APIKey  string

	RedisAddr string
	DBURL     string

	ProxyList        []string
	ProxyConcurrency int
	SMTPProxyEnabled bool

	// Minimum gap between SMTP probes against the same domain (worker).
	DomainProbeGap time.Duration

	Engine Engine
}

// Load reads .env (if present) and the process environment into a Config.
func Load() (*Config, error) {
	// Missing .env is fine in production; real env vars win either way.
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		SentryDSN: getEnv("SENTRY_DSN", ""),

		APIAddr: getEnv("API_ADDR", ":8080"),
		APIKey:  getEnv("API_SECRET_KEY", ""),

		RedisAddr: getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		DBURL:     getEnv("DB_URL", ""),

		ProxyList:        splitList(getEnv("PROXY_LIST", "")),
		ProxyConcurrency: getEnvAsInt("PROXY_CONCURRENCY", 0),
		SMTPProxyEnabled: getEnvAsBool("SMTP_PROXY_ENABLED", false),

		DomainProbeGap: getEnvAsDuration("DOMAIN_PROBE_GAP_MS", 1500*time.Millisecond),

		Engine: Engine{
			HeloHost: getEnv("SMTP_HELO_HOST", "mta1.mailgauge.net"),
			MailFrom: getEnv("SMTP_MAIL_FROM", ""),

			ConnectTimeout:   getEnvAsDuration("SMTP_CONNECT_TIMEOUT_MS", 8*time.Second),
			MaxAttempts:      getEnvAsInt("SMTP_MAX_ATTEMPTS", 3),
			ProbeConcurrency: getEnvAsInt("SMTP_PROBE_CONCURRENCY", 15),

			TemporaryAsRisky:     getEnvAsBool("TEMPORARY_AS_RISKY", false),
			PolicyAsRisky:        getEnvAsBool("POLICY_AS_RISKY", true),
			DeliverableOnConnect: getEnvAsBool("DELIVERABLE_ON_CONNECT", false),
			DeliverableDomains:   splitList(getEnv("DELIVERABLE_DOMAINS", "")),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("SMTP_MAX_ATTEMPTS must be at least 1, got %d", c.Engine.MaxAttempts)
	}
	if c.Engine.ConnectTimeout <= 0 {
		return fmt.Errorf("SMTP_CONNECT_TIMEOUT_MS must be positive")
	}
	if c.Engine.ProbeConcurrency < 1 {
		return fmt.Errorf("SMTP_PROBE_CONCURRENCY must be at least 1, got %d", c.Engine.ProbeConcurrency)
	}
	return nil
}

// Helper functions

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvAsBool(key string, fallback bool) bool {
	raw := strings.ToLower(getEnv(key, ""))
	switch raw {
	case "":
		return fallback
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// getEnvAsDuration reads a millisecond count.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
