// Package config loads process-wide configuration from the environment.
// The domain has no hierarchical agent/chain/MCP registry to resolve —
// every setting here is a flat env var — so the YAML-plus-merge loader
// this package used to wrap (loader.go, merge.go) has nothing left to
// apply to; see DESIGN.md for the full accounting of what moved where.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"
)

// Config is the immutable, fully-resolved process configuration.
type Config struct {
	HTTPAddr string

	HostAuthSecret string

	TurnstileSecretKey string
	TurnstileBypass    bool

	AllowedOrigins []string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string

	AppBaseURL string
	TestMode   bool

	PushRateLimitPerSecond float64

	// RetentionAge is how long a closed session's rows stay in the durable
	// log before the retention sweep (pkg/cleanup) purges them.
	RetentionAge      time.Duration
	RetentionInterval time.Duration
}

// Load resolves Config from the current environment. Callers are expected
// to have already called godotenv.Load beforehand (see cmd/queueline).
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:               getEnvOrDefault("HTTP_ADDR", ":8080"),
		HostAuthSecret:         os.Getenv("HOST_AUTH_SECRET"),
		TurnstileSecretKey:     os.Getenv("TURNSTILE_SECRET_KEY"),
		TurnstileBypass:        getEnvBool("TURNSTILE_BYPASS", false),
		AllowedOrigins:         splitCSV(os.Getenv("ALLOWED_ORIGINS")),
		VAPIDPublicKey:         os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:        os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubject:           getEnvOrDefault("VAPID_SUBJECT", "mailto:ops@queueline.example"),
		AppBaseURL:             getEnvOrDefault("APP_BASE_URL", "http://localhost:8080"),
		TestMode:               getEnvBool("TEST_MODE", false),
		PushRateLimitPerSecond: getEnvFloat("PUSH_RATE_LIMIT_PER_SECOND", 20),
		RetentionAge:           getEnvDuration("RETENTION_AGE", 7*24*time.Hour),
		RetentionInterval:      getEnvDuration("RETENTION_SWEEP_INTERVAL", time.Hour),
	}

	if cfg.HostAuthSecret == "" && !cfg.TestMode {
		return Config{}, trace.BadParameter("HOST_AUTH_SECRET is required outside TEST_MODE")
	}
	if cfg.HostAuthSecret == "" && cfg.TestMode {
		cfg.HostAuthSecret = "test-mode-insecure-secret"
	}
	if len(cfg.AllowedOrigins) == 0 {
		return Config{}, trace.BadParameter("ALLOWED_ORIGINS must list at least one origin")
	}

	return cfg, nil
}

// PushEnabled reports whether both VAPID keys are configured. cmd/queueline
// only logs this; it wires push.NoopSender either way.
func (c Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
