package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr string

	// DefaultSessionTTL applies when a create request omits the TTL.
	DefaultSessionTTL time.Duration

	// PayloadSizeBudget is the max embedded payload size in bytes before the
	// codec falls back to a session-reference invitation.
	PayloadSizeBudget int

	// IdempotencyWindow bounds how long a create-session idempotency key is
	// honored.
	IdempotencyWindow time.Duration

	// DatabaseURL enables the PostgreSQL stores when set; empty means the
	// in-memory stores are used.
	DatabaseURL string

	// RedisAddr enables the Redis session store when set.
	RedisAddr string

	// SigningKey is the shared HMAC secret used to verify consent signatures.
	SigningKey string
}

const (
	defaultAddr              = ":8080"
	defaultSessionTTL        = 5 * time.Minute
	defaultPayloadBudget     = 2048
	defaultIdempotencyWindow = 10 * time.Minute
)

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:              defaultAddr,
		DefaultSessionTTL: defaultSessionTTL,
		PayloadSizeBudget: defaultPayloadBudget,
		IdempotencyWindow: defaultIdempotencyWindow,
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		SigningKey:        os.Getenv("PROOFSHARE_SIGNING_KEY"),
	}

	if addr := os.Getenv("PROOFSHARE_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if ttl := os.Getenv("SESSION_TTL"); ttl != "" {
		if duration, err := time.ParseDuration(ttl); err == nil {
			cfg.DefaultSessionTTL = duration
		}
	}
	if budget := os.Getenv("PAYLOAD_SIZE_BUDGET"); budget != "" {
		if n, err := strconv.Atoi(budget); err == nil && n > 0 {
			cfg.PayloadSizeBudget = n
		}
	}
	if window := os.Getenv("IDEMPOTENCY_WINDOW"); window != "" {
		if duration, err := time.ParseDuration(window); err == nil {
			cfg.IdempotencyWindow = duration
		}
	}

	return cfg
}
