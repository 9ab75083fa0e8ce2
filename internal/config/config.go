// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load(ctx) layers defaults, an optional YAML file, and env vars.
// - External errors must be wrapped via this package's sentinel errors.
package config

import (
	"context"
	"time"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address for metrics and health,
	// e.g. ":9090".
	Addr string `koanf:"addr"`

	// PostgresDSN enables durable storage when set; empty selects the
	// in-memory store.
	PostgresDSN string `koanf:"postgres_dsn"`

	// MaxConcurrency bounds how many scoring jobs execute at once.
	MaxConcurrency int `koanf:"max_concurrency"`

	// ScoringTimeout bounds a single executor call.
	ScoringTimeout time.Duration `koanf:"scoring_timeout"`

	// RetryAttempts sets how many times a failed scoring job is re-queued.
	RetryAttempts int `koanf:"retry_attempts"`

	// RetryDelay is the fixed delay before a failed job re-enters the queue.
	RetryDelay time.Duration `koanf:"retry_delay"`

	// MaxSessions caps concurrently live event sessions.
	MaxSessions int `koanf:"max_sessions"`

	// ScoringInterval is the period of each session's scoring sweep.
	ScoringInterval time.Duration `koanf:"scoring_interval"`

	// LockRetries is the total number of lock acquisition attempts.
	LockRetries int `koanf:"lock_retries"`

	// LockRetryInterval is the fixed pause between lock attempts.
	LockRetryInterval time.Duration `koanf:"lock_retry_interval"`

	// TxTimeout bounds a serializable transaction.
	TxTimeout time.Duration `koanf:"tx_timeout"`

	// ScoringLatencyMinMS and ScoringLatencyMaxMS bound the simulated
	// latency of the local executor.
	ScoringLatencyMinMS int `koanf:"scoring_latency_min_ms"`
	ScoringLatencyMaxMS int `koanf:"scoring_latency_max_ms"`

	// PassRate is the local executor's per-criterion pass probability.
	PassRate float64 `koanf:"pass_rate"`
}

// New creates a Config with defaults. Context is accepted first to satisfy
// the project-wide convention; it is reserved for future use.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9090",
		MaxConcurrency:      5,
		ScoringTimeout:      2 * time.Minute,
		RetryAttempts:       3,
		RetryDelay:          5 * time.Second,
		MaxSessions:         10,
		ScoringInterval:     30 * time.Second,
		LockRetries:         10,
		LockRetryInterval:   100 * time.Millisecond,
		TxTimeout:           10 * time.Second,
		ScoringLatencyMinMS: 80,
		ScoringLatencyMaxMS: 150,
		PassRate:            0.7,
	}
}
