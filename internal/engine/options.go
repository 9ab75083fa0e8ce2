package engine

import (
	"time"

	"github.com/gameday-live/arena/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithMaxConcurrency bounds the number of jobs executing at once.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxConcurrency = n
		}
	}
}

// WithTimeout bounds a single executor call.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithRetryAttempts sets how many times a failed job is re-queued.
func WithRetryAttempts(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.retryAttempts = n
		}
	}
}

// WithRetryDelay sets the fixed delay before a failed job re-enters the queue.
func WithRetryDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryDelay = d
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
