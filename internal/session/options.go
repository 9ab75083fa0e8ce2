package session

import (
	"time"

	"github.com/gameday-live/arena/pkg/logger"
)

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithMaxSessions caps the number of concurrently live sessions.
func WithMaxSessions(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxSessions = n
		}
	}
}

// WithScoringInterval sets how often each session triggers a scoring sweep.
func WithScoringInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithClock overrides the time source used for freeze-window checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets a custom logger for the manager.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}
