// Package locking implements the per-(team, challenge) pessimistic lock and
// the serializable-transaction escalation that together protect multi-row
// mutations triggered by direct player actions.
package locking

import (
	"context"
	"fmt"
	"time"

	"github.com/gameday-live/arena/internal/adapters/storage"
	"github.com/gameday-live/arena/pkg/logger"
	"github.com/gameday-live/arena/pkg/metrics"
)

// Default guard configuration constants.
const (
	defaultMaxRetries    = 10
	defaultRetryInterval = 100 * time.Millisecond
	defaultTxTimeout     = 10 * time.Second
)

// Guard serializes entry into per-team critical sections. The flag prevents
// concurrent entry for the same (team, challenge); the serializable
// transaction prevents partial multi-row writes if storage aborts.
type Guard struct {
	flags storage.LockStore
	tx    storage.TxRunner

	maxRetries    int
	retryInterval time.Duration
	txTimeout     time.Duration

	logger logger.Logger
}

// Option applies a configuration option to the Guard.
type Option func(*Guard)

// WithMaxRetries sets the total number of acquisition attempts.
func WithMaxRetries(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.maxRetries = n
		}
	}
}

// WithRetryInterval sets the fixed delay between acquisition attempts.
// The interval is deliberately constant, not exponential.
func WithRetryInterval(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.retryInterval = d
		}
	}
}

// WithTxTimeout bounds serializable transactions.
func WithTxTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.txTimeout = d
		}
	}
}

// WithLogger sets a custom logger for the guard.
func WithLogger(l logger.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a Guard over the given lock and transaction ports.
func New(flags storage.LockStore, tx storage.TxRunner, opts ...Option) *Guard {
	g := &Guard{
		flags:         flags,
		tx:            tx,
		maxRetries:    defaultMaxRetries,
		retryInterval: defaultRetryInterval,
		txTimeout:     defaultTxTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logger.Get().Named("locking")
	}
	return g
}

// Acquire attempts the atomic set-true-where-false update up to maxRetries
// times with a fixed delay between attempts.
func (g *Guard) Acquire(ctx context.Context, teamID, challengeID string) error {
	start := time.Now()
	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		ok, err := g.flags.TryAcquire(ctx, teamID, challengeID)
		if err != nil {
			return fmt.Errorf("lock %s/%s: %w", teamID, challengeID, err)
		}
		if ok {
			metrics.RecordLockAcquired()
			metrics.RecordLockWait(time.Since(start).Seconds())
			return nil
		}

		metrics.RecordLockContention()
		if attempt == g.maxRetries {
			break
		}
		select {
		case <-time.After(g.retryInterval):
		case <-ctx.Done():
			return fmt.Errorf("lock %s/%s: %w", teamID, challengeID, ctx.Err())
		}
	}

	metrics.RecordLockExhausted()
	return fmt.Errorf("lock %s/%s after %d attempts: %w", teamID, challengeID, g.maxRetries, ErrRetriesExceeded)
}

// Release unconditionally clears the flag.
func (g *Guard) Release(ctx context.Context, teamID, challengeID string) error {
	if err := g.flags.Release(ctx, teamID, challengeID); err != nil {
		g.logger.Error(ctx, "lock release failed",
			logger.String("teamID", teamID),
			logger.String("challengeID", challengeID),
			logger.Error(err),
		)
		return err
	}
	return nil
}

// WithLock acquires, runs op and releases on every exit path, including a
// panicking op. This is the only sanctioned way to mutate player-facing
// per-team rows.
func (g *Guard) WithLock(ctx context.Context, teamID, challengeID string, op func(ctx context.Context) error) error {
	if err := g.Acquire(ctx, teamID, challengeID); err != nil {
		return err
	}
	defer func() {
		_ = g.Release(ctx, teamID, challengeID)
	}()
	return op(ctx)
}

// WithSerializableTransaction wraps op in a Serializable-isolation
// transaction bounded by the guard's transaction timeout.
func (g *Guard) WithSerializableTransaction(ctx context.Context, op func(ctx context.Context) error) error {
	if err := g.tx.Serializable(ctx, g.txTimeout, op); err != nil {
		metrics.RecordTxFailure()
		return err
	}
	return nil
}
