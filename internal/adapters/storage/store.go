// Package storage defines the storage ports the scoring core consumes and
// ships a Postgres (pgx) and an in-memory implementation.
//
// The core does not own the persistence engine; it relies on exactly two
// primitives from it — an atomic conditional update and a serializable
// transaction — plus plain row access for task progress and audit sinks.
package storage

import (
	"context"
	"time"

	"github.com/gameday-live/arena/internal/domain/model"
)

// LockStore is the mutex cell keyed by (team, challenge).
type LockStore interface {
	// TryAcquire atomically flips the lock flag from false to true.
	// Returns false when the flag was already held (zero rows affected).
	TryAcquire(ctx context.Context, teamID, challengeID string) (bool, error)

	// Release unconditionally clears the lock flag.
	Release(ctx context.Context, teamID, challengeID string) error
}

// TxRunner executes a sequence of reads/writes with Serializable isolation
// and a caller-supplied timeout, surfacing an error on conflict or abort.
type TxRunner interface {
	Serializable(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error
}

// ProgressStore persists per-team challenge state, task progress, score
// history, clue statistics and the activity log.
type ProgressStore interface {
	ChallengeState(ctx context.Context, teamID, challengeID string) (model.ChallengeState, error)
	SaveChallengeState(ctx context.Context, state model.ChallengeState) error

	TaskProgress(ctx context.Context, teamID, taskID string) (model.TaskProgress, error)
	SaveTaskProgress(ctx context.Context, progress model.TaskProgress) error

	AppendScoreRecord(ctx context.Context, record model.ScoreRecord) error
	ScoreRecords(ctx context.Context, eventID, teamID string) ([]model.ScoreRecord, error)

	AppendActivity(ctx context.Context, eventID, teamName, entry string) error
}

// Store bundles the three ports an adapter implements together.
type Store interface {
	LockStore
	TxRunner
	ProgressStore
}
