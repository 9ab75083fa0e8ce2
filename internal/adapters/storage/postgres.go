package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gameday-live/arena/internal/domain/model"
	"github.com/gameday-live/arena/pkg/logger"
)

// PostgresStore implements Store on a pgx connection pool.
//
// The lock flag lives in team_challenge_locks; TryAcquire is a single
// conditional upsert whose affected-row count is the acquisition verdict.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

// NewPostgresStore creates a store backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, log logger.Logger) *PostgresStore {
	if log == nil {
		log = logger.Get().Named("storage")
	}
	return &PostgresStore{pool: pool, log: log}
}

// Connect builds a pgx pool from a DSN and verifies connectivity.
func Connect(ctx context.Context, dsn string, log logger.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewPostgresStore(pool, log), nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// txKey carries an open serializable transaction through the context so the
// row operations inside the critical section join it.
type txKey struct{}

// querier is the subset of pgx shared by pool and transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// pgconnCommandTag narrows pgconn.CommandTag to what we consume.
type pgconnCommandTag interface {
	RowsAffected() int64
}

// poolQuerier adapts *pgxpool.Pool to querier.
type poolQuerier struct{ pool *pgxpool.Pool }

func (q poolQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error) {
	tag, err := q.pool.Exec(ctx, sql, args...)
	return tag, err
}

func (q poolQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return q.pool.QueryRow(ctx, sql, args...)
}

func (q poolQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return q.pool.Query(ctx, sql, args...)
}

// txQuerier adapts pgx.Tx to querier.
type txQuerier struct{ tx pgx.Tx }

func (q txQuerier) Exec(ctx context.Context, sql string, args ...any) (pgconnCommandTag, error) {
	tag, err := q.tx.Exec(ctx, sql, args...)
	return tag, err
}

func (q txQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return q.tx.QueryRow(ctx, sql, args...)
}

func (q txQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return q.tx.Query(ctx, sql, args...)
}

func (s *PostgresStore) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return txQuerier{tx: tx}
	}
	return poolQuerier{pool: s.pool}
}

// TryAcquire performs the atomic set-true-where-false update. A missing row
// is created already held, so first acquisition and later contention share
// one statement.
func (s *PostgresStore) TryAcquire(ctx context.Context, teamID, challengeID string) (bool, error) {
	const q = `
		INSERT INTO team_challenge_locks (team_id, challenge_id, locked)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (team_id, challenge_id)
		DO UPDATE SET locked = TRUE
		WHERE team_challenge_locks.locked = FALSE
	`
	tag, err := s.q(ctx).Exec(ctx, q, teamID, challengeID)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s/%s: %w", teamID, challengeID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release unconditionally clears the flag.
func (s *PostgresStore) Release(ctx context.Context, teamID, challengeID string) error {
	const q = `
		UPDATE team_challenge_locks
		SET locked = FALSE
		WHERE team_id = $1 AND challenge_id = $2
	`
	if _, err := s.q(ctx).Exec(ctx, q, teamID, challengeID); err != nil {
		return fmt.Errorf("release lock %s/%s: %w", teamID, challengeID, err)
	}
	return nil
}

// Serializable runs op inside a Serializable-isolation transaction bounded
// by timeout. The open transaction rides the context so row operations in op
// join it.
func (s *PostgresStore) Serializable(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	txCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := s.pool.BeginTx(txCtx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrTxAborted, err)
	}

	if err := op(context.WithValue(txCtx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(txCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.log.Warn(ctx, "rollback failed", logger.Error(rbErr))
		}
		return fmt.Errorf("%w: %w", ErrTxAborted, err)
	}

	if err := tx.Commit(txCtx); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrTxAborted, err)
	}
	return nil
}

func (s *PostgresStore) ChallengeState(ctx context.Context, teamID, challengeID string) (model.ChallengeState, error) {
	const q = `
		SELECT team_id, challenge_id, score, completed, clue_requests, COALESCE(completed_at, 'epoch'::timestamptz)
		FROM team_challenge_state
		WHERE team_id = $1 AND challenge_id = $2
	`
	var state model.ChallengeState
	err := s.q(ctx).QueryRow(ctx, q, teamID, challengeID).Scan(
		&state.TeamID, &state.ChallengeID, &state.Score, &state.Completed, &state.ClueRequests, &state.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ChallengeState{}, fmt.Errorf("challenge state %s/%s: %w", teamID, challengeID, ErrNotFound)
		}
		return model.ChallengeState{}, fmt.Errorf("load challenge state: %w", err)
	}
	return state, nil
}

func (s *PostgresStore) SaveChallengeState(ctx context.Context, state model.ChallengeState) error {
	const q = `
		INSERT INTO team_challenge_state (team_id, challenge_id, score, completed, clue_requests, completed_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, 'epoch'::timestamptz))
		ON CONFLICT (team_id, challenge_id)
		DO UPDATE SET score = $3, completed = $4, clue_requests = $5, completed_at = NULLIF($6, 'epoch'::timestamptz)
	`
	if _, err := s.q(ctx).Exec(ctx, q,
		state.TeamID, state.ChallengeID, state.Score, state.Completed, state.ClueRequests, state.CompletedAt,
	); err != nil {
		return fmt.Errorf("save challenge state: %w", err)
	}
	return nil
}

func (s *PostgresStore) TaskProgress(ctx context.Context, teamID, taskID string) (model.TaskProgress, error) {
	const q = `
		SELECT team_id, task_id, locked, completed, points_possible, points_earned, clue_penalties, used_clues
		FROM task_progress
		WHERE team_id = $1 AND task_id = $2
	`
	var progress model.TaskProgress
	var usedClues []int64
	err := s.q(ctx).QueryRow(ctx, q, teamID, taskID).Scan(
		&progress.TeamID, &progress.TaskID, &progress.Locked, &progress.Completed,
		&progress.PointsPossible, &progress.PointsEarned, &progress.CluePenalties, &usedClues,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TaskProgress{}, fmt.Errorf("task progress %s/%s: %w", teamID, taskID, ErrNotFound)
		}
		return model.TaskProgress{}, fmt.Errorf("load task progress: %w", err)
	}
	progress.UsedClues = make([]int, len(usedClues))
	for i, v := range usedClues {
		progress.UsedClues[i] = int(v)
	}
	return progress, nil
}

func (s *PostgresStore) SaveTaskProgress(ctx context.Context, progress model.TaskProgress) error {
	const q = `
		INSERT INTO task_progress (team_id, task_id, locked, completed, points_possible, points_earned, clue_penalties, used_clues)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (team_id, task_id)
		DO UPDATE SET locked = $3, completed = $4, points_possible = $5, points_earned = $6, clue_penalties = $7, used_clues = $8
	`
	usedClues := make([]int64, len(progress.UsedClues))
	for i, v := range progress.UsedClues {
		usedClues[i] = int64(v)
	}
	if _, err := s.q(ctx).Exec(ctx, q,
		progress.TeamID, progress.TaskID, progress.Locked, progress.Completed,
		progress.PointsPossible, progress.PointsEarned, progress.CluePenalties, usedClues,
	); err != nil {
		return fmt.Errorf("save task progress: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendScoreRecord(ctx context.Context, record model.ScoreRecord) error {
	const q = `
		INSERT INTO score_records (event_id, team_id, challenge_id, task_id, points, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.q(ctx).Exec(ctx, q,
		record.EventID, record.TeamID, record.ChallengeID, record.TaskID, record.Points, record.RecordedAt,
	); err != nil {
		return fmt.Errorf("append score record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ScoreRecords(ctx context.Context, eventID, teamID string) ([]model.ScoreRecord, error) {
	const q = `
		SELECT event_id, team_id, challenge_id, task_id, points, recorded_at
		FROM score_records
		WHERE event_id = $1 AND team_id = $2
		ORDER BY recorded_at
	`
	rows, err := s.q(ctx).Query(ctx, q, eventID, teamID)
	if err != nil {
		return nil, fmt.Errorf("list score records: %w", err)
	}
	defer rows.Close()

	var records []model.ScoreRecord
	for rows.Next() {
		var r model.ScoreRecord
		if err := rows.Scan(&r.EventID, &r.TeamID, &r.ChallengeID, &r.TaskID, &r.Points, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan score record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *PostgresStore) AppendActivity(ctx context.Context, eventID, teamName, entry string) error {
	const q = `
		INSERT INTO activity_log (event_id, team_name, entry, created_at)
		VALUES ($1, $2, $3, now())
	`
	if _, err := s.q(ctx).Exec(ctx, q, eventID, teamName, entry); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}
