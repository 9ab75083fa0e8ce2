package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gameday-live/arena/internal/domain/model"
)

// MemoryStore is an in-memory Store for tests and local mode. The
// serializable transaction is approximated by a store-wide mutex, which is
// strictly stronger than Serializable isolation for a single process.
type MemoryStore struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	locks map[string]bool // (team,challenge) -> held

	challengeStates map[string]model.ChallengeState // (team,challenge)
	taskProgress    map[string]model.TaskProgress   // (team,task)
	scoreRecords    map[string][]model.ScoreRecord  // (event,team)
	activity        map[string][]string             // (event,teamName)
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:           make(map[string]bool),
		challengeStates: make(map[string]model.ChallengeState),
		taskProgress:    make(map[string]model.TaskProgress),
		scoreRecords:    make(map[string][]model.ScoreRecord),
		activity:        make(map[string][]string),
	}
}

func pairKey(a, b string) string { return a + "\x00" + b }

// TryAcquire flips the lock flag from false to true, mirroring a conditional
// UPDATE that reports affected rows.
func (s *MemoryStore) TryAcquire(_ context.Context, teamID, challengeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(teamID, challengeID)
	if s.locks[key] {
		return false, nil
	}
	s.locks[key] = true
	return true, nil
}

// Release unconditionally clears the lock flag.
func (s *MemoryStore) Release(_ context.Context, teamID, challengeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks[pairKey(teamID, challengeID)] = false
	return nil
}

// Serializable runs op under the store-wide transaction mutex with a
// bounded deadline.
func (s *MemoryStore) Serializable(ctx context.Context, timeout time.Duration, op func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	txCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := op(txCtx); err != nil {
		return fmt.Errorf("%w: %w", ErrTxAborted, err)
	}
	return txCtx.Err()
}

func (s *MemoryStore) ChallengeState(_ context.Context, teamID, challengeID string) (model.ChallengeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.challengeStates[pairKey(teamID, challengeID)]
	if !ok {
		return model.ChallengeState{}, fmt.Errorf("challenge state %s/%s: %w", teamID, challengeID, ErrNotFound)
	}
	return state, nil
}

func (s *MemoryStore) SaveChallengeState(_ context.Context, state model.ChallengeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challengeStates[pairKey(state.TeamID, state.ChallengeID)] = state
	return nil
}

func (s *MemoryStore) TaskProgress(_ context.Context, teamID, taskID string) (model.TaskProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	progress, ok := s.taskProgress[pairKey(teamID, taskID)]
	if !ok {
		return model.TaskProgress{}, fmt.Errorf("task progress %s/%s: %w", teamID, taskID, ErrNotFound)
	}
	return cloneProgress(progress), nil
}

func (s *MemoryStore) SaveTaskProgress(_ context.Context, progress model.TaskProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskProgress[pairKey(progress.TeamID, progress.TaskID)] = cloneProgress(progress)
	return nil
}

func (s *MemoryStore) AppendScoreRecord(_ context.Context, record model.ScoreRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(record.EventID, record.TeamID)
	s.scoreRecords[key] = append(s.scoreRecords[key], record)
	return nil
}

func (s *MemoryStore) ScoreRecords(_ context.Context, eventID, teamID string) ([]model.ScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.scoreRecords[pairKey(eventID, teamID)]
	out := make([]model.ScoreRecord, len(records))
	copy(out, records)
	return out, nil
}

func (s *MemoryStore) AppendActivity(_ context.Context, eventID, teamName, entry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(eventID, teamName)
	s.activity[key] = append(s.activity[key], entry)
	return nil
}

// Activity returns the append-only log for an event/team, oldest first.
func (s *MemoryStore) Activity(eventID, teamName string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.activity[pairKey(eventID, teamName)]
	out := make([]string, len(entries))
	copy(out, entries)
	return out
}

func cloneProgress(p model.TaskProgress) model.TaskProgress {
	cp := p
	cp.CluePenalties = append([]float64(nil), p.CluePenalties...)
	cp.UsedClues = append([]int(nil), p.UsedClues...)
	return cp
}
