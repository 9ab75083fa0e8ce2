// Package session manages live scoring sessions: one periodic scheduler per
// event that fans scoring work out to the engine, plus the listener fan-out
// for score and leaderboard updates.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/gameday-live/arena/internal/domain/model"
	"github.com/gameday-live/arena/internal/engine"
	"github.com/gameday-live/arena/internal/leaderboard"
	"github.com/gameday-live/arena/pkg/logger"
	"github.com/gameday-live/arena/pkg/metrics"
)

// Default session configuration constants.
const (
	defaultMaxSessions     = 10
	defaultScoringInterval = 30 * time.Second
)

// ScoreUpdate is the payload delivered to score listeners.
type ScoreUpdate struct {
	EventID   string
	ProblemID string
	Key       string // teamID or participant accountID
	Score     float64
}

// ScoreListener receives score updates.
type ScoreListener func(ScoreUpdate)

// LeaderboardListener receives leaderboard snapshots after each applied update.
type LeaderboardListener func(model.Leaderboard)

// session is the per-event state: the event definition, its scoring targets
// and the scheduler that ticks them.
type session struct {
	event        model.Event
	problems     []model.Problem
	participants map[string]model.Participant // by accountID
	sched        gocron.Scheduler
	paused       bool
}

// Manager owns all live sessions and the listener registries.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session
	history  map[string]map[string][]model.ScoringResult // eventID -> key -> results

	eng *engine.Engine
	agg *leaderboard.Aggregator

	listenerMu sync.RWMutex
	scoreSubs  map[int]ScoreListener
	boardSubs  map[int]LeaderboardListener
	nextSub    int

	maxSessions int
	interval    time.Duration
	now         func() time.Time

	unsubscribe func()
	logger      logger.Logger
}

// New creates a Manager wired to the engine's result stream.
func New(eng *engine.Engine, agg *leaderboard.Aggregator, opts ...Option) *Manager {
	m := &Manager{
		sessions:    make(map[string]*session),
		history:     make(map[string]map[string][]model.ScoringResult),
		eng:         eng,
		agg:         agg,
		scoreSubs:   make(map[int]ScoreListener),
		boardSubs:   make(map[int]LeaderboardListener),
		maxSessions: defaultMaxSessions,
		interval:    defaultScoringInterval,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.Get().Named("session")
	}
	m.unsubscribe = eng.Subscribe(func(r model.ScoringResult) { m.applyResult(r) })
	return m
}

// StartSession creates and starts a session for the event. Starting an
// already-running event is a no-op; exceeding the global cap is an error.
func (m *Manager) StartSession(ctx context.Context, event model.Event, problems []model.Problem, participants []model.Participant) error {
	m.mu.Lock()
	if _, exists := m.sessions[event.ID]; exists {
		m.mu.Unlock()
		return nil
	}
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return fmt.Errorf("%w (cap %d)", ErrSessionLimit, m.maxSessions)
	}

	byAccount := make(map[string]model.Participant, len(participants))
	for _, p := range participants {
		byAccount[p.AccountID] = p
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("create scheduler: %w", err)
	}

	s := &session{
		event:        event,
		problems:     problems,
		participants: byAccount,
		sched:        sched,
	}
	eventID := event.ID
	if _, err := sched.NewJob(
		gocron.DurationJob(m.interval),
		gocron.NewTask(func() { m.tick(eventID) }),
	); err != nil {
		m.mu.Unlock()
		_ = sched.Shutdown()
		return fmt.Errorf("schedule scoring job: %w", err)
	}

	m.sessions[event.ID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	for _, p := range participants {
		key := p.TeamID
		if key == "" {
			key = p.AccountID
		}
		m.agg.RegisterDisplayName(key, p.DisplayName)
	}

	// Freeze state is derived from the event clock, so a session that starts
	// inside the freeze window is frozen from its first moment.
	m.refreshFreeze(event)

	sched.Start()
	metrics.UpdateSessionsActive(count)
	m.logger.Info(ctx, "session started",
		logger.String("eventID", event.ID),
		logger.Int("problems", len(problems)),
		logger.Int("participants", len(participants)),
		logger.Duration("interval", m.interval),
	)
	return nil
}

// PauseSession stops the session's timer without discarding state.
func (m *Manager) PauseSession(eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[eventID]
	if !ok {
		return fmt.Errorf("event %s: %w", eventID, ErrSessionNotFound)
	}
	if s.paused {
		return nil
	}
	if err := s.sched.StopJobs(); err != nil {
		return fmt.Errorf("pause session %s: %w", eventID, err)
	}
	s.paused = true
	return nil
}

// ResumeSession restarts a paused session's timer.
func (m *Manager) ResumeSession(eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[eventID]
	if !ok {
		return fmt.Errorf("event %s: %w", eventID, ErrSessionNotFound)
	}
	if !s.paused {
		return nil
	}
	s.sched.Start()
	s.paused = false
	return nil
}

// StopSession stops the timer and removes the session. Leaderboard state
// stays with the aggregator until explicitly reset.
func (m *Manager) StopSession(eventID string) error {
	m.mu.Lock()
	s, ok := m.sessions[eventID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("event %s: %w", eventID, ErrSessionNotFound)
	}
	delete(m.sessions, eventID)
	count := len(m.sessions)
	m.mu.Unlock()

	if err := s.sched.Shutdown(); err != nil {
		m.logger.Warn(context.Background(), "scheduler shutdown failed",
			logger.String("eventID", eventID), logger.Error(err))
	}
	metrics.UpdateSessionsActive(count)
	return nil
}

// TriggerScoring enqueues one scoring request per participant/problem pair.
func (m *Manager) TriggerScoring(eventID string) error {
	m.mu.RLock()
	s, ok := m.sessions[eventID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("event %s: %w", eventID, ErrSessionNotFound)
	}
	m.enqueueAll(s, s.participants)
	return nil
}

// TriggerParticipantScoring enqueues on-demand scoring for one participant.
func (m *Manager) TriggerParticipantScoring(eventID, accountID string) error {
	m.mu.RLock()
	s, ok := m.sessions[eventID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("event %s: %w", eventID, ErrSessionNotFound)
	}
	p, ok := s.participants[accountID]
	if !ok {
		return fmt.Errorf("participant %s in event %s: %w", accountID, eventID, ErrParticipantNotFound)
	}
	m.enqueueAll(s, map[string]model.Participant{accountID: p})
	return nil
}

// ApplyDirectScore feeds a guard-committed team score (the JAM path) into
// the same aggregation and notification pipeline engine results use.
func (m *Manager) ApplyDirectScore(eventID, teamID, challengeID string, teamScore float64, at time.Time) {
	m.applyResult(model.ScoringResult{
		EventID:    eventID,
		ProblemID:  challengeID,
		TeamID:     teamID,
		TotalScore: teamScore,
		ScoredAt:   at,
	})
}

// ScoreHistory returns the applied results for one participant key, oldest
// first. Unknown events or participants yield an empty slice.
func (m *Manager) ScoreHistory(eventID, key string) []model.ScoringResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := m.history[eventID][key]
	out := make([]model.ScoringResult, len(records))
	copy(out, records)
	return out
}

// IsFrozen reports the event's current freeze state.
func (m *Manager) IsFrozen(eventID string) bool {
	return m.agg.IsFrozen(eventID)
}

// OnScoreUpdate registers a score listener; the closure unsubscribes it.
func (m *Manager) OnScoreUpdate(fn ScoreListener) func() {
	m.listenerMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.scoreSubs[id] = fn
	m.listenerMu.Unlock()
	return func() {
		m.listenerMu.Lock()
		delete(m.scoreSubs, id)
		m.listenerMu.Unlock()
	}
}

// OnLeaderboardUpdate registers a leaderboard listener; the closure
// unsubscribes it.
func (m *Manager) OnLeaderboardUpdate(fn LeaderboardListener) func() {
	m.listenerMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.boardSubs[id] = fn
	m.listenerMu.Unlock()
	return func() {
		m.listenerMu.Lock()
		delete(m.boardSubs, id)
		m.listenerMu.Unlock()
	}
}

// Close stops every session and detaches from the engine.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		_ = s.sched.Shutdown()
	}
	metrics.UpdateSessionsActive(0)
}

// tick is one scheduler firing: refresh the freeze window, then enqueue a
// full scoring sweep.
func (m *Manager) tick(eventID string) {
	m.mu.RLock()
	s, ok := m.sessions[eventID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	metrics.RecordSessionTick()
	m.refreshFreeze(s.event)
	m.enqueueAll(s, s.participants)
}

// refreshFreeze derives the freeze state from the event clock and pushes it
// to the aggregator. It is recomputed, never stored.
func (m *Manager) refreshFreeze(event model.Event) {
	window := time.Duration(event.FreezeLeaderboardMinutes) * time.Minute
	frozen := event.EndTime.Sub(m.now()) <= window
	m.agg.SetFrozen(event.ID, frozen)
}

func (m *Manager) enqueueAll(s *session, participants map[string]model.Participant) {
	ctx := context.Background()
	for _, p := range participants {
		for _, problem := range s.problems {
			req := model.ScoringRequest{
				EventID:             s.event.ID,
				ProblemID:           problem.ID,
				CompetitorAccountID: p.AccountID,
				TeamID:              p.TeamID,
				Credentials:         p.Credentials,
				Problem:             problem,
			}
			if _, err := m.eng.Enqueue(ctx, req); err != nil {
				m.logger.Warn(ctx, "scoring enqueue failed",
					logger.String("eventID", s.event.ID),
					logger.String("problemID", problem.ID),
					logger.String("accountID", p.AccountID),
					logger.Error(err),
				)
			}
		}
	}
}

// applyResult is the single convergence point for both scoring paths:
// aggregate, record history, notify listeners.
func (m *Manager) applyResult(r model.ScoringResult) {
	entry := m.agg.UpdateScore(r.EventID, r)

	key := r.CompetitorAccountID
	if key == "" {
		key = r.TeamID
	}
	m.mu.Lock()
	if _, ok := m.sessions[r.EventID]; ok || r.CompetitorAccountID == "" {
		if m.history[r.EventID] == nil {
			m.history[r.EventID] = make(map[string][]model.ScoringResult)
		}
		m.history[r.EventID][key] = append(m.history[r.EventID][key], r)
	}
	m.mu.Unlock()

	update := ScoreUpdate{
		EventID:   r.EventID,
		ProblemID: r.ProblemID,
		Key:       entry.Key,
		Score:     r.TotalScore,
	}
	snapshot := m.agg.Snapshot(r.EventID)

	m.listenerMu.RLock()
	scoreSubs := make([]ScoreListener, 0, len(m.scoreSubs))
	for _, fn := range m.scoreSubs {
		scoreSubs = append(scoreSubs, fn)
	}
	boardSubs := make([]LeaderboardListener, 0, len(m.boardSubs))
	for _, fn := range m.boardSubs {
		boardSubs = append(boardSubs, fn)
	}
	m.listenerMu.RUnlock()

	// Score updates fire even while the board is frozen; only ordering is
	// withheld during the freeze window.
	for _, fn := range scoreSubs {
		m.notifyScore(fn, update)
	}
	for _, fn := range boardSubs {
		m.notifyBoard(fn, snapshot)
	}
}

func (m *Manager) notifyScore(fn ScoreListener, u ScoreUpdate) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordListenerPanic()
			m.logger.Error(context.Background(), "score listener panicked", logger.Any("panic", r))
		}
	}()
	fn(u)
}

func (m *Manager) notifyBoard(fn LeaderboardListener, lb model.Leaderboard) {
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordListenerPanic()
			m.logger.Error(context.Background(), "leaderboard listener panicked", logger.Any("panic", r))
		}
	}()
	fn(lb)
}
