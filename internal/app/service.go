// Package service assembles the scoring core: storage, engine, leaderboard,
// locking, progress machine and session manager, behind one facade the
// process entrypoint drives.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gameday-live/arena/internal/adapters/storage"
	"github.com/gameday-live/arena/internal/domain/executor"
	"github.com/gameday-live/arena/internal/domain/model"
	"github.com/gameday-live/arena/internal/engine"
	"github.com/gameday-live/arena/internal/leaderboard"
	"github.com/gameday-live/arena/internal/locking"
	"github.com/gameday-live/arena/internal/progress"
	"github.com/gameday-live/arena/internal/session"
	"github.com/gameday-live/arena/pkg/logger"
)

// Service wires the scoring core together and exposes its operations.
type Service struct {
	mu sync.RWMutex

	// Core components, built on Start.
	store    storage.Store
	eng      *engine.Engine
	agg      *leaderboard.Aggregator
	guard    *locking.Guard
	machine  *progress.Machine
	sessions *session.Manager

	// Configuration.
	postgresDSN     string
	maxConcurrency  int
	scoringTimeout  time.Duration
	retryAttempts   int
	retryDelay      time.Duration
	maxSessions     int
	scoringInterval time.Duration
	lockRetries     int
	lockInterval    time.Duration
	txTimeout       time.Duration
	minLatency      time.Duration
	maxLatency      time.Duration
	passRate        float64

	started bool
	logger  logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithPostgresDSN selects the Postgres store; empty keeps the in-memory one.
func WithPostgresDSN(dsn string) Option {
	return func(s *Service) {
		s.postgresDSN = dsn
	}
}

// WithStore injects a pre-built store, bypassing DSN-based selection.
func WithStore(store storage.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithMaxConcurrency bounds how many scoring jobs execute at once.
func WithMaxConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxConcurrency = n
		}
	}
}

// WithScoringTimeout bounds a single executor call.
func WithScoringTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.scoringTimeout = d
		}
	}
}

// WithRetryPolicy sets the engine's re-queue attempts and fixed delay.
func WithRetryPolicy(attempts int, delay time.Duration) Option {
	return func(s *Service) {
		if attempts >= 0 {
			s.retryAttempts = attempts
		}
		if delay > 0 {
			s.retryDelay = delay
		}
	}
}

// WithMaxSessions caps concurrently live event sessions.
func WithMaxSessions(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// WithScoringInterval sets the period of each session's scoring sweep.
func WithScoringInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.scoringInterval = d
		}
	}
}

// WithLockPolicy sets lock retry attempts, the pause between them and the
// serializable transaction timeout.
func WithLockPolicy(retries int, interval, txTimeout time.Duration) Option {
	return func(s *Service) {
		if retries > 0 {
			s.lockRetries = retries
		}
		if interval > 0 {
			s.lockInterval = interval
		}
		if txTimeout > 0 {
			s.txTimeout = txTimeout
		}
	}
}

// WithExecutorProfile shapes the local executor's simulated latency and
// per-criterion pass rate.
func WithExecutorProfile(minLatency, maxLatency time.Duration, passRate float64) Option {
	return func(s *Service) {
		if minLatency > 0 && maxLatency >= minLatency {
			s.minLatency = minLatency
			s.maxLatency = maxLatency
		}
		if passRate >= 0 && passRate <= 1 {
			s.passRate = passRate
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		maxConcurrency:  5,
		scoringTimeout:  2 * time.Minute,
		retryAttempts:   3,
		retryDelay:      5 * time.Second,
		maxSessions:     10,
		scoringInterval: 30 * time.Second,
		lockRetries:     10,
		lockInterval:    100 * time.Millisecond,
		txTimeout:       10 * time.Second,
		minLatency:      80 * time.Millisecond,
		maxLatency:      150 * time.Millisecond,
		passRate:        0.7,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds and connects all components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	if s.store == nil {
		if s.postgresDSN != "" {
			store, err := storage.Connect(ctx, s.postgresDSN, s.logger.Named("storage"))
			if err != nil {
				return fmt.Errorf("connect storage: %w", err)
			}
			s.store = store
		} else {
			s.store = storage.NewMemoryStore()
		}
	}

	s.eng = engine.New(
		engine.WithMaxConcurrency(s.maxConcurrency),
		engine.WithTimeout(s.scoringTimeout),
		engine.WithRetryAttempts(s.retryAttempts),
		engine.WithRetryDelay(s.retryDelay),
		engine.WithLogger(s.logger.Named("engine")),
	)
	s.eng.RegisterExecutor("local", executor.NewLocalExecutor(
		executor.WithLatencyRange(s.minLatency, s.maxLatency),
		executor.WithPassRate(s.passRate),
	))

	s.agg = leaderboard.New()

	s.guard = locking.New(s.store, s.store,
		locking.WithMaxRetries(s.lockRetries),
		locking.WithRetryInterval(s.lockInterval),
		locking.WithTxTimeout(s.txTimeout),
		locking.WithLogger(s.logger.Named("locking")),
	)

	s.sessions = session.New(s.eng, s.agg,
		session.WithMaxSessions(s.maxSessions),
		session.WithScoringInterval(s.scoringInterval),
		session.WithLogger(s.logger.Named("session")),
	)

	// Guard-committed team scores re-enter the realtime pipeline so JAM
	// events share the leaderboard and notification paths.
	mgr := s.sessions
	s.machine = progress.New(s.store, s.guard,
		progress.WithScoreSink(func(eventID, teamID, challengeID string, teamScore float64, at time.Time) {
			mgr.ApplyDirectScore(eventID, teamID, challengeID, teamScore, at)
		}),
		progress.WithLogger(s.logger.Named("progress")),
	)

	s.started = true
	s.logger.Info(ctx, "service started",
		logger.Int("maxConcurrency", s.maxConcurrency),
		logger.Int("maxSessions", s.maxSessions),
		logger.Bool("postgres", s.postgresDSN != ""),
	)
	return nil
}

// Stop shuts the components down in dependency order.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.sessions.Close()
	if err := s.eng.Shutdown(ctx); err != nil {
		s.logger.Warn(ctx, "engine shutdown", logger.Error(err))
	}
	if pg, ok := s.store.(*storage.PostgresStore); ok {
		pg.Close()
	}
	s.started = false
	s.logger.Info(ctx, "service stopped")
}

// --- session operations ---

// StartSession begins realtime scoring for an event.
func (s *Service) StartSession(ctx context.Context, event model.Event, problems []model.Problem, participants []model.Participant) error {
	mgr, err := s.sessionManager()
	if err != nil {
		return err
	}
	return mgr.StartSession(ctx, event, problems, participants)
}

// PauseSession suspends an event's scoring timer.
func (s *Service) PauseSession(eventID string) error {
	mgr, err := s.sessionManager()
	if err != nil {
		return err
	}
	return mgr.PauseSession(eventID)
}

// ResumeSession restarts a paused event's scoring timer.
func (s *Service) ResumeSession(eventID string) error {
	mgr, err := s.sessionManager()
	if err != nil {
		return err
	}
	return mgr.ResumeSession(eventID)
}

// StopSession ends realtime scoring for an event.
func (s *Service) StopSession(eventID string) error {
	mgr, err := s.sessionManager()
	if err != nil {
		return err
	}
	return mgr.StopSession(eventID)
}

// TriggerScoring runs an immediate full scoring sweep for an event.
func (s *Service) TriggerScoring(eventID string) error {
	mgr, err := s.sessionManager()
	if err != nil {
		return err
	}
	return mgr.TriggerScoring(eventID)
}

// TriggerParticipantScoring runs on-demand scoring for one participant.
func (s *Service) TriggerParticipantScoring(eventID, accountID string) error {
	mgr, err := s.sessionManager()
	if err != nil {
		return err
	}
	return mgr.TriggerParticipantScoring(eventID, accountID)
}

// OnScoreUpdate registers a score listener; the closure unsubscribes it.
func (s *Service) OnScoreUpdate(fn session.ScoreListener) (func(), error) {
	mgr, err := s.sessionManager()
	if err != nil {
		return nil, err
	}
	return mgr.OnScoreUpdate(fn), nil
}

// OnLeaderboardUpdate registers a leaderboard listener; the closure
// unsubscribes it.
func (s *Service) OnLeaderboardUpdate(fn session.LeaderboardListener) (func(), error) {
	mgr, err := s.sessionManager()
	if err != nil {
		return nil, err
	}
	return mgr.OnLeaderboardUpdate(fn), nil
}

// ScoreHistory returns the applied scoring results for one participant key.
func (s *Service) ScoreHistory(eventID, key string) ([]model.ScoringResult, error) {
	mgr, err := s.sessionManager()
	if err != nil {
		return nil, err
	}
	return mgr.ScoreHistory(eventID, key), nil
}

// --- leaderboard operations ---

// Leaderboard returns the current (possibly frozen) board for an event.
func (s *Service) Leaderboard(eventID string) (model.Leaderboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return model.Leaderboard{}, ErrNotStarted
	}
	return s.agg.Snapshot(eventID), nil
}

// LeaderboardEntry returns one participant's entry on an event's board.
func (s *Service) LeaderboardEntry(eventID, key string) (model.LeaderboardEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return model.LeaderboardEntry{}, false, ErrNotStarted
	}
	entry, ok := s.agg.Entry(eventID, key)
	return entry, ok, nil
}

// FreezeLeaderboard pins an event's board ordering manually.
func (s *Service) FreezeLeaderboard(eventID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	s.agg.Freeze(eventID)
	return nil
}

// UnfreezeLeaderboard releases the pin and resorts immediately.
func (s *Service) UnfreezeLeaderboard(eventID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	s.agg.Unfreeze(eventID)
	return nil
}

// ResetLeaderboard discards an event's board entirely.
func (s *Service) ResetLeaderboard(eventID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	s.agg.Reset(eventID)
	return nil
}

// IsFrozen reports whether an event's board is inside its freeze window.
func (s *Service) IsFrozen(eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return false, ErrNotStarted
	}
	return s.agg.IsFrozen(eventID), nil
}

// --- engine operations ---

// Job returns a snapshot of a scoring job by id.
func (s *Service) Job(id string) (model.ScoringJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return model.ScoringJob{}, false, ErrNotStarted
	}
	job, ok := s.eng.Job(id)
	return job, ok, nil
}

// EngineStats returns the engine's queue and worker counters.
func (s *Service) EngineStats() (engine.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return engine.Stats{}, ErrNotStarted
	}
	return s.eng.Stats(), nil
}

// --- challenge progression operations ---

// RegisterTeam enrolls a team into a challenge.
func (s *Service) RegisterTeam(ctx context.Context, challenge model.Challenge, teamID string) error {
	machine, err := s.progressMachine()
	if err != nil {
		return err
	}
	return machine.RegisterTeam(ctx, challenge, teamID)
}

// SubmitAnswer runs an answer through the guarded progression machine.
func (s *Service) SubmitAnswer(ctx context.Context, eventID string, challenge model.Challenge, teamID, taskID, submission string) (progress.AnswerOutcome, error) {
	machine, err := s.progressMachine()
	if err != nil {
		return progress.AnswerOutcome{}, err
	}
	return machine.SubmitAnswer(ctx, eventID, challenge, teamID, taskID, submission)
}

// RevealClue runs a clue request through the guarded progression machine.
func (s *Service) RevealClue(ctx context.Context, eventID string, challenge model.Challenge, teamID, taskID string, clueOrder int) (progress.RevealOutcome, error) {
	machine, err := s.progressMachine()
	if err != nil {
		return progress.RevealOutcome{}, err
	}
	return machine.RevealClue(ctx, eventID, challenge, teamID, taskID, clueOrder)
}

func (s *Service) sessionManager() (*session.Manager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.sessions, nil
}

func (s *Service) progressMachine() (*progress.Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.machine, nil
}
