// Package metrics provides Prometheus instrumentation for the scoring core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every metric exported by the service.
type Manager struct {
	namespace string
	subsystem string
	buckets   []float64
	registry  prometheus.Registerer

	// Scoring engine
	jobsEnqueued      prometheus.Counter
	jobsCompleted     prometheus.Counter
	jobsFailed        prometheus.Counter
	jobRetries        prometheus.Counter
	jobTimeouts       prometheus.Counter
	jobsQueued        prometheus.Gauge
	jobsActive        prometheus.Gauge
	executionDuration prometheus.Histogram

	// Leaderboard
	leaderboardUpdates prometheus.Counter
	leaderboardResorts prometheus.Counter
	leaderboardEntries *prometheus.GaugeVec

	// Concurrency guard
	lockAcquired   prometheus.Counter
	lockContention prometheus.Counter
	lockExhausted  prometheus.Counter
	txFailures     prometheus.Counter
	lockWait       prometheus.Histogram

	// Sessions and listeners
	sessionsActive prometheus.Gauge
	sessionTicks   prometheus.Counter
	listenerPanics prometheus.Counter

	// Answer/clue path
	answersSubmitted prometheus.Counter
	answersCorrect   prometheus.Counter
	answersRejected  prometheus.Counter
	cluesRevealed    prometheus.Counter
}

// defaultManager backs the package-level helpers.
var defaultManager *Manager

func init() { //nolint:gochecknoinits // global metrics registration mirrors process lifetime
	defaultManager = NewManager()
}

// NewManager builds a Manager and registers its metrics.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "arena",
		subsystem: "scoring",
		buckets:   prometheus.DefBuckets,
		registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initialize()
	return m
}

func (m *Manager) initialize() {
	factory := promauto.With(m.registry)

	m.jobsEnqueued = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "jobs_enqueued_total", Help: "Scoring jobs accepted onto the queue.",
	})
	m.jobsCompleted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "jobs_completed_total", Help: "Scoring jobs that produced a result.",
	})
	m.jobsFailed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "jobs_failed_total", Help: "Scoring jobs that exhausted their retries.",
	})
	m.jobRetries = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "job_retries_total", Help: "Scoring job retry attempts.",
	})
	m.jobTimeouts = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "job_timeouts_total", Help: "Executor calls abandoned after the timeout.",
	})
	m.jobsQueued = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "jobs_queued", Help: "Jobs waiting for a worker slot.",
	})
	m.jobsActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "jobs_active", Help: "Jobs currently executing.",
	})
	m.executionDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "execution_duration_seconds", Help: "Executor call duration.",
		Buckets: m.buckets,
	})

	m.leaderboardUpdates = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "leaderboard",
		Name: "updates_total", Help: "Score updates applied to a leaderboard.",
	})
	m.leaderboardResorts = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "leaderboard",
		Name: "resorts_total", Help: "Full rank recomputes.",
	})
	m.leaderboardEntries = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "leaderboard",
		Name: "entries", Help: "Entries tracked per event.",
	}, []string{"event_id"})

	m.lockAcquired = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "locking",
		Name: "acquired_total", Help: "Successful lock acquisitions.",
	})
	m.lockContention = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "locking",
		Name: "contention_total", Help: "Conditional updates that affected zero rows.",
	})
	m.lockExhausted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "locking",
		Name: "retries_exhausted_total", Help: "Acquire attempts that gave up.",
	})
	m.txFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "locking",
		Name: "tx_failures_total", Help: "Serializable transactions that aborted.",
	})
	m.lockWait = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "locking",
		Name: "acquire_wait_seconds", Help: "Time spent acquiring a lock.",
		Buckets: m.buckets,
	})

	m.sessionsActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: "session",
		Name: "active", Help: "Live scoring sessions.",
	})
	m.sessionTicks = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "session",
		Name: "ticks_total", Help: "Scheduler ticks that enqueued scoring work.",
	})
	m.listenerPanics = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "session",
		Name: "listener_panics_total", Help: "Listener callbacks recovered from panic.",
	})

	m.answersSubmitted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "progress",
		Name: "answers_submitted_total", Help: "Answer submissions processed.",
	})
	m.answersCorrect = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "progress",
		Name: "answers_correct_total", Help: "Answer submissions judged correct.",
	})
	m.answersRejected = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "progress",
		Name: "answers_rejected_total", Help: "Submissions rejected by preconditions.",
	})
	m.cluesRevealed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "progress",
		Name: "clues_revealed_total", Help: "Clues revealed with penalty charged.",
	})
}

// Package-level helpers, tolerant of an unset manager so unit tests stay quiet.

func RecordJobEnqueued() {
	if defaultManager != nil {
		defaultManager.jobsEnqueued.Inc()
	}
}

func RecordJobCompleted() {
	if defaultManager != nil {
		defaultManager.jobsCompleted.Inc()
	}
}

func RecordJobFailed() {
	if defaultManager != nil {
		defaultManager.jobsFailed.Inc()
	}
}

func RecordJobRetry() {
	if defaultManager != nil {
		defaultManager.jobRetries.Inc()
	}
}

func RecordJobTimeout() {
	if defaultManager != nil {
		defaultManager.jobTimeouts.Inc()
	}
}

func UpdateJobsQueued(n int) {
	if defaultManager != nil {
		defaultManager.jobsQueued.Set(float64(n))
	}
}

func UpdateJobsActive(n int) {
	if defaultManager != nil {
		defaultManager.jobsActive.Set(float64(n))
	}
}

func RecordExecutionDuration(seconds float64) {
	if defaultManager != nil {
		defaultManager.executionDuration.Observe(seconds)
	}
}

func RecordLeaderboardUpdate() {
	if defaultManager != nil {
		defaultManager.leaderboardUpdates.Inc()
	}
}

func RecordLeaderboardResort() {
	if defaultManager != nil {
		defaultManager.leaderboardResorts.Inc()
	}
}

func UpdateLeaderboardEntries(eventID string, n int) {
	if defaultManager != nil {
		defaultManager.leaderboardEntries.WithLabelValues(eventID).Set(float64(n))
	}
}

func RecordLockAcquired() {
	if defaultManager != nil {
		defaultManager.lockAcquired.Inc()
	}
}

func RecordLockContention() {
	if defaultManager != nil {
		defaultManager.lockContention.Inc()
	}
}

func RecordLockExhausted() {
	if defaultManager != nil {
		defaultManager.lockExhausted.Inc()
	}
}

func RecordTxFailure() {
	if defaultManager != nil {
		defaultManager.txFailures.Inc()
	}
}

func RecordLockWait(seconds float64) {
	if defaultManager != nil {
		defaultManager.lockWait.Observe(seconds)
	}
}

func UpdateSessionsActive(n int) {
	if defaultManager != nil {
		defaultManager.sessionsActive.Set(float64(n))
	}
}

func RecordSessionTick() {
	if defaultManager != nil {
		defaultManager.sessionTicks.Inc()
	}
}

func RecordListenerPanic() {
	if defaultManager != nil {
		defaultManager.listenerPanics.Inc()
	}
}

func RecordAnswerSubmitted() {
	if defaultManager != nil {
		defaultManager.answersSubmitted.Inc()
	}
}

func RecordAnswerCorrect() {
	if defaultManager != nil {
		defaultManager.answersCorrect.Inc()
	}
}

func RecordAnswerRejected() {
	if defaultManager != nil {
		defaultManager.answersRejected.Inc()
	}
}

func RecordClueRevealed() {
	if defaultManager != nil {
		defaultManager.cluesRevealed.Inc()
	}
}
