// Package engine implements the scoring engine: a FIFO job queue drained by
// a bounded worker pool, with per-job timeout, fixed-delay retry and an
// in-process result pub/sub.
package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/gameday-live/arena/internal/domain/executor"
	"github.com/gameday-live/arena/internal/domain/model"
	"github.com/gameday-live/arena/pkg/logger"
	"github.com/gameday-live/arena/pkg/metrics"
)

// Default engine configuration constants.
const (
	defaultMaxConcurrency = 5
	defaultTimeout        = 2 * time.Minute
	defaultRetryAttempts  = 3
	defaultRetryDelay     = 5 * time.Second
)

// Subscriber receives every scoring result the engine produces.
type Subscriber func(model.ScoringResult)

// Stats is a point-in-time view of the engine, used for admission control.
type Stats struct {
	Queued    int
	Active    int
	Providers []string
}

// Engine runs scoring jobs against registered executors.
type Engine struct {
	mu        sync.Mutex
	pending   []*model.ScoringJob // FIFO
	jobs      map[string]*model.ScoringJob
	executors map[string]executor.Executor
	active    int
	closed    bool

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	subMu   sync.RWMutex
	subs    map[int]Subscriber
	nextSub int

	maxConcurrency int
	timeout        time.Duration
	retryAttempts  int
	retryDelay     time.Duration

	logger logger.Logger
}

// New creates an engine with configuration options. Executors are registered
// per provider name before sessions start enqueueing work.
func New(opts ...Option) *Engine {
	e := &Engine{
		jobs:           make(map[string]*model.ScoringJob),
		executors:      make(map[string]executor.Executor),
		subs:           make(map[int]Subscriber),
		maxConcurrency: defaultMaxConcurrency,
		timeout:        defaultTimeout,
		retryAttempts:  defaultRetryAttempts,
		retryDelay:     defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get().Named("engine")
	}
	e.sem = semaphore.NewWeighted(int64(e.maxConcurrency))
	return e
}

// RegisterExecutor binds an executor to a provider name.
func (e *Engine) RegisterExecutor(provider string, exec executor.Executor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executors[provider] = exec
}

// Enqueue appends a pending job for the request and triggers queue draining.
// Returns the job id.
func (e *Engine) Enqueue(ctx context.Context, req model.ScoringRequest) (string, error) {
	job := &model.ScoringJob{
		ID:      uuid.NewString(),
		Request: req,
		Status:  model.JobPending,
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrEngineClosed
	}
	e.pending = append(e.pending, job)
	e.jobs[job.ID] = job
	queued := len(e.pending)
	e.mu.Unlock()

	metrics.RecordJobEnqueued()
	metrics.UpdateJobsQueued(queued)
	e.logger.Debug(ctx, "job enqueued",
		logger.String("jobID", job.ID),
		logger.String("eventID", req.EventID),
		logger.String("problemID", req.ProblemID),
		logger.String("accountID", req.CompetitorAccountID),
	)

	e.drain()
	return job.ID, nil
}

// Job returns a snapshot of the job with the given id.
func (e *Engine) Job(id string) (model.ScoringJob, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job, ok := e.jobs[id]
	if !ok {
		return model.ScoringJob{}, false
	}
	return *job, true
}

// Stats reports queue depth, running jobs and registered providers.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	providers := make([]string, 0, len(e.executors))
	for name := range e.executors {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	return Stats{
		Queued:    len(e.pending),
		Active:    e.active,
		Providers: providers,
	}
}

// Subscribe registers a result subscriber and returns an unsubscribe closure.
func (e *Engine) Subscribe(fn Subscriber) func() {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

// Shutdown stops accepting work and waits for in-flight jobs to finish,
// bounded by ctx. Pending jobs that never started are dropped.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	dropped := len(e.pending)
	e.pending = nil
	e.mu.Unlock()

	if dropped > 0 {
		e.logger.Info(ctx, "dropping pending jobs on shutdown", logger.Int("dropped", dropped))
	}
	metrics.UpdateJobsQueued(0)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine shutdown timed out: %w", ctx.Err())
	}
}

// drain pulls jobs off the queue while worker slots are available. Dispatch
// is FIFO; completion order is not.
func (e *Engine) drain() {
	for {
		e.mu.Lock()
		if e.closed || len(e.pending) == 0 {
			e.mu.Unlock()
			return
		}
		if !e.sem.TryAcquire(1) {
			e.mu.Unlock()
			return
		}
		job := e.pending[0]
		e.pending = e.pending[1:]
		job.Status = model.JobRunning
		job.StartedAt = time.Now()
		e.active++
		queued, active := len(e.pending), e.active
		e.mu.Unlock()

		metrics.UpdateJobsQueued(queued)
		metrics.UpdateJobsActive(active)

		e.wg.Add(1)
		go e.run(job)
	}
}

// run executes a single job, applying the timeout race and retry policy.
func (e *Engine) run(job *model.ScoringJob) {
	ctx := context.Background()
	defer e.wg.Done()
	defer func() {
		e.sem.Release(1)
		e.mu.Lock()
		e.active--
		active := e.active
		e.mu.Unlock()
		metrics.UpdateJobsActive(active)
		e.drain()
	}()

	res, err := e.execute(ctx, job)
	if err == nil {
		e.complete(ctx, job, res)
		return
	}

	e.mu.Lock()
	retriable := job.RetryCount < e.retryAttempts && !e.closed
	e.mu.Unlock()

	if retriable {
		metrics.RecordJobRetry()
		e.logger.Warn(ctx, "scoring attempt failed, retrying",
			logger.String("jobID", job.ID),
			logger.Int("retryCount", job.RetryCount+1),
			logger.Error(err),
		)
		time.AfterFunc(e.retryDelay, func() { e.requeue(job) })
		return
	}

	e.mu.Lock()
	job.Status = model.JobFailed
	job.CompletedAt = time.Now()
	job.Err = err
	e.mu.Unlock()

	metrics.RecordJobFailed()
	e.logger.Error(ctx, "scoring job failed",
		logger.String("jobID", job.ID),
		logger.String("eventID", job.Request.EventID),
		logger.String("problemID", job.Request.ProblemID),
		logger.Error(err),
	)
}

// execute races one executor call against the engine timeout. In-flight
// calls are not cancelled on timeout, only abandoned; the timeout converts a
// hang into a retriable failure.
func (e *Engine) execute(ctx context.Context, job *model.ScoringJob) (executor.Result, error) {
	e.mu.Lock()
	exec, ok := e.executors[job.Request.Problem.Provider]
	e.mu.Unlock()
	if !ok {
		return executor.Result{}, fmt.Errorf("%w: %s", ErrNoExecutor, job.Request.Problem.Provider)
	}

	type outcome struct {
		res executor.Result
		err error
	}
	ch := make(chan outcome, 1)
	start := time.Now()
	go func() {
		res, err := exec.Execute(ctx, job.Request.Problem, job.Request.Credentials, job.Request.CompetitorAccountID)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case out := <-ch:
		metrics.RecordExecutionDuration(time.Since(start).Seconds())
		return out.res, out.err
	case <-time.After(e.timeout):
		metrics.RecordJobTimeout()
		return executor.Result{}, fmt.Errorf("%w after %s", ErrExecutionTimeout, e.timeout)
	}
}

// requeue puts a failed-but-retriable job back on the queue.
func (e *Engine) requeue(job *model.ScoringJob) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	job.Status = model.JobPending
	job.RetryCount++
	e.pending = append(e.pending, job)
	queued := len(e.pending)
	e.mu.Unlock()

	metrics.UpdateJobsQueued(queued)
	e.drain()
}

// complete maps the executor result to a ScoringResult and broadcasts it.
func (e *Engine) complete(ctx context.Context, job *model.ScoringJob, res executor.Result) {
	criteria := make([]model.CriterionResult, len(res.Criteria))
	for i, c := range res.Criteria {
		criteria[i] = model.CriterionResult{
			Name:      c.Name,
			Points:    c.Points,
			MaxPoints: c.MaxPoints,
			Passed:    c.Passed,
			Feedback:  c.Feedback,
		}
	}

	result := model.ScoringResult{
		EventID:             job.Request.EventID,
		ProblemID:           job.Request.ProblemID,
		CompetitorAccountID: job.Request.CompetitorAccountID,
		TeamID:              job.Request.TeamID,
		Criteria:            criteria,
		TotalScore:          res.TotalScore,
		MaxTotalScore:       res.MaxPossibleScore,
		Percentage:          percentage(res.TotalScore, res.MaxPossibleScore),
		ScoredAt:            time.Now(),
	}

	e.mu.Lock()
	job.Status = model.JobCompleted
	job.CompletedAt = result.ScoredAt
	job.Result = &result
	e.mu.Unlock()

	metrics.RecordJobCompleted()
	e.logger.Debug(ctx, "scoring job completed",
		logger.String("jobID", job.ID),
		logger.Float64("totalScore", result.TotalScore),
		logger.Int("percentage", result.Percentage),
	)

	e.broadcast(ctx, result)
}

// broadcast delivers the result to every subscriber, isolating panics so one
// bad subscriber cannot block the others.
func (e *Engine) broadcast(ctx context.Context, result model.ScoringResult) {
	e.subMu.RLock()
	subs := make([]Subscriber, 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.subMu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					metrics.RecordListenerPanic()
					e.logger.Error(ctx, "result subscriber panicked", logger.Any("panic", r))
				}
			}()
			fn(result)
		}()
	}
}

// percentage rounds total/max to a whole percent, 0 when max is 0.
func percentage(total, maxTotal float64) int {
	if maxTotal == 0 {
		return 0
	}
	return int(math.Round(total / maxTotal * 100))
}
