package executor

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/gameday-live/arena/internal/domain/model"
)

// Default local executor configuration constants.
const (
	defaultMinLatency = 50 * time.Millisecond
	defaultMaxLatency = 200 * time.Millisecond
	defaultPassRate   = 0.7
	defaultSeed       = 42
)

// Option applies a configuration option to the LocalExecutor.
type Option func(*LocalExecutor)

// WithLatencyRange sets the simulated grading latency range.
func WithLatencyRange(minLatency, maxLatency time.Duration) Option {
	return func(e *LocalExecutor) {
		if minLatency > 0 && maxLatency > minLatency {
			e.minLatency = minLatency
			e.maxLatency = maxLatency
		}
	}
}

// WithPassRate sets the per-criterion pass probability, in [0,1].
func WithPassRate(rate float64) Option {
	return func(e *LocalExecutor) {
		if rate >= 0 && rate <= 1 {
			e.passRate = rate
		}
	}
}

// WithSeed sets the rng seed so runs are reproducible.
func WithSeed(seed int64) Option {
	return func(e *LocalExecutor) {
		e.seed = seed
	}
}

// LocalExecutor is a simulated grader for local and development mode. Each
// criterion passes or fails deterministically for a given
// (seed, account, criterion) tuple, with simulated grading latency.
type LocalExecutor struct {
	minLatency time.Duration
	maxLatency time.Duration
	passRate   float64
	seed       int64
}

// NewLocalExecutor creates a simulated executor with configuration options.
func NewLocalExecutor(opts ...Option) *LocalExecutor {
	e := &LocalExecutor{
		minLatency: defaultMinLatency,
		maxLatency: defaultMaxLatency,
		passRate:   defaultPassRate,
		seed:       defaultSeed,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute grades every criterion of the problem.
func (e *LocalExecutor) Execute(ctx context.Context, problem model.Problem, _ model.Credentials, accountID string) (Result, error) {
	start := time.Now()

	rng := rand.New(rand.NewSource(e.seed ^ int64(hashKey(accountID, problem.ID)))) //nolint:gosec // simulated grading, not security-sensitive

	latency := e.minLatency
	if e.maxLatency > e.minLatency {
		latency += time.Duration(rng.Int63n(int64(e.maxLatency - e.minLatency)))
	}
	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("grading cancelled: %w", ctx.Err())
	case <-time.After(latency):
	}

	res := Result{Criteria: make([]CriterionOutcome, 0, len(problem.Criteria))}
	for _, c := range problem.Criteria {
		passed := rng.Float64() < e.passRate
		outcome := CriterionOutcome{
			Name:      c.Name,
			MaxPoints: c.MaxPoints,
			Passed:    passed,
		}
		if passed {
			outcome.Points = c.MaxPoints * c.Weight
			outcome.Feedback = fmt.Sprintf("%s: requirements met", c.Name)
		} else {
			outcome.Feedback = fmt.Sprintf("%s: requirements not met", c.Name)
		}
		res.TotalScore += outcome.Points
		res.MaxPossibleScore += c.MaxPoints * c.Weight
		res.Criteria = append(res.Criteria, outcome)
	}
	res.Duration = time.Since(start)
	return res, nil
}

func hashKey(accountID, problemID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(accountID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(problemID))
	return h.Sum32()
}
