package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gameday-live/arena/internal/domain/executor"
	"github.com/gameday-live/arena/internal/domain/model"
	"github.com/gameday-live/arena/pkg/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	m.Run()
}

// stubExecutor delegates to a closure.
type stubExecutor struct {
	fn func(ctx context.Context, problem model.Problem, creds model.Credentials, accountID string) (executor.Result, error)
}

func (s *stubExecutor) Execute(ctx context.Context, problem model.Problem, creds model.Credentials, accountID string) (executor.Result, error) {
	return s.fn(ctx, problem, creds, accountID)
}

func request(account string) model.ScoringRequest {
	return model.ScoringRequest{
		EventID:             "event-1",
		ProblemID:           "problem-1",
		CompetitorAccountID: account,
		TeamID:              "team-" + account,
		Problem: model.Problem{
			ID:       "problem-1",
			Provider: "local",
			Criteria: []model.Criterion{{Name: "check", Weight: 1, MaxPoints: 100}},
		},
	}
}

func fixedResult(total, maxTotal float64) executor.Result {
	return executor.Result{
		TotalScore:       total,
		MaxPossibleScore: maxTotal,
		Criteria: []executor.CriterionOutcome{
			{Name: "check", Points: total, MaxPoints: maxTotal, Passed: total > 0},
		},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestEngine_ConcurrencyBound(t *testing.T) {
	var running, peak int32
	release := make(chan struct{})

	e := New(WithMaxConcurrency(2), WithRetryAttempts(0))
	e.RegisterExecutor("local", &stubExecutor{fn: func(context.Context, model.Problem, model.Credentials, string) (executor.Result, error) {
		cur := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		<-release
		atomic.AddInt32(&running, -1)
		return fixedResult(100, 100), nil
	}})

	ctx := context.Background()
	for _, acct := range []string{"a", "b", "c"} {
		if _, err := e.Enqueue(ctx, request(acct)); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	// Exactly two may run; the third waits for a slot.
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&running) == 2 })
	if s := e.Stats(); s.Queued != 1 || s.Active != 2 {
		t.Fatalf("stats = %+v, want 1 queued / 2 active", s)
	}

	release <- struct{}{}
	waitFor(t, time.Second, func() bool { return e.Stats().Queued == 0 })
	if p := atomic.LoadInt32(&peak); p != 2 {
		t.Fatalf("peak concurrency = %d, want 2", p)
	}

	close(release)
	waitFor(t, time.Second, func() bool { return e.Stats().Active == 0 })
}

func TestEngine_RetryThenSuccess(t *testing.T) {
	var calls int32
	e := New(
		WithMaxConcurrency(1),
		WithRetryAttempts(3),
		WithRetryDelay(5*time.Millisecond),
	)
	e.RegisterExecutor("local", &stubExecutor{fn: func(context.Context, model.Problem, model.Credentials, string) (executor.Result, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return executor.Result{}, errors.New("grader flaked")
		}
		return fixedResult(80, 100), nil
	}})

	var mu sync.Mutex
	var results []model.ScoringResult
	e.Subscribe(func(r model.ScoringResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})

	id, err := e.Enqueue(context.Background(), request("a"))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		job, ok := e.Job(id)
		return ok && job.Status == model.JobCompleted
	})

	job, _ := e.Job(id)
	if job.RetryCount != 2 {
		t.Errorf("retryCount = %d, want 2", job.RetryCount)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(results) != 1 {
		t.Fatalf("got %d results, want exactly 1", len(results))
	}
	if results[0].TotalScore != 80 || results[0].Percentage != 80 {
		t.Errorf("result = %+v, want total 80 / 80%%", results[0])
	}
}

func TestEngine_RetryExhaustionMarksFailed(t *testing.T) {
	e := New(
		WithMaxConcurrency(1),
		WithRetryAttempts(2),
		WithRetryDelay(5*time.Millisecond),
	)
	e.RegisterExecutor("local", &stubExecutor{fn: func(context.Context, model.Problem, model.Credentials, string) (executor.Result, error) {
		return executor.Result{}, errors.New("grader down")
	}})

	var delivered int32
	e.Subscribe(func(model.ScoringResult) { atomic.AddInt32(&delivered, 1) })

	id, err := e.Enqueue(context.Background(), request("a"))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		job, ok := e.Job(id)
		return ok && job.Status == model.JobFailed
	})

	job, _ := e.Job(id)
	if job.RetryCount != 2 {
		t.Errorf("retryCount = %d, want 2", job.RetryCount)
	}
	if job.Err == nil {
		t.Error("failed job must carry its error")
	}
	if n := atomic.LoadInt32(&delivered); n != 0 {
		t.Errorf("failed job produced %d results, want 0", n)
	}
}

func TestEngine_TimeoutIsRetriable(t *testing.T) {
	var calls int32
	hang := make(chan struct{})
	defer close(hang)

	e := New(
		WithMaxConcurrency(1),
		WithTimeout(20*time.Millisecond),
		WithRetryAttempts(1),
		WithRetryDelay(5*time.Millisecond),
	)
	e.RegisterExecutor("local", &stubExecutor{fn: func(context.Context, model.Problem, model.Credentials, string) (executor.Result, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-hang // first attempt hangs past the timeout
			return executor.Result{}, errors.New("abandoned")
		}
		return fixedResult(50, 100), nil
	}})

	id, err := e.Enqueue(context.Background(), request("a"))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		job, ok := e.Job(id)
		return ok && job.Status == model.JobCompleted
	})
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("executor called %d times, want 2", got)
	}
}

func TestEngine_UnknownProviderFails(t *testing.T) {
	e := New(WithMaxConcurrency(1), WithRetryAttempts(0))

	id, err := e.Enqueue(context.Background(), request("a"))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		job, ok := e.Job(id)
		return ok && job.Status == model.JobFailed
	})
	job, _ := e.Job(id)
	if !errors.Is(job.Err, ErrNoExecutor) {
		t.Errorf("err = %v, want ErrNoExecutor", job.Err)
	}
}

func TestEngine_ZeroMaxScorePercentage(t *testing.T) {
	e := New(WithMaxConcurrency(1), WithRetryAttempts(0))
	e.RegisterExecutor("local", &stubExecutor{fn: func(context.Context, model.Problem, model.Credentials, string) (executor.Result, error) {
		return executor.Result{}, nil
	}})

	done := make(chan model.ScoringResult, 1)
	e.Subscribe(func(r model.ScoringResult) { done <- r })

	if _, err := e.Enqueue(context.Background(), request("a")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	select {
	case r := <-done:
		if r.Percentage != 0 {
			t.Errorf("percentage = %d, want 0 when max score is 0", r.Percentage)
		}
	case <-time.After(time.Second):
		t.Fatal("no result delivered")
	}
}

func TestEngine_SubscriberPanicIsolated(t *testing.T) {
	e := New(WithMaxConcurrency(1), WithRetryAttempts(0))
	e.RegisterExecutor("local", &stubExecutor{fn: func(context.Context, model.Problem, model.Credentials, string) (executor.Result, error) {
		return fixedResult(10, 10), nil
	}})

	e.Subscribe(func(model.ScoringResult) { panic("bad subscriber") })
	got := make(chan model.ScoringResult, 1)
	e.Subscribe(func(r model.ScoringResult) { got <- r })

	if _, err := e.Enqueue(context.Background(), request("a")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("second subscriber starved by panicking one")
	}
}

func TestEngine_UnsubscribeStopsDelivery(t *testing.T) {
	e := New(WithMaxConcurrency(1), WithRetryAttempts(0))
	e.RegisterExecutor("local", &stubExecutor{fn: func(context.Context, model.Problem, model.Credentials, string) (executor.Result, error) {
		return fixedResult(10, 10), nil
	}})

	var count int32
	unsubscribe := e.Subscribe(func(model.ScoringResult) { atomic.AddInt32(&count, 1) })

	if _, err := e.Enqueue(context.Background(), request("a")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&count) == 1 })

	unsubscribe()
	if _, err := e.Enqueue(context.Background(), request("b")); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return e.Stats().Active == 0 && e.Stats().Queued == 0 })
	time.Sleep(20 * time.Millisecond)
	if n := atomic.LoadInt32(&count); n != 1 {
		t.Errorf("delivered %d results after unsubscribe, want 1", n)
	}
}

func TestEngine_ShutdownRejectsEnqueue(t *testing.T) {
	e := New(WithMaxConcurrency(1))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if _, err := e.Enqueue(context.Background(), request("a")); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("err = %v, want ErrEngineClosed", err)
	}
}
