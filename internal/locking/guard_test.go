package locking_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gameday-live/arena/internal/adapters/storage"
	"github.com/gameday-live/arena/internal/locking"
	"github.com/gameday-live/arena/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logger.Init()
	m.Run()
}

// flakyFlags reports contention for the first n attempts, then delegates.
type flakyFlags struct {
	storage.LockStore
	denials  int32
	attempts int32
	releases int32
}

func (f *flakyFlags) TryAcquire(ctx context.Context, teamID, challengeID string) (bool, error) {
	if atomic.AddInt32(&f.attempts, 1) <= atomic.LoadInt32(&f.denials) {
		return false, nil
	}
	return f.LockStore.TryAcquire(ctx, teamID, challengeID)
}

func (f *flakyFlags) Release(ctx context.Context, teamID, challengeID string) error {
	atomic.AddInt32(&f.releases, 1)
	return f.LockStore.Release(ctx, teamID, challengeID)
}

func TestGuard_AcquireRetries(t *testing.T) {
	Convey("Given a guard with 3 attempts over flaky flags", t, func() {
		flags := &flakyFlags{LockStore: storage.NewMemoryStore(), denials: 2}
		guard := locking.New(flags, storage.NewMemoryStore(),
			locking.WithMaxRetries(3),
			locking.WithRetryInterval(time.Millisecond),
		)

		Convey("When contention clears on the third attempt", func() {
			var ran int32
			err := guard.WithLock(context.Background(), "team-1", "challenge-1", func(context.Context) error {
				atomic.AddInt32(&ran, 1)
				return nil
			})

			Convey("Then the overall result is success and op ran exactly once", func() {
				So(err, ShouldBeNil)
				So(atomic.LoadInt32(&ran), ShouldEqual, 1)
				So(atomic.LoadInt32(&flags.attempts), ShouldEqual, 3)
			})
		})

		Convey("When contention never clears", func() {
			atomic.StoreInt32(&flags.denials, 100)
			err := guard.Acquire(context.Background(), "team-1", "challenge-1")

			Convey("Then retries are exhausted with an explicit failure", func() {
				So(errors.Is(err, locking.ErrRetriesExceeded), ShouldBeTrue)
				So(atomic.LoadInt32(&flags.attempts), ShouldEqual, 3)
			})
		})
	})
}

func TestGuard_WithLockReleasesOnEveryExit(t *testing.T) {
	Convey("Given a guard over counting flags", t, func() {
		flags := &flakyFlags{LockStore: storage.NewMemoryStore()}
		guard := locking.New(flags, storage.NewMemoryStore(),
			locking.WithRetryInterval(time.Millisecond),
		)
		ctx := context.Background()

		Convey("A successful op releases once", func() {
			err := guard.WithLock(ctx, "team-1", "challenge-1", func(context.Context) error { return nil })
			So(err, ShouldBeNil)
			So(atomic.LoadInt32(&flags.releases), ShouldEqual, 1)
		})

		Convey("A failing op still releases, and the error surfaces", func() {
			boom := errors.New("boom")
			err := guard.WithLock(ctx, "team-1", "challenge-1", func(context.Context) error { return boom })
			So(errors.Is(err, boom), ShouldBeTrue)
			So(atomic.LoadInt32(&flags.releases), ShouldEqual, 1)

			ok, _ := flags.LockStore.TryAcquire(ctx, "team-1", "challenge-1")
			So(ok, ShouldBeTrue) // lock is free again
		})

		Convey("A panicking op releases before the panic propagates", func() {
			So(func() {
				_ = guard.WithLock(ctx, "team-1", "challenge-1", func(context.Context) error { panic("op blew up") })
			}, ShouldPanic)
			So(atomic.LoadInt32(&flags.releases), ShouldEqual, 1)
		})
	})
}

func TestGuard_MutualExclusion(t *testing.T) {
	store := storage.NewMemoryStore()
	guard := locking.New(store, store,
		locking.WithMaxRetries(200),
		locking.WithRetryInterval(time.Millisecond),
	)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := guard.WithLock(context.Background(), "team-1", "challenge-1", func(context.Context) error {
				cur := atomic.AddInt32(&inside, 1)
				for {
					prev := atomic.LoadInt32(&maxInside)
					if cur <= prev || atomic.CompareAndSwapInt32(&maxInside, prev, cur) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&maxInside) != 1 {
		t.Fatalf("critical section held by %d goroutines at once, want 1", maxInside)
	}
}

func TestGuard_SerializableTransaction(t *testing.T) {
	Convey("Given a guard over a memory store", t, func() {
		store := storage.NewMemoryStore()
		guard := locking.New(store, store)

		Convey("Transaction aborts propagate to the caller", func() {
			boom := errors.New("conflict")
			err := guard.WithSerializableTransaction(context.Background(), func(context.Context) error { return boom })
			So(errors.Is(err, storage.ErrTxAborted), ShouldBeTrue)
			So(errors.Is(err, boom), ShouldBeTrue)
		})

		Convey("Successful transactions pass through", func() {
			err := guard.WithSerializableTransaction(context.Background(), func(context.Context) error { return nil })
			So(err, ShouldBeNil)
		})
	})
}
