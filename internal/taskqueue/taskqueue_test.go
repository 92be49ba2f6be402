package taskqueue_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/echonote/engine/internal/errs"
	"github.com/echonote/engine/internal/events"
	"github.com/echonote/engine/internal/taskqueue"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestAddBeforeStartIsBufferedAndFlushed(t *testing.T) {
	t.Parallel()
	q := taskqueue.New(taskqueue.Options{MaxConcurrent: 2})

	var ran atomic.Bool
	q.Add("t1", func(ctx context.Context, token *taskqueue.CancellationToken) error {
		ran.Store(true)
		return nil
	})
	time.Sleep(20 * time.Millisecond)
	if ran.Load() {
		t.Fatal("task must not run before Start")
	}

	q.Start()
	defer q.Stop(context.Background())
	waitFor(t, time.Second, ran.Load)
}

func TestBoundedConcurrency(t *testing.T) {
	t.Parallel()
	q := taskqueue.New(taskqueue.Options{MaxConcurrent: 2})
	q.Start()
	defer q.Stop(context.Background())

	var concurrent atomic.Int32
	var maxSeen atomic.Int32
	release := make(chan struct{})

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		q.Add(id, func(ctx context.Context, token *taskqueue.CancellationToken) error {
			n := concurrent.Add(1)
			for {
				cur := maxSeen.Load()
				if n <= cur || maxSeen.CompareAndSwap(cur, n) {
					break
				}
			}
			<-release
			concurrent.Add(-1)
			return nil
		})
	}

	waitFor(t, time.Second, func() bool { return concurrent.Load() == 2 })
	close(release)
	if maxSeen.Load() > 2 {
		t.Errorf("observed concurrency %d exceeds max_concurrent=2", maxSeen.Load())
	}
}

func TestCancelSignalsTokenAndReportsReachability(t *testing.T) {
	t.Parallel()
	q := taskqueue.New(taskqueue.Options{MaxConcurrent: 1})
	q.Start()
	defer q.Stop(context.Background())

	started := make(chan struct{})
	cancelled := make(chan struct{})
	q.Add("t1", func(ctx context.Context, token *taskqueue.CancellationToken) error {
		close(started)
		<-token.Done()
		close(cancelled)
		return taskqueue.ErrCancelled
	})

	<-started
	if ok := q.Cancel("t1"); !ok {
		t.Fatal("expected task to be reachable")
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("token was never observed as cancelled")
	}

	if ok := q.Cancel("unknown-id"); ok {
		t.Error("expected cancel of unknown id to report unreachable")
	}
}

func TestPauseGatesAdmissionInFlightContinues(t *testing.T) {
	t.Parallel()
	bus := events.New()
	pausedCh, unsubP := bus.Subscribe(events.ProcessingPaused)
	defer unsubP()
	resumedCh, unsubR := bus.Subscribe(events.ProcessingResumed)
	defer unsubR()

	q := taskqueue.New(taskqueue.Options{MaxConcurrent: 1, Bus: bus})
	q.Start()
	defer q.Stop(context.Background())

	inFlight := make(chan struct{})
	release := make(chan struct{})
	q.Add("running", func(ctx context.Context, token *taskqueue.CancellationToken) error {
		close(inFlight)
		<-release
		return nil
	})
	<-inFlight

	q.Pause()
	select {
	case <-pausedCh:
	case <-time.After(time.Second):
		t.Fatal("expected processing_paused event")
	}

	var secondRan atomic.Bool
	q.Add("gated", func(ctx context.Context, token *taskqueue.CancellationToken) error {
		secondRan.Store(true)
		return nil
	})

	close(release)
	time.Sleep(50 * time.Millisecond)
	if secondRan.Load() {
		t.Fatal("paused queue must not admit new work")
	}

	q.Resume()
	select {
	case <-resumedCh:
	case <-time.After(time.Second):
		t.Fatal("expected processing_resumed event")
	}
	waitFor(t, time.Second, secondRan.Load)
}

func TestTransientFailureRetriesUpToMaxRetries(t *testing.T) {
	t.Parallel()
	q := taskqueue.New(taskqueue.Options{MaxConcurrent: 1, MaxRetries: 2, RetryDelay: 10 * time.Millisecond})
	q.Start()
	defer q.Stop(context.Background())

	var attempts atomic.Int32
	done := make(chan struct{})
	q.Add("flaky", func(ctx context.Context, token *taskqueue.CancellationToken) error {
		n := attempts.Add(1)
		if n <= 2 {
			return errs.Transientf("simulated transient failure")
		}
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not eventually succeed, attempts=%d", attempts.Load())
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", attempts.Load())
	}
}

func TestNonTransientFailureDoesNotRetry(t *testing.T) {
	t.Parallel()
	q := taskqueue.New(taskqueue.Options{MaxConcurrent: 1, MaxRetries: 5, RetryDelay: 5 * time.Millisecond})
	q.Start()
	defer q.Stop(context.Background())

	var attempts atomic.Int32
	q.Add("broken", func(ctx context.Context, token *taskqueue.CancellationToken) error {
		attempts.Add(1)
		return errs.Validationf("not retryable")
	})

	time.Sleep(100 * time.Millisecond)
	if attempts.Load() != 1 {
		t.Errorf("expected exactly 1 attempt for a non-transient failure, got %d", attempts.Load())
	}
}

func TestUpdateMaxConcurrentValidatesRange(t *testing.T) {
	t.Parallel()
	q := taskqueue.New(taskqueue.Options{MaxConcurrent: 2})
	if err := q.UpdateMaxConcurrent(0); !errs.Is(err, errs.Validation) {
		t.Errorf("expected ValidationError for 0, got %v", err)
	}
	if err := q.UpdateMaxConcurrent(6); !errs.Is(err, errs.Validation) {
		t.Errorf("expected ValidationError for 6, got %v", err)
	}
	if err := q.UpdateMaxConcurrent(5); err != nil {
		t.Errorf("expected 5 to be accepted, got %v", err)
	}
	if got := q.MaxConcurrent(); got != 5 {
		t.Errorf("MaxConcurrent: got %d, want 5", got)
	}
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	t.Parallel()
	q := taskqueue.New(taskqueue.Options{MaxConcurrent: 1})
	q.Start()
	q.Start()
	if !q.Running() {
		t.Fatal("expected queue to be running")
	}
	ctx := context.Background()
	q.Stop(ctx)
	q.Stop(ctx)
	if q.Running() {
		t.Fatal("expected queue to be stopped")
	}
}

func TestStopCancelsInFlightTasks(t *testing.T) {
	t.Parallel()
	q := taskqueue.New(taskqueue.Options{MaxConcurrent: 1})
	q.Start()

	started := make(chan struct{})
	observedCancel := make(chan struct{})
	q.Add("long-running", func(ctx context.Context, token *taskqueue.CancellationToken) error {
		close(started)
		<-token.Done()
		close(observedCancel)
		return taskqueue.ErrCancelled
	})
	<-started

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Stop(stopCtx)

	select {
	case <-observedCancel:
	default:
		t.Error("expected in-flight task's token to be cancelled by Stop")
	}
}
