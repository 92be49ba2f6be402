// Package taskqueue implements the Task Queue: a bounded-concurrency worker
// pool with cooperative cancellation, pause/resume admission gating, and a
// transient-failure retry loop. Grounded on ManuGH-xg2g's session
// orchestrator (internal/domain/session/manager/orchestrator.go) — the same
// counting-semaphore-plus-active-registry shape driving a goroutine per
// admitted unit of work — generalized with a sync.Cond in place of the
// teacher's fixed-capacity channel semaphore, since update_max_concurrent
// must be able to resize admission at runtime, which a channel cannot do.
package taskqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/echonote/engine/internal/errs"
	"github.com/echonote/engine/internal/events"
)

// MinConcurrent and MaxConcurrent bound update_max_concurrent per spec §4.5.
const (
	MinConcurrent = 1
	MaxConcurrent = 5
)

// ErrCancelled is the sentinel a TaskFunc returns once it observes a set
// CancellationToken at one of its suspension points.
var ErrCancelled = errors.New("taskqueue: task cancelled")

// TaskFunc is the work a queued task performs.
type TaskFunc func(ctx context.Context, token *CancellationToken) error

type taskEntry struct {
	id       string
	fn       TaskFunc
	token    *CancellationToken
	attempts int
}

// Options configures a new Queue.
type Options struct {
	MaxConcurrent int
	MaxRetries    int
	RetryDelay    time.Duration
	// Bus, if set, receives processing_paused/processing_resumed
	// notifications. Task-lifecycle events (task_added, task_completed, …)
	// are the domain owner's responsibility, since the queue itself knows
	// nothing about task metadata.
	Bus *events.Bus
}

// Queue is a bounded-concurrency worker pool.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	running  bool
	paused   bool
	stopping bool

	maxConcurrent int
	active        int

	buffered []*taskEntry // add()'d before start(); flushed into pending on start()
	pending  []*taskEntry // FIFO admission queue
	tasks    map[string]*taskEntry

	maxRetries int
	retryDelay time.Duration

	bus *events.Bus

	dispatcherDone chan struct{}
	workers        sync.WaitGroup
}

// New constructs a Queue. An out-of-range MaxConcurrent is clamped to
// MaxConcurrent.
func New(opts Options) *Queue {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent < MinConcurrent || maxConcurrent > MaxConcurrent {
		maxConcurrent = MaxConcurrent
	}
	q := &Queue{
		maxConcurrent: maxConcurrent,
		maxRetries:    opts.MaxRetries,
		retryDelay:    opts.RetryDelay,
		tasks:         make(map[string]*taskEntry),
		bus:           opts.Bus,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add enqueues a task under id. If the queue is not yet running, the entry
// is buffered in memory and flushed on Start.
func (q *Queue) Add(id string, fn TaskFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry := &taskEntry{id: id, fn: fn, token: NewCancellationToken()}
	q.tasks[id] = entry
	if !q.running {
		q.buffered = append(q.buffered, entry)
		return
	}
	q.pending = append(q.pending, entry)
	q.cond.Broadcast()
}

// Start is idempotent. It flushes any buffered entries into the FIFO
// admission queue and begins dispatching.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.stopping = false
	q.pending = append(q.pending, q.buffered...)
	q.buffered = nil
	q.dispatcherDone = make(chan struct{})
	done := q.dispatcherDone
	q.mu.Unlock()

	go q.dispatchLoop(done)
}

func (q *Queue) dispatchLoop(done chan struct{}) {
	defer close(done)
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		for !q.stopping && (q.paused || q.active >= q.maxConcurrent || len(q.pending) == 0) {
			q.cond.Wait()
		}
		if q.stopping {
			return
		}
		entry := q.pending[0]
		q.pending = q.pending[1:]
		q.active++
		q.workers.Add(1)
		go q.runTask(entry)
	}
}

// Stop is idempotent. It cancels every tracked task's token, stops
// admitting new work, and awaits in-flight workers up to ctx's deadline
// before returning regardless of whether they have finished (a
// force-drain: the tokens were already set, so well-behaved workers exit
// promptly at their next suspension point).
func (q *Queue) Stop(ctx context.Context) {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.stopping = true
	for _, e := range q.tasks {
		e.token.Cancel()
	}
	dispatcherDone := q.dispatcherDone
	q.cond.Broadcast()
	q.mu.Unlock()

	if dispatcherDone != nil {
		<-dispatcherDone
	}

	workersDone := make(chan struct{})
	go func() { q.workers.Wait(); close(workersDone) }()
	select {
	case <-workersDone:
	case <-ctx.Done():
	}
}

// Pause gates admission of new work; in-flight tasks continue running.
func (q *Queue) Pause() {
	q.mu.Lock()
	wasPaused := q.paused
	q.paused = true
	q.mu.Unlock()
	if !wasPaused {
		q.publish(events.ProcessingPaused, nil)
	}
}

// Resume re-admits new work.
func (q *Queue) Resume() {
	q.mu.Lock()
	wasPaused := q.paused
	q.paused = false
	q.cond.Broadcast()
	q.mu.Unlock()
	if wasPaused {
		q.publish(events.ProcessingResumed, nil)
	}
}

// Paused reports the current admission-gate state.
func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Running reports whether Start has been called without a matching Stop.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Cancel signals the cooperative cancellation token for task_id and reports
// whether the task was reachable (known to the queue at all).
func (q *Queue) Cancel(taskID string) bool {
	q.mu.Lock()
	entry, ok := q.tasks[taskID]
	q.mu.Unlock()
	if !ok {
		return false
	}
	entry.token.Cancel()
	return true
}

// UpdateMaxConcurrent atomically replaces the admission capacity.
func (q *Queue) UpdateMaxConcurrent(n int) error {
	if n < MinConcurrent || n > MaxConcurrent {
		return errs.Validationf("taskqueue: max_concurrent must be between %d and %d, got %d", MinConcurrent, MaxConcurrent, n)
	}
	q.mu.Lock()
	q.maxConcurrent = n
	q.cond.Broadcast()
	q.mu.Unlock()
	return nil
}

// MaxConcurrent returns the current admission capacity.
func (q *Queue) MaxConcurrent() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.maxConcurrent
}

// Pending returns the number of tasks currently waiting for admission.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) runTask(entry *taskEntry) {
	defer q.workers.Done()
	entry.attempts++

	err := entry.fn(context.Background(), entry.token)

	q.mu.Lock()
	q.active--
	q.cond.Broadcast()
	q.mu.Unlock()

	switch {
	case err == nil:
		q.removeTask(entry.id)
	case entry.token.Cancelled() || errors.Is(err, ErrCancelled):
		q.removeTask(entry.id)
	case errs.Is(err, errs.Transient) && entry.attempts <= q.maxRetries:
		q.scheduleRetry(entry)
	default:
		q.removeTask(entry.id)
	}
}

func (q *Queue) removeTask(id string) {
	q.mu.Lock()
	delete(q.tasks, id)
	q.mu.Unlock()
}

func (q *Queue) scheduleRetry(entry *taskEntry) {
	time.AfterFunc(q.retryDelay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if !q.running {
			return
		}
		q.pending = append(q.pending, entry)
		q.cond.Broadcast()
	})
}

func (q *Queue) publish(topic events.Topic, payload any) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(events.Event{Topic: topic, Payload: payload})
}
