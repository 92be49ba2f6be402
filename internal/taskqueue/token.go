package taskqueue

import "sync"

// CancellationToken is the cooperative cancellation signal handed to every
// queued task. A TaskFunc must check it at the spec's documented suspension
// points (before loading metadata, before invoking the engine, before
// persisting results, before marking completion) and return promptly once
// it is set; cancellation is observed at the next suspension point, never
// preemptively.
type CancellationToken struct {
	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
}

// NewCancellationToken returns an unset token.
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{done: make(chan struct{})}
}

// Cancel sets the token. Safe to call more than once.
func (t *CancellationToken) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.cancelled {
		t.cancelled = true
		close(t.done)
	}
}

// Cancelled reports whether the token has been set.
func (t *CancellationToken) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Done returns a channel that closes when the token is cancelled, for
// select statements around long engine calls that should abort promptly.
func (t *CancellationToken) Done() <-chan struct{} {
	return t.done
}

// Check returns ErrCancelled if the token has been set; callers use this at
// each documented suspension point.
func (t *CancellationToken) Check() error {
	if t.Cancelled() {
		return ErrCancelled
	}
	return nil
}
