package pipeline

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is returned by waits that were ended by run cancellation.
var ErrCancelled = errors.New("run cancelled")

// Token is the tri-state control object shared by all tasks of one run:
// cancel is monotonic (once set, never cleared), pause/resume toggles.
// Waiters block on channels, never poll.
type Token struct {
	mu        sync.Mutex
	cancelled bool
	cancelCh  chan struct{}
	paused    bool
	resumeCh  chan struct{}
}

// NewToken creates a running (not paused, not cancelled) token
func NewToken() *Token {
	resumeCh := make(chan struct{})
	close(resumeCh) // not paused: resume is signalled
	return &Token{
		cancelCh: make(chan struct{}),
		resumeCh: resumeCh,
	}
}

// Cancel sets the cancel signal and releases any pause waiters so they
// can observe the cancellation. Idempotent.
func (t *Token) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.cancelled = true
	close(t.cancelCh)
	// Signal resume to unblock anything parked in WaitResume
	select {
	case <-t.resumeCh:
	default:
		close(t.resumeCh)
	}
}

// Pause sets the pause signal and clears the resume signal. Idempotent.
func (t *Token) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.paused = true
	select {
	case <-t.resumeCh:
		// resume was signalled, arm a fresh wait
		t.resumeCh = make(chan struct{})
	default:
	}
}

// Resume clears the pause signal and wakes all waiters. Idempotent.
func (t *Token) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
	select {
	case <-t.resumeCh:
	default:
		close(t.resumeCh)
	}
}

// Cancelled reports whether the run was cancelled
func (t *Token) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Paused reports whether the pause signal is set
func (t *Token) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// CancelCh returns a channel closed on cancellation
func (t *Token) CancelCh() <-chan struct{} {
	return t.cancelCh
}

// WaitResume blocks while the token is paused. It returns nil when
// running (or resumed), ErrCancelled if the run was cancelled before,
// during, or instead of the resume, and the context error if ctx ends.
// Cancellation is always re-checked after waking.
func (t *Token) WaitResume(ctx context.Context) error {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return ErrCancelled
	}
	resumeCh := t.resumeCh
	t.mu.Unlock()

	select {
	case <-resumeCh:
	case <-t.cancelCh:
		return ErrCancelled
	case <-ctx.Done():
		return ctx.Err()
	}

	// A resume that raced with cancel must still report cancelled
	if t.Cancelled() {
		return ErrCancelled
	}
	return nil
}
