// Package testutil provides shared helpers for exercising the memory
// engine in tests: recording and failing hooks, and cancellation
// harnesses for the read paths.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/memstack/memstack/fact"
	"github.com/memstack/memstack/store"
)

// HookCall records one hook invocation.
type HookCall struct {
	Op     fact.Operation
	FactID string
	Fact   *fact.Fact
}

// RecordingHook captures every invocation in order. Safe for
// concurrent use.
type RecordingHook struct {
	mu    sync.Mutex
	calls []HookCall
}

// Hook returns the store hook backed by the recorder.
func (r *RecordingHook) Hook() store.Hook {
	return func(ctx context.Context, op fact.Operation, factID string, f *fact.Fact) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, HookCall{Op: op, FactID: factID, Fact: f.Clone()})
		return nil
	}
}

// Calls returns a copy of the recorded invocations.
func (r *RecordingHook) Calls() []HookCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]HookCall(nil), r.calls...)
}

// Reset clears the recording.
func (r *RecordingHook) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// FailingHook fails every invocation whose op is in ops (or every
// invocation when ops is empty) after incrementing its counter.
type FailingHook struct {
	mu       sync.Mutex
	failOps  map[fact.Operation]bool
	failures int
}

// NewFailingHook creates a hook that fails on the given operations.
func NewFailingHook(ops ...fact.Operation) *FailingHook {
	failOps := make(map[fact.Operation]bool, len(ops))
	for _, op := range ops {
		failOps[op] = true
	}
	return &FailingHook{failOps: failOps}
}

// Hook returns the store hook.
func (h *FailingHook) Hook() store.Hook {
	return func(ctx context.Context, op fact.Operation, factID string, f *fact.Fact) error {
		if len(h.failOps) > 0 && !h.failOps[op] {
			return nil
		}
		h.mu.Lock()
		h.failures++
		n := h.failures
		h.mu.Unlock()
		return fmt.Errorf("sink refused %s for %s (failure %d)", op, factID, n)
	}
}

// Failures returns how many times the hook failed.
func (h *FailingHook) Failures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures
}

// FlakyHook fails the first failCount invocations, then succeeds.
// Used with the retry sink wrapper.
type FlakyHook struct {
	mu        sync.Mutex
	remaining int
	attempts  int
}

// NewFlakyHook creates a hook that fails failCount times.
func NewFlakyHook(failCount int) *FlakyHook {
	return &FlakyHook{remaining: failCount}
}

// Hook returns the store hook.
func (h *FlakyHook) Hook() store.Hook {
	return func(ctx context.Context, op fact.Operation, factID string, f *fact.Fact) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.attempts++
		if h.remaining > 0 {
			h.remaining--
			return errors.New("transient sink failure")
		}
		return nil
	}
}

// Attempts returns the total invocation count.
func (h *FlakyHook) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}

// CancelResult holds the result of running a function with
// cancellation.
type CancelResult struct {
	// Err is the error returned by the function (may be nil).
	Err error
	// WasCancelled is true if the error is context.Canceled.
	WasCancelled bool
	// Completed is true if the function returned before the timeout.
	Completed bool
	// Duration is how long the function ran.
	Duration time.Duration
}

// RunWithCancel runs a function with a cancellable context. It
// cancels the context after cancelAfter and waits up to timeout for
// the function to return.
func RunWithCancel(fn func(context.Context) error, cancelAfter, timeout time.Duration) CancelResult {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)

	go func() {
		errCh <- fn(ctx)
	}()

	time.Sleep(cancelAfter)
	cancel()

	select {
	case err := <-errCh:
		return CancelResult{
			Err:          err,
			WasCancelled: errors.Is(err, context.Canceled),
			Completed:    true,
			Duration:     time.Since(start),
		}
	case <-time.After(timeout):
		return CancelResult{
			Completed: false,
			Duration:  time.Since(start),
		}
	}
}
