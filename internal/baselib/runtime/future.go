package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// FutureSlot is a single-assignment result cell: exactly one of Resolve,
// Fail, or Cancel may take effect, and any number of goroutines may Await
// the outcome.
//
// The done signal is a closed channel rather than a sent value, since Go's
// close(chan) is the idiomatic way to broadcast a single event to an
// unbounded number of waiters; a single buffered send would only ever
// unblock one of them.
type FutureSlot[T any] struct {
	settled atomic.Bool

	mu              sync.Mutex
	result          fn.Result[T]
	cancelled       bool
	cancelCallbacks []func()

	done chan struct{}
}

// NewFutureSlot constructs an unresolved FutureSlot.
func NewFutureSlot[T any]() *FutureSlot[T] {
	return &FutureSlot[T]{
		done: make(chan struct{}),
	}
}

// Resolve settles the slot with value, waking any awaiters. It is a no-op
// if the slot is already settled (resolved, failed, or cancelled).
func (f *FutureSlot[T]) Resolve(value T) {
	if !f.settled.CompareAndSwap(false, true) {
		return
	}

	f.mu.Lock()
	f.result = fn.Ok(value)
	f.mu.Unlock()

	close(f.done)

	log.TraceS(bgCtx, "FutureSlot resolved")
}

// Fail settles the slot with err, waking any awaiters. It is a no-op if the
// slot is already settled.
func (f *FutureSlot[T]) Fail(err error) {
	if !f.settled.CompareAndSwap(false, true) {
		return
	}

	f.mu.Lock()
	f.result = fn.Err[T](err)
	f.mu.Unlock()

	close(f.done)

	log.DebugS(bgCtx, "FutureSlot failed", "err", err)
}

// Cancel settles the slot as cancelled, invoking every callback registered
// via OnCancel in registration order, then waking any awaiters. It is a
// no-op if the slot is already settled. The callbacks run, and only then is
// done closed, so an Await racing a concurrent Cancel never observes
// ErrFutureCancelled before every OnCancel callback has had a chance to run.
func (f *FutureSlot[T]) Cancel() {
	// Settle and mark cancelled under mu, so an OnCancel holding mu never
	// sees the slot settled by Cancel without also seeing cancelled.
	f.mu.Lock()
	if !f.settled.CompareAndSwap(false, true) {
		f.mu.Unlock()
		return
	}
	f.cancelled = true
	callbacks := f.cancelCallbacks
	f.cancelCallbacks = nil
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}

	close(f.done)

	log.DebugS(bgCtx, "FutureSlot cancelled", "callbacks", len(callbacks))
}

// OnCancel registers cb to run if the slot is, or later becomes, cancelled.
// If the slot is already cancelled by the time OnCancel is called, cb runs
// synchronously before OnCancel returns. cb never runs if the slot settles
// via Resolve or Fail instead.
func (f *FutureSlot[T]) OnCancel(cb func()) {
	f.mu.Lock()

	if f.settled.Load() {
		wasCancelled := f.cancelled
		f.mu.Unlock()
		if wasCancelled {
			cb()
		}
		return
	}

	f.cancelCallbacks = append(f.cancelCallbacks, cb)
	f.mu.Unlock()
}

// IsResolved reports whether the slot has settled, by any of Resolve, Fail,
// or Cancel — not just a successful Resolve, despite the name.
func (f *FutureSlot[T]) IsResolved() bool {
	return f.settled.Load()
}

// Await blocks until the slot settles or ctx is done, whichever comes
// first. A cancelled slot yields ErrFutureCancelled; a failed slot yields a
// *FutureExceptionError wrapping the cause; ctx expiring first yields
// ctx.Err() without settling the slot.
func (f *FutureSlot[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		result, cancelled := f.result, f.cancelled
		f.mu.Unlock()

		if cancelled {
			var zero T
			return zero, ErrFutureCancelled
		}

		value, err := result.Unpack()
		if err != nil {
			var zero T
			return zero, &FutureExceptionError{Cause: err}
		}
		return value, nil

	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
