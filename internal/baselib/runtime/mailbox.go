package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// bgCtx is used for log call sites in this file that have no caller-supplied
// context, since Enqueue/Close take no context parameter of their own.
var bgCtx = context.Background()

// unboundedSentinel is the capacity an unbounded MailboxConfig reports via
// Capacity(). It is large enough that no realistic caller will ever observe
// IsFull() return true for an unbounded mailbox, while still being a
// concrete, loggable number rather than a magic "infinite" case callers
// need to special-case.
const unboundedSentinel = 65536

// nonBlockingEpsilon is the tiny positive timeout substituted for every
// operation documented as "non-blocking": pushChannel and popChannel wait at
// most this long on the channel before giving up, instead of using a
// select/default fast path. Close's drain loop, which runs with every sender
// excluded, is the one place that uses select/default.
const nonBlockingEpsilon = time.Millisecond

// OverflowStrategy selects how a bounded Mailbox behaves when Enqueue is
// called while the mailbox is already at capacity.
type OverflowStrategy int

const (
	// DropNewest discards the envelope being enqueued, keeping everything
	// already resident.
	DropNewest OverflowStrategy = iota

	// DropOldest evicts the oldest resident envelope to make room for the
	// one being enqueued.
	DropOldest

	// Backpressure rejects the enqueue without an error, signalling the
	// caller via EnqueueResult so it can decide how to react (retry,
	// drop, block on a different channel, etc).
	Backpressure

	// ThrowOnOverflow fails the enqueue with a MailboxOverflowError.
	ThrowOnOverflow
)

// String implements fmt.Stringer for log-friendly output.
func (s OverflowStrategy) String() string {
	switch s {
	case DropNewest:
		return "drop-newest"
	case DropOldest:
		return "drop-oldest"
	case Backpressure:
		return "backpressure"
	case ThrowOnOverflow:
		return "throw-on-overflow"
	default:
		return "unknown"
	}
}

// EnqueueResult reports the outcome of a non-throwing Enqueue call.
type EnqueueResult int

const (
	// Accepted means the envelope is now resident in the mailbox (or, for
	// DropOldest, replaced the prior oldest resident).
	Accepted EnqueueResult = iota

	// Dropped means the envelope was discarded under DropNewest.
	Dropped

	// Backpressured means the envelope was rejected under the
	// Backpressure strategy; the caller still holds it and may retry.
	Backpressured
)

func (r EnqueueResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Dropped:
		return "dropped"
	case Backpressured:
		return "backpressured"
	default:
		return "unknown"
	}
}

// MailboxConfig is an immutable description of how a Mailbox should be
// constructed and how it should behave on overflow. Values are built with
// NewBoundedMailboxConfig/NewUnboundedMailboxConfig and refined with the
// With*-style methods, each of which returns a new value rather than
// mutating the receiver.
type MailboxConfig struct {
	bounded  bool
	capacity int
	strategy OverflowStrategy
	path     string
}

// NewUnboundedMailboxConfig returns a config for an unbounded mailbox. The
// overflow strategy is irrelevant for unbounded mailboxes (Enqueue never
// observes "full"), but is still recorded so WithBounded can later toggle
// the mailbox into a bounded one without losing the caller's preference.
func NewUnboundedMailboxConfig() MailboxConfig {
	return MailboxConfig{
		bounded:  false,
		capacity: unboundedSentinel,
		strategy: Backpressure,
	}
}

// NewBoundedMailboxConfig returns a config for a mailbox with the given
// capacity and overflow strategy. A non-positive capacity is clamped to 1.
func NewBoundedMailboxConfig(capacity int, strategy OverflowStrategy) MailboxConfig {
	if capacity <= 0 {
		capacity = 1
	}
	return MailboxConfig{
		bounded:  true,
		capacity: capacity,
		strategy: strategy,
	}
}

// Bounded reports whether this config describes a bounded mailbox.
func (c MailboxConfig) Bounded() bool { return c.bounded }

// Capacity returns the configured capacity, or unboundedSentinel if the
// mailbox is unbounded.
func (c MailboxConfig) Capacity() int { return c.capacity }

// Strategy returns the configured overflow strategy.
func (c MailboxConfig) Strategy() OverflowStrategy { return c.strategy }

// Path returns the identifier this config's mailbox should report in its
// errors, or "" if none was set.
func (c MailboxConfig) Path() string { return c.path }

// WithCapacity returns a copy of c with the capacity replaced. It has no
// effect on an unbounded config, whose capacity stays at the sentinel; call
// WithBounded(true) first to switch to a bounded mailbox of this capacity.
func (c MailboxConfig) WithCapacity(capacity int) MailboxConfig {
	if !c.bounded {
		return c
	}
	if capacity <= 0 {
		capacity = 1
	}
	c.capacity = capacity
	return c
}

// WithStrategy returns a copy of c with the overflow strategy replaced.
func (c MailboxConfig) WithStrategy(strategy OverflowStrategy) MailboxConfig {
	c.strategy = strategy
	return c
}

// WithBounded returns a copy of c with the bounded flag replaced. Switching
// to unbounded resets the capacity to the sentinel; switching to bounded
// without ever having called WithCapacity keeps whatever capacity was
// already recorded (defaulting to 1 if none was).
func (c MailboxConfig) WithBounded(bounded bool) MailboxConfig {
	c.bounded = bounded
	if !bounded {
		c.capacity = unboundedSentinel
	} else if c.capacity <= 0 || c.capacity == unboundedSentinel {
		c.capacity = 1
	}
	return c
}

// WithPath returns a copy of c tagging the mailbox's errors with path.
func (c MailboxConfig) WithPath(path string) MailboxConfig {
	c.path = path
	return c
}

// Mailbox is a coroutine-safe FIFO queue of envelopes of type T, backed by a
// buffered Go channel, with a configurable overflow policy and a
// close-then-drain lifecycle.
//
// Thread safety: Enqueue may be called concurrently from multiple
// goroutines (single-producer FIFO ordering is only guaranteed with a
// single producer). Dequeue/DequeueBlocking are intended for a single
// consumer goroutine. Close is idempotent and safe to call concurrently
// with Enqueue/Dequeue. Count/IsEmpty/IsFull/IsClosed are safe from any
// goroutine.
type Mailbox[T any] struct {
	cfg MailboxConfig

	ch chan T

	closed    atomic.Bool
	closeOnce sync.Once

	// sendMu is held for the duration of every send (including the
	// overflow-handling pops on the same channel) so that Close cannot
	// close the channel out from under an in-flight send.
	sendMu sync.RWMutex

	drainMu    sync.Mutex
	drainQueue []T
}

// NewMailbox constructs a Mailbox from the given config.
func NewMailbox[T any](cfg MailboxConfig) *Mailbox[T] {
	return &Mailbox[T]{
		cfg: cfg,
		ch:  make(chan T, cfg.capacity),
	}
}

// Enqueue attempts to add an envelope to the mailbox. When the mailbox is
// bounded and already full, the outcome depends on the configured
// OverflowStrategy: DropNewest discards envelope and reports Dropped,
// DropOldest evicts the oldest resident to make room and reports Accepted,
// Backpressure reports Backpressured without discarding anything, and
// ThrowOnOverflow fails with a MailboxOverflowError.
func (mb *Mailbox[T]) Enqueue(envelope T) (EnqueueResult, error) {
	mb.sendMu.RLock()
	defer mb.sendMu.RUnlock()

	if mb.closed.Load() {
		return 0, &MailboxClosedError{Path: mb.cfg.path}
	}

	if mb.cfg.bounded && len(mb.ch) >= mb.cfg.capacity {
		switch mb.cfg.strategy {
		case DropNewest:
			log.TraceS(bgCtx, "Mailbox dropping newest envelope on overflow",
				"path", mb.cfg.path, "capacity", mb.cfg.capacity)
			return Dropped, nil

		case DropOldest:
			// Evict one resident, non-blockingly, to make room. A
			// concurrent consumer may have already drained it; that's
			// fine, we just proceed to push.
			mb.popChannel()
			mb.pushChannel(envelope)
			log.TraceS(bgCtx, "Mailbox dropped oldest envelope on overflow",
				"path", mb.cfg.path, "capacity", mb.cfg.capacity)
			return Accepted, nil

		case Backpressure:
			return Backpressured, nil

		case ThrowOnOverflow:
			return 0, &MailboxOverflowError{
				Path:     mb.cfg.path,
				Capacity: mb.cfg.capacity,
				Strategy: mb.cfg.strategy,
			}

		default:
			return 0, &MailboxOverflowError{
				Path:     mb.cfg.path,
				Capacity: mb.cfg.capacity,
				Strategy: mb.cfg.strategy,
			}
		}
	}

	if !mb.pushChannel(envelope) {
		// The channel did not have room within the non-blocking
		// epsilon: either concurrent producers raced past the capacity
		// check above, or an unbounded mailbox (which skips that check)
		// already holds unboundedSentinel envelopes. Treat it the same
		// way a DropNewest mailbox would: the message is discarded
		// rather than blocking indefinitely or silently losing the
		// "Accepted" contract.
		return Dropped, nil
	}

	return Accepted, nil
}

// pushChannel performs a non-blocking send bounded by nonBlockingEpsilon. It
// must be called with sendMu already held (for Close-safety) by the caller.
func (mb *Mailbox[T]) pushChannel(envelope T) bool {
	timer := time.NewTimer(nonBlockingEpsilon)
	defer timer.Stop()

	select {
	case mb.ch <- envelope:
		return true
	case <-timer.C:
		return false
	}
}

// popChannel performs a non-blocking receive bounded by nonBlockingEpsilon.
func (mb *Mailbox[T]) popChannel() (T, bool) {
	timer := time.NewTimer(nonBlockingEpsilon)
	defer timer.Stop()

	select {
	case envelope, ok := <-mb.ch:
		if !ok {
			var zero T
			return zero, false
		}
		return envelope, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}

// Dequeue returns the next available envelope without blocking beyond
// nonBlockingEpsilon. If the mailbox is closed, it yields from the drain
// queue instead of the channel.
func (mb *Mailbox[T]) Dequeue() fn.Option[T] {
	if mb.closed.Load() {
		if envelope, ok := mb.popDrain(); ok {
			return fn.Some(envelope)
		}
		return fn.None[T]()
	}

	if envelope, ok := mb.popChannel(); ok {
		return fn.Some(envelope)
	}
	return fn.None[T]()
}

// DequeueBlocking waits up to timeout for an envelope. If the mailbox is
// already closed, it returns immediately from the drain queue instead of
// waiting, yielding a MailboxClosedError once the drain queue is empty. If
// the mailbox is open but no envelope arrives before timeout elapses, it
// returns a MailboxTimeoutError.
func (mb *Mailbox[T]) DequeueBlocking(timeout time.Duration) (T, error) {
	if mb.closed.Load() {
		if envelope, ok := mb.popDrain(); ok {
			return envelope, nil
		}
		var zero T
		return zero, &MailboxClosedError{Path: mb.cfg.path}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case envelope, ok := <-mb.ch:
		if !ok {
			var zero T
			return zero, &MailboxClosedError{Path: mb.cfg.path}
		}
		return envelope, nil

	case <-timer.C:
		var zero T
		return zero, &MailboxTimeoutError{
			Path:    mb.cfg.path,
			Timeout: timeout,
		}
	}
}

// popDrain pops the oldest envelope from the drain queue, if any.
func (mb *Mailbox[T]) popDrain() (T, bool) {
	mb.drainMu.Lock()
	defer mb.drainMu.Unlock()

	if len(mb.drainQueue) == 0 {
		var zero T
		return zero, false
	}

	envelope := mb.drainQueue[0]
	mb.drainQueue = mb.drainQueue[1:]
	return envelope, true
}

// Close idempotently closes the mailbox. Any envelopes still resident in
// the channel are moved into the drain queue first, so readers that only
// call Dequeue/DequeueBlocking after Close still observe them in order.
func (mb *Mailbox[T]) Close() {
	mb.closeOnce.Do(func() {
		mb.sendMu.Lock()
		defer mb.sendMu.Unlock()

		mb.closed.Store(true)

		drained := 0
		mb.drainMu.Lock()
		draining := true
		for draining {
			select {
			case envelope := <-mb.ch:
				mb.drainQueue = append(mb.drainQueue, envelope)
				drained++
			default:
				draining = false
			}
		}
		mb.drainMu.Unlock()

		close(mb.ch)

		log.DebugS(bgCtx, "Mailbox closed",
			"path", mb.cfg.path, "drained", drained)
	})
}

// IsClosed reports whether Close has been called.
func (mb *Mailbox[T]) IsClosed() bool {
	return mb.closed.Load()
}

// Count returns the number of envelopes currently resident: the channel's
// length while open, or the drain queue's length while closed.
func (mb *Mailbox[T]) Count() int {
	if mb.closed.Load() {
		mb.drainMu.Lock()
		defer mb.drainMu.Unlock()
		return len(mb.drainQueue)
	}
	return len(mb.ch)
}

// Len is an alias for Count, for callers instrumenting queue depth in the
// same vocabulary channel_mailbox.go's log fields use (len(m.ch)).
func (mb *Mailbox[T]) Len() int { return mb.Count() }

// Cap returns the mailbox's configured capacity (the sentinel, for an
// unbounded mailbox).
func (mb *Mailbox[T]) Cap() int { return mb.cfg.capacity }

// IsEmpty reports whether Count() == 0.
func (mb *Mailbox[T]) IsEmpty() bool {
	return mb.Count() == 0
}

// IsFull reports whether the mailbox is at capacity. Always false for an
// unbounded mailbox.
func (mb *Mailbox[T]) IsFull() bool {
	if !mb.cfg.bounded {
		return false
	}
	return mb.Count() >= mb.cfg.capacity
}
