package runtime

import (
	"context"
	"sync/atomic"
)

// Cancellable is a uniform handle for revoking a scheduled action, returned
// by Runtime.ScheduleOnce and Runtime.ScheduleRepeatedly.
type Cancellable interface {
	// Cancel revokes the underlying action if it has not yet fired. It is
	// idempotent: calling it more than once has no additional effect.
	Cancel()

	// IsCancelled reports whether Cancel has been called. It does not
	// imply the underlying action never fired — only that clearance was
	// requested before, or concurrently with, its firing.
	IsCancelled() bool
}

// timerCancellable is the Cancellable returned while the scheduler is
// running: the real timer already exists, identified by id, and Cancel
// asks the owning Runtime to stop it.
type timerCancellable struct {
	rt        *Runtime
	id        int64
	cancelled atomic.Bool
}

func newTimerCancellable(rt *Runtime, id int64) *timerCancellable {
	return &timerCancellable{rt: rt, id: id}
}

// Cancel stops the underlying timer if it has not already fired. The CAS
// guard ensures only the first caller actually touches the runtime's timer
// bookkeeping; later callers are no-ops.
func (c *timerCancellable) Cancel() {
	if !c.cancelled.CompareAndSwap(false, true) {
		return
	}
	if err := c.rt.cancelTimer(c.id); err != nil {
		log.TraceS(context.Background(), "Cancel raced an already-fired timer",
			"timer_id", c.id, "err", err)
	}
}

func (c *timerCancellable) IsCancelled() bool {
	return c.cancelled.Load()
}

// deferredCancellable is the Cancellable returned when ScheduleOnce or
// ScheduleRepeatedly is called before the scheduler has started. No timer
// exists yet; cancellation instead sets a flag that the queued thunk
// consults at Run() time, skipping timer creation entirely when set.
type deferredCancellable struct {
	cancelled *atomic.Bool
}

func newDeferredCancellable() *deferredCancellable {
	return &deferredCancellable{cancelled: new(atomic.Bool)}
}

func (c *deferredCancellable) Cancel() {
	c.cancelled.Store(true)
}

func (c *deferredCancellable) IsCancelled() bool {
	return c.cancelled.Load()
}
