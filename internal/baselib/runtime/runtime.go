package runtime

import (
	"context"
	"fmt"
	goruntime "runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a unit of work submitted to a Runtime via Spawn. It runs on its
// own goroutine and takes no arguments; callers close over whatever state
// it needs, the same way the reference actor package's behaviors close over
// their own state rather than taking it as a parameter.
type Task func()

// minTimerDelay is the floor every ScheduleOnce/ScheduleRepeatedly delay is
// clamped to. Go's own timers tolerate a zero or negative duration (they
// just fire on the next scheduler tick), but this binding pins 1ms as its
// universal minimum, matching the non-blocking epsilon used throughout
// Mailbox.
const minTimerDelay = time.Millisecond

type pendingSpawn struct {
	id   string
	task Task
}

// trackedTimer is the bookkeeping record for a single armed time.Timer,
// whether it is a one-shot ScheduleOnce timer, the initial-delay timer of a
// ScheduleRepeatedly pair, or one link of the self-rescheduling recurring
// chain that pair installs. done guards against a timer being both
// cancelled and fired (or double-cancelled) from racing goroutines.
type trackedTimer struct {
	timer *time.Timer
	done  atomic.Bool
}

// Runtime is the coroutine scheduler: it spawns tasks onto their own
// goroutines, arms one-shot and recurring timers, and hands out mailboxes
// those coroutines can use to coordinate.
type Runtime struct {
	cfg RuntimeConfig

	running         atomic.Bool
	insideScheduler atomic.Bool

	nextID      atomic.Int64
	nextTimerID atomic.Int64
	spawnCount  atomic.Int64

	mu            sync.Mutex
	pendingSpawns []pendingSpawn
	pendingTimers []func()
	timers        map[int64]*trackedTimer

	wg sync.WaitGroup
}

// NewRuntime constructs an idle Runtime with the given configuration.
func NewRuntime(cfg RuntimeConfig) *Runtime {
	return &Runtime{
		cfg:    cfg,
		timers: make(map[int64]*trackedTimer),
	}
}

// Name reports this binding's stable identifier.
func (rt *Runtime) Name() string {
	return "goroutine"
}

// Config returns the configuration this Runtime was constructed with.
func (rt *Runtime) Config() RuntimeConfig {
	return rt.cfg
}

// IsRunning reports whether Run is currently blocked inside the scheduler.
func (rt *Runtime) IsRunning() bool {
	return rt.running.Load()
}

// NumGoroutines is an advisory, racy snapshot of in-flight spawned tasks
// plus currently-armed timers. It is read without synchronizing against
// concurrent Spawn/timer-fire activity, so treat it as a dashboard number,
// not a precise count.
func (rt *Runtime) NumGoroutines() int {
	rt.mu.Lock()
	timerCount := len(rt.timers)
	rt.mu.Unlock()

	return int(rt.spawnCount.Load()) + timerCount
}

// CreateMailbox constructs a Mailbox[T] from cfg. It is a package-level
// function rather than a Runtime method because Go methods cannot carry
// their own type parameters; taking rt explicitly keeps the call site
// reading like a Runtime operation even though it is free-standing. It may
// be called whether or not rt is currently running: the returned mailbox is
// backed by a plain Go channel and works standalone, though its
// usefulness for coordinating with other coroutines assumes the scheduler
// is driving them.
func CreateMailbox[T any](rt *Runtime, cfg MailboxConfig) *Mailbox[T] {
	return NewMailbox[T](cfg)
}

// Spawn assigns task a fresh goroutine-<n> id and either starts it
// immediately, if the scheduler is currently running, or records it to
// start in submission order at the next Run().
func (rt *Runtime) Spawn(task Task) string {
	id := fmt.Sprintf("goroutine-%d", rt.nextID.Add(1))

	if rt.running.Load() {
		rt.startSpawn(id, task)
		return id
	}

	rt.mu.Lock()
	rt.pendingSpawns = append(rt.pendingSpawns, pendingSpawn{id: id, task: task})
	rt.mu.Unlock()

	return id
}

func (rt *Runtime) startSpawn(id string, task Task) {
	rt.wg.Add(1)
	rt.spawnCount.Add(1)

	go func() {
		defer rt.wg.Done()
		defer rt.spawnCount.Add(-1)

		log.TraceS(context.Background(), "coroutine starting", "id", id)
		task()
		log.TraceS(context.Background(), "coroutine finished", "id", id)
	}()
}

// ScheduleOnce arranges for callback to run once after delay (clamped to
// minTimerDelay). If the scheduler is running, the timer is armed
// immediately and a timer-backed Cancellable is returned; otherwise the
// arming is deferred until Run() drains pendingTimers, and a deferred
// Cancellable is returned that, if cancelled first, prevents the timer
// from ever being armed.
func (rt *Runtime) ScheduleOnce(delay time.Duration, callback func()) Cancellable {
	if rt.running.Load() {
		id := rt.armTimer(delay, callback)
		return newTimerCancellable(rt, id)
	}

	dc := newDeferredCancellable()
	rt.mu.Lock()
	rt.pendingTimers = append(rt.pendingTimers, func() {
		if dc.IsCancelled() {
			return
		}
		rt.armTimer(delay, callback)
	})
	rt.mu.Unlock()

	return dc
}

// ScheduleRepeatedly arranges for callback to run once after initialDelay
// and then on every interval tick thereafter, until Shutdown clears the
// runtime's tracked timers. The returned Cancellable only ever covers the
// initial-delay timer: cancelling it before that first fire prevents any
// invocation at all, but once it has fired, the recurring chain it installs
// runs independently and is not reachable through this handle. This
// asymmetry is deliberate rather than smoothed over with a new
// cancellation type: only Shutdown can stop a recurring chain once its
// first tick has fired.
func (rt *Runtime) ScheduleRepeatedly(
	initialDelay, interval time.Duration,
	callback func(),
) Cancellable {

	start := func() int64 {
		return rt.armTimer(initialDelay, func() {
			callback()
			rt.installRecurring(interval, callback)
		})
	}

	if rt.running.Load() {
		return newTimerCancellable(rt, start())
	}

	dc := newDeferredCancellable()
	rt.mu.Lock()
	rt.pendingTimers = append(rt.pendingTimers, func() {
		if dc.IsCancelled() {
			return
		}
		start()
	})
	rt.mu.Unlock()

	return dc
}

// installRecurring arms the first link of a self-rescheduling timer chain:
// each firing invokes callback, then arms the next link at the same
// interval. The chain has no end of its own; only Shutdown (by clearing
// every tracked timer id) or process exit stops it.
func (rt *Runtime) installRecurring(interval time.Duration, callback func()) {
	var tick func()
	tick = func() {
		callback()
		rt.armTimer(interval, tick)
	}
	rt.armTimer(interval, tick)
}

// armTimer registers fire to run once after delay (clamped to
// minTimerDelay), tracks it under a fresh timer id so Shutdown can reap it
// and Run's wait-group can account for it, and returns that id.
func (rt *Runtime) armTimer(delay time.Duration, fire func()) int64 {
	if delay < minTimerDelay {
		delay = minTimerDelay
	}

	id := rt.nextTimerID.Add(1)
	tt := &trackedTimer{}
	rt.wg.Add(1)

	tt.timer = time.AfterFunc(delay, func() {
		if !tt.done.CompareAndSwap(false, true) {
			return
		}

		rt.mu.Lock()
		delete(rt.timers, id)
		rt.mu.Unlock()

		fire()
		rt.wg.Done()
	})

	rt.mu.Lock()
	rt.timers[id] = tt
	rt.mu.Unlock()

	return id
}

// cancelTimer stops the timer identified by id if it has not already fired
// or been cancelled, and accounts for it in the wait-group Run blocks on.
// It returns errTimerNotFound if id is unknown (never armed, or already
// fired and reaped) or if it loses the race to that timer's own fire
// callback; the caller treats both as a no-op, since cancelling an
// already-fired timer is never an error from the outside, but the error
// return lets this package's own tests pin the race instead of only
// exercising the happy path.
func (rt *Runtime) cancelTimer(id int64) error {
	rt.mu.Lock()
	tt, ok := rt.timers[id]
	if ok {
		delete(rt.timers, id)
	}
	rt.mu.Unlock()

	if !ok {
		return errTimerNotFound
	}

	if !tt.done.CompareAndSwap(false, true) {
		return errTimerNotFound
	}

	tt.timer.Stop()
	rt.wg.Done()
	return nil
}

// Yield surrenders the processor to other goroutines without blocking. It
// is this binding's rendering of a cooperative coroutine yield point.
func (rt *Runtime) Yield() {
	goruntime.Gosched()
}

// Sleep cooperatively suspends the calling goroutine for duration. It is a
// no-op for a non-positive duration rather than returning immediately with
// no suspension at all being ambiguous with "slept for zero time".
func (rt *Runtime) Sleep(duration time.Duration) {
	if duration <= 0 {
		return
	}
	time.Sleep(duration)
}

// Run enters the scheduler: it drains every timer thunk and spawn queued
// before this call in submission order, then blocks until every spawned
// coroutine and every armed timer (including whatever recurring chains they
// install) has completed. It may be called again after a prior call has
// fully returned.
func (rt *Runtime) Run() {
	rt.running.Store(true)
	rt.insideScheduler.Store(true)

	rt.mu.Lock()
	timers := rt.pendingTimers
	rt.pendingTimers = nil
	spawns := rt.pendingSpawns
	rt.pendingSpawns = nil
	rt.mu.Unlock()

	for _, thunk := range timers {
		thunk()
	}
	for _, spawn := range spawns {
		rt.startSpawn(spawn.id, spawn.task)
	}

	rt.wg.Wait()

	rt.insideScheduler.Store(false)
	rt.running.Store(false)
}

// Shutdown clears every currently tracked timer id, stopping each one
// best-effort so recurring timers stop keeping the scheduler alive. It
// does not cancel in-flight coroutines; those must observe their own
// cooperation points (mailbox reads, Sleep, ctx checks) and exit on their
// own. ctx is accepted for forward compatibility with a future bounded
// shutdown but is not currently consulted: clearing timers is synchronous
// and immediate, so there is nothing to wait on yet.
func (rt *Runtime) Shutdown(ctx context.Context) {
	rt.mu.Lock()
	ids := make([]int64, 0, len(rt.timers))
	for id := range rt.timers {
		ids = append(ids, id)
	}
	rt.mu.Unlock()

	for _, id := range ids {
		rt.cancelTimer(id)
	}

	log.DebugS(ctx, "runtime shutdown cleared timers", "count", len(ids))
}
