package runtime

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestPropertyDropNewestKeepsFirstKAccepted is invariant 1: under
// DropNewest at capacity k, the first k accepted envelopes are the first k
// offered before any drop.
func TestPropertyDropNewestKeepsFirstKAccepted(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 8).Draw(t, "capacity")
		extra := rapid.IntRange(0, 8).Draw(t, "extra")

		mb := NewMailbox[int](NewBoundedMailboxConfig(capacity, DropNewest))
		defer mb.Close()

		total := capacity + extra
		for i := 0; i < total; i++ {
			result, err := mb.Enqueue(i)
			if err != nil {
				t.Fatalf("unexpected enqueue error: %v", err)
			}
			if i < capacity && result != Accepted {
				t.Fatalf("expected envelope %d to be accepted, got %s", i, result)
			}
			if i >= capacity && result != Dropped {
				t.Fatalf("expected envelope %d to be dropped, got %s", i, result)
			}
		}

		for i := 0; i < capacity; i++ {
			value, err := mb.DequeueBlocking(50 * time.Millisecond)
			if err != nil {
				t.Fatalf("unexpected dequeue error: %v", err)
			}
			if value != i {
				t.Fatalf("expected resident %d to be %d, got %d", i, i, value)
			}
		}
	})
}

// TestPropertyDropOldestKeepsLastKEnqueued is invariant 2.
func TestPropertyDropOldestKeepsLastKEnqueued(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 8).Draw(t, "capacity")
		n := rapid.IntRange(capacity+1, capacity+8).Draw(t, "n")

		mb := NewMailbox[int](NewBoundedMailboxConfig(capacity, DropOldest))
		defer mb.Close()

		for i := 0; i < n; i++ {
			if _, err := mb.Enqueue(i); err != nil {
				t.Fatalf("unexpected enqueue error: %v", err)
			}
		}

		if got := mb.Count(); got != capacity {
			t.Fatalf("expected %d residents, got %d", capacity, got)
		}

		want := n - capacity
		for i := 0; i < capacity; i++ {
			value, err := mb.DequeueBlocking(50 * time.Millisecond)
			if err != nil {
				t.Fatalf("unexpected dequeue error: %v", err)
			}
			if value != want+i {
				t.Fatalf("expected resident %d to be %d, got %d", i, want+i, value)
			}
		}
	})
}

// TestPropertyCloseDrainsInFIFOOrderThenNone is invariant 3.
func TestPropertyCloseDrainsInFIFOOrderThenNone(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 16).Draw(t, "n")

		mb := NewMailbox[int](NewUnboundedMailboxConfig())

		for i := 0; i < n; i++ {
			if _, err := mb.Enqueue(i); err != nil {
				t.Fatalf("unexpected enqueue error: %v", err)
			}
		}

		mb.Close()

		for i := 0; i < n; i++ {
			got := mb.Dequeue()
			if got.IsNone() {
				t.Fatalf("expected envelope %d, got none", i)
			}
			if value := got.UnwrapOr(-1); value != i {
				t.Fatalf("expected envelope %d, got %d", i, value)
			}
		}

		got := mb.Dequeue()
		if got.IsSome() {
			t.Fatalf("expected none after draining all %d residents", n)
		}
	})
}

// TestPropertyEnqueueAfterCloseAlwaysFails is invariant 4.
func TestPropertyEnqueueAfterCloseAlwaysFails(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 8).Draw(t, "capacity")
		bounded := rapid.Bool().Draw(t, "bounded")

		var cfg MailboxConfig
		if bounded {
			cfg = NewBoundedMailboxConfig(capacity, Backpressure)
		} else {
			cfg = NewUnboundedMailboxConfig()
		}

		mb := NewMailbox[int](cfg)
		mb.Close()

		_, err := mb.Enqueue(1)
		var closedErr *MailboxClosedError
		if !errors.As(err, &closedErr) {
			t.Fatalf("expected MailboxClosedError, got %v", err)
		}
	})
}

// TestPropertyFutureSlotFirstSettlementWins is invariant 5.
func TestPropertyFutureSlotFirstSettlementWins(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		first := rapid.IntRange(0, 2).Draw(t, "first")
		others := rapid.IntRange(0, 2).Draw(t, "others")

		slot := NewFutureSlot[int]()
		settle := func(kind int) {
			switch kind {
			case 0:
				slot.Resolve(1)
			case 1:
				slot.Fail(errors.New("err"))
			case 2:
				slot.Cancel()
			}
		}

		settle(first)
		wasResolved := slot.IsResolved()
		if !wasResolved {
			t.Fatalf("expected IsResolved true immediately after first settlement")
		}

		settle(others)
		settle(others)

		value, err := slot.Await(context.Background())
		switch first {
		case 0:
			if err != nil || value != 1 {
				t.Fatalf("expected resolved value 1, got value=%d err=%v", value, err)
			}
		case 1:
			var futureErr *FutureExceptionError
			if !errors.As(err, &futureErr) {
				t.Fatalf("expected FutureExceptionError, got %v", err)
			}
		case 2:
			if !errors.Is(err, ErrFutureCancelled) {
				t.Fatalf("expected ErrFutureCancelled, got %v", err)
			}
		}
	})
}

// TestPropertyCancellableCancelIsIdempotentAndMonotonic is invariant 6.
func TestPropertyCancellableCancelIsIdempotentAndMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		calls := rapid.IntRange(1, 5).Draw(t, "calls")

		rt := NewRuntime(DefaultRuntimeConfig())
		cancellable := rt.ScheduleOnce(time.Hour, func() {})

		if cancellable.IsCancelled() {
			t.Fatalf("expected not-yet-cancelled before any Cancel call")
		}

		for i := 0; i < calls; i++ {
			cancellable.Cancel()
			if !cancellable.IsCancelled() {
				t.Fatalf("expected cancelled after Cancel call %d", i)
			}
		}
	})
}

var goroutineIDPattern = regexp.MustCompile(`^goroutine-\d+$`)

// TestPropertySpawnIDsAreUniqueAndMatchPattern is invariant 7.
func TestPropertySpawnIDsAreUniqueAndMatchPattern(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 64).Draw(t, "n")

		rt := NewRuntime(DefaultRuntimeConfig())
		seen := make(map[string]bool, n)

		for i := 0; i < n; i++ {
			id := rt.Spawn(func() {})
			if !goroutineIDPattern.MatchString(id) {
				t.Fatalf("id %q does not match ^goroutine-\\d+$", id)
			}
			if seen[id] {
				t.Fatalf("duplicate id %q", id)
			}
			seen[id] = true
		}

		rt.Run()
	})
}

// TestPropertyDeferredTimerFiresIffNotCancelledBeforeRun is invariant 8.
func TestPropertyDeferredTimerFiresIffNotCancelledBeforeRun(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cancelBeforeRun := rapid.Bool().Draw(t, "cancelBeforeRun")

		rt := NewRuntime(DefaultRuntimeConfig())

		var fired bool
		cancellable := rt.ScheduleOnce(time.Millisecond, func() {
			fired = true
		})

		if cancelBeforeRun {
			cancellable.Cancel()
		}

		rt.Run()

		if fired == cancelBeforeRun {
			t.Fatalf(
				"expected fired=%t when cancelBeforeRun=%t, got fired=%t",
				!cancelBeforeRun, cancelBeforeRun, fired,
			)
		}
	})
}
