package runtime

import "fmt"

// RuntimeConfig is an immutable set of tunables for a Runtime, built with
// DefaultRuntimeConfig and refined with the With*-style methods, each of
// which returns a new value rather than mutating the receiver.
type RuntimeConfig struct {
	defaultMailboxCapacity int
	enableCoroutineHook    bool
	maxCoroutines          int
}

// DefaultRuntimeConfig returns the configuration a Runtime uses when none is
// supplied explicitly.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		defaultMailboxCapacity: 1000,
		enableCoroutineHook:    true,
		maxCoroutines:          100_000,
	}
}

// DefaultMailboxCapacity is the configured default mailbox capacity. It is
// recorded and surfaced via String(); CreateMailbox always takes an explicit
// MailboxConfig and does not consult it.
func (c RuntimeConfig) DefaultMailboxCapacity() int { return c.defaultMailboxCapacity }

// EnableCoroutineHook reports whether host-level interception of blocking
// I/O was requested. Go has no process-wide switch of that kind, so the flag
// is advisory: it is recorded and surfaced via Config() and String(), but
// neither Run nor Spawn consults it.
func (c RuntimeConfig) EnableCoroutineHook() bool { return c.enableCoroutineHook }

// MaxCoroutines is the advisory ceiling on concurrently live goroutines
// spawned via Spawn. It is recorded and surfaced via String() for callers
// that want to enforce it themselves (NumGoroutines() does not read it), but Spawn
// does not consult it: Go goroutines have no natural admission-control point
// analogous to a thread pool, so enforcing a hard ceiling here would require
// blocking Spawn, which this binding does not do.
func (c RuntimeConfig) MaxCoroutines() int { return c.maxCoroutines }

// WithDefaultMailboxCapacity returns a copy of c with the default mailbox
// capacity replaced. A non-positive value is clamped to 1.
func (c RuntimeConfig) WithDefaultMailboxCapacity(capacity int) RuntimeConfig {
	if capacity <= 0 {
		capacity = 1
	}
	c.defaultMailboxCapacity = capacity
	return c
}

// WithEnableCoroutineHook returns a copy of c with the coroutine-hook flag
// replaced.
func (c RuntimeConfig) WithEnableCoroutineHook(enable bool) RuntimeConfig {
	c.enableCoroutineHook = enable
	return c
}

// WithMaxCoroutines returns a copy of c with the advisory coroutine ceiling
// replaced. A non-positive value is clamped to 1.
func (c RuntimeConfig) WithMaxCoroutines(max int) RuntimeConfig {
	if max <= 0 {
		max = 1
	}
	c.maxCoroutines = max
	return c
}

// String implements fmt.Stringer for log-friendly output.
func (c RuntimeConfig) String() string {
	return fmt.Sprintf(
		"RuntimeConfig{defaultMailboxCapacity=%d, enableCoroutineHook=%t, maxCoroutines=%d}",
		c.defaultMailboxCapacity, c.enableCoroutineHook, c.maxCoroutines,
	)
}
