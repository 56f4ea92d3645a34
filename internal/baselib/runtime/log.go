package runtime

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/nexus-actors/runtime-core/internal/build"
)

// Subsystem is the short tag this package's log records are grouped under
// when a host process fans subsystem loggers out by name (see
// internal/build.HandlerSet.SubSystem).
const Subsystem = "CORT"

// log is the package-wide logger. It defaults to a no-op implementation so
// that importing this package never produces output unless a host process
// opts in via UseLogger, mirroring internal/baselib/actor's own default.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by the runtime, mailbox, and
// future implementations. Host processes typically call this once at
// startup with a logger scoped to Subsystem, the same way a consuming
// binary would wire up actor.UseLogger(actorLogger) for the actor package.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// NewFanoutLogger builds a Subsystem-scoped logger that writes to every
// handler passed in, using internal/build.HandlerSet to fan a single log
// record out to all of them (e.g. a console handler and a rotating file
// handler from internal/build.RotatingLogWriter). The result is suitable
// for passing directly to UseLogger.
func NewFanoutLogger(handlers ...btclog.Handler) btclog.Logger {
	set := build.NewHandlerSet(handlers...)
	return btclog.NewSLogger(set.WithPrefix(Subsystem))
}
