package worker

import (
	"github.com/feynman-go/lockworker/record"
	"github.com/feynman-go/lockworker/syncrun/routine"
	"go.uber.org/zap"
)

const _loggerName = "threading"

// Launcher starts the routine of a spawned worker and reports whether it runs.
type Launcher interface {
	Launch(rt *routine.Routine) bool
}

type LaunchFunc func(rt *routine.Routine) bool

func (f LaunchFunc) Launch(rt *routine.Routine) bool {
	return f(rt)
}

type Option struct {
	// Logger receives debug and error events. Nil disables logging.
	Logger *zap.Logger
	// Recorder wraps each worker run. Defaults to a span on the global tracer.
	Recorder  record.Factory
	Metrics   *Metrics
	Allocator Allocator
	// Launcher must start the routine whenever it returns true, or Join on
	// the handle never returns.
	Launcher Launcher
}

func (option Option) withDefaults() Option {
	if option.Logger == nil {
		option.Logger = zap.NewNop()
	}
	option.Logger = option.Logger.Named(_loggerName)
	if option.Recorder == nil {
		option.Recorder = record.NewTracerFactory(nil)
	}
	if option.Allocator == nil {
		option.Allocator = NewPool(0)
	}
	if option.Launcher == nil {
		option.Launcher = LaunchFunc((*routine.Routine).Start)
	}
	return option
}
