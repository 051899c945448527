package routine

import (
	"context"

	"go.uber.org/atomic"
)

const (
	_STATE_INIT    = 0
	_STATE_RUNNING = 1
	_STATE_DONE    = 2
)

// Routine runs a function once on its own goroutine and lets others wait for it.
type Routine struct {
	state    atomic.Int32
	doneChan chan struct{}
	f        func()
}

func New(f func()) *Routine {
	return &Routine{
		doneChan: make(chan struct{}),
		f:        f,
	}
}

// Start launches the goroutine. It returns false if the routine was started before.
func (r *Routine) Start() bool {
	if !r.state.CompareAndSwap(_STATE_INIT, _STATE_RUNNING) {
		return false
	}
	go r.run()
	return true
}

func (r *Routine) run() {
	defer r.didStopped()
	if r.f != nil {
		r.f()
	}
}

func (r *Routine) didStopped() {
	r.state.Store(_STATE_DONE)
	close(r.doneChan)
}

// Done is closed after the function returned.
func (r *Routine) Done() <-chan struct{} {
	return r.doneChan
}

// Join blocks until the function returned. Joining a routine that never
// started blocks forever.
func (r *Routine) Join() {
	<-r.doneChan
}

func (r *Routine) JoinContext(ctx context.Context) error {
	select {
	case <-r.doneChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Routine) IsRunning() bool {
	return r.state.Load() == _STATE_RUNNING
}

func (r *Routine) IsDone() bool {
	select {
	case <-r.doneChan:
		return true
	default:
		return false
	}
}
