package worker

import (
	"context"
	"sync"
	"time"

	"github.com/feynman-go/lockworker/closer"
	"github.com/feynman-go/lockworker/syncrun/routine"
	"go.uber.org/atomic"
)

var _ closer.WithContextCloser = (*Handle)(nil)

// Result is the outcome of a joined worker.
type Result struct {
	Success bool
	Failure Failure
	// Err is the error reported by the mutex, nil on success.
	Err error
	// Held is the time between a successful lock and the unlock attempt.
	Held time.Duration
}

// Handle refers to a spawned worker. It must be joined once the caller is
// done with the worker so its request record is released.
type Handle struct {
	rt    *routine.Routine
	state atomic.Int32
	alloc Allocator

	once   sync.Once
	req    *Request
	result Result
}

// Join blocks until the worker finished, releases its request record and
// returns the outcome. Later calls return the same outcome.
func (h *Handle) Join() Result {
	h.rt.Join()
	h.once.Do(h.release)
	return h.result
}

// JoinContext is Join bounded by ctx. The worker keeps running when ctx ends
// first and can still be joined later.
func (h *Handle) JoinContext(ctx context.Context) (Result, error) {
	if err := h.rt.JoinContext(ctx); err != nil {
		return Result{}, err
	}
	return h.Join(), nil
}

// CloseWithContext joins the worker and returns the error it reported.
func (h *Handle) CloseWithContext(ctx context.Context) error {
	res, err := h.JoinContext(ctx)
	if err != nil {
		return err
	}
	return res.Err
}

func (h *Handle) Done() <-chan struct{} {
	return h.rt.Done()
}

func (h *Handle) State() State {
	return State(h.state.Load())
}

func (h *Handle) setState(s State) {
	h.state.Store(int32(s))
}

func (h *Handle) release() {
	h.result = h.req.result()
	h.alloc.Free(h.req)
	h.req = nil
}

// CloseAll joins every handle within ctx and combines the errors the workers
// reported.
func CloseAll(ctx context.Context, handles ...*Handle) error {
	closers := make([]closer.WithContextCloser, 0, len(handles))
	for _, h := range handles {
		if h != nil {
			closers = append(closers, h)
		}
	}
	return closer.CloseAll(ctx, closers...)
}
