package worker

import (
	"context"
	"time"

	"github.com/feynman-go/lockworker/mutex"
	"github.com/feynman-go/lockworker/record"
	"github.com/feynman-go/lockworker/syncrun/routine"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// State is the progress of one worker.
type State int32

const (
	StateWaiting State = iota
	StateLocking
	StateHolding
	StateUnlocking
	StateDone
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateLocking:
		return "locking"
	case StateHolding:
		return "holding"
	case StateUnlocking:
		return "unlocking"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Worker spawns routines that wait, lock a mutex, hold it, then unlock it.
type Worker struct {
	logger   *zap.Logger
	recorder record.Factory
	metrics  *Metrics
	alloc    Allocator
	launcher Launcher
}

func New(option Option) *Worker {
	option = option.withDefaults()
	return &Worker{
		logger:   option.Logger,
		recorder: option.Recorder,
		metrics:  option.Metrics,
		alloc:    option.Allocator,
		launcher: option.Launcher,
	}
}

var defaultWorker = New(Option{})

// Spawn starts a worker on mx with the default options.
func Spawn(mx mutex.Locker, waitBeforeLock, waitBeforeUnlock time.Duration) (*Handle, error) {
	return defaultWorker.Spawn(mx, waitBeforeLock, waitBeforeUnlock)
}

func SpawnMs(mx mutex.Locker, waitBeforeLockMs, waitBeforeUnlockMs int) (*Handle, error) {
	return defaultWorker.SpawnMs(mx, waitBeforeLockMs, waitBeforeUnlockMs)
}

func (w *Worker) SpawnMs(mx mutex.Locker, waitBeforeLockMs, waitBeforeUnlockMs int) (*Handle, error) {
	return w.Spawn(mx,
		time.Duration(waitBeforeLockMs)*time.Millisecond,
		time.Duration(waitBeforeUnlockMs)*time.Millisecond,
	)
}

// Spawn starts one routine that sleeps waitBeforeLock, locks mx, sleeps
// waitBeforeUnlock, then unlocks mx. A nil error means the routine runs and
// the handle must be joined; it says nothing about the locking outcome.
func (w *Worker) Spawn(mx mutex.Locker, waitBeforeLock, waitBeforeUnlock time.Duration) (*Handle, error) {
	if mx == nil {
		w.logger.Error("Invalid mutex")
		w.metrics.spawn(ErrNilMutex)
		return nil, ErrNilMutex
	}

	req, err := w.alloc.Alloc()
	if err == nil && req == nil {
		err = errors.New("allocator returned no record")
	}
	if err != nil {
		w.logger.Error("Failed to allocate memory for thread data", zap.Error(err))
		w.metrics.spawn(ErrAllocation)
		return nil, ErrAllocation
	}

	req.mx = mx
	req.waitBeforeLock = waitBeforeLock
	req.waitBeforeUnlock = waitBeforeUnlock
	req.completedSuccessfully = false

	h := &Handle{
		req:   req,
		alloc: w.alloc,
	}
	h.rt = routine.New(func() {
		w.run(h, req)
	})

	if !w.launcher.Launch(h.rt) {
		w.alloc.Free(req)
		w.logger.Error("Failed to create thread")
		w.metrics.spawn(ErrThreadStart)
		return nil, ErrThreadStart
	}
	w.metrics.spawn(nil)
	return h, nil
}

func (w *Worker) run(h *Handle, req *Request) {
	_ = record.Do(context.Background(), w.recorder, "lock worker", func(ctx context.Context) error {
		w.work(h, req)
		return req.err
	},
		record.DurationField("wait_before_lock", req.waitBeforeLock),
		record.DurationField("wait_before_unlock", req.waitBeforeUnlock),
	)
	w.metrics.done(req.result())
	h.setState(StateDone)
}

func (w *Worker) work(h *Handle, req *Request) {
	time.Sleep(req.waitBeforeLock)

	h.setState(StateLocking)
	if err := call(req.mx.Lock); err != nil {
		w.logger.Error("Failed to obtain mutex", zap.Error(err))
		req.fail(FailureLock, errors.Wrap(err, "lock mutex"))
		return
	}
	req.lockedAt = time.Now()
	h.setState(StateHolding)
	w.logger.Debug("Mutex obtained")

	time.Sleep(req.waitBeforeUnlock)

	h.setState(StateUnlocking)
	err := call(req.mx.Unlock)
	req.unlockedAt = time.Now()
	if err != nil {
		w.logger.Error("Failed to release mutex", zap.Error(err))
		req.fail(FailureUnlock, errors.Wrap(err, "unlock mutex"))
		return
	}
	w.logger.Debug("Mutex released")

	req.completedSuccessfully = true
}

// call runs f and turns a panic into an error.
func call(f func() error) (err error) {
	defer func() {
		if rc := recover(); rc != nil {
			err = errors.Errorf("panic: %v", rc)
		}
	}()
	return f()
}
