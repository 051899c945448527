package worker

import (
	"sync"
	"time"

	"github.com/feynman-go/lockworker/mutex"
	"go.uber.org/atomic"
)

// Request carries the parameters into a worker and its outcome back out.
// The spawned routine owns it until joined.
type Request struct {
	mx               mutex.Locker
	waitBeforeLock   time.Duration
	waitBeforeUnlock time.Duration

	completedSuccessfully bool
	failure               Failure
	err                   error
	lockedAt              time.Time
	unlockedAt            time.Time

	live atomic.Bool
}

func (req *Request) Mutex() mutex.Locker {
	return req.mx
}

func (req *Request) WaitBeforeLock() time.Duration {
	return req.waitBeforeLock
}

func (req *Request) WaitBeforeUnlock() time.Duration {
	return req.waitBeforeUnlock
}

func (req *Request) CompletedSuccessfully() bool {
	return req.completedSuccessfully
}

func (req *Request) fail(failure Failure, err error) {
	req.completedSuccessfully = false
	req.failure = failure
	req.err = err
}

func (req *Request) result() Result {
	res := Result{
		Success: req.completedSuccessfully,
		Failure: req.failure,
		Err:     req.err,
	}
	if !req.lockedAt.IsZero() && !req.unlockedAt.IsZero() {
		res.Held = req.unlockedAt.Sub(req.lockedAt)
	}
	return res
}

func (req *Request) reset() {
	req.mx = nil
	req.waitBeforeLock = 0
	req.waitBeforeUnlock = 0
	req.completedSuccessfully = false
	req.failure = FailureNone
	req.err = nil
	req.lockedAt = time.Time{}
	req.unlockedAt = time.Time{}
}

// Allocator hands out request records. Free is called exactly once for every
// record Alloc returned.
type Allocator interface {
	Alloc() (*Request, error)
	Free(req *Request)
}

// Pool recycles request records. A positive max bounds the records
// outstanding at once.
type Pool struct {
	max         int64
	outstanding atomic.Int64
	p           sync.Pool
}

func NewPool(max int) *Pool {
	return &Pool{
		max: int64(max),
		p: sync.Pool{
			New: func() interface{} {
				return &Request{}
			},
		},
	}
}

func (pool *Pool) Alloc() (*Request, error) {
	n := pool.outstanding.Inc()
	if pool.max > 0 && n > pool.max {
		pool.outstanding.Dec()
		return nil, ErrPoolExhausted
	}
	req := pool.p.Get().(*Request)
	req.reset()
	req.live.Store(true)
	return req, nil
}

// Free returns req to the pool. Records already freed are ignored.
func (pool *Pool) Free(req *Request) {
	if req == nil || !req.live.CompareAndSwap(true, false) {
		return
	}
	req.reset()
	pool.outstanding.Dec()
	pool.p.Put(req)
}

func (pool *Pool) Outstanding() int {
	return int(pool.outstanding.Load())
}
