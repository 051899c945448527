package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/feynman-go/lockworker/mutex"
	"github.com/feynman-go/lockworker/randtime"
	"github.com/feynman-go/lockworker/syncrun/routine"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// countingLocker tracks how many callers are inside the critical section.
type countingLocker struct {
	mx     mutex.Mutex
	inside atomic.Int32
	max    atomic.Int32
}

func (l *countingLocker) Lock() error {
	if err := l.mx.Lock(); err != nil {
		return err
	}
	n := l.inside.Inc()
	for {
		m := l.max.Load()
		if n <= m || l.max.CompareAndSwap(m, n) {
			break
		}
	}
	return nil
}

func (l *countingLocker) Unlock() error {
	l.inside.Dec()
	return l.mx.Unlock()
}

type failingLocker struct {
	lockErr   error
	unlockErr error
	panicLock bool
}

func (l *failingLocker) Lock() error {
	if l.panicLock {
		panic("broken lock")
	}
	return l.lockErr
}

func (l *failingLocker) Unlock() error {
	return l.unlockErr
}

func TestSpawnJoinSuccess(t *testing.T) {
	delays := [][2]time.Duration{
		{0, 0},
		{10 * time.Millisecond, 0},
		{0, 10 * time.Millisecond},
		{5 * time.Millisecond, 5 * time.Millisecond},
		{-time.Millisecond, -time.Millisecond},
	}
	for _, d := range delays {
		mx := &mutex.Mutex{}
		h, err := Spawn(mx, d[0], d[1])
		if err != nil {
			t.Fatal("spawn", d, err)
		}
		res := h.Join()
		if !res.Success || res.Failure != FailureNone || res.Err != nil {
			t.Fatal("expect success", d, res)
		}
		if h.State() != StateDone {
			t.Fatal("expect done state, got", h.State())
		}
		if !mx.TryHold() {
			t.Fatal("mutex should be released after join", d)
		}
	}
}

func TestSpawnMs(t *testing.T) {
	start := time.Now()
	h, err := SpawnMs(&mutex.Mutex{}, 20, 30)
	if err != nil {
		t.Fatal(err)
	}
	res := h.Join()
	if !res.Success {
		t.Fatal("expect success", res)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("worker returned before its delays passed")
	}
	if res.Held < 30*time.Millisecond {
		t.Fatal("expect hold of at least 30ms, got", res.Held)
	}
}

func TestSpawnDestroyedMutex(t *testing.T) {
	mx := &mutex.Mutex{}
	if err := mx.Destroy(); err != nil {
		t.Fatal(err)
	}

	h, err := Spawn(mx, 0, 0)
	if err != nil {
		t.Fatal("spawn should succeed on a destroyed mutex", err)
	}
	res := h.Join()
	if res.Success {
		t.Fatal("expect failure on destroyed mutex")
	}
	if res.Failure != FailureLock {
		t.Fatal("expect lock failure, got", res.Failure)
	}
	if errors.Cause(res.Err) != mutex.ErrDestroyed {
		t.Fatal("expect destroyed cause, got", res.Err)
	}
	if res.Held != 0 {
		t.Fatal("expect no hold time, got", res.Held)
	}
}

func TestSpawnUnlockFailure(t *testing.T) {
	unlockErr := errors.New("not owner")
	h, err := Spawn(&failingLocker{unlockErr: unlockErr}, 0, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	res := h.Join()
	if res.Success || res.Failure != FailureUnlock {
		t.Fatal("expect unlock failure", res)
	}
	if errors.Cause(res.Err) != unlockErr {
		t.Fatal("expect unlock cause, got", res.Err)
	}
	if res.Held < 10*time.Millisecond {
		t.Fatal("expect hold time before failed unlock, got", res.Held)
	}
}

func TestSpawnLockPanic(t *testing.T) {
	h, err := Spawn(&failingLocker{panicLock: true}, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	res := h.Join()
	if res.Success || res.Failure != FailureLock || res.Err == nil {
		t.Fatal("expect lock failure from panic", res)
	}
}

func TestSpawnNilMutex(t *testing.T) {
	h, err := Spawn(nil, 0, 0)
	if err != ErrNilMutex || h != nil {
		t.Fatal("expect ErrNilMutex, got", err)
	}
}

func TestSpawnContention(t *testing.T) {
	const n = 10
	locker := &countingLocker{}
	handles := make([]*Handle, 0, n)
	for i := 0; i < n; i++ {
		h, err := Spawn(locker, 0, 50*time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}
		handles = append(handles, h)
	}

	for i, h := range handles {
		if res := h.Join(); !res.Success {
			t.Fatal("worker failed", i, res)
		}
	}
	if max := locker.max.Load(); max != 1 {
		t.Fatal("expect at most one holder, got", max)
	}
}

func TestSpawnContentionJitter(t *testing.T) {
	const n = 20
	locker := &countingLocker{}
	handles := make([]*Handle, 0, n)
	for i := 0; i < n; i++ {
		h, err := Spawn(locker,
			randtime.RandDuration(0, 20*time.Millisecond),
			randtime.RandDuration(time.Millisecond, 5*time.Millisecond),
		)
		if err != nil {
			t.Fatal(err)
		}
		handles = append(handles, h)
	}
	for i, h := range handles {
		if res := h.Join(); !res.Success {
			t.Fatal("worker failed", i, res)
		}
	}
	if max := locker.max.Load(); max != 1 {
		t.Fatal("expect at most one holder, got", max)
	}
}

func TestSpawnWallTime(t *testing.T) {
	start := time.Now()
	h, err := SpawnMs(&mutex.Mutex{}, 100, 200)
	if err != nil {
		t.Fatal(err)
	}
	if !h.Join().Success {
		t.Fatal("expect success")
	}
	if cost := time.Since(start); cost < 300*time.Millisecond {
		t.Fatal("expect at least 300ms, got", cost)
	}
}

func TestSpawnSecondBlocksUntilFirstUnlocks(t *testing.T) {
	mx := &mutex.Mutex{}
	start := time.Now()

	h1, err := SpawnMs(mx, 0, 500)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	h2, err := SpawnMs(mx, 0, 500)
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	if h1.State() != StateHolding {
		t.Fatal("expect first worker holding, got", h1.State())
	}
	if h2.State() != StateLocking {
		t.Fatal("expect second worker blocked in lock, got", h2.State())
	}

	if !h1.Join().Success {
		t.Fatal("expect first success")
	}
	if !h2.Join().Success {
		t.Fatal("expect second success")
	}
	if cost := time.Since(start); cost < time.Second {
		t.Fatal("critical sections overlapped, total", cost)
	}
}

type failAllocator struct {
	calls atomic.Int32
}

func (a *failAllocator) Alloc() (*Request, error) {
	a.calls.Inc()
	return nil, errors.New("out of memory")
}

func (a *failAllocator) Free(req *Request) {}

func TestSpawnAllocationFailure(t *testing.T) {
	var launched atomic.Int32
	alloc := &failAllocator{}
	w := New(Option{
		Allocator: alloc,
		Launcher: LaunchFunc(func(rt *routine.Routine) bool {
			launched.Inc()
			return rt.Start()
		}),
	})

	h, err := w.Spawn(&mutex.Mutex{}, 0, 0)
	if errors.Cause(err) != ErrAllocation || h != nil {
		t.Fatal("expect ErrAllocation, got", err)
	}
	if alloc.calls.Load() != 1 {
		t.Fatal("expect one allocation attempt")
	}
	if launched.Load() != 0 {
		t.Fatal("no routine should be launched")
	}
}

func TestSpawnPoolExhausted(t *testing.T) {
	pool := NewPool(1)
	w := New(Option{Allocator: pool})

	mx := &mutex.Mutex{}
	h, err := w.SpawnMs(mx, 0, 50)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.SpawnMs(mx, 0, 0); err != ErrAllocation {
		t.Fatal("expect ErrAllocation, got", err)
	}

	h.Join()
	if pool.Outstanding() != 0 {
		t.Fatal("join should release the record, outstanding", pool.Outstanding())
	}
	h, err = w.SpawnMs(mx, 0, 0)
	if err != nil {
		t.Fatal("record should be reusable after join", err)
	}
	h.Join()
}

func TestSpawnThreadStartFailure(t *testing.T) {
	pool := NewPool(0)
	w := New(Option{
		Allocator: pool,
		Launcher: LaunchFunc(func(rt *routine.Routine) bool {
			return false
		}),
	})

	h, err := w.Spawn(&mutex.Mutex{}, 0, 0)
	if err != ErrThreadStart || h != nil {
		t.Fatal("expect ErrThreadStart, got", err)
	}
	if pool.Outstanding() != 0 {
		t.Fatal("record should be released, outstanding", pool.Outstanding())
	}
}

func TestJoinReleasesOnce(t *testing.T) {
	pool := NewPool(0)
	w := New(Option{Allocator: pool})

	h, err := w.Spawn(&mutex.Mutex{}, 0, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	results := make([]Result, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.Join()
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		if res != results[0] || !res.Success {
			t.Fatal("joins disagree", i, res)
		}
	}
	if pool.Outstanding() != 0 {
		t.Fatal("expect record released, outstanding", pool.Outstanding())
	}
}

func TestJoinContext(t *testing.T) {
	h, err := SpawnMs(&mutex.Mutex{}, 0, 200)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.JoinContext(ctx); err != context.DeadlineExceeded {
		t.Fatal("expect deadline exceeded, got", err)
	}
	select {
	case <-h.Done():
		t.Fatal("worker should still be running")
	default:
	}

	res, err := h.JoinContext(context.Background())
	if err != nil || !res.Success {
		t.Fatal("expect success", res, err)
	}
}

func TestCloseWithContext(t *testing.T) {
	h, err := Spawn(&mutex.Mutex{}, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.CloseWithContext(context.Background()); err != nil {
		t.Fatal(err)
	}

	mx := &mutex.Mutex{}
	mx.Destroy()
	h, err = Spawn(mx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.CloseWithContext(context.Background()); errors.Cause(err) != mutex.ErrDestroyed {
		t.Fatal("expect destroyed error, got", err)
	}
}

func TestStateString(t *testing.T) {
	names := map[State]string{
		StateWaiting:   "waiting",
		StateLocking:   "locking",
		StateHolding:   "holding",
		StateUnlocking: "unlocking",
		StateDone:      "done",
		State(42):      "unknown",
	}
	for s, name := range names {
		if s.String() != name {
			t.Fatal("bad state name", s.String(), name)
		}
	}
	if FailureLock.String() != "lock" || FailureUnlock.String() != "unlock" || Failure(9).String() != "unknown" {
		t.Fatal("bad failure names")
	}
}

func TestStateWaitingBeforeLock(t *testing.T) {
	h, err := SpawnMs(&mutex.Mutex{}, 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if h.State() != StateWaiting {
		t.Fatal("expect waiting, got", h.State())
	}
	h.Join()
}

func TestCloseAll(t *testing.T) {
	mx := &mutex.Mutex{}
	var handles []*Handle
	for i := 0; i < 3; i++ {
		h, err := SpawnMs(mx, 0, 10)
		if err != nil {
			t.Fatal(err)
		}
		handles = append(handles, h)
	}
	if err := CloseAll(context.Background(), append(handles, nil)...); err != nil {
		t.Fatal(err)
	}

	destroyed := &mutex.Mutex{}
	destroyed.Destroy()
	bad, err := Spawn(destroyed, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	good, err := Spawn(mx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	err = CloseAll(context.Background(), bad, good)
	if errors.Cause(err) != mutex.ErrDestroyed {
		t.Fatal("expect the failed worker's error, got", err)
	}
}
