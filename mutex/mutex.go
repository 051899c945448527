package mutex

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrDestroyed = errors.New("mutex destroyed")
	ErrNotHeld   = errors.New("mutex not held")
	ErrBusy      = errors.New("mutex busy")
)

// Locker is a mutual exclusion lock whose operations may fail.
type Locker interface {
	Lock() error
	Unlock() error
}

// Mutex is an error checking mutex. The zero value is an unlocked mutex.
type Mutex struct {
	rw         sync.Mutex
	releasedCn chan struct{}
	destroyed  bool
}

// Lock blocks until the mutex is held by the caller. It fails once the mutex
// was destroyed.
func (mx *Mutex) Lock() error {
	for {
		cn, err := mx.occupy()
		if err != nil {
			return err
		}
		if cn == nil {
			return nil
		}
		<-cn
	}
}

func (mx *Mutex) Unlock() error {
	mx.rw.Lock()
	defer mx.rw.Unlock()

	if mx.destroyed {
		return ErrDestroyed
	}
	if mx.releasedCn == nil {
		return ErrNotHeld
	}
	close(mx.releasedCn)
	mx.releasedCn = nil
	return nil
}

// Hold is Lock bounded by ctx. It reports whether the mutex is held.
func (mx *Mutex) Hold(ctx context.Context) bool {
	for ctx.Err() == nil {
		cn, err := mx.occupy()
		if err != nil {
			return false
		}
		if cn == nil {
			return true
		}
		select {
		case <-cn:
		case <-ctx.Done():
			return false
		}
	}
	return false
}

func (mx *Mutex) TryHold() bool {
	cn, err := mx.occupy()
	return err == nil && cn == nil
}

// Release unlocks a held mutex and ignores misuse.
func (mx *Mutex) Release() {
	_ = mx.Unlock()
}

// Wait blocks until the mutex is free without taking it.
func (mx *Mutex) Wait(ctx context.Context) bool {
	mx.rw.Lock()
	cn := mx.releasedCn
	mx.rw.Unlock()
	if cn == nil {
		return ctx.Err() == nil
	}
	select {
	case <-cn:
		return true
	case <-ctx.Done():
		return false
	}
}

// Destroy invalidates the mutex. A held mutex cannot be destroyed.
func (mx *Mutex) Destroy() error {
	mx.rw.Lock()
	defer mx.rw.Unlock()

	if mx.destroyed {
		return ErrDestroyed
	}
	if mx.releasedCn != nil {
		return ErrBusy
	}
	mx.destroyed = true
	return nil
}

// occupy takes the mutex if it is free. Otherwise it returns the channel
// closed on the next release.
func (mx *Mutex) occupy() (chan struct{}, error) {
	mx.rw.Lock()
	defer mx.rw.Unlock()

	if mx.destroyed {
		return nil, ErrDestroyed
	}
	if mx.releasedCn == nil {
		mx.releasedCn = make(chan struct{})
		return nil, nil
	}
	return mx.releasedCn, nil
}

// Wrap adapts a sync.Locker, which never reports errors.
func Wrap(l sync.Locker) Locker {
	return stdLocker{l}
}

type stdLocker struct {
	l sync.Locker
}

func (s stdLocker) Lock() error {
	s.l.Lock()
	return nil
}

func (s stdLocker) Unlock() error {
	s.l.Unlock()
	return nil
}
