package worker

import "github.com/pkg/errors"

var (
	ErrNilMutex      = errors.New("nil mutex")
	ErrAllocation    = errors.New("allocate request record")
	ErrThreadStart   = errors.New("start worker routine")
	ErrPoolExhausted = errors.New("request pool exhausted")
)

// Failure names the step at which a worker gave up.
type Failure int

const (
	FailureNone Failure = iota
	FailureLock
	FailureUnlock
)

func (f Failure) String() string {
	switch f {
	case FailureNone:
		return "none"
	case FailureLock:
		return "lock"
	case FailureUnlock:
		return "unlock"
	default:
		return "unknown"
	}
}
