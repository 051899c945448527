package randtime

import (
	"time"

	"github.com/valyala/fastrand"
)

const maxUint32 = time.Duration(^uint32(0))

// RandDuration returns a duration in [minDuration, maxDuration). Spans longer
// than about four seconds are drawn with millisecond resolution.
func RandDuration(minDuration, maxDuration time.Duration) time.Duration {
	if minDuration >= maxDuration {
		return maxDuration
	}
	span := maxDuration - minDuration
	if span <= maxUint32 {
		return minDuration + time.Duration(fastrand.Uint32n(uint32(span)))
	}
	ms := span / time.Millisecond
	if ms > maxUint32 {
		ms = maxUint32
	}
	return minDuration + time.Duration(fastrand.Uint32n(uint32(ms)))*time.Millisecond
}
