// Package pool provides pooled objects for the hot paths of a HiSLIP session.
package pool

import (
	"sync"
	"time"
)

var timerPool sync.Pool

// GetTimer returns a timer from the pool, armed to fire after d.
//
// The timer must be returned with PutTimer once the caller no longer selects on its channel.
func GetTimer(d time.Duration) *time.Timer {
	t, ok := timerPool.Get().(*time.Timer)
	if !ok {
		return time.NewTimer(d)
	}

	// timers created by a go1.23+ module never deliver a stale value after Stop/Reset
	t.Reset(d)

	return t
}

// PutTimer stops t and returns it to the pool. t must not be used after the call.
func PutTimer(t *time.Timer) {
	t.Stop()
	timerPool.Put(t)
}

// GetTimerOrNever is like GetTimer, but returns a nil channel for d <= 0, which blocks forever
// in a select statement. The returned release function must be called when done.
func GetTimerOrNever(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}

	t := GetTimer(d)

	return t.C, func() { PutTimer(t) }
}
