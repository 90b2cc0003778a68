package vibrator

import (
	"sync"
	"time"
)

type stopper interface {
	Stop() bool
}

var afterFunc = func(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// expiryTimer is a single-shot countdown. Each Arm gets a new generation,
// which is handed to the fire callback so stale fires can be told apart.
//
// Stop is synchronous: when it returns, no callback from an earlier arm is
// running or will run. Callers must not hold locks the callback takes.
type expiryTimer struct {
	fire func(gen uint64)

	mu   sync.Mutex
	t    stopper
	done chan struct{}
	gen  uint64
}

func newExpiryTimer(fire func(gen uint64)) *expiryTimer {
	return &expiryTimer{fire: fire}
}

// Arm starts a countdown of d, superseding any previous arm. It does not wait
// for a previous callback; that callback sees an old generation.
func (et *expiryTimer) Arm(d time.Duration) uint64 {
	et.mu.Lock()
	defer et.mu.Unlock()

	et.stopLocked()
	et.gen++
	gen := et.gen
	done := make(chan struct{})
	et.done = done
	et.t = afterFunc(d, func() {
		defer close(done)
		et.fire(gen)
	})
	return gen
}

func (et *expiryTimer) Stop() {
	et.mu.Lock()
	wait := et.stopLocked()
	et.mu.Unlock()
	if wait != nil {
		<-wait
	}
}

// stopLocked cancels the armed countdown. If the callback already started it
// returns a channel closed when the callback finishes.
func (et *expiryTimer) stopLocked() <-chan struct{} {
	if et.t == nil {
		return nil
	}
	t, done := et.t, et.done
	et.t, et.done = nil, nil
	if t.Stop() {
		close(done)
		return nil
	}
	return done
}
