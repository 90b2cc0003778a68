package vibrator

import (
	"sync"
	"time"
)

var timeNow = time.Now

// vibState is the logical actuator state.
//
// Invariant: deadline is non-zero iff on. gen is the expiry timer arm
// generation that owns the current deadline; fires from older arms are
// ignored. Mutations happen with mu held, together with the timer arm.
type vibState struct {
	mu       sync.Mutex
	on       bool
	level    DriveLevel
	deadline time.Time
	armedFor time.Duration
	gen      uint64
}

func (s *vibState) setOffLocked() {
	s.on = false
	s.deadline = time.Time{}
	s.armedFor = 0
}

// request is what an apply realizes. It is read when the apply runs, not
// when it was scheduled.
type request struct {
	on       bool
	level    DriveLevel
	armedFor time.Duration
}

func (s *vibState) current() request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return request{on: s.on, level: s.level, armedFor: s.armedFor}
}

func (s *vibState) remaining(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.on {
		return 0
	}
	r := s.deadline.Sub(now)
	if r < 0 {
		return 0
	}
	return r
}

// registerImage caches the last byte known to be in the control register.
// Only the apply worker touches it.
type registerImage struct {
	val   byte
	valid bool
}

func (img *registerImage) load(port RegisterPort, reg uint16) (byte, error) {
	if img.valid {
		return img.val, nil
	}
	v, err := port.ReadRegister(reg)
	if err != nil {
		return 0, &RegisterIOError{Op: "read", Reg: reg, Err: err}
	}
	img.store(v)
	return v, nil
}

func (img *registerImage) store(v byte) {
	img.val = v
	img.valid = true
}

func (img *registerImage) invalidate() {
	img.val = 0
	img.valid = false
}
