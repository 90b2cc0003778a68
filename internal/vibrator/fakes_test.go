package vibrator

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var errBus = errors.New("bus nak")

type fakePort struct {
	mu       sync.Mutex
	reg      byte
	reads    int
	writes   []byte
	failRead int
	failNext int

	// gate, when set, blocks every write until a value is received.
	gate chan struct{}

	inflight    atomic.Int32
	maxInflight atomic.Int32
	delay       time.Duration
}

func newFakePort(initial byte) *fakePort {
	return &fakePort{reg: initial}
}

func (p *fakePort) ReadRegister(reg uint16) (byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failRead > 0 {
		p.failRead--
		return 0, errBus
	}
	p.reads++
	return p.reg, nil
}

func (p *fakePort) WriteRegister(reg uint16, v byte) error {
	n := p.inflight.Add(1)
	defer p.inflight.Add(-1)
	for {
		m := p.maxInflight.Load()
		if n <= m || p.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if p.gate != nil {
		<-p.gate
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext > 0 {
		p.failNext--
		return errBus
	}
	p.reg = v
	p.writes = append(p.writes, v)
	return nil
}

func (p *fakePort) value() byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reg
}

func (p *fakePort) readCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}

func (p *fakePort) writeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writes)
}

func (p *fakePort) failWrites(n int) {
	p.mu.Lock()
	p.failNext = n
	p.mu.Unlock()
}

type fakePower struct {
	mu       sync.Mutex
	resumes  int
	suspends int
	err      error
}

func (f *fakePower) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	return f.err
}

func (f *fakePower) Suspend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suspends++
	return f.err
}

func (f *fakePower) counts() (resumes, suspends int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumes, f.suspends
}

type fakeAux struct {
	mu      sync.Mutex
	started []time.Duration
	stopped int
}

func (f *fakeAux) VibrationStarted(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, d)
}

func (f *fakeAux) VibrationStopped() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

// manualTimer replaces afterFunc so tests decide when countdowns fire.
type manualTimer struct {
	d       time.Duration
	f       func()
	stopped atomic.Bool
	fired   atomic.Bool
}

func (m *manualTimer) Stop() bool {
	if m.fired.Load() {
		return false
	}
	return m.stopped.CompareAndSwap(false, true)
}

// Fire runs the callback unless the timer was stopped first.
func (m *manualTimer) Fire() bool {
	if m.stopped.Load() || !m.fired.CompareAndSwap(false, true) {
		return false
	}
	m.f()
	return true
}

type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (c *manualClock) afterFunc(d time.Duration, f func()) stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) armed() []*manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*manualTimer(nil), c.timers...)
}
