package vibrator

import (
	"context"
	"sync"
)

type schedState int

const (
	schedIdle schedState = iota
	schedPending
	schedRunning
)

func (s schedState) String() string {
	switch s {
	case schedIdle:
		return "idle"
	case schedPending:
		return "pending"
	case schedRunning:
		return "running"
	default:
		return "unknown"
	}
}

type schedJob struct {
	fn   func()
	done chan struct{}
}

// scheduler runs apply tasks one at a time on a single worker goroutine.
//
// There is at most one apply token. Kick while Idle queues it; Kick while
// Pending is absorbed; Kick while Running marks a rerun so exactly one more
// apply follows the current one.
type scheduler struct {
	apply func()

	mu       sync.Mutex
	cond     *sync.Cond
	st       schedState
	rerun    bool
	stopping bool

	kick chan struct{}
	jobs chan schedJob

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newScheduler(apply func()) *scheduler {
	s := &scheduler{
		apply:  apply,
		kick:   make(chan struct{}, 1),
		jobs:   make(chan schedJob),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *scheduler) start() {
	go s.loop()
}

// Kick requests an apply. It reports false when the request was coalesced
// into an apply that is already queued.
func (s *scheduler) Kick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	switch s.st {
	case schedIdle:
		s.st = schedPending
		s.signalLocked()
		return true
	case schedRunning:
		if !s.rerun {
			s.rerun = true
			return true
		}
	}
	return false
}

func (s *scheduler) signalLocked() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Cancel drops a queued apply and waits for a running one to finish.
func (s *scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st == schedPending {
		s.st = schedIdle
	}
	s.rerun = false
	for s.st == schedRunning {
		s.cond.Wait()
	}
}

// WaitIdle blocks until nothing is queued or running.
func (s *scheduler) WaitIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.st != schedIdle {
		s.cond.Wait()
	}
}

// Do runs fn on the worker as an exclusive task and waits for it.
// A queued apply is kept and runs after fn.
func (s *scheduler) Do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	j := schedJob{fn: fn, done: make(chan struct{})}
	select {
	case s.jobs <- j:
	case <-s.doneCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-j.done
	return nil
}

func (s *scheduler) state() schedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

// shutdown stops the worker after the task in progress. Kicks from then
// on are dropped and a queued apply never runs.
func (s *scheduler) shutdown() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopping = true
		s.rerun = false
		if s.st == schedPending {
			s.st = schedIdle
		}
		s.cond.Broadcast()
		s.mu.Unlock()
		close(s.stopCh)
	})
	<-s.doneCh
}

func (s *scheduler) loop() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		case j := <-s.jobs:
			s.exclusive(j.fn)
			close(j.done)
		case <-s.kick:
			s.runPending()
		}
	}
}

func (s *scheduler) runPending() {
	s.mu.Lock()
	if s.st != schedPending {
		// Cancelled after the kick was sent.
		s.mu.Unlock()
		return
	}
	s.st = schedRunning
	s.mu.Unlock()

	s.apply()
	s.finish()
}

func (s *scheduler) exclusive(fn func()) {
	s.mu.Lock()
	if s.st == schedPending {
		s.rerun = true
	}
	s.st = schedRunning
	s.mu.Unlock()

	fn()
	s.finish()
}

func (s *scheduler) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rerun {
		s.rerun = false
		s.st = schedPending
		s.signalLocked()
	} else {
		s.st = schedIdle
	}
	s.cond.Broadcast()
}
