package vibrator

import (
	"context"

	"go.uber.org/zap"
)

// Suspend prepares for a system sleep: the countdown is cancelled, queued
// work is dropped, a running apply is waited for, and the actuator is forced
// off on the worker before Suspend returns. The logical state is left off.
//
// The returned error is the register failure of the forced off, if any.
func (d *Device) Suspend(ctx context.Context) error {
	if d.closed.Load() {
		return ErrClosed
	}
	ran, err := d.drainAndForceOff(ctx, false)
	if !ran {
		d.log.Warn("vibrator suspend aborted", zap.Error(err))
		return err
	}

	d.statMu.Lock()
	d.stats.suspended = true
	d.statMu.Unlock()

	d.log.Info("vibrator suspended", zap.Error(err))
	return err
}

// Resume takes no hardware action; the next Enable powers the actuator.
func (d *Device) Resume(ctx context.Context) error {
	if d.closed.Load() {
		return ErrClosed
	}
	d.statMu.Lock()
	d.stats.suspended = false
	d.statMu.Unlock()

	d.log.Info("vibrator resumed")
	return nil
}

// Close drains and forces the actuator off like Suspend, then stops the
// worker. Later Enable calls are ignored. Close is idempotent.
//
// If ctx ends before the worker takes the forced off, the off is written
// directly once the worker has stopped.
func (d *Device) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		ran, err := d.drainAndForceOff(ctx, true)
		d.sched.shutdown()
		d.timer.Stop()
		if !ran {
			req := d.offRequest()
			err = d.set(req, true)
			d.report(req, true, err)
		}
		d.closeErr = err
		d.log.Info("vibrator closed", zap.Error(d.closeErr))
	})
	return d.closeErr
}

// drainAndForceOff cancels the countdown and queued work, then runs a forced
// off on the worker. ran reports whether that forced off executed; when it
// did, err is its register error.
func (d *Device) drainAndForceOff(ctx context.Context, closing bool) (ran bool, err error) {
	d.timer.Stop()

	d.state.mu.Lock()
	if closing {
		d.closed.Store(true)
	}
	d.state.setOffLocked()
	d.state.mu.Unlock()

	d.sched.Cancel()

	if derr := d.sched.Do(ctx, func() {
		ran = true
		req := d.offRequest()
		err = d.set(req, true)
		d.report(req, true, err)
	}); derr != nil {
		return false, derr
	}
	return ran, err
}

func (d *Device) offRequest() request {
	d.state.mu.Lock()
	defer d.state.mu.Unlock()
	return request{on: false, level: d.state.level}
}
