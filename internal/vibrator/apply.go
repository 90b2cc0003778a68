package vibrator

import (
	"errors"
	"time"

	"github.com/kelindar/event"
	"go.uber.org/zap"
)

// applyCurrent is the scheduler's task: realize whatever is requested now.
func (d *Device) applyCurrent() {
	req := d.state.current()
	err := d.set(req, false)
	d.report(req, false, err)
}

// set writes the control register for req. Only the worker calls it.
//
// Unless force is set, a write that would not change a valid cached image is
// skipped. Register failures invalidate the image so the next apply starts
// from a fresh read. Power and aux hook failures are logged only.
func (d *Device) set(req request, force bool) error {
	if req.on {
		cur, err := d.image.load(d.port, d.reg)
		if err != nil {
			return err
		}
		if err := d.power.Resume(); err != nil {
			d.powerFailed("resume", err)
		}
		val := withDriveField(cur, req.level.Field())
		if force || val != cur {
			if err := d.port.WriteRegister(d.reg, val); err != nil {
				d.image.invalidate()
				return &RegisterIOError{Op: "write", Reg: d.reg, Err: err}
			}
			d.image.store(val)
		}
		d.aux.VibrationStarted(req.armedFor)
		return nil
	}

	cur, err := d.image.load(d.port, d.reg)
	if err != nil {
		d.aux.VibrationStopped()
		return err
	}
	val := withDriveField(cur, 0)
	var werr error
	if force || val != cur {
		werr = d.port.WriteRegister(d.reg, val)
	}
	d.aux.VibrationStopped()
	if werr != nil {
		d.image.invalidate()
		return &RegisterIOError{Op: "write", Reg: d.reg, Err: werr}
	}
	d.image.store(val)
	if err := d.power.Suspend(); err != nil {
		d.powerFailed("suspend", err)
	}
	return nil
}

// report publishes the outcome of an apply on the status channels: snapshot,
// metrics, events and the log.
func (d *Device) report(req request, forced bool, err error) {
	now := time.Now().UTC()

	d.statMu.Lock()
	d.stats.applies++
	d.stats.lastApplyAt = now
	d.stats.registerValid = d.image.valid
	d.stats.register = d.image.val
	if err != nil {
		d.stats.writeFailures++
		d.stats.lastError = err.Error()
	} else {
		d.stats.lastError = ""
	}
	reg := d.stats.register
	d.statMu.Unlock()

	d.metrics.applied(req.on, err)

	if err != nil {
		var rerr *RegisterIOError
		if errors.As(err, &rerr) {
			d.metrics.registerError(rerr.Op)
		}
		d.log.Error("vibrator apply failed",
			zap.Bool("on", req.on),
			zap.Bool("forced", forced),
			zap.Int("level_mv", req.level.Millivolts()),
			zap.Error(err))
		if d.events != nil {
			event.Publish(d.events, ApplyFailedEvent{
				On:      req.on,
				LevelMV: req.level.Millivolts(),
				Forced:  forced,
				Err:     err,
				Message: err.Error(),
				At:      now,
			})
		}
		return
	}

	d.log.Debug("vibrator applied",
		zap.Bool("on", req.on),
		zap.Bool("forced", forced),
		zap.Int("level_mv", req.level.Millivolts()),
		zap.Uint8("register", reg))
	if d.events != nil {
		event.Publish(d.events, AppliedEvent{
			On:       req.on,
			LevelMV:  req.level.Millivolts(),
			Register: reg,
			Forced:   forced,
			At:       now,
		})
	}
}

func (d *Device) powerFailed(op string, err error) {
	perr := &PowerStateError{Op: op, Err: err}
	d.metrics.powerError(op)
	d.log.Warn("vibrator power transition failed", zap.Error(perr))
}
