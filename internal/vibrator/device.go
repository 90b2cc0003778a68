// Package vibrator drives a PMIC haptic actuator as a timed on/off device.
//
// Callers request "on for d" through Enable; the request is recorded in
// memory, an expiry timer is armed and a single worker goroutine brings the
// control register in line with the latest state. Enable and the other
// accessors never touch hardware.
package vibrator

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kelindar/event"
	"go.uber.org/zap"
)

type Config struct {
	// DefaultLevelMV is the initial drive level; it must be in
	// [MinLevelMV, MaxLevelMV].
	DefaultLevelMV int
	// MaxTimeout caps every Enable duration.
	MaxTimeout time.Duration
	// Register is the control register address. Zero selects DefaultRegister.
	Register uint16
}

type Option func(*Device)

func WithPower(p PowerState) Option {
	return func(d *Device) {
		if p != nil {
			d.power = p
		}
	}
}

func WithAuxHook(h AuxHook) Option {
	return func(d *Device) {
		if h != nil {
			d.aux = h
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(d *Device) { d.metrics = m }
}

// WithEvents publishes AppliedEvent and ApplyFailedEvent on disp.
func WithEvents(disp *event.Dispatcher) Option {
	return func(d *Device) { d.events = disp }
}

// Snapshot is a point-in-time view of the device for status surfaces.
type Snapshot struct {
	On          bool   `json:"on"`
	LevelMV     int    `json:"level_mv"`
	RemainingMS int64  `json:"remaining_ms"`
	MaxTimeout  string `json:"max_timeout"`
	Scheduler   string `json:"scheduler"`
	Suspended   bool   `json:"suspended"`

	RegisterValid bool `json:"register_valid"`
	Register      byte `json:"register"`

	Applies       uint64    `json:"applies"`
	WriteFailures uint64    `json:"write_failures"`
	LastApplyAt   time.Time `json:"last_apply_utc,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

type applyStats struct {
	registerValid bool
	register      byte
	applies       uint64
	writeFailures uint64
	lastApplyAt   time.Time
	lastError     string
	suspended     bool
}

// Device is one vibrator instance. It is owned by whoever created it; there
// is no package-level instance.
type Device struct {
	port       RegisterPort
	reg        uint16
	maxTimeout time.Duration

	power   PowerState
	aux     AuxHook
	log     *zap.Logger
	metrics *Metrics
	events  *event.Dispatcher

	state vibState
	timer *expiryTimer
	sched *scheduler

	// image is owned by the worker.
	image registerImage

	statMu sync.RWMutex
	stats  applyStats

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New validates cfg, puts the control register into manual mode and starts
// the apply worker. A register failure here aborts initialization.
func New(port RegisterPort, cfg Config, opts ...Option) (*Device, error) {
	if port == nil {
		return nil, fmt.Errorf("vibrator: register port is nil")
	}
	if cfg.DefaultLevelMV < MinLevelMV || cfg.DefaultLevelMV > MaxLevelMV {
		return nil, fmt.Errorf("%w: default level %d mV outside [%d,%d]", ErrConfiguration, cfg.DefaultLevelMV, MinLevelMV, MaxLevelMV)
	}
	if cfg.MaxTimeout <= 0 {
		return nil, fmt.Errorf("%w: max timeout must be > 0", ErrConfiguration)
	}
	if cfg.Register == 0 {
		cfg.Register = DefaultRegister
	}

	d := &Device{
		port:       port,
		reg:        cfg.Register,
		maxTimeout: cfg.MaxTimeout,
		power:      nopPower{},
		aux:        nopAux{},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.state.level = LevelFromMillivolts(cfg.DefaultLevelMV)

	val, err := d.image.load(port, d.reg)
	if err != nil {
		return nil, fmt.Errorf("vibrator: init: %w", err)
	}
	val = manualMode(val)
	if err := port.WriteRegister(d.reg, val); err != nil {
		return nil, fmt.Errorf("vibrator: init: %w", &RegisterIOError{Op: "write", Reg: d.reg, Err: err})
	}
	d.image.store(val)
	d.stats.registerValid = true
	d.stats.register = val

	if err := d.power.Suspend(); err != nil {
		d.powerFailed("suspend", err)
	}

	d.timer = newExpiryTimer(d.expire)
	d.sched = newScheduler(d.applyCurrent)
	d.sched.start()

	d.log.Info("vibrator ready",
		zap.Uint16("register", d.reg),
		zap.Uint8("value", val),
		zap.Int("level_mv", d.state.level.Millivolts()),
		zap.Duration("max_timeout", d.maxTimeout))
	return d, nil
}

// Enable turns the actuator on for dur, or off when dur <= 0. Durations above
// the configured maximum are clamped. A new call supersedes any running
// countdown. Enable returns without waiting for hardware.
func (d *Device) Enable(dur time.Duration) {
	if d.closed.Load() {
		return
	}
	d.metrics.request()

	d.timer.Stop()

	d.state.mu.Lock()
	// Close flips closed under this lock, so no request lands after teardown.
	if d.closed.Load() {
		d.state.mu.Unlock()
		return
	}
	if dur <= 0 {
		d.state.setOffLocked()
	} else {
		if dur > d.maxTimeout {
			dur = d.maxTimeout
		}
		d.state.on = true
		d.state.deadline = timeNow().Add(dur)
		d.state.armedFor = dur
		d.state.gen = d.timer.Arm(dur)
	}
	d.state.mu.Unlock()

	d.log.Debug("enable", zap.Duration("duration", dur))
	d.schedule()
}

// RemainingTime is the time left until the armed deadline, or 0.
func (d *Device) RemainingTime() time.Duration {
	return d.state.remaining(timeNow())
}

// SetLevel stores the drive level used by the next on-apply.
func (d *Device) SetLevel(mv int) {
	level := LevelFromMillivolts(mv)
	d.state.mu.Lock()
	d.state.level = level
	d.state.mu.Unlock()
	d.log.Debug("level set", zap.Int("requested_mv", mv), zap.Int("level_mv", level.Millivolts()))
}

// Level returns the stored drive level in millivolts.
func (d *Device) Level() int {
	d.state.mu.Lock()
	defer d.state.mu.Unlock()
	return d.state.level.Millivolts()
}

// Flush waits until no apply is queued or running.
func (d *Device) Flush() {
	if d.closed.Load() {
		return
	}
	d.sched.WaitIdle()
}

func (d *Device) Snapshot() Snapshot {
	d.state.mu.Lock()
	on, level := d.state.on, d.state.level
	d.state.mu.Unlock()

	d.statMu.RLock()
	st := d.stats
	d.statMu.RUnlock()

	return Snapshot{
		On:            on,
		LevelMV:       level.Millivolts(),
		RemainingMS:   d.RemainingTime().Milliseconds(),
		MaxTimeout:    d.maxTimeout.String(),
		Scheduler:     d.sched.state().String(),
		Suspended:     st.suspended,
		RegisterValid: st.registerValid,
		Register:      st.register,
		Applies:       st.applies,
		WriteFailures: st.writeFailures,
		LastApplyAt:   st.lastApplyAt,
		LastError:     st.lastError,
	}
}

// expire runs on the timer goroutine.
func (d *Device) expire(gen uint64) {
	d.state.mu.Lock()
	if !d.state.on || d.state.gen != gen {
		d.state.mu.Unlock()
		return
	}
	d.state.setOffLocked()
	d.state.mu.Unlock()

	d.metrics.expired()
	d.log.Debug("vibration deadline reached")
	d.schedule()
}

func (d *Device) schedule() {
	if !d.sched.Kick() {
		d.metrics.coalesce()
	}
}
