package vibrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kelindar/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{DefaultLevelMV: 2500, MaxTimeout: 2 * time.Second}
}

func newTestDevice(t *testing.T, port RegisterPort, cfg Config, opts ...Option) *Device {
	t.Helper()
	d, err := New(port, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d
}

func useManualClock(t *testing.T) *manualClock {
	t.Helper()
	c := &manualClock{}
	old := afterFunc
	afterFunc = c.afterFunc
	t.Cleanup(func() { afterFunc = old })
	return c
}

func TestNew_RejectsBadConfiguration(t *testing.T) {
	for _, cfg := range []Config{
		{DefaultLevelMV: 1199, MaxTimeout: time.Second},
		{DefaultLevelMV: 3101, MaxTimeout: time.Second},
		{DefaultLevelMV: 2000, MaxTimeout: 0},
	} {
		_, err := New(newFakePort(0), cfg)
		assert.ErrorIs(t, err, ErrConfiguration, "cfg=%+v", cfg)
	}

	_, err := New(nil, testConfig())
	assert.Error(t, err)
}

func TestNew_PutsRegisterInManualMode(t *testing.T) {
	port := newFakePort(0xFF)
	d := newTestDevice(t, port, testConfig())

	assert.Equal(t, byte(0x03), port.value())
	assert.Equal(t, 1, port.readCount())
	assert.Equal(t, 2500, d.Level())

	snap := d.Snapshot()
	assert.False(t, snap.On)
	assert.True(t, snap.RegisterValid)
	assert.Equal(t, byte(0x03), snap.Register)
}

func TestNew_RegisterFailureAbortsInit(t *testing.T) {
	port := newFakePort(0)
	port.failRead = 1
	_, err := New(port, testConfig())
	var rerr *RegisterIOError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "read", rerr.Op)
	assert.Equal(t, DefaultRegister, rerr.Reg)

	port = newFakePort(0)
	port.failWrites(1)
	_, err = New(port, testConfig())
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "write", rerr.Op)
}

func TestEnable_ZeroTurnsOff(t *testing.T) {
	port := newFakePort(0)
	d := newTestDevice(t, port, testConfig())

	d.Enable(time.Second)
	d.Flush()
	require.Equal(t, LevelFromMillivolts(2500).Field(), port.value()&driveSelMask)

	d.Enable(0)
	assert.Equal(t, time.Duration(0), d.RemainingTime())
	assert.False(t, d.Snapshot().On)

	d.Flush()
	assert.Equal(t, byte(0), port.value()&driveSelMask)
}

func TestEnable_NegativeIsOff(t *testing.T) {
	port := newFakePort(0)
	d := newTestDevice(t, port, testConfig())

	d.Enable(-5 * time.Millisecond)
	d.Flush()
	assert.False(t, d.Snapshot().On)
	assert.Equal(t, time.Duration(0), d.RemainingTime())
}

func TestEnable_RemainingTimeCountsDownAndExpires(t *testing.T) {
	port := newFakePort(0)
	aux := &fakeAux{}
	d := newTestDevice(t, port, testConfig(), WithAuxHook(aux))

	d.Enable(150 * time.Millisecond)
	r1 := d.RemainingTime()
	assert.Greater(t, r1, time.Duration(0))
	assert.LessOrEqual(t, r1, 150*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	r2 := d.RemainingTime()
	assert.Less(t, r2, r1)

	d.Flush()
	assert.NotZero(t, port.value()&driveSelMask)

	require.Eventually(t, func() bool {
		return !d.Snapshot().On
	}, time.Second, 5*time.Millisecond)
	d.Flush()

	assert.Equal(t, time.Duration(0), d.RemainingTime())
	assert.Equal(t, byte(0), port.value()&driveSelMask)

	aux.mu.Lock()
	defer aux.mu.Unlock()
	require.Len(t, aux.started, 1)
	assert.Equal(t, 150*time.Millisecond, aux.started[0])
	assert.Equal(t, 1, aux.stopped)
}

func TestEnable_ClampsToMaxTimeout(t *testing.T) {
	clock := useManualClock(t)
	cfg := testConfig()
	cfg.MaxTimeout = 300 * time.Millisecond
	d := newTestDevice(t, newFakePort(0), cfg)

	d.Enable(time.Hour)
	assert.LessOrEqual(t, d.RemainingTime(), 300*time.Millisecond)

	timers := clock.armed()
	require.Len(t, timers, 1)
	assert.Equal(t, 300*time.Millisecond, timers[0].d)
}

func TestEnable_SupersedesPreviousDeadline(t *testing.T) {
	clock := useManualClock(t)
	m := NewMetrics(prometheus.NewRegistry())
	d := newTestDevice(t, newFakePort(0), testConfig(), WithMetrics(m))

	d.Enable(500 * time.Millisecond)
	d.Enable(100 * time.Millisecond)
	assert.LessOrEqual(t, d.RemainingTime(), 100*time.Millisecond)

	timers := clock.armed()
	require.Len(t, timers, 2)
	assert.True(t, timers[0].stopped.Load(), "first countdown must be cancelled")
	assert.Equal(t, 100*time.Millisecond, timers[1].d)

	assert.False(t, timers[0].Fire())
	assert.True(t, d.Snapshot().On)

	assert.True(t, timers[1].Fire())
	assert.False(t, d.Snapshot().On)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.expiries))
}

func TestExpire_StaleGenerationIsNoop(t *testing.T) {
	useManualClock(t)
	d := newTestDevice(t, newFakePort(0), testConfig())

	d.Enable(time.Second)
	d.state.mu.Lock()
	stale := d.state.gen
	d.state.mu.Unlock()

	d.Enable(time.Second)
	d.expire(stale)
	assert.True(t, d.Snapshot().On)

	d.Enable(0)
	d.state.mu.Lock()
	cur := d.state.gen
	d.state.mu.Unlock()
	d.expire(cur)
	assert.False(t, d.Snapshot().On)
}

func TestEnable_ConcurrentCallsNeverOverlapApplies(t *testing.T) {
	port := newFakePort(0)
	port.delay = 5 * time.Millisecond
	d := newTestDevice(t, port, testConfig())
	initWrites := port.writeCount()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Enable(time.Second)
		}()
	}
	wg.Wait()
	d.Flush()

	assert.Equal(t, int32(1), port.maxInflight.Load())
	// All calls request the same on state, so only one write reaches hardware.
	assert.Equal(t, 1, port.writeCount()-initWrites)
}

func TestEnable_DuringRunningApplyIsFollowedByOneMoreApply(t *testing.T) {
	port := newFakePort(0)
	d := newTestDevice(t, port, testConfig())
	initWrites := port.writeCount()

	gate := make(chan struct{})
	port.gate = gate

	d.Enable(time.Second)
	require.Eventually(t, func() bool {
		return port.inflight.Load() == 1
	}, time.Second, time.Millisecond)

	d.Enable(0)
	d.Enable(0)
	assert.Equal(t, schedRunning, d.sched.state())

	close(gate)
	d.Flush()

	assert.Equal(t, 2, port.writeCount()-initWrites)
	assert.Equal(t, byte(0), port.value()&driveSelMask)
}

func TestSetLevel_UsedByNextApply(t *testing.T) {
	port := newFakePort(0)
	d := newTestDevice(t, port, testConfig())

	d.SetLevel(1800)
	assert.Equal(t, 1800, d.Level())
	assert.Zero(t, port.writeCount()-1, "SetLevel must not touch hardware")

	d.Enable(time.Second)
	d.Flush()
	assert.Equal(t, LevelFromMillivolts(1800).Field(), port.value()&driveSelMask)

	d.SetLevel(900)
	assert.Equal(t, 3100, d.Level())
}

func TestApply_WriteFailureInvalidatesImageAndRereads(t *testing.T) {
	port := newFakePort(0)
	disp := event.NewDispatcher()
	failed := make(chan ApplyFailedEvent, 1)
	unsub := event.Subscribe(disp, func(e ApplyFailedEvent) { failed <- e })
	defer unsub()

	m := NewMetrics(prometheus.NewRegistry())
	d := newTestDevice(t, port, testConfig(), WithEvents(disp), WithMetrics(m))
	require.Equal(t, 1, port.readCount())

	port.failWrites(1)
	d.Enable(time.Second)
	d.Flush()

	select {
	case e := <-failed:
		assert.True(t, e.On)
		var rerr *RegisterIOError
		assert.True(t, errors.As(e.Err, &rerr))
	case <-time.After(time.Second):
		t.Fatal("expected ApplyFailedEvent")
	}

	snap := d.Snapshot()
	assert.False(t, snap.RegisterValid)
	assert.NotEmpty(t, snap.LastError)
	assert.Equal(t, uint64(1), snap.WriteFailures)
	assert.True(t, snap.On, "logical state keeps tracking the request")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.registerErrors.WithLabelValues("write")))

	// No automatic retry.
	assert.Equal(t, 1, port.readCount())

	d.Enable(time.Second)
	d.Flush()
	assert.Equal(t, 2, port.readCount(), "next apply must re-read the register")
	assert.NotZero(t, port.value()&driveSelMask)
	assert.Empty(t, d.Snapshot().LastError)
}

func TestApply_PowerFailuresAreNotFatal(t *testing.T) {
	port := newFakePort(0)
	pwr := &fakePower{err: errors.New("rpm busy")}
	m := NewMetrics(prometheus.NewRegistry())
	d := newTestDevice(t, port, testConfig(), WithPower(pwr), WithMetrics(m))

	d.Enable(time.Second)
	d.Flush()
	assert.NotZero(t, port.value()&driveSelMask)

	d.Enable(0)
	d.Flush()
	assert.Zero(t, port.value()&driveSelMask)

	resumes, suspends := pwr.counts()
	assert.Equal(t, 1, resumes)
	// One at init, one after the off write.
	assert.Equal(t, 2, suspends)
	assert.Empty(t, d.Snapshot().LastError)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.powerErrors.WithLabelValues("resume")))
}

func TestSuspend_ForcesOffBeforeReturning(t *testing.T) {
	port := newFakePort(0)
	d := newTestDevice(t, port, testConfig())

	d.Enable(time.Second)
	require.NoError(t, d.Suspend(context.Background()))

	assert.Zero(t, port.value()&driveSelMask)
	assert.Equal(t, time.Duration(0), d.RemainingTime())
	snap := d.Snapshot()
	assert.False(t, snap.On)
	assert.True(t, snap.Suspended)

	// Already off: the forced apply still writes.
	before := port.writeCount()
	require.NoError(t, d.Suspend(context.Background()))
	assert.Equal(t, before+1, port.writeCount())

	require.NoError(t, d.Resume(context.Background()))
	assert.False(t, d.Snapshot().Suspended)

	d.Enable(time.Second)
	d.Flush()
	assert.NotZero(t, port.value()&driveSelMask)
}

func TestSuspend_WaitsForRunningApply(t *testing.T) {
	port := newFakePort(0)
	d := newTestDevice(t, port, testConfig())

	gate := make(chan struct{})
	port.gate = gate
	d.Enable(time.Second)
	require.Eventually(t, func() bool {
		return port.inflight.Load() == 1
	}, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- d.Suspend(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Suspend returned while an apply was running")
	case <-time.After(30 * time.Millisecond):
	}

	close(gate)
	require.NoError(t, <-done)
	assert.Zero(t, port.value()&driveSelMask)
}

func TestSuspend_ReportsForcedWriteFailure(t *testing.T) {
	port := newFakePort(0)
	d := newTestDevice(t, port, testConfig())

	port.failWrites(1)
	err := d.Suspend(context.Background())
	var rerr *RegisterIOError
	require.ErrorAs(t, err, &rerr)
}

func TestClose_IsIdempotentAndStopsEnable(t *testing.T) {
	port := newFakePort(0)
	d, err := New(port, testConfig())
	require.NoError(t, err)

	d.Enable(time.Second)
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))
	assert.Zero(t, port.value()&driveSelMask)

	writes := port.writeCount()
	d.Enable(time.Second)
	d.Flush()
	assert.Equal(t, writes, port.writeCount())
	assert.ErrorIs(t, d.Suspend(context.Background()), ErrClosed)
}

func TestEvents_AppliedPublished(t *testing.T) {
	disp := event.NewDispatcher()
	got := make(chan AppliedEvent, 4)
	unsub := event.Subscribe(disp, func(e AppliedEvent) { got <- e })
	defer unsub()

	d := newTestDevice(t, newFakePort(0), testConfig(), WithEvents(disp))
	d.Enable(time.Second)
	d.Flush()

	select {
	case e := <-got:
		assert.True(t, e.On)
		assert.Equal(t, 2500, e.LevelMV)
		assert.Equal(t, LevelFromMillivolts(2500).Field(), e.Register&driveSelMask)
	case <-time.After(time.Second):
		t.Fatal("expected AppliedEvent")
	}
}

func TestClose_RacingEnableEndsOff(t *testing.T) {
	port := newFakePort(0)
	d, err := New(port, testConfig())
	require.NoError(t, err)
	gate := make(chan struct{})
	port.gate = gate

	// Park Enable and Close on the state lock so they contend for it.
	d.state.mu.Lock()
	enableDone := make(chan struct{})
	go func() {
		d.Enable(time.Second)
		close(enableDone)
	}()
	closeDone := make(chan error, 1)
	go func() { closeDone <- d.Close(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	d.state.mu.Unlock()

	time.Sleep(10 * time.Millisecond)
	close(gate)
	<-enableDone
	select {
	case err := <-closeDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	assert.Zero(t, port.value()&driveSelMask)
	assert.False(t, d.Snapshot().On)
	assert.Equal(t, time.Duration(0), d.RemainingTime())
}

func TestClose_ConcurrentEnablesNeverLeaveActuatorOn(t *testing.T) {
	for i := 0; i < 50; i++ {
		port := newFakePort(0)
		d, err := New(port, testConfig())
		require.NoError(t, err)

		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for k := 0; k < 5; k++ {
					d.Enable(time.Second)
				}
			}()
		}
		require.NoError(t, d.Close(context.Background()))
		wg.Wait()

		require.Zero(t, port.value()&driveSelMask, "iteration %d", i)
		require.False(t, d.Snapshot().On, "iteration %d", i)
	}
}

func TestClose_CancelledContextStillForcesOff(t *testing.T) {
	port := newFakePort(0)
	d, err := New(port, testConfig())
	require.NoError(t, err)

	d.Enable(time.Second)
	d.Flush()
	require.NotZero(t, port.value()&driveSelMask)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Close(ctx))
	assert.Zero(t, port.value()&driveSelMask)
}

func TestSuspend_CancelledContextDoesNotMarkSuspended(t *testing.T) {
	port := newFakePort(0)
	d := newTestDevice(t, port, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Suspend(ctx), context.Canceled)
	assert.False(t, d.Snapshot().Suspended)

	require.NoError(t, d.Suspend(context.Background()))
	assert.True(t, d.Snapshot().Suspended)
}

func TestApply_ReadFailureLeavesPowerDown(t *testing.T) {
	port := newFakePort(0)
	pwr := &fakePower{}
	d := newTestDevice(t, port, testConfig(), WithPower(pwr))

	// A failed write drops the cached image so the next apply must read.
	port.failWrites(1)
	d.Enable(time.Second)
	d.Flush()
	resumes, _ := pwr.counts()
	require.Equal(t, 1, resumes)

	port.mu.Lock()
	port.failRead = 1
	port.mu.Unlock()
	d.SetLevel(2000)
	d.Enable(time.Second)
	d.Flush()

	resumes, _ = pwr.counts()
	assert.Equal(t, 1, resumes, "power must not come up when the register cannot be read")
	assert.NotEmpty(t, d.Snapshot().LastError)
}
