package board

import (
	"time"

	"go.uber.org/zap"
)

// DefaultAuxMinDuration is the shortest vibration that raises the aux line.
const DefaultAuxMinDuration = 500 * time.Millisecond

// AuxLine raises an auxiliary supply line for vibrations of at least
// MinDuration and drops it again when the vibration stops. Shorter
// vibrations leave the line alone. Failures are logged, never returned.
type AuxLine struct {
	out *lineOutput
	min time.Duration
	log *zap.Logger
}

func NewAuxLine(lineName string, minDuration time.Duration, log *zap.Logger) (*AuxLine, error) {
	out, err := openOutput(lineName, "pmicvib-aux")
	if err != nil {
		return nil, err
	}
	if minDuration <= 0 {
		minDuration = DefaultAuxMinDuration
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AuxLine{out: out, min: minDuration, log: log.Named("aux")}, nil
}

func (a *AuxLine) VibrationStarted(d time.Duration) {
	if d < a.min {
		return
	}
	changed, err := a.out.set(1)
	if err != nil {
		a.log.Warn("aux line on failed", zap.Error(err))
		return
	}
	if changed {
		a.log.Debug("aux line on", zap.Duration("duration", d))
	}
}

func (a *AuxLine) VibrationStopped() {
	changed, err := a.out.set(0)
	if err != nil {
		a.log.Warn("aux line off failed", zap.Error(err))
		return
	}
	if changed {
		a.log.Debug("aux line off")
	}
}

// Active reports whether the aux line is currently high.
func (a *AuxLine) Active() bool { return a.out.get() == 1 }

func (a *AuxLine) Close() error { return a.out.close() }
