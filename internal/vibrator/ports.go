package vibrator

import "time"

// RegisterPort is synchronous byte access to PMIC registers.
// Calls may fail transiently; the vibrator never retries on its own.
type RegisterPort interface {
	ReadRegister(reg uint16) (byte, error)
	WriteRegister(reg uint16, v byte) error
}

// PowerState controls the runtime power state of the actuator supply.
// Failures are logged and otherwise ignored.
type PowerState interface {
	Resume() error
	Suspend() error
}

// AuxHook is told about actuator transitions so board code can apply side
// effects (for example a camera VCM workaround). Implementations must not
// block; they are called from the apply worker.
type AuxHook interface {
	VibrationStarted(d time.Duration)
	VibrationStopped()
}

type nopPower struct{}

func (nopPower) Resume() error  { return nil }
func (nopPower) Suspend() error { return nil }

type nopAux struct{}

func (nopAux) VibrationStarted(time.Duration) {}
func (nopAux) VibrationStopped()              {}
