package vibrator

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports an unusable initial configuration.
	ErrConfiguration = errors.New("vibrator: invalid configuration")
	ErrClosed        = errors.New("vibrator: device closed")
)

// RegisterIOError is a failed read or write of the control register.
// After a failed write the hardware state is unknown until the next
// successful apply.
type RegisterIOError struct {
	Op  string
	Reg uint16
	Err error
}

func (e *RegisterIOError) Error() string {
	return fmt.Sprintf("vibrator: register %s 0x%02X: %v", e.Op, e.Reg, e.Err)
}

func (e *RegisterIOError) Unwrap() error { return e.Err }

// PowerStateError is a failed power resume/suspend. It is logged and never
// returned to callers.
type PowerStateError struct {
	Op  string
	Err error
}

func (e *PowerStateError) Error() string {
	return fmt.Sprintf("vibrator: power %s: %v", e.Op, e.Err)
}

func (e *PowerStateError) Unwrap() error { return e.Err }
