package vibrator

import "time"

// Event type identifiers for the kelindar/event dispatcher.
const (
	TypeApplied uint32 = iota + 0x5100
	TypeApplyFailed
)

// AppliedEvent is published after the control register was brought in line
// with the requested state.
type AppliedEvent struct {
	On       bool      `json:"on"`
	LevelMV  int       `json:"level_mv"`
	Register byte      `json:"register"`
	Forced   bool      `json:"forced,omitempty"`
	At       time.Time `json:"at"`
}

func (e AppliedEvent) Type() uint32 { return TypeApplied }

// ApplyFailedEvent is published when an apply could not reach the hardware.
// The actuator state is unknown until a later apply succeeds.
type ApplyFailedEvent struct {
	On      bool      `json:"on"`
	LevelMV int       `json:"level_mv"`
	Forced  bool      `json:"forced,omitempty"`
	Err     error     `json:"-"`
	Message string    `json:"error"`
	At      time.Time `json:"at"`
}

func (e ApplyFailedEvent) Type() uint32 { return TypeApplyFailed }
