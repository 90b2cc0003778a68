package vibrator

const (
	MinLevelMV = 1200
	MaxLevelMV = 3100

	// DefaultRegister is the PMIC vibrator drive control register (VIB_DRV).
	DefaultRegister uint16 = 0x4A

	driveSelMask     byte = 0xF8
	driveSelShift         = 3
	manualEnableMask byte = 0xFC
)

// DriveLevel is the actuator intensity in 100 mV steps, as stored in the
// drive-select field of the control register.
type DriveLevel uint8

// LevelFromMillivolts converts a millivolt intensity into a DriveLevel.
//
// Anything outside [MinLevelMV, MaxLevelMV] selects the maximum level,
// including values below the minimum.
func LevelFromMillivolts(mv int) DriveLevel {
	if mv < MinLevelMV || mv > MaxLevelMV {
		mv = MaxLevelMV
	}
	return DriveLevel(mv / 100)
}

func (l DriveLevel) Millivolts() int { return int(l) * 100 }

// Field returns the level encoded into the drive-select bits of the register.
func (l DriveLevel) Field() byte {
	return (byte(l) << driveSelShift) & driveSelMask
}

// withDriveField replaces the drive-select bits of cur with field.
// All other bits of cur are preserved.
func withDriveField(cur, field byte) byte {
	return (cur &^ driveSelMask) | (field & driveSelMask)
}

// manualMode clears the hardware-enable bits so the drive-select field alone
// decides whether the actuator runs.
func manualMode(cur byte) byte {
	return cur &^ manualEnableMask
}

// DecodeRegister splits a control register value into its drive level and
// whether the actuator is being driven.
func DecodeRegister(v byte) (level DriveLevel, on bool) {
	level = DriveLevel((v & driveSelMask) >> driveSelShift)
	return level, level != 0
}
