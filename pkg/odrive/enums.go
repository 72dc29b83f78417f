package odrive

import "strings"

// AxisState mirrors the ODrive axis state machine.
type AxisState int

// Axis states for ODrive v3 firmware.
const (
	AxisStateUndefined                AxisState = 0
	AxisStateIdle                     AxisState = 1
	AxisStateStartupSequence          AxisState = 2
	AxisStateFullCalibrationSequence  AxisState = 3
	AxisStateMotorCalibration         AxisState = 4
	AxisStateEncoderIndexSearch       AxisState = 6
	AxisStateEncoderOffsetCalibration AxisState = 7
	AxisStateClosedLoopControl        AxisState = 8
)

func (s AxisState) String() string {
	switch s {
	case AxisStateIdle:
		return "idle"
	case AxisStateStartupSequence:
		return "startup_sequence"
	case AxisStateFullCalibrationSequence:
		return "full_calibration_sequence"
	case AxisStateMotorCalibration:
		return "motor_calibration"
	case AxisStateEncoderIndexSearch:
		return "encoder_index_search"
	case AxisStateEncoderOffsetCalibration:
		return "encoder_offset_calibration"
	case AxisStateClosedLoopControl:
		return "closed_loop_control"
	default:
		return "undefined"
	}
}

// Controller control modes.
const (
	ControlModeVoltage  = 0
	ControlModeTorque   = 1
	ControlModeVelocity = 2
	ControlModePosition = 3
)

// Controller input modes.
const (
	InputModeInactive    = 0
	InputModePassthrough = 1
	InputModeVelRamp     = 2
)

// Encoder modes.
const (
	EncoderModeIncremental = 0
	EncoderModeHall        = 1
)

// Axis error bits reported in axisN.error (v3 firmware).
const (
	AxisErrorInvalidState              uint32 = 0x01
	AxisErrorDCBusUnderVoltage         uint32 = 0x02
	AxisErrorDCBusOverVoltage          uint32 = 0x04
	AxisErrorCurrentMeasurementTimeout uint32 = 0x08
	AxisErrorBrakeResistorDisarmed     uint32 = 0x10
	AxisErrorMotorDisarmed             uint32 = 0x20
	AxisErrorMotorFailed               uint32 = 0x40
	AxisErrorSensorlessEstFailed       uint32 = 0x80
	AxisErrorEncoderFailed             uint32 = 0x100
	AxisErrorControllerFailed          uint32 = 0x200
	AxisErrorPosCtrlDuringSensorless   uint32 = 0x400
	AxisErrorWatchdogTimerExpired      uint32 = 0x800
)

var axisErrorNames = []struct {
	bit  uint32
	name string
}{
	{AxisErrorInvalidState, "invalid state"},
	{AxisErrorDCBusUnderVoltage, "dc bus under voltage"},
	{AxisErrorDCBusOverVoltage, "dc bus over voltage"},
	{AxisErrorCurrentMeasurementTimeout, "current measurement timeout"},
	{AxisErrorBrakeResistorDisarmed, "brake resistor disarmed"},
	{AxisErrorMotorDisarmed, "motor disarmed"},
	{AxisErrorMotorFailed, "motor failed"},
	{AxisErrorSensorlessEstFailed, "sensorless estimator failed"},
	{AxisErrorEncoderFailed, "encoder failed"},
	{AxisErrorControllerFailed, "controller failed"},
	{AxisErrorPosCtrlDuringSensorless, "position control during sensorless"},
	{AxisErrorWatchdogTimerExpired, "watchdog timer expired"},
}

// AxisErrorString renders an axis error bitmask as a human-readable list.
// Unknown bits are kept visible so nothing is silently discarded.
func AxisErrorString(code uint32) string {
	if code == 0 {
		return "none"
	}
	var parts []string
	known := uint32(0)
	for _, e := range axisErrorNames {
		if code&e.bit != 0 {
			parts = append(parts, e.name)
			known |= e.bit
		}
	}
	if rest := code &^ known; rest != 0 {
		parts = append(parts, "unknown bits")
	}
	return strings.Join(parts, ", ")
}
