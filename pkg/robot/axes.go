// Package robot provides the rover's axis model, configuration and the
// motor calibration sequence.
package robot

import "fmt"

// Axis identifies one motor/encoder channel on the ODrive.
type Axis int

// The rover has two wheel axes.
const (
	AxisLeft  Axis = 0
	AxisRight Axis = 1
)

// Axes returns both axes in calibration order. The controller cannot
// calibrate both at once, so this order is significant.
func Axes() []Axis {
	return []Axis{AxisLeft, AxisRight}
}

func (a Axis) String() string {
	switch a {
	case AxisLeft:
		return "axis 0 (left)"
	case AxisRight:
		return "axis 1 (right)"
	default:
		return fmt.Sprintf("axis %d", int(a))
	}
}

// Sign returns the velocity sign correction for the axis. The left motor is
// mounted mirrored, so a positive wheel velocity needs a negative setpoint.
func (a Axis) Sign() float64 {
	if a == AxisLeft {
		return -1
	}
	return 1
}
