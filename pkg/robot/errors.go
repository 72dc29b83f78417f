package robot

import (
	"fmt"
	"time"

	"github.com/gwillem/rover/pkg/odrive"
)

// CalibrationError reports a nonzero hardware error code during a
// calibration stage. The raw code is preserved for diagnosis.
type CalibrationError struct {
	Axis Axis
	Code uint32
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("%s calibration error %#x: %s", e.Axis, e.Code, odrive.AxisErrorString(e.Code))
}

// CalibrationTimeout reports a calibration stage that did not return to idle
// within the poll budget.
type CalibrationTimeout struct {
	Axis  Axis
	Stage odrive.AxisState
	After time.Duration
}

func (e *CalibrationTimeout) Error() string {
	return fmt.Sprintf("%s: %s did not complete within %s", e.Axis, e.Stage, e.After)
}

// ControllerUnavailable reports that the controller did not come back on the
// link after a reboot.
type ControllerUnavailable struct {
	After time.Duration
}

func (e *ControllerUnavailable) Error() string {
	return fmt.Sprintf("controller not reachable within %s after reboot", e.After)
}
