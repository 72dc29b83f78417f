package teleop

import "github.com/gwillem/rover/pkg/robot"

// Speed adjustment steps and saturation bounds, in turns/sec.
const (
	defaultMoveSpeed = 1.0
	defaultTurnSpeed = 0.5

	moveStep = 0.5
	moveMin  = 0.5
	moveMax  = 10.0

	turnStep = 0.25
	turnMin  = 0.25
	turnMax  = 5.0
)

// ControlSession carries the mutable teleoperation state: current speeds,
// adjustment steps and the per-axis sign correction. It is a plain value
// threaded through the control loop.
type ControlSession struct {
	MoveSpeed float64
	TurnSpeed float64
	MoveStep  float64
	TurnStep  float64
	Signs     [2]float64
}

// NewSession returns a session with the default speeds and the hardware sign
// map (left motor mirrored).
func NewSession() ControlSession {
	return ControlSession{
		MoveSpeed: defaultMoveSpeed,
		TurnSpeed: defaultTurnSpeed,
		MoveStep:  moveStep,
		TurnStep:  turnStep,
		Signs:     [2]float64{robot.AxisLeft.Sign(), robot.AxisRight.Sign()},
	}
}

// Adjust applies a speed intent, saturating at the configured bounds.
// It reports whether anything changed. Changes only affect setpoints from
// the next tick on.
func (s *ControlSession) Adjust(in Intent) bool {
	old := *s
	switch in {
	case IntentSpeedUp:
		s.MoveSpeed = min(s.MoveSpeed+s.MoveStep, moveMax)
	case IntentSpeedDown:
		s.MoveSpeed = max(s.MoveSpeed-s.MoveStep, moveMin)
	case IntentTurnUp:
		s.TurnSpeed = min(s.TurnSpeed+s.TurnStep, turnMax)
	case IntentTurnDown:
		s.TurnSpeed = max(s.TurnSpeed-s.TurnStep, turnMin)
	}
	return *s != old
}

// Wheels computes the target wheel velocity pair (left, right) for a
// direction intent, before sign correction. Turning is differential: the
// wheels spin opposite ways at turn speed.
func (s *ControlSession) Wheels(in Intent) (left, right float64) {
	m, t := s.MoveSpeed, s.TurnSpeed
	switch in {
	case IntentForward:
		return m, m
	case IntentBackward:
		return -m, -m
	case IntentLeft:
		return -t, t
	case IntentRight:
		return t, -t
	case IntentLeftFwd:
		return m, 0
	case IntentRightFwd:
		return 0, m
	case IntentLeftBack:
		return -m, 0
	case IntentRightBack:
		return 0, -m
	default:
		return 0, 0
	}
}
