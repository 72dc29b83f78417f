package teleop

// Intent is a single operator command decoded from a key event.
type Intent int

const (
	IntentNone Intent = iota

	// Direction intents latch until replaced or stopped.
	IntentForward
	IntentBackward
	IntentLeft
	IntentRight
	IntentLeftFwd
	IntentRightFwd
	IntentLeftBack
	IntentRightBack
	IntentStop

	// Speed intents adjust the session and take effect next tick.
	IntentSpeedUp
	IntentSpeedDown
	IntentTurnUp
	IntentTurnDown

	IntentExit
)

func (i Intent) String() string {
	switch i {
	case IntentForward:
		return "forward"
	case IntentBackward:
		return "backward"
	case IntentLeft:
		return "left"
	case IntentRight:
		return "right"
	case IntentLeftFwd:
		return "left wheel forward"
	case IntentRightFwd:
		return "right wheel forward"
	case IntentLeftBack:
		return "left wheel backward"
	case IntentRightBack:
		return "right wheel backward"
	case IntentStop:
		return "stop"
	case IntentSpeedUp:
		return "speed up"
	case IntentSpeedDown:
		return "speed down"
	case IntentTurnUp:
		return "turn speed up"
	case IntentTurnDown:
		return "turn speed down"
	case IntentExit:
		return "exit"
	default:
		return "none"
	}
}

// IsDirection reports whether the intent selects a wheel movement
// (including stop), as opposed to adjusting speeds or exiting.
func (i Intent) IsDirection() bool {
	return i >= IntentForward && i <= IntentStop
}

// MapKey converts a key event (bubbletea key string) into an Intent.
// Unknown keys map to IntentNone. The function is pure; all state lives in
// the ControlSession.
func MapKey(key string) Intent {
	switch key {
	case "w", "W":
		return IntentForward
	case "s", "S":
		return IntentBackward
	case "a", "A":
		return IntentLeft
	case "d", "D":
		return IntentRight
	case "q", "Q":
		return IntentLeftFwd
	case "e", "E":
		return IntentRightFwd
	case "z", "Z":
		return IntentLeftBack
	case "c", "C":
		return IntentRightBack
	case " ", "space":
		return IntentStop
	case "+", "=":
		return IntentSpeedUp
	case "-", "_":
		return IntentSpeedDown
	case "[":
		return IntentTurnUp
	case "]":
		return IntentTurnDown
	case "esc", "ctrl+c":
		return IntentExit
	default:
		return IntentNone
	}
}
