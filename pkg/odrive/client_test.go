package odrive

import (
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

// fakePort is an in-memory transport that records sent lines and serves
// scripted responses. Read returns (0, nil) when drained, like a serial port
// with a read timeout.
type fakePort struct {
	sent      []string
	responses []string
	closed    bool
}

func (f *fakePort) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		f.sent = append(f.sent, line)
	}
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	if len(f.responses) == 0 {
		return 0, nil
	}
	line := f.responses[0] + "\n"
	f.responses = f.responses[1:]
	return copy(p, line), nil
}

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

func newTestClient(responses ...string) (*Client, *fakePort) {
	port := &fakePort{responses: responses}
	return NewClient(port, 50*time.Millisecond), port
}

func TestClient_SetParam(t *testing.T) {
	tests := []struct {
		axis  int
		name  string
		value any
		want  string
	}{
		{0, "motor.config.pole_pairs", 15, "w axis0.motor.config.pole_pairs 15"},
		{1, "controller.config.vel_limit", 10.0, "w axis1.controller.config.vel_limit 10"},
		{0, "motor.config.torque_constant", 0.5169, "w axis0.motor.config.torque_constant 0.5169"},
		{1, "motor.config.pre_calibrated", true, "w axis1.motor.config.pre_calibrated 1"},
		{0, "requested_state", AxisStateMotorCalibration, "w axis0.requested_state 4"},
	}

	for _, tt := range tests {
		c, port := newTestClient()
		if err := c.SetParam(tt.axis, tt.name, tt.value); err != nil {
			t.Fatalf("SetParam: %v", err)
		}
		if len(port.sent) != 1 || port.sent[0] != tt.want {
			t.Errorf("SetParam sent %q, want %q", port.sent, tt.want)
		}
	}
}

func TestClient_ReadState(t *testing.T) {
	c, port := newTestClient("8", "0")

	state, code, err := c.ReadState(1)
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if state != AxisStateClosedLoopControl {
		t.Errorf("state = %v, want closed_loop_control", state)
	}
	if code != 0 {
		t.Errorf("code = %d, want 0", code)
	}

	want := []string{"r axis1.current_state", "r axis1.error"}
	if len(port.sent) != 2 || port.sent[0] != want[0] || port.sent[1] != want[1] {
		t.Errorf("sent %q, want %q", port.sent, want)
	}
}

func TestClient_ReadState_ErrorCode(t *testing.T) {
	c, _ := newTestClient("1", "64")

	state, code, err := c.ReadState(0)
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if state != AxisStateIdle {
		t.Errorf("state = %v, want idle", state)
	}
	if code != AxisErrorMotorFailed {
		t.Errorf("code = %#x, want motor failed bit", code)
	}
}

func TestClient_SetVelocity(t *testing.T) {
	c, port := newTestClient()
	if err := c.SetVelocity(0, -2.5); err != nil {
		t.Fatalf("SetVelocity: %v", err)
	}
	if port.sent[0] != "v 0 -2.5" {
		t.Errorf("sent %q, want v 0 -2.5", port.sent[0])
	}
}

func TestClient_ClearErrors(t *testing.T) {
	c, port := newTestClient()
	if err := c.ClearErrors(1); err != nil {
		t.Fatalf("ClearErrors: %v", err)
	}
	want := []string{
		"w axis1.error 0",
		"w axis1.motor.error 0",
		"w axis1.encoder.error 0",
		"w axis1.controller.error 0",
	}
	if len(port.sent) != len(want) {
		t.Fatalf("sent %d lines, want %d: %q", len(port.sent), len(want), port.sent)
	}
	for i := range want {
		if port.sent[i] != want[i] {
			t.Errorf("sent[%d] = %q, want %q", i, port.sent[i], want[i])
		}
	}
}

func TestClient_ReadVelocity(t *testing.T) {
	c, _ := newTestClient("-1.204")
	v, err := c.ReadVelocity(0)
	if err != nil {
		t.Fatalf("ReadVelocity: %v", err)
	}
	if v != -1.204 {
		t.Errorf("velocity = %v, want -1.204", v)
	}
}

func TestClient_ReadTimeout(t *testing.T) {
	c, _ := newTestClient() // no responses queued
	_, err := c.BusVoltage()
	if !errors.Is(err, ErrReadTimeout) {
		t.Errorf("err = %v, want ErrReadTimeout", err)
	}
}

func TestAxisErrorString(t *testing.T) {
	tests := []struct {
		code uint32
		want string
	}{
		{0, "none"},
		{AxisErrorMotorFailed, "motor failed"},
		{AxisErrorCurrentMeasurementTimeout, "current measurement timeout"},
		{AxisErrorBrakeResistorDisarmed | AxisErrorMotorDisarmed, "brake resistor disarmed, motor disarmed"},
		{AxisErrorPosCtrlDuringSensorless, "position control during sensorless"},
		{AxisErrorDCBusUnderVoltage | AxisErrorEncoderFailed, "dc bus under voltage, encoder failed"},
		{0x80000000, "unknown bits"},
	}
	for _, tt := range tests {
		if got := AxisErrorString(tt.code); got != tt.want {
			t.Errorf("AxisErrorString(%#x) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
