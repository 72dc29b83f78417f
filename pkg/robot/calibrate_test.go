package robot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/gwillem/rover/pkg/odrive"
)

// fakeLink records every link operation in order and serves state reads from
// a hook, so tests can assert sequencing invariants.
type fakeLink struct {
	trace     []string
	requested map[int]odrive.AxisState

	readState  func(axis int) (odrive.AxisState, uint32, error)
	busVoltage func() (float64, error)
}

func newFakeLink() *fakeLink {
	f := &fakeLink{requested: make(map[int]odrive.AxisState)}
	f.readState = func(axis int) (odrive.AxisState, uint32, error) {
		// An axis parked in closed loop stays there; calibration states
		// finish instantly.
		if f.requested[axis] == odrive.AxisStateClosedLoopControl {
			return odrive.AxisStateClosedLoopControl, 0, nil
		}
		return odrive.AxisStateIdle, 0, nil
	}
	f.busVoltage = func() (float64, error) { return 24.1, nil }
	return f
}

func (f *fakeLink) SetParam(axis int, name string, value any) error {
	f.trace = append(f.trace, fmt.Sprintf("w %d %s", axis, name))
	return nil
}

func (f *fakeLink) RequestState(axis int, state odrive.AxisState) error {
	f.requested[axis] = state
	f.trace = append(f.trace, fmt.Sprintf("req %d %s", axis, state))
	return nil
}

func (f *fakeLink) ReadState(axis int) (odrive.AxisState, uint32, error) {
	f.trace = append(f.trace, fmt.Sprintf("poll %d", axis))
	return f.readState(axis)
}

func (f *fakeLink) SetVelocity(axis int, vel float64) error {
	f.trace = append(f.trace, fmt.Sprintf("v %d %g", axis, vel))
	return nil
}

func (f *fakeLink) ClearErrors(axis int) error {
	f.trace = append(f.trace, fmt.Sprintf("clear %d", axis))
	return nil
}

func (f *fakeLink) SaveConfig() error {
	f.trace = append(f.trace, "save")
	return nil
}

func (f *fakeLink) Reboot() error {
	f.trace = append(f.trace, "reboot")
	return nil
}

func (f *fakeLink) BusVoltage() (float64, error) {
	f.trace = append(f.trace, "vbus")
	return f.busVoltage()
}

func (f *fakeLink) indexOf(op string) int {
	for i, t := range f.trace {
		if t == op {
			return i
		}
	}
	return -1
}

func (f *fakeLink) lastIndexOf(prefix string) int {
	last := -1
	for i, t := range f.trace {
		if strings.HasPrefix(t, prefix) {
			last = i
		}
	}
	return last
}

// runWithMockClock drives the calibrator under a mock clock, advancing time
// until it finishes.
func runWithMockClock(cal *Calibrator, fn func() error) error {
	mk := clock.NewMock()
	cal.clock = mk
	done := make(chan error, 1)
	go func() { done <- fn() }()
	for {
		select {
		case err := <-done:
			return err
		default:
			mk.Add(100 * time.Millisecond)
		}
	}
}

func TestRun_AxesStrictlySequential(t *testing.T) {
	link := newFakeLink()
	cal := NewCalibrator(link)

	err := runWithMockClock(cal, func() error {
		return cal.Run(context.Background(), DefaultConfig())
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// No axis 1 operation of any kind before axis 0 is fully done.
	firstAxis1 := link.indexOf("clear 1")
	if firstAxis1 == -1 {
		t.Fatal("axis 1 was never calibrated")
	}
	for _, prefix := range []string{"w 0", "req 0", "poll 0", "v 0"} {
		if last := link.lastIndexOf(prefix); last > firstAxis1 {
			t.Errorf("axis 0 op %q at %d after axis 1 start at %d", prefix, last, firstAxis1)
		}
	}

	// Persist and reboot only after both axes, then wait for the link.
	save := link.indexOf("save")
	reboot := link.indexOf("reboot")
	vbus := link.indexOf("vbus")
	if save < link.lastIndexOf("req 1") || reboot < save || vbus < reboot {
		t.Errorf("save/reboot/ready out of order: save=%d reboot=%d vbus=%d", save, reboot, vbus)
	}
}

func TestCalibrateAxis_EncoderAfterMotorCalibration(t *testing.T) {
	link := newFakeLink()
	// Motor calibration stays busy for two polls before returning to idle.
	busy := 2
	link.readState = func(axis int) (odrive.AxisState, uint32, error) {
		switch link.requested[axis] {
		case odrive.AxisStateMotorCalibration:
			if busy > 0 {
				busy--
				return odrive.AxisStateMotorCalibration, 0, nil
			}
			return odrive.AxisStateIdle, 0, nil
		case odrive.AxisStateClosedLoopControl:
			return odrive.AxisStateClosedLoopControl, 0, nil
		default:
			return odrive.AxisStateIdle, 0, nil
		}
	}
	cal := NewCalibrator(link)

	err := runWithMockClock(cal, func() error {
		return cal.CalibrateAxis(context.Background(), AxisLeft, DefaultAxisConfig())
	})
	if err != nil {
		t.Fatalf("CalibrateAxis: %v", err)
	}

	motor := link.indexOf("req 0 motor_calibration")
	encoder := link.indexOf("req 0 encoder_offset_calibration")
	if motor == -1 || encoder == -1 || encoder < motor {
		t.Errorf("encoder offset at %d must follow motor calibration at %d", encoder, motor)
	}
	// All config writes precede the first calibration request.
	if lastWrite := link.lastIndexOf("w 0 motor.config.torque_constant"); lastWrite > motor {
		t.Errorf("config write at %d after calibration request at %d", lastWrite, motor)
	}
}

func TestRun_MotorCalFailureStopsEverything(t *testing.T) {
	link := newFakeLink()
	link.readState = func(axis int) (odrive.AxisState, uint32, error) {
		if link.requested[axis] == odrive.AxisStateMotorCalibration {
			return odrive.AxisStateMotorCalibration, 1, nil
		}
		return odrive.AxisStateIdle, 0, nil
	}
	cal := NewCalibrator(link)

	err := runWithMockClock(cal, func() error {
		return cal.Run(context.Background(), DefaultConfig())
	})

	var calErr *CalibrationError
	if !errors.As(err, &calErr) {
		t.Fatalf("err = %v, want CalibrationError", err)
	}
	if calErr.Axis != AxisLeft || calErr.Code != 1 {
		t.Errorf("got axis %v code %d, want axis 0 code 1", calErr.Axis, calErr.Code)
	}

	// No axis 1 configuration write may have happened.
	for _, op := range link.trace {
		if strings.HasPrefix(op, "w 1") || strings.HasPrefix(op, "req 1") {
			t.Errorf("axis 1 touched after axis 0 failure: %q", op)
		}
	}
	if link.indexOf("save") != -1 || link.indexOf("reboot") != -1 {
		t.Error("configuration persisted despite calibration failure")
	}
}

func TestRunStage_Timeout(t *testing.T) {
	link := newFakeLink()
	link.readState = func(axis int) (odrive.AxisState, uint32, error) {
		// Never returns to idle.
		return odrive.AxisStateMotorCalibration, 0, nil
	}
	cal := NewCalibrator(link)

	err := runWithMockClock(cal, func() error {
		return cal.CalibrateAxis(context.Background(), AxisLeft, DefaultAxisConfig())
	})

	var timeout *CalibrationTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("err = %v, want CalibrationTimeout", err)
	}
	if timeout.Stage != odrive.AxisStateMotorCalibration {
		t.Errorf("stage = %v, want motor_calibration", timeout.Stage)
	}
}

func TestCalibrateAxis_PreexistingErrorAborts(t *testing.T) {
	link := newFakeLink()
	link.readState = func(axis int) (odrive.AxisState, uint32, error) {
		return odrive.AxisStateIdle, odrive.AxisErrorMotorFailed, nil
	}
	cal := NewCalibrator(link)

	err := runWithMockClock(cal, func() error {
		return cal.CalibrateAxis(context.Background(), AxisLeft, DefaultAxisConfig())
	})

	var calErr *CalibrationError
	if !errors.As(err, &calErr) {
		t.Fatalf("err = %v, want CalibrationError", err)
	}
	if link.lastIndexOf("w 0") != -1 {
		t.Error("configuration written to an axis with pre-existing errors")
	}
}

func TestWaitReady_Unavailable(t *testing.T) {
	link := newFakeLink()
	link.busVoltage = func() (float64, error) {
		return 0, errors.New("no answer")
	}
	cal := NewCalibrator(link)

	err := runWithMockClock(cal, func() error {
		return cal.WaitReady(context.Background())
	})

	var unavail *ControllerUnavailable
	if !errors.As(err, &unavail) {
		t.Fatalf("err = %v, want ControllerUnavailable", err)
	}
}

func TestDefaultAxisConfig_Gains(t *testing.T) {
	cfg := DefaultAxisConfig()
	kt := 8.27 / 16.0
	if got, want := cfg.VelGain, 0.02*kt*90; got != want {
		t.Errorf("VelGain = %v, want %v", got, want)
	}
	if got, want := cfg.VelIntegratorGain, 0.1*kt*90; got != want {
		t.Errorf("VelIntegratorGain = %v, want %v", got, want)
	}
	if cfg.CPR != 6*cfg.PolePairs {
		t.Errorf("CPR = %d, want 6 states per pole pair", cfg.CPR)
	}
}

func TestConfig_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rover.json")

	cfg := DefaultConfig()
	cfg.Axes[1].VelLimit = 5
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	if loaded.Device != cfg.Device {
		t.Errorf("Device = %q, want %q", loaded.Device, cfg.Device)
	}
	if loaded.Axes[1].VelLimit != 5 {
		t.Errorf("Axes[1].VelLimit = %v, want 5", loaded.Axes[1].VelLimit)
	}
	if loaded.Axes[0].PolePairs != 15 {
		t.Errorf("Axes[0].PolePairs = %d, want 15", loaded.Axes[0].PolePairs)
	}
}
