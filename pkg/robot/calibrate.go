package robot

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/gwillem/rover/pkg/odrive"
)

// Link is the subset of the ODrive client the calibrator needs. It is the
// only user of the serial link while calibration runs.
type Link interface {
	SetParam(axis int, name string, value any) error
	RequestState(axis int, state odrive.AxisState) error
	ReadState(axis int) (state odrive.AxisState, errorCode uint32, err error)
	SetVelocity(axis int, vel float64) error
	ClearErrors(axis int) error
	SaveConfig() error
	Reboot() error
	BusVoltage() (float64, error)
}

// Calibrator runs the full two-axis calibration sequence. Axes are
// calibrated strictly one after another; the controller cannot calibrate
// both at once. Any stage failure aborts the whole run, there is no partial
// retry.
type Calibrator struct {
	link  Link
	clock clock.Clock
	logf  func(format string, args ...any)

	pollInterval    time.Duration
	maxPollInterval time.Duration
	stageTimeout    time.Duration
	readyTimeout    time.Duration
}

// NewCalibrator creates a calibrator with the default poll budget: 100ms
// initial interval with 1.5x backoff capped at 1s, 60s per stage.
func NewCalibrator(link Link) *Calibrator {
	return &Calibrator{
		link:            link,
		clock:           clock.New(),
		logf:            func(string, ...any) {},
		pollInterval:    100 * time.Millisecond,
		maxPollInterval: time.Second,
		stageTimeout:    60 * time.Second,
		readyTimeout:    15 * time.Second,
	}
}

// SetLogf installs a progress logger.
func (c *Calibrator) SetLogf(logf func(format string, args ...any)) {
	c.logf = logf
}

// Run calibrates axis 0 then axis 1, persists the configuration, reboots the
// controller and waits for it to come back.
func (c *Calibrator) Run(ctx context.Context, cfg *Config) error {
	for _, axis := range Axes() {
		if err := c.CalibrateAxis(ctx, axis, cfg.Axes[axis]); err != nil {
			return err
		}
	}

	c.logf("Saving configuration...")
	if err := c.link.SaveConfig(); err != nil {
		return fmt.Errorf("save configuration: %w", err)
	}

	c.logf("Rebooting controller...")
	if err := c.link.Reboot(); err != nil {
		// The link drops while the board restarts; a send failure here
		// is expected.
		c.logf("reboot: %v", err)
	}

	return c.WaitReady(ctx)
}

// CalibrateAxis configures one axis and runs both calibration stages.
// The axis is considered calibrated only after motor calibration, encoder
// offset calibration and the closed-loop check all succeed.
func (c *Calibrator) CalibrateAxis(ctx context.Context, axis Axis, cfg AxisConfig) error {
	c.logf("=== Calibrating %s ===", axis)

	c.logf("Clearing errors...")
	if err := c.link.ClearErrors(int(axis)); err != nil {
		return fmt.Errorf("%s: clear errors: %w", axis, err)
	}
	_, code, err := c.link.ReadState(int(axis))
	if err != nil {
		return fmt.Errorf("%s: read state: %w", axis, err)
	}
	if code != 0 {
		return &CalibrationError{Axis: axis, Code: code}
	}

	c.logf("Writing axis configuration...")
	if err := c.writeConfig(axis, cfg); err != nil {
		return err
	}

	stages := []odrive.AxisState{
		odrive.AxisStateMotorCalibration,
		odrive.AxisStateEncoderOffsetCalibration,
	}
	for _, stage := range stages {
		c.logf("Starting %s (wheel will spin)...", stage)
		if err := c.runStage(ctx, axis, stage); err != nil {
			return err
		}
		c.logf("%s complete", stage)
	}

	if err := c.link.SetParam(int(axis), "motor.config.pre_calibrated", true); err != nil {
		return fmt.Errorf("%s: mark motor pre-calibrated: %w", axis, err)
	}
	if err := c.link.SetParam(int(axis), "encoder.config.pre_calibrated", true); err != nil {
		return fmt.Errorf("%s: mark encoder pre-calibrated: %w", axis, err)
	}

	if err := c.verifyClosedLoop(ctx, axis); err != nil {
		return err
	}

	c.logf("%s calibration complete", axis)
	return nil
}

// writeConfig pushes every AxisConfig field to the controller. All fields
// must be written before any calibration state request.
func (c *Calibrator) writeConfig(axis Axis, cfg AxisConfig) error {
	params := []struct {
		name  string
		value any
	}{
		{"motor.config.calibration_current", cfg.CalibrationCurrent},
		{"motor.config.pole_pairs", cfg.PolePairs},
		{"motor.config.resistance_calib_max_voltage", cfg.ResistanceCalibMaxVoltage},
		{"motor.config.requested_current_range", cfg.CurrentRange},
		{"motor.config.current_control_bandwidth", cfg.CurrentControlBandwidth},
		{"motor.config.torque_constant", cfg.TorqueConstant},
		{"encoder.config.mode", cfg.EncoderMode},
		{"encoder.config.cpr", cfg.CPR},
		{"encoder.config.calib_scan_distance", cfg.CalibScanDistance},
		{"encoder.config.bandwidth", cfg.EncoderBandwidth},
		{"controller.config.pos_gain", cfg.PosGain},
		{"controller.config.vel_gain", cfg.VelGain},
		{"controller.config.vel_integrator_gain", cfg.VelIntegratorGain},
		{"controller.config.vel_limit", cfg.VelLimit},
		{"controller.config.control_mode", cfg.ControlMode},
	}
	for _, p := range params {
		if err := c.link.SetParam(int(axis), p.name, p.value); err != nil {
			return fmt.Errorf("%s: write %s: %w", axis, p.name, err)
		}
	}
	return nil
}

// runStage requests a calibration state and polls until the axis returns to
// idle, with backoff and a hard deadline.
func (c *Calibrator) runStage(ctx context.Context, axis Axis, stage odrive.AxisState) error {
	if err := c.link.RequestState(int(axis), stage); err != nil {
		return fmt.Errorf("%s: request %s: %w", axis, stage, err)
	}

	interval := c.pollInterval
	deadline := c.clock.Now().Add(c.stageTimeout)
	for {
		state, code, err := c.link.ReadState(int(axis))
		if err != nil {
			return fmt.Errorf("%s: poll %s: %w", axis, stage, err)
		}
		if code != 0 {
			return &CalibrationError{Axis: axis, Code: code}
		}
		if state == odrive.AxisStateIdle {
			return nil
		}
		if c.clock.Now().After(deadline) {
			return &CalibrationTimeout{Axis: axis, Stage: stage, After: c.stageTimeout}
		}
		if err := c.pause(ctx, interval); err != nil {
			return err
		}
		if interval = interval * 3 / 2; interval > c.maxPollInterval {
			interval = c.maxPollInterval
		}
	}
}

// verifyClosedLoop checks that the freshly calibrated axis can enter closed
// loop control and track a small velocity setpoint, then parks it in idle.
func (c *Calibrator) verifyClosedLoop(ctx context.Context, axis Axis) error {
	c.logf("Testing closed loop control...")
	if err := c.link.RequestState(int(axis), odrive.AxisStateClosedLoopControl); err != nil {
		return fmt.Errorf("%s: request closed loop: %w", axis, err)
	}
	if err := c.pause(ctx, time.Second); err != nil {
		return err
	}

	state, code, err := c.link.ReadState(int(axis))
	if err != nil {
		return fmt.Errorf("%s: read state: %w", axis, err)
	}
	if code != 0 {
		return &CalibrationError{Axis: axis, Code: code}
	}
	if state != odrive.AxisStateClosedLoopControl {
		return fmt.Errorf("%s: did not enter closed loop control (state %s)", axis, state)
	}

	c.logf("Testing velocity command (wheel will spin briefly)...")
	if err := c.link.SetVelocity(int(axis), 0.5); err != nil {
		return fmt.Errorf("%s: test velocity: %w", axis, err)
	}
	if err := c.pause(ctx, 2*time.Second); err != nil {
		return err
	}
	if err := c.link.SetVelocity(int(axis), 0); err != nil {
		return fmt.Errorf("%s: stop: %w", axis, err)
	}
	if err := c.pause(ctx, time.Second); err != nil {
		return err
	}

	if err := c.link.RequestState(int(axis), odrive.AxisStateIdle); err != nil {
		return fmt.Errorf("%s: request idle: %w", axis, err)
	}
	return c.pause(ctx, 500*time.Millisecond)
}

// WaitReady polls the link until the controller answers again after a
// reboot.
func (c *Calibrator) WaitReady(ctx context.Context) error {
	c.logf("Waiting for controller to come back...")
	deadline := c.clock.Now().Add(c.readyTimeout)
	for {
		if v, err := c.link.BusVoltage(); err == nil {
			c.logf("Controller ready, bus voltage %.2fV", v)
			return nil
		}
		if c.clock.Now().After(deadline) {
			return &ControllerUnavailable{After: c.readyTimeout}
		}
		if err := c.pause(ctx, 500*time.Millisecond); err != nil {
			return err
		}
	}
}

func (c *Calibrator) pause(ctx context.Context, d time.Duration) error {
	t := c.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
