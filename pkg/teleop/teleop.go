// Package teleop provides keyboard teleoperation for the rover.
//
// The controller runs a single cooperative loop. Each tick drains pending
// key intents, computes a bounded, sign-corrected velocity pair, writes both
// setpoints and polls the hardware error registers. The first nonzero error
// code trips the sticky SAFE_STOP state: zero velocity, both axes idle, and
// the session is over.
//
// When opposing direction keys arrive within one tick, the last one received
// wins.
package teleop

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/gwillem/rover/pkg/odrive"
	"github.com/gwillem/rover/pkg/robot"
)

// DriveState is the controller's life-cycle state.
type DriveState int

const (
	DriveUninitialized DriveState = iota
	DriveClosedLoop
	DriveSafeStop
)

func (s DriveState) String() string {
	switch s {
	case DriveClosedLoop:
		return "closed loop active"
	case DriveSafeStop:
		return "safe stop"
	default:
		return "uninitialized"
	}
}

// AxisFault reports a nonzero hardware error code observed during
// teleoperation. It ends the session; the operator must restart.
type AxisFault struct {
	Axis robot.Axis
	Code uint32
}

func (e *AxisFault) Error() string {
	return fmt.Sprintf("%s fault %#x: %s", e.Axis, e.Code, odrive.AxisErrorString(e.Code))
}

// errExit signals a clean operator-requested shutdown.
var errExit = errors.New("exit requested")

// Link is the subset of the ODrive client used while driving.
type Link interface {
	SetParam(axis int, name string, value any) error
	RequestState(axis int, state odrive.AxisState) error
	ReadState(axis int) (state odrive.AxisState, errorCode uint32, err error)
	SetVelocity(axis int, vel float64) error
	ReadVelocity(axis int) (float64, error)
	ClearErrors(axis int) error
}

// InputSource delivers key intents to the control loop without blocking.
// The TUI feeds a queue; tests use a scripted source.
type InputSource interface {
	Poll() (Intent, bool)
}

// IntentQueue is a bounded channel-backed InputSource.
type IntentQueue struct {
	ch chan Intent
}

func NewIntentQueue() *IntentQueue {
	return &IntentQueue{ch: make(chan Intent, 32)}
}

// Push enqueues an intent, dropping it if the loop is badly behind.
func (q *IntentQueue) Push(in Intent) {
	select {
	case q.ch <- in:
	default:
	}
}

// Poll returns the next queued intent, if any.
func (q *IntentQueue) Poll() (Intent, bool) {
	select {
	case in := <-q.ch:
		return in, true
	default:
		return IntentNone, false
	}
}

// State is a per-tick telemetry snapshot.
type State struct {
	Drive     DriveState
	Intent    Intent
	Setpoints [2]float64
	Measured  [2]float64
	MoveSpeed float64
	TurnSpeed float64
	Timestamp time.Time
	Err       error
}

// Config holds configuration for the controller.
type Config struct {
	Link  Link
	Input InputSource

	// VelLimit bounds every setpoint magnitude, in turns/sec.
	VelLimit float64
	// RampRate smooths acceleration, in turns/sec^2.
	RampRate float64
	// VelGain and VelIntegratorGain override the calibrated controller
	// gains when nonzero.
	VelGain           float64
	VelIntegratorGain float64
	// Hz is the control loop frequency.
	Hz int
}

// Controller manages the teleoperation control loop.
type Controller struct {
	link     Link
	input    InputSource
	hz       int
	velLimit float64
	cfg      Config
	clock    clock.Clock

	drive     DriveState
	session   ControlSession
	intent    Intent
	setpoints [2]float64
	fault     *AxisFault

	stateCh chan State
	logCh   chan string
}

// NewController creates a new drive controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Link == nil {
		return nil, errors.New("teleop: link is required")
	}
	if cfg.Input == nil {
		return nil, errors.New("teleop: input source is required")
	}
	if cfg.Hz <= 0 {
		cfg.Hz = 50
	}
	if cfg.VelLimit <= 0 {
		cfg.VelLimit = 10
	}
	if cfg.RampRate <= 0 {
		cfg.RampRate = 0.5
	}

	return &Controller{
		link:     cfg.Link,
		input:    cfg.Input,
		hz:       cfg.Hz,
		velLimit: cfg.VelLimit,
		cfg:      cfg,
		clock:    clock.New(),
		session:  NewSession(),
		stateCh:  make(chan State, 1),
		logCh:    make(chan string, 10),
	}, nil
}

// States returns a channel that receives telemetry snapshots.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Hz returns the control frequency.
func (c *Controller) Hz() int {
	return c.hz
}

func (c *Controller) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case c.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Start arms both axes and runs the control loop until the operator exits,
// an axis faults, or the context is cancelled. A session that ends in
// SAFE_STOP returns the AxisFault; it cannot be restarted on the same
// controller.
func (c *Controller) Start(ctx context.Context) error {
	if c.drive != DriveUninitialized {
		return fmt.Errorf("teleop: already started (state %s)", c.drive)
	}

	if err := c.arm(ctx); err != nil {
		return err
	}
	c.log("Motors in closed loop control, %d Hz, speed %.1f / turn %.1f",
		c.hz, c.session.MoveSpeed, c.session.TurnSpeed)

	ticker := c.clock.Ticker(time.Second / time.Duration(c.hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-ticker.C:
			err := c.step()
			switch {
			case err == nil:
			case errors.Is(err, errExit):
				c.shutdown()
				return nil
			default:
				// AxisFault (safe stop already issued) or a lost
				// link; either way no further setpoints go out.
				return err
			}
		}
	}
}

// arm takes both axes into closed loop velocity control. Both must report a
// clean error register before and after the state request.
func (c *Controller) arm(ctx context.Context) error {
	for _, axis := range robot.Axes() {
		if err := c.link.ClearErrors(int(axis)); err != nil {
			return fmt.Errorf("clear errors on %s: %w", axis, err)
		}
	}
	for _, axis := range robot.Axes() {
		_, code, err := c.link.ReadState(int(axis))
		if err != nil {
			return fmt.Errorf("read %s: %w", axis, err)
		}
		if code != 0 {
			return &AxisFault{Axis: axis, Code: code}
		}
	}

	for _, axis := range robot.Axes() {
		params := []struct {
			name  string
			value any
		}{
			{"controller.config.control_mode", odrive.ControlModeVelocity},
			{"controller.config.input_mode", odrive.InputModePassthrough},
			{"controller.config.vel_ramp_rate", c.cfg.RampRate},
		}
		if c.cfg.VelGain > 0 {
			params = append(params, struct {
				name  string
				value any
			}{"controller.config.vel_gain", c.cfg.VelGain})
		}
		if c.cfg.VelIntegratorGain > 0 {
			params = append(params, struct {
				name  string
				value any
			}{"controller.config.vel_integrator_gain", c.cfg.VelIntegratorGain})
		}
		for _, p := range params {
			if err := c.link.SetParam(int(axis), p.name, p.value); err != nil {
				return fmt.Errorf("write %s on %s: %w", p.name, axis, err)
			}
		}
		if err := c.link.RequestState(int(axis), odrive.AxisStateClosedLoopControl); err != nil {
			return fmt.Errorf("request closed loop on %s: %w", axis, err)
		}
	}

	// Give the axis state machine a moment before verifying.
	t := c.clock.Timer(500 * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}

	for _, axis := range robot.Axes() {
		state, code, err := c.link.ReadState(int(axis))
		if err != nil {
			return fmt.Errorf("read %s: %w", axis, err)
		}
		if code != 0 {
			return &AxisFault{Axis: axis, Code: code}
		}
		if state != odrive.AxisStateClosedLoopControl {
			return fmt.Errorf("%s did not enter closed loop control (state %s)", axis, state)
		}
	}

	c.drive = DriveClosedLoop
	return nil
}

// step runs one control tick in strict order: drain input, compute the
// command, write both setpoints, poll the error registers, evaluate the
// SAFE_STOP transition.
func (c *Controller) step() error {
	if c.drive == DriveSafeStop {
		// Sticky: a stopped session only ever commands zero.
		for _, axis := range robot.Axes() {
			if err := c.link.SetVelocity(int(axis), 0); err != nil {
				return fmt.Errorf("write %s setpoint: %w", axis, err)
			}
		}
		return c.fault
	}

	for {
		in, ok := c.input.Poll()
		if !ok {
			break
		}
		switch {
		case in == IntentExit:
			return errExit
		case in.IsDirection():
			c.intent = in
		case in == IntentNone:
		default:
			if c.session.Adjust(in) {
				c.log("Speed %.2f, turn %.2f turns/sec", c.session.MoveSpeed, c.session.TurnSpeed)
			}
		}
	}

	left, right := c.session.Wheels(c.intent)
	l := clamp(left, c.velLimit) * c.session.Signs[robot.AxisLeft]
	r := clamp(right, c.velLimit) * c.session.Signs[robot.AxisRight]

	if err := c.link.SetVelocity(int(robot.AxisLeft), l); err != nil {
		return fmt.Errorf("write %s setpoint: %w", robot.AxisLeft, err)
	}
	if err := c.link.SetVelocity(int(robot.AxisRight), r); err != nil {
		return fmt.Errorf("write %s setpoint: %w", robot.AxisRight, err)
	}
	c.setpoints = [2]float64{l, r}

	var measured [2]float64
	for _, axis := range robot.Axes() {
		_, code, err := c.link.ReadState(int(axis))
		if err != nil {
			return fmt.Errorf("poll %s: %w", axis, err)
		}
		if code != 0 {
			fault := &AxisFault{Axis: axis, Code: code}
			c.fault = fault
			c.enterSafeStop()
			c.log("FAULT: %v", fault)
			c.sendState(State{
				Drive:     c.drive,
				Intent:    c.intent,
				MoveSpeed: c.session.MoveSpeed,
				TurnSpeed: c.session.TurnSpeed,
				Timestamp: time.Now(),
				Err:       fault,
			})
			return fault
		}
		v, err := c.link.ReadVelocity(int(axis))
		if err != nil {
			return fmt.Errorf("read %s velocity: %w", axis, err)
		}
		measured[axis] = v
	}

	c.sendState(State{
		Drive:     c.drive,
		Intent:    c.intent,
		Setpoints: c.setpoints,
		Measured:  measured,
		MoveSpeed: c.session.MoveSpeed,
		TurnSpeed: c.session.TurnSpeed,
		Timestamp: time.Now(),
	})
	return nil
}

// enterSafeStop commands zero velocity and drops both axes to idle. Writes
// are best effort: the link may be degraded while the axis is faulting.
func (c *Controller) enterSafeStop() {
	c.drive = DriveSafeStop
	c.intent = IntentStop
	c.setpoints = [2]float64{}
	for _, axis := range robot.Axes() {
		if err := c.link.SetVelocity(int(axis), 0); err != nil {
			c.log("safe stop: zero %s: %v", axis, err)
		}
	}
	for _, axis := range robot.Axes() {
		if err := c.link.RequestState(int(axis), odrive.AxisStateIdle); err != nil {
			c.log("safe stop: idle %s: %v", axis, err)
		}
	}
}

// shutdown is the clean exit path: stop, reset the velocity integrators so
// the wheels do not creep next session, and idle both axes.
func (c *Controller) shutdown() {
	if c.drive == DriveSafeStop {
		return
	}
	for _, axis := range robot.Axes() {
		if err := c.link.SetVelocity(int(axis), 0); err != nil {
			c.log("shutdown: zero %s: %v", axis, err)
		}
		if err := c.link.SetParam(int(axis), "controller.vel_integrator_torque", 0); err != nil {
			c.log("shutdown: reset integrator %s: %v", axis, err)
		}
	}
	for _, axis := range robot.Axes() {
		if err := c.link.RequestState(int(axis), odrive.AxisStateIdle); err != nil {
			c.log("shutdown: idle %s: %v", axis, err)
		}
	}
	c.log("Motors idle")
}

func (c *Controller) sendState(s State) {
	select {
	case c.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		c.stateCh <- s
	}
}

func clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}
