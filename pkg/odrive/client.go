// Package odrive implements a client for the ODrive v3 ASCII protocol over
// a serial port. It exposes the small set of operations the rover needs:
// parameter read/write, axis state requests, velocity commands and the
// persist/reboot pair.
package odrive

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// DefaultDevice is the UART the ODrive is wired to on the rover.
const DefaultDevice = "/dev/ttyAMA1"

// ErrReadTimeout is returned when the controller stops answering within the
// configured read timeout. It usually means the link is lost or the board is
// rebooting.
var ErrReadTimeout = errors.New("odrive: read timeout")

// Config holds the serial connection settings.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate() error {
	if c.Device == "" {
		return errors.New("odrive: device path is required")
	}
	return nil
}

// Client talks the ODrive ASCII protocol over an exclusive serial link.
// All methods are safe for use from a single goroutine at a time; the
// internal mutex only guards against accidental interleaving of a
// command/response pair.
type Client struct {
	mu sync.Mutex
	rw io.ReadWriteCloser

	readTimeout time.Duration
}

// Dial opens the serial device and returns a connected client.
func Dial(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Baud == 0 {
		cfg.Baud = 115200
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = time.Second
	}

	port, err := serial.Open(cfg.Device, &serial.Mode{BaudRate: cfg.Baud})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", cfg.Device)
	}
	// Per-read timeout so a dead controller surfaces as ErrReadTimeout
	// instead of blocking forever.
	if err := port.SetReadTimeout(20 * time.Millisecond); err != nil {
		port.Close()
		return nil, errors.Wrap(err, "set read timeout")
	}

	return NewClient(port, cfg.ReadTimeout), nil
}

// NewClient wraps an already-open transport. The transport's Read must
// return (0, nil) rather than block when no data is available, like a serial
// port with a read timeout set.
func NewClient(rw io.ReadWriteCloser, readTimeout time.Duration) *Client {
	if readTimeout == 0 {
		readTimeout = time.Second
	}
	return &Client{rw: rw, readTimeout: readTimeout}
}

// Close closes the underlying serial port.
func (c *Client) Close() error {
	return c.rw.Close()
}

func (c *Client) send(line string) error {
	if _, err := io.WriteString(c.rw, line+"\n"); err != nil {
		return errors.Wrapf(err, "send %q", line)
	}
	return nil
}

// readLine collects bytes until a newline. Empty reads count against the
// read timeout budget.
func (c *Client) readLine() (string, error) {
	var out []byte
	buf := make([]byte, 64)
	deadline := time.Now().Add(c.readTimeout)
	for {
		n, err := c.rw.Read(buf)
		if err != nil {
			return "", errors.Wrap(err, "read")
		}
		if n == 0 {
			if time.Now().After(deadline) {
				return "", ErrReadTimeout
			}
			continue
		}
		for _, b := range buf[:n] {
			if b == '\n' || b == '\r' {
				if len(out) == 0 {
					continue
				}
				return string(out), nil
			}
			out = append(out, b)
		}
	}
}

func (c *Client) query(line string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.send(line); err != nil {
		return "", err
	}
	resp, err := c.readLine()
	if err != nil {
		return "", errors.Wrapf(err, "query %q", line)
	}
	return strings.TrimSpace(resp), nil
}

func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case AxisState:
		return strconv.Itoa(int(x))
	default:
		return fmt.Sprintf("%v", v)
	}
}

// SetParam writes a named axis property, e.g. "motor.config.pole_pairs".
func (c *Client) SetParam(axis int, name string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(fmt.Sprintf("w axis%d.%s %s", axis, name, formatValue(value)))
}

// ReadParam reads a named axis property and returns the raw response.
func (c *Client) ReadParam(axis int, name string) (string, error) {
	return c.query(fmt.Sprintf("r axis%d.%s", axis, name))
}

// RequestState asks the axis state machine to enter the given state.
func (c *Client) RequestState(axis int, state AxisState) error {
	return c.SetParam(axis, "requested_state", state)
}

// ReadState reads the current axis state and error bitmask in one round.
func (c *Client) ReadState(axis int) (AxisState, uint32, error) {
	raw, err := c.ReadParam(axis, "current_state")
	if err != nil {
		return AxisStateUndefined, 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return AxisStateUndefined, 0, errors.Wrapf(err, "parse axis %d state %q", axis, raw)
	}

	raw, err = c.ReadParam(axis, "error")
	if err != nil {
		return AxisStateUndefined, 0, err
	}
	code, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return AxisStateUndefined, 0, errors.Wrapf(err, "parse axis %d error %q", axis, raw)
	}

	return AxisState(n), uint32(code), nil
}

// SetVelocity commands a velocity setpoint in turns/sec.
func (c *Client) SetVelocity(axis int, vel float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(fmt.Sprintf("v %d %s", axis, strconv.FormatFloat(vel, 'g', -1, 64)))
}

// ReadVelocity reads the encoder velocity estimate in turns/sec.
func (c *Client) ReadVelocity(axis int) (float64, error) {
	raw, err := c.ReadParam(axis, "encoder.vel_estimate")
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse axis %d velocity %q", axis, raw)
	}
	return v, nil
}

// ClearErrors resets the error registers on an axis and its submodules.
func (c *Client) ClearErrors(axis int) error {
	for _, name := range []string{"error", "motor.error", "encoder.error", "controller.error"} {
		if err := c.SetParam(axis, name, 0); err != nil {
			return err
		}
	}
	return nil
}

// BusVoltage reads the DC bus voltage.
func (c *Client) BusVoltage() (float64, error) {
	raw, err := c.query("r vbus_voltage")
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse bus voltage %q", raw)
	}
	return v, nil
}

// SaveConfig persists the configuration to the controller's non-volatile
// storage.
func (c *Client) SaveConfig() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send("ss")
}

// Reboot restarts the controller. The serial link drops as a side effect, so
// a nil return only means the command was sent.
func (c *Client) Reboot() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send("sr")
}
