package robot

import (
	"encoding/json"
	"os"

	"github.com/gwillem/rover/pkg/odrive"
)

const DefaultConfigFile = "rover.json"

// Config holds the rover configuration
type Config struct {
	Device string        `json:"device"`
	Baud   int           `json:"baud,omitempty"`
	Axes   [2]AxisConfig `json:"axes"`
}

// AxisConfig holds the full ODrive parameter set for one axis. Every field
// is written to the controller before calibration; the values are persisted
// on the controller's non-volatile store with an explicit save.
type AxisConfig struct {
	PolePairs                 int     `json:"pole_pairs"`
	TorqueConstant            float64 `json:"torque_constant"`
	CalibrationCurrent        float64 `json:"calibration_current"`
	ResistanceCalibMaxVoltage float64 `json:"resistance_calib_max_voltage"`
	CurrentRange              float64 `json:"requested_current_range"`
	CurrentControlBandwidth   float64 `json:"current_control_bandwidth"`

	EncoderMode       int     `json:"encoder_mode"`
	CPR               int     `json:"cpr"`
	EncoderBandwidth  float64 `json:"encoder_bandwidth"`
	CalibScanDistance float64 `json:"calib_scan_distance"`

	ControlMode       int     `json:"control_mode"`
	VelLimit          float64 `json:"vel_limit"`
	PosGain           float64 `json:"pos_gain"`
	VelGain           float64 `json:"vel_gain"`
	VelIntegratorGain float64 `json:"vel_integrator_gain"`
}

// DefaultAxisConfig returns the parameter set for the rover's hub motors:
// 15 pole pairs with hall encoders (6 states per pole pair, so CPR 90).
func DefaultAxisConfig() AxisConfig {
	kt := 8.27 / 16.0
	cpr := 90

	return AxisConfig{
		PolePairs:                 15,
		TorqueConstant:            kt,
		CalibrationCurrent:        5,
		ResistanceCalibMaxVoltage: 4,
		CurrentRange:              25,
		CurrentControlBandwidth:   100,

		EncoderMode:       odrive.EncoderModeHall,
		CPR:               cpr,
		EncoderBandwidth:  100,
		CalibScanDistance: 150,

		ControlMode:       odrive.ControlModeVelocity,
		VelLimit:          10,
		PosGain:           1,
		VelGain:           0.02 * kt * float64(cpr),
		VelIntegratorGain: 0.1 * kt * float64(cpr),
	}
}

// DefaultConfig returns the configuration for the stock rover hardware.
func DefaultConfig() *Config {
	return &Config{
		Device: odrive.DefaultDevice,
		Axes:   [2]AxisConfig{DefaultAxisConfig(), DefaultAxisConfig()},
	}
}

// LoadConfig loads configuration from the default config file
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}
