// Package rover provides keyboard control for a differential-drive robot
// built around an ODrive v3 motor controller on a serial link.
//
// # Installation
//
//	go install github.com/gwillem/rover/cmd/rover@latest
//
// # Usage
//
// First, with the rover on a stand, calibrate the motors and encoders:
//
//	rover calibrate
//
// Then drive it with the keyboard:
//
//	rover teleop
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/rover: CLI with calibrate and teleop commands
//   - pkg/odrive: ODrive ASCII-protocol serial client
//   - pkg/robot: Axis model, configuration and calibration sequencing
//   - pkg/teleop: Drive state machine and key-to-intent mapping
package rover
