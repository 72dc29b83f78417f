package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Calibrate CalibrateCommand `command:"calibrate" description:"Run the full two-axis motor and encoder calibration"`
	Teleop    TeleopCommand    `command:"teleop" alias:"drive" description:"Drive the rover with the keyboard"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "Rover - keyboard control for an ODrive differential drive robot"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
