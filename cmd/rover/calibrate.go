package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/gwillem/rover/pkg/odrive"
	"github.com/gwillem/rover/pkg/robot"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type CalibrateCommand struct {
	Config string `long:"config" description:"Path to the rover config file (built-in defaults when absent)"`
	Yes    bool   `long:"yes" short:"y" description:"Skip the wheels-free confirmation"`
}

func (c *CalibrateCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Rover Motor Calibration"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println()

	cfg := loadConfig(c.Config)

	if !c.Yes {
		fmt.Println(warnStyle.Render("Place the rover on a stand: both wheels will spin during calibration."))
		var free bool
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Are the wheels free to spin?").
					Affirmative("Yes").
					Negative("No").
					Value(&free),
			),
		)
		if err := form.Run(); err != nil {
			fmt.Println()
			os.Exit(0)
		}
		if !free {
			fmt.Println("Place the rover on a stand and try again.")
			os.Exit(1)
		}
	}

	fmt.Printf("Connecting to ODrive on %s...\n", cfg.Device)
	client, err := odrive.Dial(odrive.Config{Device: cfg.Device, Baud: cfg.Baud})
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("Failed to connect: %v", err)))
		os.Exit(1)
	}
	defer client.Close()

	if v, err := client.BusVoltage(); err == nil {
		fmt.Println(successStyle.Render(fmt.Sprintf("Connected, bus voltage %.2fV", v)))
	} else {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("Controller not answering: %v", err)))
		os.Exit(1)
	}
	fmt.Println()

	cal := robot.NewCalibrator(client)
	cal.SetLogf(func(format string, args ...any) {
		fmt.Println(dimStyle.Render(fmt.Sprintf(format, args...)))
	})

	if err := cal.Run(context.Background(), cfg); err != nil {
		fmt.Println()
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("Calibration failed: %v", err)))
		fmt.Fprintln(os.Stderr, "Check wiring, power and that both wheels can spin freely, then rerun.")
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Calibration complete!"))
	fmt.Println()
	fmt.Println("Drive the rover with: " + headerStyle.Render("rover teleop"))
	return nil
}

func loadConfig(path string) *robot.Config {
	if path != "" {
		cfg, err := robot.LoadConfigFrom(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", path, err)
			os.Exit(1)
		}
		return cfg
	}
	if robot.ConfigExists() {
		cfg, err := robot.LoadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", robot.DefaultConfigFile, err)
			os.Exit(1)
		}
		fmt.Printf("Loaded configuration from %s\n", robot.DefaultConfigFile)
		return cfg
	}
	return robot.DefaultConfig()
}
