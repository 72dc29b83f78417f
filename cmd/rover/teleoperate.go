package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/rover/pkg/odrive"
	"github.com/gwillem/rover/pkg/robot"
	"github.com/gwillem/rover/pkg/teleop"
)

type TeleopCommand struct {
	Hz                int     `long:"hz" default:"50" description:"Control loop frequency"`
	Config            string  `long:"config" description:"Path to the rover config file (built-in defaults when absent)"`
	RampRate          float64 `long:"ramp" default:"0.5" description:"Velocity ramp rate (turns/sec^2)"`
	VelGain           float64 `long:"vel-gain" description:"Override velocity P gain"`
	VelIntegratorGain float64 `long:"vel-integrator-gain" description:"Override velocity I gain"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Wheel colors for the velocity chart.
var wheelColors = map[robot.Axis]string{
	robot.AxisLeft:  "51",  // cyan
	robot.AxisRight: "208", // orange
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	faultStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

func (c *TeleopCommand) Execute(args []string) error {
	cfg := loadConfig(c.Config)

	client, err := odrive.Dial(odrive.Config{Device: cfg.Device, Baud: cfg.Baud})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to ODrive on %s: %v\n", cfg.Device, err)
		os.Exit(1)
	}
	defer client.Close()

	queue := teleop.NewIntentQueue()
	ctrl, err := teleop.NewController(teleop.Config{
		Link:              client,
		Input:             queue,
		VelLimit:          cfg.Axes[robot.AxisLeft].VelLimit,
		RampRate:          c.RampRate,
		VelGain:           c.VelGain,
		VelIntegratorGain: c.VelIntegratorGain,
		Hz:                c.Hz,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create controller: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(initialTeleopModel(ctrl, queue, cfg.Axes[robot.AxisLeft].VelLimit), tea.WithAltScreen())

	go func() {
		err := ctrl.Start(ctx)
		p.Send(sessionDoneMsg{err: err})
	}()

	final, err := p.Run()
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running program: %v\n", err)
		os.Exit(1)
	}

	if m, ok := final.(teleopModel); ok && m.sessionErr != nil {
		// The session ended on a fault or a lost link rather than an
		// operator exit.
		fmt.Fprintln(os.Stderr, faultStyle.Render(fmt.Sprintf("Session ended: %v", m.sessionErr)))
		os.Exit(1)
	}
	return nil
}

type teleopModel struct {
	ctrl       *teleop.Controller
	queue      *teleop.IntentQueue
	chart      *streamlinechart.Model
	width      int      // terminal width
	height     int      // terminal height
	logs       []string // last N log messages
	last       teleop.State
	quitting   bool
	sessionErr error
}

// Messages from the controller
type stateMsg teleop.State
type logMsg string
type sessionDoneMsg struct{ err error }

func waitForState(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

func (m *teleopModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *teleopModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - footerHeight - borderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m *teleopModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialTeleopModel(ctrl *teleop.Controller, queue *teleop.IntentQueue, velLimit float64) teleopModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-velLimit, velLimit),
	)

	for axis, color := range wheelColors {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		chart.SetDataSetStyles(axis.String(), runes.ThinLineStyle, style)
	}

	return teleopModel{
		ctrl:  ctrl,
		queue: queue,
		chart: &chart,
	}
}

func (m teleopModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
	)
}

func (m teleopModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		in := teleop.MapKey(msg.String())
		if in == teleop.IntentNone {
			return m, nil
		}
		m.queue.Push(in)
		if in == teleop.IntentExit {
			m.quitting = true
		}
		return m, nil

	case sessionDoneMsg:
		m.sessionErr = msg.err
		m.quitting = true
		return m, tea.Quit

	case stateMsg:
		m.last = teleop.State(msg)
		for _, axis := range robot.Axes() {
			m.chart.PushDataSet(axis.String(), m.last.Measured[axis])
		}
		m.chart.DrawAll()
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)
	}

	return m, nil
}

func (m teleopModel) View() string {
	if m.quitting {
		return "Teleoperation stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("Rover Teleop"))
	sb.WriteString(fmt.Sprintf(" - %d Hz", m.ctrl.Hz()))
	sb.WriteString(statusStyle.Render(fmt.Sprintf("  speed %.1f  turn %.1f", m.last.MoveSpeed, m.last.TurnSpeed)))
	if m.last.Err != nil {
		sb.WriteString("  " + faultStyle.Render(m.last.Err.Error()))
	}
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.width - 4).
		Foreground(lipgloss.Color("9"))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("WASD to drive, QEZC single wheel, space to stop, +/- and [/] speeds, esc to quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend() string {
	var items []string
	for _, axis := range robot.Axes() {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(wheelColors[axis])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+axis.String())
	}
	return strings.Join(items, "  ")
}
