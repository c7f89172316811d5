package main

import (
	"context"
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/mhaegens/DMLegoArm/pkg/monitor"
	"github.com/mhaegens/DMLegoArm/pkg/motion"
	"github.com/mhaegens/DMLegoArm/pkg/robot"
)

type MonitorCommand struct {
	Hz    int  `long:"hz" default:"10" description:"Sampling frequency"`
	Coast bool `long:"coast" description:"Start with the motors released so the arm can be moved by hand"`
}

const (
	logLines   = 4
	gaugeWidth = 24
	// minMove is the smallest change in degrees worth redrawing the chart for.
	minMove = 0.05
)

var jointColors = map[robot.Joint]string{
	robot.JointA: "201",
	robot.JointB: "208",
	robot.JointC: "226",
	robot.JointD: "51",
}

var (
	monitorTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartBox     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	badge        = lipgloss.NewStyle().Padding(0, 1).Bold(true)
	busyBadge    = badge.Background(lipgloss.Color("208")).Foreground(lipgloss.Color("0"))
	idleBadge    = badge.Background(lipgloss.Color("238")).Foreground(lipgloss.Color("250"))
	coastBadge   = badge.Background(lipgloss.Color("51")).Foreground(lipgloss.Color("0"))
	logBox       = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(lipgloss.Color("240")).
			Foreground(lipgloss.Color("245")).
			Height(logLines)
)

// logBuffer keeps the newest lines and folds consecutive repeats.
type logBuffer struct {
	lines   []string
	repeats int
}

func (b *logBuffer) push(msg string) {
	if n := len(b.lines); n > 0 && stripStamp(b.lines[n-1]) == stripStamp(msg) {
		b.repeats++
		b.lines[n-1] = fmt.Sprintf("%s (x%d)", stripStamp(msg), b.repeats+1)
		return
	}
	b.repeats = 0
	b.lines = append(b.lines, msg)
	if len(b.lines) > logLines {
		b.lines = b.lines[len(b.lines)-logLines:]
	}
}

// stripStamp drops the "[15:04:05] " prefix and any repeat counter.
func stripStamp(line string) string {
	if strings.HasPrefix(line, "[") {
		if _, rest, ok := strings.Cut(line, "] "); ok {
			line = rest
		}
	}
	if i := strings.LastIndex(line, " (x"); i >= 0 && strings.HasSuffix(line, ")") {
		line = line[:i]
	}
	return line
}

type sampleMsg monitor.State
type logLineMsg string

// listen delivers whichever of the next sample or log line comes first.
func listen(mon *monitor.Monitor) tea.Cmd {
	return func() tea.Msg {
		select {
		case s := <-mon.States():
			return sampleMsg(s)
		case l := <-mon.Logs():
			return logLineMsg(l)
		}
	}
}

func setCoast(mon *monitor.Monitor, coast bool) tea.Cmd {
	return func() tea.Msg {
		// Failures reach the log pane through the monitor.
		_ = mon.SetCoast(context.Background(), coast)
		return nil
	}
}

type monitorModel struct {
	mon    *monitor.Monitor
	chart  *streamlinechart.Model
	limits map[robot.Joint]motion.Limits
	sample monitor.State
	logs   logBuffer

	width, height int
	quitting      bool
}

// chartRange spans every soft limit with some margin, or one turn when the
// arm is not calibrated.
func chartRange(limits map[robot.Joint]motion.Limits) (float64, float64) {
	if len(limits) == 0 {
		return -180, 180
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, l := range limits {
		lo = math.Min(lo, l.Lo)
		hi = math.Max(hi, l.Hi)
	}
	margin := math.Max((hi-lo)*0.1, 5)
	return lo - margin, hi + margin
}

func newMonitorModel(mon *monitor.Monitor, limits map[robot.Joint]motion.Limits) monitorModel {
	lo, hi := chartRange(limits)
	chart := streamlinechart.New(80, 20, streamlinechart.WithYRange(lo, hi))
	for _, j := range robot.AllJoints() {
		chart.SetDataSetStyles(string(j), runes.ThinLineStyle,
			lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[j])))
	}
	return monitorModel{mon: mon, chart: &chart, limits: limits}
}

// moved reports whether next differs from prev enough to plot.
func moved(prev, next map[robot.Joint]float64) bool {
	if prev == nil {
		return true
	}
	for j, p := range next {
		q, ok := prev[j]
		if !ok || math.IsNaN(p) != math.IsNaN(q) || math.Abs(p-q) >= minMove {
			return true
		}
	}
	return false
}

// layout gives the chart whatever the other panes leave over.
func (m *monitorModel) layout() {
	if m.width == 0 || m.height == 0 {
		return
	}
	used := lipgloss.Height(m.statusBar()) + lipgloss.Height(m.jointPanel()) + lipgloss.Height(m.logPane())
	m.chart.Resize(max(m.width-2, 40), max(m.height-used-2, 8))
}

func (m monitorModel) Init() tea.Cmd {
	return listen(m.mon)
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "c":
			return m, setCoast(m.mon, !m.mon.Coasting())
		}

	case sampleMsg:
		prev := m.sample.Positions
		m.sample = monitor.State(msg)
		if moved(prev, m.sample.Positions) {
			for j, pos := range m.sample.Positions {
				if !math.IsNaN(pos) {
					m.chart.PushDataSet(string(j), pos)
				}
			}
			m.chart.DrawAll()
		}
		return m, listen(m.mon)

	case logLineMsg:
		m.logs.push(string(msg))
		return m, listen(m.mon)
	}
	return m, nil
}

func (m monitorModel) statusBar() string {
	state := idleBadge.Render("IDLE")
	if m.sample.Busy {
		state = busyBadge.Render("BUSY")
	}
	motors := idleBadge.Render("BRAKED")
	if m.mon.Coasting() {
		motors = coastBadge.Render("COAST")
	}
	return lipgloss.JoinHorizontal(lipgloss.Center,
		monitorTitle.Render("LEGO Arm Monitor"), " ",
		state, " ", motors, " ",
		dimStyle.Render(fmt.Sprintf("%d Hz  c: coast  q: quit", m.mon.Hz())),
	)
}

// gauge draws pos within lim as a track with a marker.
func gauge(pos float64, lim motion.Limits, width int) string {
	if math.IsNaN(pos) || lim.Hi <= lim.Lo {
		return strings.Repeat("·", width)
	}
	frac := math.Max(0, math.Min(1, (pos-lim.Lo)/(lim.Hi-lim.Lo)))
	i := int(math.Round(frac * float64(width-1)))
	return strings.Repeat("─", i) + "●" + strings.Repeat("─", width-1-i)
}

func (m monitorModel) jointPanel() string {
	rows := make([]string, 0, len(robot.AllJoints()))
	for _, j := range robot.AllJoints() {
		swatch := lipgloss.NewStyle().Foreground(lipgloss.Color(jointColors[j])).Bold(true)
		pos, ok := m.sample.Positions[j]
		value := errorStyle.Render("     n/a")
		if ok && !math.IsNaN(pos) {
			value = fmt.Sprintf("%7.1f°", pos)
		} else {
			pos = math.NaN()
		}

		track := dimStyle.Render("not calibrated")
		if lim, ok := m.limits[j]; ok {
			g := gauge(pos, lim, gaugeWidth)
			if pos < lim.Lo || pos > lim.Hi {
				g = errorStyle.Render(g)
			}
			track = fmt.Sprintf("%6.1f %s %-6.1f", lim.Lo, g, lim.Hi)
		}
		rows = append(rows, fmt.Sprintf("%s %s %-14s %s  %s",
			swatch.Render("■"), swatch.Render(string(j)), dimStyle.Render(j.Role()), value, track))
	}
	return strings.Join(rows, "\n")
}

func (m monitorModel) logPane() string {
	return logBox.Width(max(m.width, 20)).Render(strings.Join(m.logs.lines, "\n"))
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Monitoring stopped.\n"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.statusBar(),
		chartBox.Render(m.chart.View()),
		m.jointPanel(),
		m.logPane(),
	) + "\n"
}

func (c *MonitorCommand) Execute(args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		limits := make(map[robot.Joint]motion.Limits)
		for j, st := range a.engine.State().Joints {
			if st.Limits != nil {
				limits[j] = *st.Limits
			}
		}

		mon := monitor.New(a.engine, monitor.Config{Hz: c.Hz, Coast: c.Coast})
		ctx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			mon.Start(ctx)
		}()

		_, err := tea.NewProgram(newMonitorModel(mon, limits), tea.WithAltScreen()).Run()
		cancel()
		<-done
		return err
	})
}
