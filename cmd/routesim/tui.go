package main

import (
	"fmt"
	"math"
	"math/bits"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/netsim-lab/routesim"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF")).
			MarginLeft(2).
			MarginTop(1)

	statsBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(0, 2).
			MarginLeft(2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true).
			MarginLeft(2)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true).
			MarginLeft(2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

var quitKey = key.NewBinding(
	key.WithKeys("q", "esc", "enter", "ctrl+c"),
	key.WithHelp("q", "quit"),
)

// progressMsg carries the state of the run at the end of a tick
type progressMsg struct {
	now   uint64
	stats routesim.Statistics
}

// doneMsg carries the outcome of the run
type doneMsg struct {
	res *routesim.Result
	err error
}

type runModel struct {
	bar     progress.Model
	horizon uint64
	now     uint64
	stats   routesim.Statistics

	done bool
	res  *routesim.Result
	err  error
}

func newRunModel(horizon uint64) runModel {
	return runModel{
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(48)),
		horizon: horizon,
	}
}

// estimateHorizon gives the tick by which a run with params is expected to be over.
// Queueing can carry a run past it, so it only scales the progress bar
func estimateHorizon(params *routesim.SimParams) uint64 {
	hi, perPacket := bits.Mul64(uint64(params.MaxAttempts), params.Timeout)
	if hi != 0 {
		return math.MaxUint64
	}
	sending, c1 := bits.Add64(params.SendUntil, perPacket, 0)
	horizon, c2 := bits.Add64(sending, uint64(params.MaxAttempts), 0)
	if c1 != 0 || c2 != 0 || horizon == 0 {
		return math.MaxUint64
	}
	return horizon
}

func (m runModel) fraction() float64 {
	if m.done {
		return 1
	}
	f := float64(m.now) / float64(m.horizon)
	if f > 1 {
		return 1
	}
	return f
}

func (m runModel) Init() tea.Cmd {
	return nil
}

func (m runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// input is ignored until the run is over
		if m.done && key.Matches(msg, quitKey) {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.bar.Width = min(msg.Width-4, 80)
	case progressMsg:
		m.now = msg.now
		m.stats = msg.stats
	case doneMsg:
		m.done = true
		m.res = msg.res
		m.err = msg.err
		if msg.res != nil {
			m.stats = msg.res.Stats
			m.now = msg.res.Stats.LengthOfSimulation
		}
	}
	return m, nil
}

func (m runModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("routesim"))
	b.WriteString("\n\n  ")
	b.WriteString(m.bar.ViewAs(m.fraction()))
	b.WriteString("\n\n")

	st := m.stats
	lines := []string{
		fmt.Sprintf("time:       %d", m.now),
		fmt.Sprintf("sent:       %d (malicious %d)", st.SentPackets, st.SentPacketsMalicious),
		fmt.Sprintf("delivered:  %d (malicious %d)", st.DeliveredPackets, st.DeliveredPacketsMalicious),
	}
	b.WriteString(statsBoxStyle.Render(strings.Join(lines, "\n")))
	b.WriteString("\n")

	if !m.done {
		return b.String()
	}

	if m.err != nil {
		b.WriteString(errorStyle.Render(routesim.AbortReason(m.err)))
	} else {
		rpt := m.res.Report("")
		b.WriteString(successStyle.Render(fmt.Sprintf("finished at %d, average delivery %s, average attempts %s",
			st.LengthOfSimulation, formatAverage(rpt.AverageDeliveryTime), formatAverage(rpt.AverageAttempts))))
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(quitKey.Help().Key + " " + quitKey.Help().Desc))
	b.WriteString("\n")
	return b.String()
}

// runWithTUI runs sim in its own goroutine while a bubbletea program shows its progress.
// The program stays up after the run, until the user dismisses it
func runWithTUI(sim *routesim.Simulation, params *routesim.SimParams) (*routesim.Result, error) {
	model := newRunModel(estimateHorizon(params))
	p := tea.NewProgram(model)

	// log records would tear up the display
	sim.SetLogger(nil)

	// send only when the bar moves by a whole percent
	lastPct := -1
	sim.SetProgress(func(now uint64, stats routesim.Statistics) {
		pct := int(100 * float64(now) / float64(model.horizon))
		if pct == lastPct {
			return
		}
		lastPct = pct
		p.Send(progressMsg{now: now, stats: stats})
	})

	go func() {
		res, err := sim.Run()
		p.Send(doneMsg{res: res, err: err})
	}()

	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	fm := final.(runModel)
	return fm.res, fm.err
}
