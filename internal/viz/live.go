package viz

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mkruse/treefmm/internal/gravity"
	"github.com/mkruse/treefmm/internal/metrics"
	"github.com/mkruse/treefmm/internal/sim"
	"github.com/mkruse/treefmm/internal/tree"
)

const (
	canvasWidth  = 64
	canvasHeight = 22
	viewExtent   = 1.6 // world units mapped onto the canvas half-width
)

type TickMsg time.Time

// phaseLog receives pass phase transitions; it is shared by pointer so the
// value-copied bubbletea model always sees the latest entries.
type phaseLog struct {
	entries []string
}

func (l *phaseLog) OnPhase(phase gravity.Phase, rank int) {
	const keep = 7
	l.entries = append(l.entries, phase.String())
	if len(l.entries) > keep {
		l.entries = l.entries[len(l.entries)-keep:]
	}
}

// Model steps a single-rank simulation inside the update loop and draws
// the particle cloud, pass phases, and energy history.
type Model struct {
	driver   *sim.Driver
	parts    []*tree.Particle
	cfg      sim.Config
	fps      int
	phases   *phaseLog
	t        float64
	step     int
	steps    int
	energies []float64
	primed   bool
	paused   bool
	done     bool
	err      error
}

func NewModel(driver *sim.Driver, parts []*tree.Particle, cfg sim.Config, fps int) Model {
	if fps <= 0 {
		fps = 30
	}
	log := &phaseLog{}
	driver.Pass().AddObserver(log)
	return Model{
		driver: driver,
		parts:  parts,
		cfg:    cfg,
		fps:    fps,
		phases: log,
		steps:  int(cfg.Duration / cfg.Dt),
	}
}

func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(time.Second/time.Duration(m.fps), func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.paused = !m.paused
		}
		return m, nil

	case TickMsg:
		if m.paused || m.done || m.err != nil {
			return m, m.tick()
		}
		ctx := context.Background()
		if !m.primed {
			m.err = m.driver.Prime(ctx, m.parts, m.cfg)
			m.primed = true
		} else {
			m.err = m.driver.Step(ctx, m.parts, m.cfg)
			m.t += m.cfg.Dt
			m.step++
		}
		if m.err == nil {
			m.energies = append(m.energies, metrics.TotalEnergy(m.parts))
		}
		if m.step >= m.steps {
			m.done = true
		}
		return m, m.tick()
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(Header.Render("treefmm live") + "\n")
	b.WriteString(Panel.Render(m.renderCanvas()) + "\n")

	status := StatusRunning.Render("running")
	if m.paused {
		status = Subtle.Render("paused")
	}
	if m.done {
		status = Subtle.Render("done")
	}
	if m.err != nil {
		status = StatusFailed.Render(m.err.Error())
	}

	b.WriteString(Row("status", status) + "\n")
	b.WriteString(Row("step", fmt.Sprintf("%d / %d", m.step, m.steps)) + "\n")
	b.WriteString(Row("time", fmt.Sprintf("%.3f", m.t)) + "\n")
	b.WriteString(Row("bodies", fmt.Sprintf("%d", len(m.parts))) + "\n")
	b.WriteString(Row("theta", fmt.Sprintf("%.2f", m.cfg.Theta)) + "\n")
	if len(m.energies) > 0 {
		b.WriteString(Row("energy", fmt.Sprintf("%.6f", m.energies[len(m.energies)-1])) + "\n")
		b.WriteString(Row("history", Sparkline(m.energies, 40)) + "\n")
	}
	if len(m.phases.entries) > 0 {
		b.WriteString(Row("pass", Subtle.Render(strings.Join(m.phases.entries, " → "))) + "\n")
	}
	b.WriteString(Subtle.Render("space pause · q quit"))
	return b.String()
}

// renderCanvas projects the xy plane onto a character grid.
func (m Model) renderCanvas() string {
	grid := make([][]rune, canvasHeight)
	for y := range grid {
		grid[y] = make([]rune, canvasWidth)
		for x := range grid[y] {
			grid[y][x] = ' '
		}
	}
	for _, p := range m.parts {
		x := int((p.Pos[0]/viewExtent + 1) / 2 * float64(canvasWidth-1))
		y := int((1 - (p.Pos[1]/viewExtent+1)/2) * float64(canvasHeight-1))
		if x < 0 || x >= canvasWidth || y < 0 || y >= canvasHeight {
			continue
		}
		if grid[y][x] == ' ' {
			grid[y][x] = '·'
		} else {
			grid[y][x] = '●'
		}
	}
	rows := make([]string, canvasHeight)
	for y := range grid {
		rows[y] = string(grid[y])
	}
	return strings.Join(rows, "\n")
}

// RunLive drives the live view until the simulation finishes or the user
// quits.
func RunLive(driver *sim.Driver, parts []*tree.Particle, cfg sim.Config, fps int) error {
	_, err := tea.NewProgram(NewModel(driver, parts, cfg, fps)).Run()
	return err
}
