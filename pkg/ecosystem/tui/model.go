// Package tui renders live orchestration progress with Bubble Tea.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ormasoftchile/tcrun/pkg/kernel/orchestrator"
	"github.com/ormasoftchile/tcrun/pkg/kernel/verify"
)

// RowState tracks one test case in the display.
type RowState struct {
	ID       string
	Status   string // "pending", "running", "pass", "fail", "not_executed"
	Worker   int
	Attempt  int
	Duration time.Duration
	Detail   string
}

// Model is the Bubble Tea model for the progress display.
type Model struct {
	rows     []RowState
	index    map[string]int
	stats    *orchestrator.Stats
	spinner  spinner.Model
	bar      progress.Model
	done     bool
	stopping bool
	summary  *orchestrator.Summary
	err      error
	width    int
	cancel   context.CancelFunc
}

// NewModel creates a display for the given test case ids. cancel is called
// when the user asks to stop.
func NewModel(ids []string, cancel context.CancelFunc) Model {
	rows := make([]RowState, 0, len(ids))
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		rows = append(rows, RowState{ID: id, Status: "pending"})
		index[id] = i
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		rows:    rows,
		index:   index,
		stats:   orchestrator.NewStats(len(ids)),
		spinner: sp,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		cancel:  cancel,
	}
}

// --- Messages ---

// eventMsg delivers an orchestrator event to the display.
type eventMsg struct {
	Event orchestrator.Event
}

// doneMsg signals that the orchestrated run returned.
type doneMsg struct {
	Summary *orchestrator.Summary
	Err     error
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			// Running test cases stop after their current step; the
			// display quits once the run returns.
			if !m.stopping && m.cancel != nil {
				m.cancel()
			}
			m.stopping = true
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		if w := msg.Width - 20; w > 10 && w < 80 {
			m.bar.Width = w
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.apply(msg.Event)

	case doneMsg:
		m.done = true
		m.summary = msg.Summary
		m.err = msg.Err
		return m, tea.Quit
	}
	return m, nil
}

// apply folds an event into the rows and tallies.
func (m *Model) apply(e orchestrator.Event) {
	m.stats.Observe(e)
	i, ok := m.index[e.TestCaseID]
	if !ok {
		return
	}
	row := &m.rows[i]
	switch e.Type {
	case orchestrator.EventStarted:
		row.Status = "running"
		row.Worker = e.Worker
	case orchestrator.EventAttemptStarted:
		row.Attempt = e.Attempt
	case orchestrator.EventFinished:
		if e.Result == nil {
			return
		}
		row.Status = string(e.Result.Verdict)
		row.Duration = e.Result.Duration
		row.Detail = ""
		if e.Result.Err != nil {
			row.Detail = e.Result.Err.Error()
		} else if v := e.Result.Verification; v != nil {
			if f, ok := v.FirstFailure(); ok {
				row.Detail = fmt.Sprintf("seq %d step %d: %s", f.Sequence, f.Step, f.Message)
			}
		}
	}
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("40"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	skipStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	s := m.stats.Snapshot()

	b.WriteString(headerStyle.Render(fmt.Sprintf("  tcrun: %d test case(s)", s.Total)))
	b.WriteString("\n\n")

	for _, r := range m.rows {
		line := fmt.Sprintf("%s %s", m.icon(r.Status), r.ID)
		switch r.Status {
		case "running":
			line += dimStyle.Render(fmt.Sprintf("  worker %d, attempt %d", r.Worker, r.Attempt))
		case "pending":
		default:
			line += dimStyle.Render(fmt.Sprintf("  %s", r.Duration.Truncate(time.Millisecond)))
			if r.Attempt > 1 {
				line += dimStyle.Render(fmt.Sprintf(" (%d attempts)", r.Attempt))
			}
			if r.Detail != "" {
				line += "  " + truncate(r.Detail, m.width-len(r.ID)-20)
			}
		}
		b.WriteString("  " + line + "\n")
	}

	b.WriteString("\n  ")
	pct := 0.0
	if s.Total > 0 {
		pct = float64(s.Completed) / float64(s.Total)
	}
	b.WriteString(m.bar.ViewAs(pct))
	b.WriteString(fmt.Sprintf("  %d/%d", s.Completed, s.Total))
	b.WriteString("\n  ")
	b.WriteString(passStyle.Render(fmt.Sprintf("%d passed", s.Passed)))
	b.WriteString(dimStyle.Render(" · "))
	b.WriteString(failStyle.Render(fmt.Sprintf("%d failed", s.Failed)))
	b.WriteString(dimStyle.Render(fmt.Sprintf(" · %d running · %d attempts", s.Running, s.TotalAttempts)))
	b.WriteString("\n\n")

	switch {
	case m.done:
		b.WriteString(dimStyle.Render("  done"))
	case m.stopping:
		b.WriteString(dimStyle.Render("  stopping after current steps..."))
	default:
		b.WriteString(dimStyle.Render("  q: stop"))
	}
	b.WriteString("\n")
	return b.String()
}

func (m Model) icon(status string) string {
	switch status {
	case "pending":
		return dimStyle.Render("○")
	case "running":
		return m.spinner.View()
	case string(verify.Pass):
		return passStyle.Render("✓")
	case string(verify.Fail):
		return failStyle.Render("✗")
	default:
		return skipStyle.Render("⊘")
	}
}

func truncate(s string, n int) string {
	if n < 10 {
		n = 60
	}
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

// --- Orchestrator integration ---

// Display drives a Model from orchestrator events.
type Display struct {
	p *tea.Program
}

// NewDisplay creates a display writing to out.
func NewDisplay(ids []string, cancel context.CancelFunc, out io.Writer) *Display {
	return &Display{p: tea.NewProgram(NewModel(ids, cancel), tea.WithOutput(out))}
}

// Observe forwards an event; use it as orchestrator.Config.OnEvent.
func (d *Display) Observe(e orchestrator.Event) {
	d.p.Send(eventMsg{Event: e})
}

// Run starts the display, calls run in the background and returns its
// result once the display has drawn the final state.
func (d *Display) Run(run func() (*orchestrator.Summary, error)) (*orchestrator.Summary, error) {
	go func() {
		sum, err := run()
		d.p.Send(doneMsg{Summary: sum, Err: err})
	}()
	final, err := d.p.Run()
	if err != nil {
		return nil, fmt.Errorf("progress display: %w", err)
	}
	m := final.(Model)
	return m.summary, m.err
}
