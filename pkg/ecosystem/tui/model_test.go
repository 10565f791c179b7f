package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ormasoftchile/tcrun/pkg/kernel/orchestrator"
	"github.com/ormasoftchile/tcrun/pkg/kernel/verify"
)

func TestModel_InitFromIDs(t *testing.T) {
	m := NewModel([]string{"TC_1", "TC_2", "TC_3"}, nil)
	if len(m.rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(m.rows))
	}
	if m.rows[1].ID != "TC_2" || m.rows[1].Status != "pending" {
		t.Errorf("row[1] = %+v", m.rows[1])
	}
}

func send(m Model, msg tea.Msg) Model {
	next, _ := m.Update(msg)
	return next.(Model)
}

func TestModel_TracksEvents(t *testing.T) {
	m := NewModel([]string{"TC_1", "TC_2"}, nil)

	m = send(m, eventMsg{orchestrator.Event{Type: orchestrator.EventStarted, TestCaseID: "TC_1", Worker: 1}})
	m = send(m, eventMsg{orchestrator.Event{Type: orchestrator.EventAttemptStarted, TestCaseID: "TC_1", Worker: 1, Attempt: 1}})
	if m.rows[0].Status != "running" || m.rows[0].Attempt != 1 {
		t.Errorf("after start: %+v", m.rows[0])
	}

	res := &orchestrator.Result{TestCaseID: "TC_1", Verdict: verify.Pass, Attempts: 1, Duration: 120 * time.Millisecond}
	m = send(m, eventMsg{orchestrator.Event{Type: orchestrator.EventFinished, TestCaseID: "TC_1", Worker: 1, Attempt: 1, Result: res}})
	if m.rows[0].Status != "pass" || m.rows[0].Duration != 120*time.Millisecond {
		t.Errorf("after finish: %+v", m.rows[0])
	}

	bad := &orchestrator.Result{TestCaseID: "TC_2", Verdict: verify.NotExecuted, Err: errors.New("before_step hook: failed with exit code 4")}
	m = send(m, eventMsg{orchestrator.Event{Type: orchestrator.EventStarted, TestCaseID: "TC_2"}})
	m = send(m, eventMsg{orchestrator.Event{Type: orchestrator.EventFinished, TestCaseID: "TC_2", Attempt: 1, Result: bad}})
	if m.rows[1].Detail != bad.Err.Error() {
		t.Errorf("detail = %q", m.rows[1].Detail)
	}

	s := m.stats.Snapshot()
	if s.Completed != 2 || s.Passed != 1 || s.NotExecuted != 1 || s.Running != 0 {
		t.Errorf("stats = %+v", s)
	}
	view := m.View()
	if !strings.Contains(view, "2/2") || !strings.Contains(view, "TC_2") {
		t.Errorf("view = %s", view)
	}
}

func TestModel_QuitCancelsOnce(t *testing.T) {
	calls := 0
	m := NewModel([]string{"TC_1"}, func() { calls++ })
	m = send(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	m = send(m, tea.KeyMsg{Type: tea.KeyCtrlC})
	if calls != 1 {
		t.Errorf("cancel called %d times", calls)
	}
	if !strings.Contains(m.View(), "stopping") {
		t.Error("view should show stopping")
	}
}

func TestModel_DoneQuits(t *testing.T) {
	m := NewModel([]string{"TC_1"}, nil)
	sum := &orchestrator.Summary{Total: 1}
	next, cmd := m.Update(doneMsg{Summary: sum})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if next.(Model).summary != sum {
		t.Error("summary not kept")
	}
}
