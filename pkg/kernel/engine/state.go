package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ormasoftchile/tcrun/pkg/kernel/compiler"
)

// StepState is the lifecycle state of a step during a run.
//
//	automated: pending -> running -> passed | failed
//	manual:    pending -> awaiting_confirmation -> skipped
type StepState string

const (
	StatePending              StepState = "pending"
	StateRunning              StepState = "running"
	StatePassed               StepState = "passed"
	StateFailed               StepState = "failed"
	StateAwaitingConfirmation StepState = "awaiting_confirmation"
	StateSkipped              StepState = "skipped"
)

var transitions = map[StepState][]StepState{
	StatePending:              {StateRunning, StateAwaitingConfirmation, StateFailed},
	StateRunning:              {StatePassed, StateFailed},
	StateAwaitingConfirmation: {StateSkipped},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to StepState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a final state.
func (s StepState) Terminal() bool {
	return s == StatePassed || s == StateFailed || s == StateSkipped
}

// StepRecord is the runtime record of one step.
type StepRecord struct {
	Sequence    int           `json:"sequence"`
	Step        int           `json:"step"`
	Description string        `json:"description"`
	Manual      bool          `json:"manual,omitempty"`
	State       StepState     `json:"state"`
	ExitCode    *int          `json:"exit_code,omitempty"`
	Started     time.Time     `json:"started"`
	Duration    time.Duration `json:"duration"`
}

func newStepRecord(st *compiler.Step) *StepRecord {
	return &StepRecord{
		Sequence:    st.Sequence,
		Step:        st.Number,
		Description: st.Description,
		Manual:      st.Manual,
		State:       StatePending,
		Started:     time.Now(),
	}
}

// transition panics on an illegal change; that is a programming error in
// the interpreter, never a user error.
func (r *StepRecord) transition(to StepState) {
	if !CanTransition(r.State, to) {
		panic(fmt.Sprintf("step %d/%d: illegal transition %s -> %s", r.Sequence, r.Step, r.State, to))
	}
	r.State = to
}

func (r *StepRecord) finish() StepRecord {
	r.Duration = time.Since(r.Started)
	return *r
}

// RunState is the persisted summary of a run, written next to the
// execution log.
type RunState struct {
	RunID    string       `json:"run_id"`
	TestCase string       `json:"test_case"`
	Status   string       `json:"status"`
	LogPath  string       `json:"log_path"`
	Steps    []StepRecord `json:"steps"`
	Captured []string     `json:"captured,omitempty"` // names only
	Error    string       `json:"error,omitempty"`
}

// StateFileName is the name of the persisted run state inside an artifact dir.
const StateFileName = "run_state.json"

// SaveState persists the run state as JSON in dir.
func SaveState(dir string, state *RunState) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, StateFileName), data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// LoadState reads a persisted run state from dir.
func LoadState(dir string) (*RunState, error) {
	data, err := os.ReadFile(filepath.Join(dir, StateFileName))
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}

// NewRunState summarizes a result.
func NewRunState(runID, testCase string, res *RunResult) *RunState {
	st := &RunState{
		RunID:    runID,
		TestCase: testCase,
		Status:   res.Status,
		LogPath:  res.LogPath,
		Steps:    res.Steps,
	}
	for name := range res.Captured {
		st.Captured = append(st.Captured, name)
	}
	sort.Strings(st.Captured)
	if res.Err != nil {
		st.Error = res.Err.Error()
	}
	return st
}
