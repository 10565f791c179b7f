// Package trace implements the append-only JSONL audit trail of a run.
//
// Each event carries the SHA-256 of the previous line so a trace can be
// checked for tampering or truncation with Verify.
package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// EventType enumerates trace event types.
type EventType string

const (
	EventRunStart      EventType = "run_start"
	EventRunComplete   EventType = "run_complete"
	EventPrerequisite  EventType = "prerequisite"
	EventHook          EventType = "hook"
	EventSequenceStart EventType = "sequence_start"
	EventSequenceEnd   EventType = "sequence_end"
	EventStepStart     EventType = "step_start"
	EventStepComplete  EventType = "step_complete"
	EventCapture       EventType = "capture"
)

// StepStatus is the terminal status of a step as recorded in the trace.
type StepStatus string

const (
	StatusPassed  StepStatus = "passed"
	StatusFailed  StepStatus = "failed"
	StatusSkipped StepStatus = "skipped"
	StatusError   StepStatus = "error"
)

// Genesis is the prev_hash of the first event.
var Genesis = strings.Repeat("0", 64)

// Event is a single trace event written to the JSONL stream.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	PrevHash  string         `json:"prev_hash"`
	Data      map[string]any `json:"data,omitempty"`
}

// Failure describes why a step failed or errored.
type Failure struct {
	Kind    string `json:"kind"` // exit_code, verification, hook, unset_variable, ...
	Message string `json:"message"`
}

// Writer writes trace events to an append-only JSONL stream.
// A nil *Writer is valid and discards everything.
type Writer struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	runID    string
	prevHash string
	count    int
	secrets  []string
}

// NewWriter creates a trace writer that writes to w.
func NewWriter(w io.Writer, runID string) *Writer {
	return &Writer{w: w, runID: runID, prevHash: Genesis}
}

// NewFileWriter creates a trace writer on a new JSONL file.
func NewFileWriter(path, runID string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tw := NewWriter(f, runID)
	tw.closer = f
	return tw, nil
}

// SetSecrets registers literal values that are replaced with <REDACTED>
// in every string written afterwards.
func (tw *Writer) SetSecrets(values []string) {
	if tw == nil {
		return
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.secrets = nil
	for _, v := range values {
		if v != "" {
			tw.secrets = append(tw.secrets, v)
		}
	}
	// Longest first, so a secret containing another is replaced whole.
	sort.Slice(tw.secrets, func(i, j int) bool { return len(tw.secrets[i]) > len(tw.secrets[j]) })
}

func (tw *Writer) redact(v any) any {
	switch v := v.(type) {
	case string:
		for _, s := range tw.secrets {
			v = strings.ReplaceAll(v, s, "<REDACTED>")
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, x := range v {
			out[k] = tw.redact(x)
		}
		return out
	}
	return v
}

// Emit writes a single trace event.
func (tw *Writer) Emit(eventType EventType, data map[string]any) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if len(tw.secrets) > 0 && data != nil {
		data = tw.redact(data).(map[string]any)
	}
	evt := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     tw.runID,
		PrevHash:  tw.prevHash,
		Data:      data,
	}
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal trace event: %w", err)
	}
	sum := sha256.Sum256(line)
	tw.prevHash = hex.EncodeToString(sum[:])
	tw.count++
	_, err = tw.w.Write(append(line, '\n'))
	return err
}

// Count returns the number of events written.
func (tw *Writer) Count() int {
	if tw == nil {
		return 0
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.count
}

// Close closes the underlying file when the writer owns one.
func (tw *Writer) Close() error {
	if tw == nil || tw.closer == nil {
		return nil
	}
	return tw.closer.Close()
}

// ---------------------------------------------------------------------------
// Typed emitters
// ---------------------------------------------------------------------------

// EmitRunStart emits a run_start event.
func (tw *Writer) EmitRunStart(testCaseID string, interactive bool) error {
	return tw.Emit(EventRunStart, map[string]any{
		"test_case":   testCaseID,
		"interactive": interactive,
	})
}

// EmitRunComplete emits a run_complete event.
func (tw *Writer) EmitRunComplete(status string, entries int, duration time.Duration, err error) error {
	data := map[string]any{
		"status":   status,
		"entries":  entries,
		"duration": duration.String(),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return tw.Emit(EventRunComplete, data)
}

// EmitPrerequisite emits a prerequisite event.
func (tw *Writer) EmitPrerequisite(index int, kind, description string, ok bool) error {
	return tw.Emit(EventPrerequisite, map[string]any{
		"index":       index,
		"kind":        kind,
		"description": description,
		"ok":          ok,
	})
}

// EmitHook emits a hook event.
func (tw *Writer) EmitHook(kind, policy string, exitCode int, output string) error {
	return tw.Emit(EventHook, map[string]any{
		"hook":      kind,
		"on_error":  policy,
		"exit_code": exitCode,
		"output":    output,
	})
}

// EmitSequenceStart emits a sequence_start event.
func (tw *Writer) EmitSequenceStart(id int, name string) error {
	return tw.Emit(EventSequenceStart, map[string]any{"sequence": id, "name": name})
}

// EmitSequenceEnd emits a sequence_end event.
func (tw *Writer) EmitSequenceEnd(id int) error {
	return tw.Emit(EventSequenceEnd, map[string]any{"sequence": id})
}

// EmitStepStart emits a step_start event.
func (tw *Writer) EmitStepStart(sequence, step int, manual bool) error {
	return tw.Emit(EventStepStart, map[string]any{
		"sequence": sequence,
		"step":     step,
		"manual":   manual,
	})
}

// EmitStepComplete emits a step_complete event.
func (tw *Writer) EmitStepComplete(sequence, step int, status StepStatus, exitCode *int, duration time.Duration, failure *Failure) error {
	data := map[string]any{
		"sequence": sequence,
		"step":     step,
		"status":   string(status),
		"duration": duration.String(),
	}
	if exitCode != nil {
		data["exit_code"] = *exitCode
	}
	if failure != nil {
		data["failure"] = map[string]any{
			"kind":    failure.Kind,
			"message": failure.Message,
		}
	}
	return tw.Emit(EventStepComplete, data)
}

// EmitCapture emits a capture event. The value itself is not recorded.
func (tw *Writer) EmitCapture(sequence, step int, name string, matched bool) error {
	return tw.Emit(EventCapture, map[string]any{
		"sequence": sequence,
		"step":     step,
		"name":     name,
		"matched":  matched,
	})
}
