// Package recorder captures command results during a run and replays them
// later, so a test case can be re-verified without touching the system
// under test.
package recorder

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/tcrun/pkg/kernel/executor"
)

// CapturedResponse records a single command result.
type CapturedResponse struct {
	Command  string `yaml:"command"`
	File     bool   `yaml:"file,omitempty"` // command is a script file path
	ExitCode int    `yaml:"exit_code"`
	Output   string `yaml:"output"`
}

// Recording is the on-disk form of a capture session.
type Recording struct {
	TestCase  string             `yaml:"test_case,omitempty"`
	Responses []CapturedResponse `yaml:"responses"`
}

// Recorder wraps an Executor and captures every result.
type Recorder struct {
	inner executor.Executor

	mu        sync.Mutex
	responses []CapturedResponse
	secrets   secrets
}

var _ executor.Executor = (*Recorder)(nil)

// New creates a recording wrapper around an existing executor.
func New(inner executor.Executor) *Recorder {
	return &Recorder{inner: inner}
}

// SetSecrets registers literal values that are replaced with <REDACTED> in
// recorded commands and outputs.
func (r *Recorder) SetSecrets(values []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets = newSecrets(values)
}

// Run delegates to the inner executor and records the result.
func (r *Recorder) Run(ctx context.Context, c executor.Command) (*executor.Result, error) {
	result, err := r.inner.Run(ctx, c)
	if err != nil {
		return nil, err
	}
	text, isFile := commandText(c)
	r.mu.Lock()
	r.responses = append(r.responses, CapturedResponse{
		Command:  r.secrets.redact(text),
		File:     isFile,
		ExitCode: result.ExitCode,
		Output:   r.secrets.redact(result.Output),
	})
	r.mu.Unlock()
	return result, nil
}

// Responses returns a copy of the captured results in call order.
func (r *Recorder) Responses() []CapturedResponse {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CapturedResponse(nil), r.responses...)
}

// Save writes the recording as YAML.
func (r *Recorder) Save(path, testCase string) error {
	data, err := yaml.Marshal(Recording{TestCase: testCase, Responses: r.Responses()})
	if err != nil {
		return fmt.Errorf("marshal recording: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write recording: %w", err)
	}
	return nil
}

// secrets holds literal values to redact, longest first so that a secret
// containing another is replaced whole.
type secrets []string

func newSecrets(values []string) secrets {
	var out secrets
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

func (s secrets) redact(text string) string {
	for _, v := range s {
		text = strings.ReplaceAll(text, v, "<REDACTED>")
	}
	return text
}

func commandText(c executor.Command) (string, bool) {
	if c.File != "" {
		return c.File, true
	}
	return c.Script, false
}

// ---------------------------------------------------------------------------
// Replay
// ---------------------------------------------------------------------------

// ErrNotRecorded is returned for a command with no remaining recording.
type ErrNotRecorded struct {
	Command string
}

func (e *ErrNotRecorded) Error() string {
	return fmt.Sprintf("no recorded response for %q", e.Command)
}

// Replayer is an Executor that answers from a recording. Each command text
// consumes its recorded responses in order.
type Replayer struct {
	mu      sync.Mutex
	pending map[string][]CapturedResponse
	secrets secrets
}

var _ executor.Executor = (*Replayer)(nil)

// NewReplayer indexes a recording.
func NewReplayer(rec Recording) *Replayer {
	p := &Replayer{pending: make(map[string][]CapturedResponse)}
	for _, resp := range rec.Responses {
		p.pending[resp.Command] = append(p.pending[resp.Command], resp)
	}
	return p
}

// SetSecrets registers the values that were redacted when the recording was
// made, so that commands containing them still find their responses.
func (p *Replayer) SetSecrets(values []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.secrets = newSecrets(values)
}

// LoadReplayer reads a recording written by Recorder.Save.
func LoadReplayer(path string) (*Replayer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recording: %w", err)
	}
	var rec Recording
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse recording %s: %w", path, err)
	}
	return NewReplayer(rec), nil
}

// Run implements executor.Executor.
func (p *Replayer) Run(ctx context.Context, c executor.Command) (*executor.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text, _ := commandText(c)
	p.mu.Lock()
	defer p.mu.Unlock()
	text = p.secrets.redact(text)
	queue := p.pending[text]
	if len(queue) == 0 {
		return nil, &ErrNotRecorded{Command: text}
	}
	p.pending[text] = queue[1:]
	return &executor.Result{ExitCode: queue[0].ExitCode, Output: queue[0].Output}, nil
}
