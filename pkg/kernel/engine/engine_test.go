package engine

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ormasoftchile/tcrun/pkg/kernel/compiler"
	"github.com/ormasoftchile/tcrun/pkg/kernel/execlog"
	"github.com/ormasoftchile/tcrun/pkg/kernel/executor"
	"github.com/ormasoftchile/tcrun/pkg/kernel/schema"
	"github.com/ormasoftchile/tcrun/pkg/kernel/trace"
)

// fakeExec answers commands from a table; unknown commands exit 0 with no
// output.
type fakeExec struct {
	mu      sync.Mutex
	results map[string]executor.Result
	calls   []executor.Command
}

func (f *fakeExec) Run(ctx context.Context, c executor.Command) (*executor.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if r, ok := f.results[c.Script]; ok {
		return &r, nil
	}
	return &executor.Result{}, nil
}

func (f *fakeExec) scripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.Script)
	}
	return out
}

func compile(t *testing.T, doc string) *compiler.Plan {
	t.Helper()
	tc, err := schema.Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p, _, err := compiler.Compile(tc, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return p
}

func runWith(t *testing.T, p *compiler.Plan, fx *fakeExec) (*RunResult, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	var out bytes.Buffer
	res := New(p, RunConfig{
		RunID:       "run-1",
		ArtifactDir: dir,
		LogPath:     filepath.Join(dir, "execution_log.json"),
		Stdout:      &out,
		Exec:        fx,
	}).Run(context.Background())
	return res, &out
}

const twoSteps = `
id: TC_TWO
test_sequences:
  - id: 1
    name: main
    steps:
      - {step: 1, description: first, command: "cmd-one"}
      - {step: 2, description: second, command: "cmd-two"}
`

func TestInterpreter_AllPass(t *testing.T) {
	res, out := runWith(t, compile(t, twoSteps), &fakeExec{})
	if res.Status != StatusCompleted || res.Err != nil {
		t.Fatalf("status = %s err = %v", res.Status, res.Err)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(res.Entries))
	}
	if !strings.Contains(out.String(), "All test sequences completed successfully") {
		t.Errorf("output = %s", out.String())
	}
	for _, s := range res.Steps {
		if s.State != StatePassed {
			t.Errorf("step %d state = %s", s.Step, s.State)
		}
	}
}

func TestInterpreter_FailingStepIsLoggedAndHalts(t *testing.T) {
	doc := twoSteps + `      - {step: 3, description: third, command: "cmd-three"}
`
	fx := &fakeExec{results: map[string]executor.Result{"cmd-two": {ExitCode: 1, Output: "boom"}}}
	res, out := runWith(t, compile(t, doc), fx)

	if res.Status != StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Err != nil {
		t.Errorf("a failing step is not a runtime error: %v", res.Err)
	}
	if len(res.Entries) != 2 || res.Entries[1].ExitCode != 1 || res.Entries[1].Output != "boom" {
		t.Errorf("entries = %+v", res.Entries)
	}
	for _, s := range fx.scripts() {
		if s == "cmd-three" {
			t.Error("step 3 ran after a failure")
		}
	}
	if !strings.Contains(out.String(), "[FAIL] Step 2: second") {
		t.Errorf("output = %s", out.String())
	}
}

func TestInterpreter_ManualStepNotLogged(t *testing.T) {
	doc := `
id: TC_MANUAL
test_sequences:
  - id: 1
    name: main
    steps:
      - {step: 1, description: a, command: "cmd-one"}
      - {step: 2, description: look, manual: true, command: "check the LED"}
      - {step: 3, description: c, command: "cmd-three"}
`
	res, out := runWith(t, compile(t, doc), &fakeExec{})
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s", res.Status)
	}
	var logged []int
	for _, e := range res.Entries {
		logged = append(logged, e.Step)
	}
	if len(logged) != 2 || logged[0] != 1 || logged[1] != 3 {
		t.Errorf("logged steps = %v, want [1 3]", logged)
	}
	if res.Steps[1].State != StateSkipped || !res.Steps[1].Manual {
		t.Errorf("manual record = %+v", res.Steps[1])
	}
	if !strings.Contains(out.String(), "Non-interactive mode detected") {
		t.Errorf("output = %s", out.String())
	}
}

type countingConfirmer struct{ n int }

func (c *countingConfirmer) Confirm(context.Context, string) error { c.n++; return nil }

func TestInterpreter_InteractiveManualStepConfirms(t *testing.T) {
	doc := `
id: TC_MANUAL
test_sequences:
  - id: 1
    name: main
    steps:
      - {step: 1, description: look, manual: true}
`
	conf := &countingConfirmer{}
	dir := t.TempDir()
	res := New(compile(t, doc), RunConfig{
		ArtifactDir: dir,
		Interactive: true,
		Confirmer:   conf,
		Stdout:      &bytes.Buffer{},
		Exec:        &fakeExec{},
	}).Run(context.Background())
	if res.Status != StatusCompleted || conf.n != 1 {
		t.Errorf("status = %s confirmations = %d", res.Status, conf.n)
	}
}

func TestInterpreter_FailPolicyHookAborts(t *testing.T) {
	doc := `
id: TC_HOOK
hooks:
  before_step: {command: "hook-check", on_error: fail}
test_sequences:
  - id: 1
    name: main
    steps:
      - {step: 1, description: a, command: "cmd-one"}
`
	fx := &fakeExec{results: map[string]executor.Result{"hook-check": {ExitCode: 2}}}
	res, _ := runWith(t, compile(t, doc), fx)
	if res.Status != StatusAborted {
		t.Fatalf("status = %s", res.Status)
	}
	var re *RuntimeError
	if !errors.As(res.Err, &re) || re.Hook != schema.HookBeforeStep {
		t.Fatalf("err = %v, want before_step RuntimeError", res.Err)
	}
	if len(res.Entries) != 0 {
		t.Errorf("entries = %v", res.Entries)
	}
}

func TestInterpreter_ContinuePolicyHook(t *testing.T) {
	doc := `
id: TC_HOOK
hooks:
  after_step: {command: "hook-check", on_error: continue}
test_sequences:
  - id: 1
    name: main
    steps:
      - {step: 1, description: a, command: "cmd-one"}
      - {step: 2, description: b, command: "cmd-two"}
`
	fx := &fakeExec{results: map[string]executor.Result{"hook-check": {ExitCode: 2}}}
	res, out := runWith(t, compile(t, doc), fx)
	if res.Status != StatusCompleted || len(res.Entries) != 2 {
		t.Fatalf("status = %s entries = %d", res.Status, len(res.Entries))
	}
	if !strings.Contains(out.String(), "after_step hook failed with exit code 2 (continuing)") {
		t.Errorf("output = %s", out.String())
	}
}

func TestInterpreter_HookReceivesRunContext(t *testing.T) {
	doc := `
id: TC_CTX
hooks:
  before_step: {command: "hook-check"}
test_sequences:
  - id: 4
    name: ctx
    steps:
      - {step: 7, description: a, command: "cmd-one"}
`
	fx := &fakeExec{}
	runWith(t, compile(t, doc), fx)
	var hookEnv []string
	for _, c := range fx.calls {
		if c.Script == "hook-check" {
			hookEnv = c.Env
		}
	}
	for _, want := range []string{
		"TCRUN_TEST_CASE_ID=TC_CTX",
		"TCRUN_SEQUENCE_ID=4",
		"TCRUN_SEQUENCE_NAME=ctx",
		"TCRUN_STEP_NUMBER=7",
		"TCRUN_HOOK=before_step",
	} {
		found := false
		for _, kv := range hookEnv {
			if kv == want {
				found = true
			}
		}
		if !found {
			t.Errorf("hook env missing %s (got %v)", want, hookEnv)
		}
	}
}

func TestInterpreter_CaptureFlowsToLaterStep(t *testing.T) {
	doc := `
id: TC_CAP
test_sequences:
  - id: 1
    name: main
    steps:
      - step: 1
        description: login
        command: login
        capture_vars:
          TOKEN: "token=([a-z0-9]+)"
      - {step: 2, description: use, command: "use ${TOKEN}"}
`
	fx := &fakeExec{results: map[string]executor.Result{"login": {Output: "ok token=abc123"}}}
	res, _ := runWith(t, compile(t, doc), fx)
	if res.Status != StatusCompleted {
		t.Fatalf("status = %s err = %v", res.Status, res.Err)
	}
	if res.Entries[1].Command != "use abc123" {
		t.Errorf("command = %q", res.Entries[1].Command)
	}
	if res.Captured["TOKEN"] != "abc123" {
		t.Errorf("captured = %v", res.Captured)
	}
}

func TestInterpreter_UnsetCaptureAborts(t *testing.T) {
	doc := `
id: TC_CAP
test_sequences:
  - id: 1
    name: main
    steps:
      - step: 1
        description: login
        command: login
        capture_vars:
          TOKEN: "token=([a-z0-9]+)"
      - {step: 2, description: use, command: "use ${TOKEN}"}
`
	res, _ := runWith(t, compile(t, doc), &fakeExec{})
	var re *RuntimeError
	if !errors.As(res.Err, &re) || re.Kind != "unset_variable" || re.Step != 2 {
		t.Fatalf("err = %v, want unset_variable at step 2", res.Err)
	}
	if len(res.Entries) != 1 {
		t.Errorf("entries = %d, want 1", len(res.Entries))
	}
}

func TestInterpreter_CommandNotFound(t *testing.T) {
	fx := &fakeExec{results: map[string]executor.Result{"cmd-one": {ExitCode: executor.ExitCommandNotFound}}}
	res, _ := runWith(t, compile(t, twoSteps), fx)
	var re *RuntimeError
	if !errors.As(res.Err, &re) || re.Kind != "command_not_found" {
		t.Fatalf("err = %v", res.Err)
	}
	if len(res.Entries) != 1 {
		t.Errorf("entries = %d, want the failing step logged", len(res.Entries))
	}
}

func TestInterpreter_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dir := t.TempDir()
	res := New(compile(t, twoSteps), RunConfig{ArtifactDir: dir, Stdout: &bytes.Buffer{}, Exec: &fakeExec{}}).Run(ctx)
	if res.Status != StatusAborted || !errors.Is(res.Err, context.Canceled) {
		t.Errorf("status = %s err = %v", res.Status, res.Err)
	}
	entries, err := execlog.ReadFile(res.LogPath)
	if err != nil || len(entries) != 0 {
		t.Errorf("log should be a valid empty array: %v %v", entries, err)
	}
}

func TestInterpreter_WritesTrace(t *testing.T) {
	var buf bytes.Buffer
	dir := t.TempDir()
	New(compile(t, twoSteps), RunConfig{
		ArtifactDir: dir,
		Stdout:      &bytes.Buffer{},
		Exec:        &fakeExec{},
		Trace:       trace.NewWriter(&buf, "run-1"),
	}).Run(context.Background())
	res, err := trace.Verify(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || !res.Complete {
		t.Errorf("trace = %+v", res)
	}
}

func TestStepTransitions(t *testing.T) {
	tests := []struct {
		from, to StepState
		ok       bool
	}{
		{StatePending, StateRunning, true},
		{StateRunning, StatePassed, true},
		{StateRunning, StateFailed, true},
		{StatePending, StateAwaitingConfirmation, true},
		{StateAwaitingConfirmation, StateSkipped, true},
		{StatePassed, StateFailed, false},
		{StateAwaitingConfirmation, StatePassed, false},
		{StateSkipped, StateRunning, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
	if !StateSkipped.Terminal() || StateRunning.Terminal() {
		t.Error("Terminal() misclassifies states")
	}
}

func TestSaveLoadState(t *testing.T) {
	dir := t.TempDir()
	code := 0
	res := &RunResult{
		Status:   StatusCompleted,
		LogPath:  "log.json",
		Steps:    []StepRecord{{Sequence: 1, Step: 1, State: StatePassed, ExitCode: &code}},
		Captured: map[string]string{"B": "2", "A": "1"},
	}
	if err := SaveState(dir, NewRunState("r1", "TC", res)); err != nil {
		t.Fatal(err)
	}
	got, err := LoadState(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCompleted || len(got.Steps) != 1 || strings.Join(got.Captured, ",") != "A,B" {
		t.Errorf("state = %+v", got)
	}
}

// ---------------------------------------------------------------------------
// Script runner (requires bash)
// ---------------------------------------------------------------------------

func requireBash(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
}

func runScript(t *testing.T, doc string) *RunResult {
	t.Helper()
	return runScriptContext(t, context.Background(), doc)
}

func runScriptContext(t *testing.T, ctx context.Context, doc string) *RunResult {
	t.Helper()
	dir := t.TempDir()
	return NewScriptRunner(compile(t, doc), RunConfig{
		RunID:       "run-1",
		ArtifactDir: dir,
		LogPath:     filepath.Join(dir, "execution_log.json"),
		Stdout:      &bytes.Buffer{},
	}).Run(ctx)
}

// runShell runs doc in process against real bash.
func runShell(t *testing.T, ctx context.Context, doc string) *RunResult {
	t.Helper()
	dir := t.TempDir()
	return New(compile(t, doc), RunConfig{
		RunID:       "run-1",
		ArtifactDir: dir,
		LogPath:     filepath.Join(dir, "execution_log.json"),
		Stdout:      &bytes.Buffer{},
	}).Run(ctx)
}

type entrySummary struct {
	Sequence, Step, ExitCode int
	Output                   string
}

func summarize(entries []execlog.Entry) []entrySummary {
	out := make([]entrySummary, len(entries))
	for i, e := range entries {
		out[i] = entrySummary{e.TestSequence, e.Step, e.ExitCode, e.Output}
	}
	return out
}

func TestScriptRunner_MatchesInterpreterSemantics(t *testing.T) {
	requireBash(t)
	tests := []struct {
		name       string
		doc        string
		wantStatus string
		want       []entrySummary
	}{
		{
			name: "variables, captures and a failing step",
			doc: `
id: TC_SCRIPT
test_sequences:
  - id: 1
    name: main
    variables:
      NAME: world
    steps:
      - step: 1
        description: greet
        command: echo "hello ${NAME}"
        capture_vars:
          WHO: "hello ([a-z]+)"
        verification:
          output: output contains "hello world"
      - {step: 2, description: look, manual: true}
      - {step: 3, description: reuse, command: "echo got-${WHO}"}
      - {step: 4, description: fail, command: "exit 1"}
      - {step: 5, description: never, command: "echo never"}
`,
			wantStatus: StatusFailed,
			want: []entrySummary{
				{1, 1, 0, "hello world"},
				{1, 3, 0, "got-world"},
				{1, 4, 1, ""},
			},
		},
		{
			name: "perl character classes",
			doc: `
id: TC_CLASSES
test_sequences:
  - id: 1
    name: main
    steps:
      - step: 1
        description: issue token
        command: echo "token=12345 expires soon"
        capture_vars:
          TOKEN: 'token=(\d+)'
          WORD: '\s(\w+)'
        verification:
          output: output matches "token=\\d+"
      - {step: 2, description: use token, command: "echo got-${TOKEN}-${WORD}"}
`,
			wantStatus: StatusCompleted,
			want: []entrySummary{
				{1, 1, 0, "token=12345 expires soon"},
				{1, 2, 0, "got-12345-expires"},
			},
		},
		{
			name: "command captures",
			doc: `
id: TC_CMD_CAPTURE
test_sequences:
  - id: 1
    name: main
    steps:
      - step: 1
        description: produce
        command: echo abc
        capture_vars:
          - {name: UPPER, command: 'printf "%s\n" "$COMMAND_OUTPUT" | tr a-z A-Z'}
          - {name: CODE, command: 'echo "exit=$EXIT_CODE" >&2'}
          - {name: SUFFIX, capture: 'a(b)c'}
      - {step: 2, description: use, command: "echo ${UPPER} ${SUFFIX} ${CODE}"}
`,
			wantStatus: StatusCompleted,
			want: []entrySummary{
				{1, 1, 0, "abc"},
				{1, 2, 0, "ABC b exit=0"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for name, res := range map[string]*RunResult{
				"interpreter": runShell(t, context.Background(), tt.doc),
				"script":      runScript(t, tt.doc),
			} {
				if res.Status != tt.wantStatus {
					t.Errorf("%s: status = %s err = %v, want %s", name, res.Status, res.Err, tt.wantStatus)
				}
				if diff := cmp.Diff(tt.want, summarize(res.Entries)); diff != "" {
					t.Errorf("%s: entries mismatch (-want +got):\n%s", name, diff)
				}
			}
		})
	}
}

func TestScriptRunner_CancelStopsAtStepBoundary(t *testing.T) {
	requireBash(t)
	doc := `
id: TC_CANCEL
test_sequences:
  - id: 1
    name: main
    steps:
      - {step: 1, description: a, command: "sleep 0.3"}
      - {step: 2, description: b, command: "sleep 0.3"}
      - {step: 3, description: c, command: "sleep 0.3"}
`
	for name, run := range map[string]func(context.Context) *RunResult{
		"interpreter": func(ctx context.Context) *RunResult { return runShell(t, ctx, doc) },
		"script":      func(ctx context.Context) *RunResult { return runScriptContext(t, ctx, doc) },
	} {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			time.AfterFunc(100*time.Millisecond, cancel)

			res := run(ctx)
			if res.Status != StatusAborted || !errors.Is(res.Err, context.Canceled) {
				t.Fatalf("status = %s err = %v", res.Status, res.Err)
			}
			if len(res.Entries) != 1 {
				t.Errorf("entries = %+v, want only step 1", res.Entries)
			}
			entries, err := execlog.ReadFile(res.LogPath)
			if err != nil || len(entries) != 1 {
				t.Errorf("log = %v %v, want a closed log with one entry", entries, err)
			}
		})
	}
}

func TestScriptRunner_HookFailureIsRuntimeError(t *testing.T) {
	requireBash(t)
	doc := `
id: TC_SCRIPT_HOOK
hooks:
  setup_test: {command: "exit 5", on_error: fail}
test_sequences:
  - id: 1
    name: main
    steps:
      - {step: 1, description: a, command: "true"}
`
	res := runScript(t, doc)
	var re *RuntimeError
	if res.Status != StatusAborted || !errors.As(res.Err, &re) {
		t.Fatalf("status = %s err = %v", res.Status, res.Err)
	}
	if !strings.Contains(re.Error(), "setup_test hook failed") {
		t.Errorf("err = %v", re)
	}
	if len(res.Entries) != 0 {
		t.Errorf("entries = %v", res.Entries)
	}
}
