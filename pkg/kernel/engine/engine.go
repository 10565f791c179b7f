// Package engine executes compiled test case plans and produces the
// execution log consumed by verification.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ormasoftchile/tcrun/pkg/kernel/compiler"
	"github.com/ormasoftchile/tcrun/pkg/kernel/execlog"
	"github.com/ormasoftchile/tcrun/pkg/kernel/executor"
	"github.com/ormasoftchile/tcrun/pkg/kernel/expression"
	"github.com/ormasoftchile/tcrun/pkg/kernel/schema"
	"github.com/ormasoftchile/tcrun/pkg/kernel/trace"
	"github.com/ormasoftchile/tcrun/pkg/kernel/vars"
)

// Run statuses.
const (
	StatusCompleted = "completed" // every step ran and passed
	StatusFailed    = "failed"    // halted on a failing automated step
	StatusAborted   = "aborted"   // halted on a runtime error or cancellation
)

// Runner executes one plan. Interpreter and ScriptRunner implement it.
type Runner interface {
	Run(ctx context.Context) *RunResult
}

// RunConfig configures one execution of a plan.
type RunConfig struct {
	RunID       string
	LogPath     string // execution log; default <ArtifactDir>/<id>_execution_log.json
	ArtifactDir string // per-step output files; default "."
	WorkDir     string // working directory for commands

	// Interactive is decided once by the caller, usually with
	// DetectInteractive, and never re-evaluated during the run.
	Interactive bool
	Confirmer   Confirmer // manual step confirmation; defaults to AutoConfirmer

	Stdout io.Writer         // progress output; defaults to os.Stdout
	Exec   executor.Executor // defaults to executor.Shell{}
	Env    []string          // extra environment for every command

	// CleanOutput, when set, is applied to command output before it is
	// logged, captured or verified.
	CleanOutput func(string) string

	Trace  *trace.Writer
	Logger zerolog.Logger
}

func (c *RunConfig) defaults(p *compiler.Plan) {
	if c.ArtifactDir == "" {
		c.ArtifactDir = "."
	}
	if c.LogPath == "" {
		c.LogPath = filepath.Join(c.ArtifactDir, compiler.DefaultLogPath(p.TestCaseID))
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Exec == nil {
		c.Exec = executor.Shell{}
	}
	if c.Confirmer == nil {
		c.Confirmer = AutoConfirmer{}
	}
}

// RunResult is the outcome of executing a plan. Verdicts are computed
// separately from the execution log.
type RunResult struct {
	Status   string
	LogPath  string
	Entries  []execlog.Entry
	Steps    []StepRecord
	Captured map[string]string
	Duration time.Duration
	Err      error // *RuntimeError, context error, or I/O failure
}

// RuntimeError halts a run: a failing fail-policy hook, a failing automatic
// prerequisite, an unset variable or a missing command.
type RuntimeError struct {
	Sequence int
	Step     int
	Hook     schema.HookKind
	Kind     string // hook, prerequisite, unset_variable, command_not_found, exec
	Err      error
}

func (e *RuntimeError) Error() string {
	switch {
	case e.Hook != "":
		return fmt.Sprintf("%s hook: %v", e.Hook, e.Err)
	case e.Step > 0:
		return fmt.Sprintf("sequence %d step %d: %v", e.Sequence, e.Step, e.Err)
	}
	return e.Err.Error()
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// errStepFailed stops the interpreter after a failing automated step.
var errStepFailed = errors.New("step failed")

// ---------------------------------------------------------------------------
// Interpreter
// ---------------------------------------------------------------------------

// Interpreter runs a plan in process, step by step.
type Interpreter struct {
	cfg   RunConfig
	plan  *compiler.Plan
	scope *vars.Scope
	rc    *RunContext
	log   *execlog.Writer
	steps []StepRecord
	logs  expression.LogSource
}

// New creates an interpreter for plan.
func New(plan *compiler.Plan, cfg RunConfig) *Interpreter {
	cfg.defaults(plan)
	return &Interpreter{
		cfg:   cfg,
		plan:  plan,
		scope: vars.NewScope(),
		rc:    NewRunContext(cfg.RunID, plan.TestCaseID, cfg.LogPath, cfg.ArtifactDir, cfg.Interactive),
		logs:  execlog.DirLogs(cfg.ArtifactDir),
	}
}

// Run executes the plan. It never panics on command failure; every outcome
// is reported through the result.
func (in *Interpreter) Run(ctx context.Context) *RunResult {
	start := time.Now()
	log := in.cfg.Logger.With().Str("test_case", in.plan.TestCaseID).Str("run_id", in.cfg.RunID).Logger()
	res := &RunResult{LogPath: in.cfg.LogPath}

	if err := os.MkdirAll(in.cfg.ArtifactDir, 0o755); err != nil {
		res.Status, res.Err = StatusAborted, fmt.Errorf("create artifact dir: %w", err)
		return res
	}
	if err := os.MkdirAll(filepath.Dir(in.cfg.LogPath), 0o755); err != nil {
		res.Status, res.Err = StatusAborted, fmt.Errorf("create log dir: %w", err)
		return res
	}
	lw, err := execlog.Create(in.cfg.LogPath)
	if err != nil {
		res.Status, res.Err = StatusAborted, err
		return res
	}
	in.log = lw

	in.cfg.Trace.EmitRunStart(in.plan.TestCaseID, in.cfg.Interactive)
	log.Debug().Bool("interactive", in.cfg.Interactive).Msg("run started")

	err = in.run(ctx)

	if cerr := lw.Close(); cerr != nil && err == nil {
		err = cerr
	}
	res.Steps = in.steps
	res.Captured = in.scope.Captured()
	res.Duration = time.Since(start)

	switch {
	case err == nil:
		res.Status = StatusCompleted
	case errors.Is(err, errStepFailed):
		res.Status = StatusFailed
	default:
		res.Status = StatusAborted
		res.Err = err
	}

	if entries, rerr := execlog.ReadFile(in.cfg.LogPath); rerr == nil {
		res.Entries = entries
	} else if res.Err == nil {
		res.Err = rerr
	}

	in.cfg.Trace.EmitRunComplete(res.Status, len(res.Entries), res.Duration, res.Err)
	ev := log.Info()
	if res.Err != nil {
		ev = log.Warn().Err(res.Err)
	}
	ev.Str("status", res.Status).Int("entries", len(res.Entries)).Dur("duration", res.Duration).Msg("run finished")
	return res
}

func (in *Interpreter) run(ctx context.Context) error {
	if err := in.hook(ctx, schema.HookScriptStart); err != nil {
		return err
	}
	if err := in.prerequisites(ctx); err != nil {
		return err
	}
	if err := in.hook(ctx, schema.HookSetupTest); err != nil {
		return err
	}

	for i := range in.plan.Sequences {
		seq := &in.plan.Sequences[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		in.scope.EnterSequence(seq.Variables)
		in.rc.EnterSequence(seq.ID, seq.Name)
		in.cfg.Trace.EmitSequenceStart(seq.ID, seq.Name)
		fmt.Fprintf(in.cfg.Stdout, "\n=== Sequence %d: %s ===\n", seq.ID, seq.Name)

		if err := in.hook(ctx, schema.HookBeforeSequence); err != nil {
			return err
		}
		for j := range seq.Steps {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := in.step(ctx, &seq.Steps[j]); err != nil {
				return err
			}
		}
		if err := in.hook(ctx, schema.HookAfterSequence); err != nil {
			return err
		}
		in.cfg.Trace.EmitSequenceEnd(seq.ID)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := in.hook(ctx, schema.HookTeardownTest); err != nil {
		return err
	}
	fmt.Fprintln(in.cfg.Stdout, "All test sequences completed successfully")
	return in.hook(ctx, schema.HookScriptEnd)
}

func (in *Interpreter) prerequisites(ctx context.Context) error {
	for i, pr := range in.plan.Prerequisites {
		n := i + 1
		switch pr.Type {
		case schema.PrerequisiteManual:
			fmt.Fprintf(in.cfg.Stdout, "[SKIP] Manual prerequisite %d: %s\n", n, pr.Description)
			in.cfg.Trace.EmitPrerequisite(n, string(pr.Type), pr.Description, true)
		case schema.PrerequisiteAutomatic:
			fmt.Fprintf(in.cfg.Stdout, "[CHECK] Automatic prerequisite %d: %s\n", n, pr.Description)
			r, err := in.cfg.Exec.Run(ctx, executor.Command{
				Script: pr.VerificationCommand,
				Env:    in.env(),
				Dir:    in.cfg.WorkDir,
			})
			if err != nil {
				return &RuntimeError{Kind: "prerequisite", Err: fmt.Errorf("prerequisite %d: %w", n, err)}
			}
			ok := r.ExitCode == 0
			in.cfg.Trace.EmitPrerequisite(n, string(pr.Type), pr.Description, ok)
			if !ok {
				return &RuntimeError{
					Kind: "prerequisite",
					Err:  fmt.Errorf("prerequisite %d failed (exit %d): %s", n, r.ExitCode, pr.Description),
				}
			}
		}
	}
	return nil
}

// hook runs the hook of the given kind, if declared.
func (in *Interpreter) hook(ctx context.Context, kind schema.HookKind) error {
	h := in.plan.Hooks.Get(kind)
	if h == nil {
		return nil
	}
	in.rc.Hook = kind
	defer func() { in.rc.Hook = "" }()

	cmd := executor.Command{Env: in.env(), Dir: in.cfg.WorkDir}
	if isScriptFile(h.Command) {
		cmd.File = h.Command
	} else {
		cmd.Script = h.Command
	}

	code, output := executor.ExitCommandNotFound, ""
	if cmd.File != "" && !fileExists(cmd.File, in.cfg.WorkDir) {
		output = fmt.Sprintf("hook script %q not found", h.Command)
	} else {
		r, err := in.cfg.Exec.Run(ctx, cmd)
		if err != nil {
			return &RuntimeError{Hook: kind, Kind: "hook", Err: err}
		}
		code, output = r.ExitCode, r.Output
	}
	in.cfg.Trace.EmitHook(string(kind), string(h.Policy()), code, output)
	if output != "" {
		fmt.Fprintln(in.cfg.Stdout, output)
	}
	if code == 0 {
		return nil
	}

	if h.Policy() == schema.OnErrorContinue {
		in.cfg.Logger.Warn().Str("hook", string(kind)).Int("exit_code", code).Msg("hook failed, continuing")
		fmt.Fprintf(in.cfg.Stdout, "Warning: %s hook failed with exit code %d (continuing)\n", kind, code)
		return nil
	}
	return &RuntimeError{
		Sequence: in.rc.Sequence,
		Step:     in.rc.Step,
		Hook:     kind,
		Kind:     "hook",
		Err:      fmt.Errorf("failed with exit code %d", code),
	}
}

func (in *Interpreter) step(ctx context.Context, st *compiler.Step) error {
	in.rc.EnterStep(st.Number, st.Description)
	if err := in.hook(ctx, schema.HookBeforeStep); err != nil {
		return err
	}

	var err error
	if st.Manual {
		err = in.manual(ctx, st)
	} else {
		err = in.automated(ctx, st)
	}
	if err != nil {
		return err
	}
	return in.hook(ctx, schema.HookAfterStep)
}

func (in *Interpreter) manual(ctx context.Context, st *compiler.Step) error {
	rec := newStepRecord(st)
	in.cfg.Trace.EmitStepStart(st.Sequence, st.Number, true)

	fmt.Fprintf(in.cfg.Stdout, "[MANUAL] Step %d: %s\n", st.Number, st.Description)
	if action := st.Command.String(); action != "" {
		fmt.Fprintf(in.cfg.Stdout, "  Action: %s\n", action)
	}
	rec.transition(StateAwaitingConfirmation)

	if in.cfg.Interactive {
		if err := in.cfg.Confirmer.Confirm(ctx, "Press ENTER to continue..."); err != nil {
			rec.transition(StateSkipped)
			in.steps = append(in.steps, rec.finish())
			return err
		}
	} else {
		fmt.Fprintln(in.cfg.Stdout, "Non-interactive mode detected, skipping manual step confirmation.")
	}
	rec.transition(StateSkipped)
	in.steps = append(in.steps, rec.finish())
	in.cfg.Trace.EmitStepComplete(st.Sequence, st.Number, trace.StatusSkipped, nil, rec.Duration, nil)
	return nil
}

func (in *Interpreter) automated(ctx context.Context, st *compiler.Step) error {
	rec := newStepRecord(st)
	in.cfg.Trace.EmitStepStart(st.Sequence, st.Number, false)

	command, err := in.scope.Expand(st.Command)
	if err != nil {
		rec.transition(StateFailed)
		in.record(rec, nil, &trace.Failure{Kind: "unset_variable", Message: err.Error()})
		return &RuntimeError{Sequence: st.Sequence, Step: st.Number, Kind: "unset_variable", Err: err}
	}

	rec.transition(StateRunning)
	r, err := in.cfg.Exec.Run(ctx, executor.Command{
		Script: command,
		Env:    in.env(),
		Dir:    in.cfg.WorkDir,
	})
	if err != nil {
		rec.transition(StateFailed)
		in.record(rec, nil, &trace.Failure{Kind: "exec", Message: err.Error()})
		return &RuntimeError{Sequence: st.Sequence, Step: st.Number, Kind: "exec", Err: err}
	}

	output := r.Output
	if in.cfg.CleanOutput != nil {
		output = in.cfg.CleanOutput(output)
	}
	if output != "" {
		fmt.Fprintln(in.cfg.Stdout, output)
	}
	logFile := filepath.Join(in.cfg.ArtifactDir, compiler.StepLogName(in.plan.TestCaseID, st.Sequence, st.Number))
	if err := os.WriteFile(logFile, []byte(output+"\n"), 0o644); err != nil {
		return &RuntimeError{Sequence: st.Sequence, Step: st.Number, Kind: "exec", Err: fmt.Errorf("write step log: %w", err)}
	}

	for _, c := range st.Captures {
		v, ok, err := in.capture(ctx, st, c, output, r.ExitCode)
		if err != nil {
			rec.transition(StateFailed)
			in.record(rec, nil, &trace.Failure{Kind: "unset_variable", Message: err.Error()})
			return &RuntimeError{Sequence: st.Sequence, Step: st.Number, Kind: "unset_variable", Err: err}
		}
		if ok {
			in.scope.Capture(c.Name, v)
		}
		in.cfg.Trace.EmitCapture(st.Sequence, st.Number, c.Name, ok)
	}

	// The entry is appended before the verdict so a failing step is
	// still visible to verification.
	if err := in.log.Append(execlog.Entry{
		TestSequence: st.Sequence,
		Step:         st.Number,
		Command:      command,
		ExitCode:     r.ExitCode,
		Output:       output,
		Timestamp:    execlog.Now(),
	}); err != nil {
		return err
	}

	env := expression.Env{ExitCode: r.ExitCode, Output: output, Logs: in.logs}
	resultOK := expression.Eval(st.Result, env)
	outputOK := expression.Eval(st.Output, env)
	code := r.ExitCode
	rec.ExitCode = &code

	if resultOK && outputOK {
		rec.transition(StatePassed)
		in.record(rec, &code, nil)
		fmt.Fprintf(in.cfg.Stdout, "[PASS] Step %d: %s\n", st.Number, st.Description)
		return nil
	}

	rec.transition(StateFailed)
	msg := failureMessage(st, resultOK, outputOK)
	in.record(rec, &code, &trace.Failure{Kind: "verification", Message: msg})
	fmt.Fprintf(in.cfg.Stdout, "[FAIL] Step %d: %s\n  Exit code: %d\n  %s\n", st.Number, st.Description, r.ExitCode, msg)

	if r.ExitCode == executor.ExitCommandNotFound {
		return &RuntimeError{
			Sequence: st.Sequence,
			Step:     st.Number,
			Kind:     "command_not_found",
			Err:      fmt.Errorf("command not found: %s", command),
		}
	}
	return errStepFailed
}

// capture resolves one capture of st. Command captures run with the step's
// output and exit code in COMMAND_OUTPUT and EXIT_CODE and are always set.
func (in *Interpreter) capture(ctx context.Context, st *compiler.Step, c vars.Capture, output string, exitCode int) (string, bool, error) {
	if !c.IsCommand() {
		v, ok := c.Extract(output)
		return v, ok, nil
	}
	command, err := in.scope.Expand(c.Command)
	if err != nil {
		return "", false, err
	}
	r, err := in.cfg.Exec.Run(ctx, executor.Command{
		Script: command,
		Env:    append(in.env(), "COMMAND_OUTPUT="+output, "EXIT_CODE="+strconv.Itoa(exitCode)),
		Dir:    in.cfg.WorkDir,
	})
	if err != nil {
		in.cfg.Logger.Warn().Err(err).Str("variable", c.Name).Int("step", st.Number).Msg("capture command did not run")
		return "", true, nil
	}
	return vars.CommandValue(r.Output), true, nil
}

func (in *Interpreter) record(rec *StepRecord, code *int, failure *trace.Failure) {
	in.steps = append(in.steps, rec.finish())
	status := trace.StatusPassed
	switch rec.State {
	case StateFailed:
		status = trace.StatusFailed
		if failure != nil && failure.Kind != "verification" {
			status = trace.StatusError
		}
	}
	in.cfg.Trace.EmitStepComplete(rec.Sequence, rec.Step, status, code, rec.Duration, failure)
}

func (in *Interpreter) env() []string {
	return append(in.rc.Environ(), in.cfg.Env...)
}

func failureMessage(st *compiler.Step, resultOK, outputOK bool) string {
	switch {
	case !resultOK && !outputOK:
		return fmt.Sprintf("result verification failed (%s); output verification failed (%s)", st.Result, st.Output)
	case !resultOK:
		return fmt.Sprintf("result verification failed (%s)", st.Result)
	default:
		return fmt.Sprintf("output verification failed (%s)", st.Output)
	}
}

func isScriptFile(command string) bool {
	return filepath.Ext(command) == ".sh"
}

func fileExists(path, dir string) bool {
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
