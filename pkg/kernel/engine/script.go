package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ormasoftchile/tcrun/pkg/kernel/compiler"
	"github.com/ormasoftchile/tcrun/pkg/kernel/execlog"
	"github.com/ormasoftchile/tcrun/pkg/kernel/executor"
)

// ScriptFileName is the name of the rendered artifact inside an artifact dir.
const ScriptFileName = "artifact.sh"

// ScriptRunner renders the plan as a bash artifact and runs it. Results are
// read back from the execution log the script writes.
type ScriptRunner struct {
	cfg  RunConfig
	plan *compiler.Plan
}

// NewScriptRunner creates a runner that executes plan through its bash
// artifact.
func NewScriptRunner(plan *compiler.Plan, cfg RunConfig) *ScriptRunner {
	cfg.defaults(plan)
	return &ScriptRunner{cfg: cfg, plan: plan}
}

// Run implements Runner.
func (s *ScriptRunner) Run(ctx context.Context) *RunResult {
	start := time.Now()
	res := &RunResult{LogPath: s.cfg.LogPath}
	abort := func(err error) *RunResult {
		res.Status, res.Err, res.Duration = StatusAborted, err, time.Since(start)
		return res
	}

	if err := os.MkdirAll(s.cfg.ArtifactDir, 0o755); err != nil {
		return abort(fmt.Errorf("create artifact dir: %w", err))
	}
	script := filepath.Join(s.cfg.ArtifactDir, ScriptFileName)
	body := compiler.RenderBash(s.plan, compiler.BashOptions{
		LogPath:     s.cfg.LogPath,
		ArtifactDir: s.cfg.ArtifactDir,
	})
	if err := os.WriteFile(script, body, 0o755); err != nil {
		return abort(fmt.Errorf("write artifact: %w", err))
	}

	absLog, _ := filepath.Abs(s.cfg.LogPath)
	absArtifacts, _ := filepath.Abs(s.cfg.ArtifactDir)
	absScript, _ := filepath.Abs(script)
	env := append(NewRunContext(s.cfg.RunID, s.plan.TestCaseID, absLog, absArtifacts, s.cfg.Interactive).Environ(), s.cfg.Env...)
	if !s.cfg.Interactive {
		env = append(env, "TCRUN_NON_INTERACTIVE=1")
	}

	s.cfg.Trace.EmitRunStart(s.plan.TestCaseID, s.cfg.Interactive)
	// The artifact traps TERM and stops at the next step boundary, so the
	// log it closes on exit stays complete.
	r, err := s.cfg.Exec.Run(ctx, executor.Command{
		File:      absScript,
		Env:       env,
		Dir:       s.cfg.WorkDir,
		Interrupt: syscall.SIGTERM,
	})
	if err != nil {
		return abort(err)
	}
	if r.Output != "" {
		fmt.Fprintln(s.cfg.Stdout, r.Output)
	}

	switch r.ExitCode {
	case compiler.ExitPassed:
		res.Status = StatusCompleted
	case compiler.ExitStepFailed:
		res.Status = StatusFailed
	case compiler.ExitRuntimeError:
		res.Status = StatusAborted
		res.Err = &RuntimeError{Kind: "script", Err: errors.New(lastErrorLine(r.Output))}
	case compiler.ExitCanceled:
		res.Status = StatusAborted
		res.Err = ctx.Err()
		if res.Err == nil {
			res.Err = &RuntimeError{Kind: "script", Err: errors.New(lastErrorLine(r.Output))}
		}
	case -1:
		// Killed by a signal before the artifact installed its trap.
		res.Status = StatusAborted
		res.Err = ctx.Err()
		if res.Err == nil {
			res.Err = &RuntimeError{Kind: "script", Err: errors.New("artifact terminated by signal")}
		}
	default:
		res.Status = StatusAborted
		res.Err = &RuntimeError{Kind: "script", Err: fmt.Errorf("artifact exited with code %d", r.ExitCode)}
	}

	entries, err := execlog.ReadFile(s.cfg.LogPath)
	if err != nil && res.Err == nil {
		res.Err = err
	}
	res.Entries = entries
	res.Duration = time.Since(start)
	s.cfg.Trace.EmitRunComplete(res.Status, len(entries), res.Duration, res.Err)
	s.cfg.Logger.Info().
		Str("test_case", s.plan.TestCaseID).
		Str("status", res.Status).
		Int("exit_code", r.ExitCode).
		Msg("artifact finished")
	return res
}

// lastErrorLine picks the last "Error:" line the artifact printed.
func lastErrorLine(output string) string {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "Error: ") {
			return strings.TrimPrefix(lines[i], "Error: ")
		}
	}
	return "artifact runtime error"
}
