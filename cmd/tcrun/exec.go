package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/tcrun/pkg/ecosystem/recorder"
	"github.com/ormasoftchile/tcrun/pkg/kernel/compiler"
	"github.com/ormasoftchile/tcrun/pkg/kernel/engine"
	"github.com/ormasoftchile/tcrun/pkg/kernel/execlog"
	"github.com/ormasoftchile/tcrun/pkg/kernel/executor"
	"github.com/ormasoftchile/tcrun/pkg/kernel/orchestrator"
	"github.com/ormasoftchile/tcrun/pkg/kernel/trace"
	"github.com/ormasoftchile/tcrun/pkg/kernel/verify"
	"github.com/ormasoftchile/tcrun/pkg/logclean"
	"github.com/ormasoftchile/tcrun/pkg/report"
)

var (
	execVarsFile       string
	execVars           []string
	execOutDir         string
	execNonInteractive bool
	execScript         bool
	execCleanOutput    bool
	execRecord         string
	execReplay         string
)

var execCmd = &cobra.Command{
	Use:   "exec [testcase.yaml | artifact.sh]",
	Short: "Execute a test case or a compiled artifact",
	Long: `Execute a test case document in process, or run a compiled bash artifact.

A document is validated, hydrated, compiled and run; the execution log is
then verified and the verdict printed. With --script the document runs
through its rendered bash artifact instead of the in-process interpreter.

A path ending in .sh is run as an artifact with the terminal attached;
the exit code is the artifact's own (0 passed, 1 step failed, 3 runtime
error, 4 canceled).`,
	Args: cobra.ExactArgs(1),
	RunE: runExec,
}

func runExec(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if strings.EqualFold(filepath.Ext(args[0]), ".sh") {
		return runArtifact(ctx, args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return usageError(err)
	}
	plan, err := compileFile(args[0], execVarsFile, execVars)
	if err != nil {
		return err
	}
	if execRecord != "" && execReplay != "" {
		return usageError(errors.New("--record and --replay are mutually exclusive"))
	}
	if execScript && (execRecord != "" || execReplay != "") {
		return usageError(errors.New("--record and --replay need the in-process interpreter; drop --script"))
	}

	outDir := execOutDir
	if outDir == "" {
		outDir = "."
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	runID := ulid.Make().String()
	tw, err := trace.NewFileWriter(filepath.Join(outDir, orchestrator.TraceFileName), runID)
	if err != nil {
		return err
	}
	defer tw.Close()
	tw.SetSecrets(plan.Secrets)

	var exe executor.Executor = executor.Shell{}
	var rec *recorder.Recorder
	switch {
	case execRecord != "":
		rec = recorder.New(exe)
		rec.SetSecrets(plan.Secrets)
		exe = rec
	case execReplay != "":
		rp, err := recorder.LoadReplayer(execReplay)
		if err != nil {
			return usageError(err)
		}
		rp.SetSecrets(plan.Secrets)
		exe = rp
		fmt.Printf("  [replay] Loaded recording from %s\n", execReplay)
	}

	interactive := !execNonInteractive && !cfg.NonInteractive && engine.DetectInteractive()
	rc := engine.RunConfig{
		RunID:       runID,
		ArtifactDir: outDir,
		Interactive: interactive,
		Exec:        exe,
		Trace:       tw,
		Logger:      logger,
	}
	if interactive {
		rc.Confirmer = engine.ReadlineConfirmer{}
	}
	if execCleanOutput || cfg.CleanOutput {
		rc.CleanOutput = logclean.Clean
	}

	var runner engine.Runner
	if execScript {
		runner = engine.NewScriptRunner(plan, rc)
	} else {
		runner = engine.New(plan, rc)
	}
	res := runner.Run(ctx)

	if err := engine.SaveState(outDir, engine.NewRunState(runID, plan.TestCaseID, res)); err != nil {
		logger.Warn().Err(err).Msg("could not persist run state")
	}
	if rec != nil {
		if err := rec.Save(execRecord, plan.TestCaseID); err != nil {
			return err
		}
		fmt.Printf("  [record] Saved %d response(s) to %s\n", len(rec.Responses()), execRecord)
	}

	return reportRun(plan, res, outDir)
}

// reportRun verifies the log a run left behind and prints the verdict.
func reportRun(plan *compiler.Plan, res *engine.RunResult, outDir string) error {
	fmt.Println()
	if res.Err != nil {
		fmt.Fprintf(os.Stderr, "✗ %s: %v\n", plan.TestCaseID, res.Err)
	}
	entries, err := execlog.ReadFile(res.LogPath)
	if err != nil {
		if res.Err != nil {
			return &exitError{code: exitFailed, err: res.Err}
		}
		return err
	}
	vr, err := verify.Verify(plan, entries, verify.Options{Logs: execlog.DirLogs(outDir)})
	if err != nil {
		return err
	}
	report.NewPrinter(os.Stdout, !color.NoColor).Verification(vr)
	fmt.Printf("\n  Log: %s\n  Duration: %s\n", res.LogPath, res.Duration.Round(time.Millisecond))

	switch {
	case res.Err != nil:
		return &exitError{code: exitFailed, err: res.Err}
	case vr.Verdict != verify.Pass:
		return &exitError{code: exitFailed, err: fmt.Errorf("%s: %w", report.Summary(vr), errVerdictFailed)}
	}
	return nil
}

// artifactStopGrace bounds how long a canceled artifact may take to finish
// its current step before it is killed.
const artifactStopGrace = 30 * time.Second

// runArtifact runs a compiled artifact with the terminal attached so manual
// steps can prompt. Cancellation sends SIGTERM; the artifact stops at the
// next step boundary and its EXIT trap closes the execution log.
func runArtifact(ctx context.Context, path string) error {
	c := exec.CommandContext(ctx, "bash", path) //#nosec G204 -- the operator names the artifact
	c.Cancel = func() error { return c.Process.Signal(syscall.SIGTERM) }
	c.WaitDelay = artifactStopGrace
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	env := os.Environ()
	if execNonInteractive {
		env = append(env, "TCRUN_NON_INTERACTIVE=1")
	}
	if execOutDir != "" {
		if err := os.MkdirAll(execOutDir, 0o755); err != nil {
			return err
		}
		env = append(env, "TCRUN_ARTIFACT_DIR="+execOutDir)
	}
	c.Env = env
	err := c.Run()
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		code := ee.ExitCode()
		if code == compiler.ExitCanceled {
			return &exitError{code: code, err: errors.New("artifact canceled")}
		}
		if code <= 0 {
			code = exitFailed
		}
		return &exitError{code: code, err: fmt.Errorf("artifact exited with code %d", ee.ExitCode())}
	}
	return err
}

func init() {
	execCmd.Flags().StringVar(&execVarsFile, "vars", "", "Hydration value file (NAME=value lines)")
	execCmd.Flags().StringArrayVar(&execVars, "var", nil, "Set a hydration value (key=value), repeatable")
	execCmd.Flags().StringVar(&execOutDir, "out-dir", "", "Directory for the execution log, step logs and trace (default .)")
	execCmd.Flags().BoolVar(&execNonInteractive, "non-interactive", false, "Never wait for manual step confirmation")
	execCmd.Flags().BoolVar(&execScript, "script", false, "Run through the rendered bash artifact instead of in process")
	execCmd.Flags().BoolVar(&execCleanOutput, "clean-output", false, "Strip ANSI and control characters from command output")
	execCmd.Flags().StringVar(&execRecord, "record", "", "Save every command result to this recording file")
	execCmd.Flags().StringVar(&execReplay, "replay", "", "Answer commands from a recording instead of running them")
	rootCmd.AddCommand(execCmd)
}
