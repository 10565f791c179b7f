package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/tcrun/pkg/config"
	"github.com/ormasoftchile/tcrun/pkg/ecosystem/tui"
	"github.com/ormasoftchile/tcrun/pkg/kernel/orchestrator"
	kschema "github.com/ormasoftchile/tcrun/pkg/kernel/schema"
	"github.com/ormasoftchile/tcrun/pkg/kernel/verify"
	"github.com/ormasoftchile/tcrun/pkg/logclean"
	"github.com/ormasoftchile/tcrun/pkg/report"
	"github.com/ormasoftchile/tcrun/pkg/store"
)

var (
	runAll         bool
	runDir         string
	runVarsFile    string
	runVars        []string
	runWorkers     int
	runRetry       bool
	runMaxRetries  int
	runBackoff     string
	runBaseDelay   time.Duration
	runOutputDir   string
	runScript      bool
	runCleanOutput bool
	runProgress    bool
	runJUnit       string
	runMarkdown    string
	runKeepGoing   bool
	runNoHistory   bool
)

var runCmd = &cobra.Command{
	Use:   "run [id...]",
	Short: "Run test cases by id across a worker pool",
	Long: `Run one or more test cases, discovered by id under --dir, across a pool
of workers. Test cases whose verdict is Fail are retried when --retry is set.

Every attempt writes its artifacts to <output-dir>/<run-id>/<id>/attempt-<n>/
and is recorded in the run history database.

Settings come from flags, then TCRUN_* environment variables, then
` + config.FileName + `, then built-in defaults.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return usageError(err)
	}
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return usageError(err)
	}

	jobs, err := discoverJobs(cfg.TestCasesDir, args)
	if err != nil {
		return err
	}
	values, err := loadValues(runVarsFile, runVars)
	if err != nil {
		return err
	}
	ids := make([]string, len(jobs))
	for i := range jobs {
		jobs[i].Values = values
		ids[i] = jobs[i].TestCase.ID
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	oc := orchestrator.Config{
		Workers:   cfg.Workers,
		Retry:     cfg.Retry,
		OutputDir: cfg.OutputDir,
		Logger:    logger,
	}
	if runScript {
		oc.NewRunner = orchestrator.ScriptFactory
	}
	if cfg.CleanOutput {
		oc.CleanOutput = logclean.Clean
	}
	if !runNoHistory && cfg.HistoryDB != "" {
		st, err := store.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer st.Close()
		oc.Recorder = st
	}

	var display *tui.Display
	if runProgress && isatty.IsTerminal(os.Stdout.Fd()) {
		display = tui.NewDisplay(ids, cancel, os.Stdout)
		oc.OnEvent = display.Observe
	} else {
		oc.OnEvent = printEvent
	}

	orch, err := orchestrator.New(oc)
	if err != nil {
		return usageError(err)
	}
	logger.Info().Str("run_id", orch.RunID()).Int("test_cases", len(jobs)).Int("workers", cfg.Workers).Msg("starting run")

	run := func() (*orchestrator.Summary, error) { return orch.Run(ctx, jobs) }
	var sum *orchestrator.Summary
	var runErr error
	if display != nil {
		sum, runErr = display.Run(run)
	} else {
		sum, runErr = run()
	}
	if sum == nil {
		return runErr
	}

	fmt.Println()
	report.NewPrinter(os.Stdout, !color.NoColor).Batch(sum)
	fmt.Printf("\n  Artifacts: %s\n", filepath.Join(cfg.OutputDir, sum.RunID))

	if err := writeRunReports(sum); err != nil {
		return err
	}
	if errors.Is(runErr, context.Canceled) {
		fmt.Fprintln(os.Stderr, "Run canceled; unstarted test cases were not executed.")
	}
	return runExit(sum)
}

// applyRunFlags lets explicitly set flags win over file and environment.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("dir") {
		cfg.TestCasesDir = runDir
	}
	if f.Changed("workers") {
		cfg.Workers = runWorkers
	}
	if f.Changed("retry") {
		cfg.Retry.Enabled = runRetry
	}
	if f.Changed("max-retries") {
		cfg.Retry.MaxRetries = runMaxRetries
	}
	if f.Changed("backoff") {
		cfg.Retry.Backoff = orchestrator.Backoff(runBackoff)
	}
	if f.Changed("base-delay") {
		cfg.Retry.BaseDelay = runBaseDelay
	}
	if f.Changed("output-dir") {
		cfg.OutputDir = runOutputDir
	}
	if f.Changed("clean-output") {
		cfg.CleanOutput = runCleanOutput
	}
}

// discoverJobs loads the test cases under dir and selects ids, or every
// test case when --all is set.
func discoverJobs(dir string, ids []string) ([]orchestrator.Job, error) {
	if runAll == (len(ids) > 0) {
		return nil, usageError(errors.New("pass either test case ids or --all"))
	}
	docs, failed, err := kschema.Discover(dir)
	if err != nil {
		return nil, usageError(err)
	}
	for path, ferr := range failed {
		logger.Warn().Str("path", path).Err(ferr).Msg("skipping test case file")
	}
	if runAll {
		ids = kschema.SortedIDs(docs)
		if len(ids) == 0 {
			return nil, usageError(fmt.Errorf("no test cases found under %s", dir))
		}
	}
	jobs := make([]orchestrator.Job, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		doc, ok := docs[id]
		if !ok {
			return nil, usageError(fmt.Errorf("test case %q not found under %s", id, dir))
		}
		jobs = append(jobs, orchestrator.Job{TestCase: doc.TestCase, Path: doc.Path})
	}
	return jobs, nil
}

// printEvent writes one progress line per finished test case.
func printEvent(e orchestrator.Event) {
	switch e.Type {
	case orchestrator.EventAttemptStarted:
		if e.Attempt > 1 {
			fmt.Printf("  ↻ %s: attempt %d\n", e.TestCaseID, e.Attempt)
		}
	case orchestrator.EventFinished:
		r := e.Result
		if r == nil {
			return
		}
		icon := "✓"
		if r.Verdict != verify.Pass || r.Err != nil {
			icon = "✗"
		}
		fmt.Printf("  %s %s: %s\n", icon, e.TestCaseID, r.Verdict)
	}
}

func writeRunReports(sum *orchestrator.Summary) error {
	if runJUnit != "" {
		f, err := os.Create(runJUnit)
		if err != nil {
			return fmt.Errorf("create junit report: %w", err)
		}
		defer f.Close()
		if err := report.WriteJUnit(f, report.FromSummary(sum)); err != nil {
			return err
		}
		fmt.Printf("  JUnit: %s\n", runJUnit)
	}
	if runMarkdown != "" {
		if err := os.WriteFile(runMarkdown, []byte(report.SummaryMarkdown(sum)), 0o644); err != nil {
			return fmt.Errorf("write markdown report: %w", err)
		}
		fmt.Printf("  Markdown: %s\n", runMarkdown)
	}
	return nil
}

// runExit maps a summary to the process exit status.
func runExit(sum *orchestrator.Summary) error {
	if sum.OK() {
		return nil
	}
	invalid := false
	for _, r := range sum.Results {
		if r.ErrKind == orchestrator.ErrCompile || r.ErrKind == orchestrator.ErrStructural {
			invalid = true
		}
	}
	err := fmt.Errorf("%d of %d test case(s) did not pass", sum.Total-sum.Passed, sum.Total)
	if runKeepGoing {
		fmt.Fprintf(os.Stderr, "  ⚠ %v (ignored: --keep-going)\n", err)
		return nil
	}
	if invalid {
		return &exitError{code: exitInvalid, err: err}
	}
	return &exitError{code: exitFailed, err: err}
}

func init() {
	f := runCmd.Flags()
	f.BoolVar(&runAll, "all", false, "Run every discovered test case")
	f.StringVar(&runDir, "dir", "", "Directory searched for test cases (default from config: testcases)")
	f.StringVar(&runVarsFile, "vars", "", "Hydration value file applied to every test case")
	f.StringArrayVar(&runVars, "var", nil, "Set a hydration value (key=value), repeatable")
	f.IntVar(&runWorkers, "workers", 0, "Number of test cases run concurrently")
	f.BoolVar(&runRetry, "retry", false, "Retry test cases whose verdict is Fail")
	f.IntVar(&runMaxRetries, "max-retries", 0, "Retries after the first attempt")
	f.StringVar(&runBackoff, "backoff", "", "Backoff between attempts: fixed or exponential")
	f.DurationVar(&runBaseDelay, "base-delay", 0, "Delay before the first retry")
	f.StringVar(&runOutputDir, "output-dir", "", "Root directory for attempt artifacts")
	f.BoolVar(&runScript, "script", false, "Run attempts through the rendered bash artifact")
	f.BoolVar(&runCleanOutput, "clean-output", false, "Strip ANSI and control characters from command output")
	f.BoolVar(&runProgress, "progress", false, "Show a live progress display (terminal only)")
	f.StringVar(&runJUnit, "junit", "", "Write a JUnit XML report to this file")
	f.StringVar(&runMarkdown, "markdown", "", "Write a Markdown report to this file")
	f.BoolVar(&runKeepGoing, "keep-going", false, "Exit 0 even when test cases fail")
	f.BoolVar(&runNoHistory, "no-history", false, "Do not record attempts in the history database")
	rootCmd.AddCommand(runCmd)
}
