// Package orchestrator runs compile, execute and verify cycles for many
// test cases on a bounded worker pool, with retry and backoff.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/ormasoftchile/tcrun/pkg/kernel/compiler"
	"github.com/ormasoftchile/tcrun/pkg/kernel/engine"
	"github.com/ormasoftchile/tcrun/pkg/kernel/execlog"
	"github.com/ormasoftchile/tcrun/pkg/kernel/executor"
	"github.com/ormasoftchile/tcrun/pkg/kernel/hydrate"
	"github.com/ormasoftchile/tcrun/pkg/kernel/schema"
	"github.com/ormasoftchile/tcrun/pkg/kernel/trace"
	"github.com/ormasoftchile/tcrun/pkg/kernel/verify"
)

// Per-attempt file names inside an attempt directory.
const (
	LogFileName     = "execution_log.json"
	TraceFileName   = "trace.jsonl"
	ConsoleFileName = "console.log"
)

// RunnerFactory builds the runner for one attempt.
type RunnerFactory func(plan *compiler.Plan, cfg engine.RunConfig) engine.Runner

// InterpreterFactory runs plans in process.
func InterpreterFactory(plan *compiler.Plan, cfg engine.RunConfig) engine.Runner {
	return engine.New(plan, cfg)
}

// ScriptFactory runs plans through their bash artifact.
func ScriptFactory(plan *compiler.Plan, cfg engine.RunConfig) engine.Runner {
	return engine.NewScriptRunner(plan, cfg)
}

// Config configures an orchestrated run.
type Config struct {
	Workers int
	Retry   RetryConfig

	// OutputDir receives <run-id>/<test-case>/attempt-<n>/ directories.
	OutputDir string
	RunID     string // defaults to a new ULID

	Interactive bool
	NewRunner   RunnerFactory     // defaults to InterpreterFactory
	Exec        executor.Executor // passed to runners; nil uses bash
	CleanOutput func(string) string

	// Recorder, when set, receives every finished attempt.
	Recorder Recorder
	// OnEvent is called from worker goroutines; it must be safe for
	// concurrent use and must not block for long.
	OnEvent func(Event)

	Logger zerolog.Logger
}

// Job is one test case to orchestrate.
type Job struct {
	TestCase *schema.TestCase
	Values   hydrate.Values
	Path     string // source document, informational
}

// ErrorKind classifies why a test case did not produce a clean verdict.
type ErrorKind string

const (
	ErrNone          ErrorKind = ""
	ErrCompile       ErrorKind = "compile"
	ErrRuntime       ErrorKind = "runtime"
	ErrStructural    ErrorKind = "structural"
	ErrOrchestration ErrorKind = "orchestration"
	ErrCanceled      ErrorKind = "canceled"
)

// OrchestrationError reports an exhausted retry budget.
type OrchestrationError struct {
	TestCase string
	Attempts int
	Msg      string
}

func (e *OrchestrationError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempt(s)", e.TestCase, e.Msg, e.Attempts)
}

// Result is the final outcome of one test case.
type Result struct {
	TestCaseID   string
	Path         string
	Verdict      verify.Verdict
	Attempts     int
	Duration     time.Duration // all attempts, including backoff waits
	Verification *verify.Result
	ArtifactDir  string // last attempt
	Err          error
	ErrKind      ErrorKind
}

// Summary aggregates every result of a run, in job order.
type Summary struct {
	RunID         string
	Results       []Result
	Total         int
	Passed        int
	Failed        int
	NotExecuted   int
	Errors        int
	TotalAttempts int
	Duration      time.Duration
}

// OK reports whether every test case passed without error.
func (s *Summary) OK() bool { return s.Failed == 0 && s.Errors == 0 && s.NotExecuted == 0 }

func (s *Summary) add(r Result) {
	s.Total++
	s.TotalAttempts += r.Attempts
	switch r.Verdict {
	case verify.Pass:
		s.Passed++
	case verify.Fail:
		s.Failed++
	default:
		s.NotExecuted++
	}
	if r.ErrKind != ErrNone {
		s.Errors++
	}
}

// Orchestrator schedules jobs across a worker pool.
type Orchestrator struct {
	cfg Config
}

// New validates cfg and returns an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.NewRunner == nil {
		cfg.NewRunner = InterpreterFactory
	}
	if cfg.RunID == "" {
		cfg.RunID = ulid.Make().String()
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "tcrun-out"
	}
	return &Orchestrator{cfg: cfg}, nil
}

// RunID returns the identifier of the run.
func (o *Orchestrator) RunID() string { return o.cfg.RunID }

// Run processes every job and returns once each has reached a terminal
// state. Canceling ctx stops jobs that have not started; running jobs stop
// after their current step. The returned error is ctx.Err() when the run
// was canceled.
func (o *Orchestrator) Run(ctx context.Context, jobs []Job) (*Summary, error) {
	start := time.Now()
	results := make([]Result, len(jobs))
	var mu sync.Mutex
	done := make([]bool, len(jobs))

	queue := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < o.cfg.Workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := range queue {
				r := o.runJob(ctx, worker, jobs[i])
				mu.Lock()
				results[i], done[i] = r, true
				mu.Unlock()
			}
		}(w)
	}

dispatch:
	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		select {
		case queue <- i:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(queue)
	wg.Wait()

	sum := &Summary{RunID: o.cfg.RunID}
	for i, j := range jobs {
		if !done[i] {
			results[i] = Result{
				TestCaseID: j.TestCase.ID,
				Path:       j.Path,
				Verdict:    verify.NotExecuted,
				Err:        ctx.Err(),
				ErrKind:    ErrCanceled,
			}
			o.emit(Event{Type: EventFinished, TestCaseID: j.TestCase.ID, Result: &results[i]})
		}
		sum.add(results[i])
	}
	sum.Results = results
	sum.Duration = time.Since(start)

	o.cfg.Logger.Info().
		Str("run_id", o.cfg.RunID).
		Int("total", sum.Total).
		Int("passed", sum.Passed).
		Int("failed", sum.Failed).
		Int("not_executed", sum.NotExecuted).
		Int("attempts", sum.TotalAttempts).
		Dur("duration", sum.Duration).
		Msg("orchestration finished")
	return sum, ctx.Err()
}

// runJob performs the attempts of one test case, sequentially.
func (o *Orchestrator) runJob(ctx context.Context, worker int, job Job) Result {
	start := time.Now()
	id := job.TestCase.ID
	log := o.cfg.Logger.With().Str("test_case", id).Int("worker", worker).Logger()
	o.emit(Event{Type: EventStarted, TestCaseID: id, Worker: worker})

	var r Result
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			delay := o.cfg.Retry.Delay(attempt - 1)
			log.Info().Int("attempt", attempt).Dur("backoff", delay).Msg("retrying")
			if err := sleep(ctx, delay); err != nil {
				r.Err, r.ErrKind = err, ErrCanceled
				break
			}
		}

		o.emit(Event{Type: EventAttemptStarted, TestCaseID: id, Worker: worker, Attempt: attempt})
		attemptStart := time.Now()
		r = o.attempt(ctx, job, attempt)
		r.Attempts = attempt
		o.record(ctx, job, attempt, attemptStart, &r)
		o.emit(Event{Type: EventAttemptFinished, TestCaseID: id, Worker: worker, Attempt: attempt, Result: &r})

		if r.Verdict != verify.Fail || r.ErrKind != ErrNone || !o.cfg.Retry.Enabled {
			break
		}
		if attempt > o.cfg.Retry.MaxRetries {
			r.Err = &OrchestrationError{TestCase: id, Attempts: attempt, Msg: "retry budget exhausted"}
			r.ErrKind = ErrOrchestration
			break
		}
	}

	r.Duration = time.Since(start)
	o.emit(Event{Type: EventFinished, TestCaseID: id, Worker: worker, Attempt: r.Attempts, Result: &r})
	ev := log.Info()
	if r.Err != nil {
		ev = log.Warn().Err(r.Err).Str("kind", string(r.ErrKind))
	}
	ev.Str("verdict", string(r.Verdict)).Int("attempts", r.Attempts).Msg("test case finished")
	return r
}

// attempt runs one compile, execute, verify cycle.
func (o *Orchestrator) attempt(ctx context.Context, job Job, n int) Result {
	id := job.TestCase.ID
	r := Result{TestCaseID: id, Path: job.Path, Verdict: verify.NotExecuted}

	plan, _, err := compiler.Compile(job.TestCase, job.Values)
	if err != nil {
		r.Err, r.ErrKind = err, ErrCompile
		return r
	}

	dir := AttemptDir(o.cfg.OutputDir, o.cfg.RunID, id, n)
	r.ArtifactDir = dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.Err, r.ErrKind = fmt.Errorf("create attempt dir: %w", err), ErrRuntime
		return r
	}

	var console io.Writer = io.Discard
	if f, err := os.Create(filepath.Join(dir, ConsoleFileName)); err == nil {
		defer f.Close()
		console = f
	}
	tw, err := trace.NewFileWriter(filepath.Join(dir, TraceFileName), o.cfg.RunID)
	if err != nil {
		tw = nil
	}
	defer tw.Close()
	tw.SetSecrets(plan.Secrets)

	runner := o.cfg.NewRunner(plan, engine.RunConfig{
		RunID:       o.cfg.RunID,
		LogPath:     filepath.Join(dir, LogFileName),
		ArtifactDir: dir,
		Interactive: o.cfg.Interactive,
		Stdout:      console,
		Exec:        o.cfg.Exec,
		CleanOutput: o.cfg.CleanOutput,
		Trace:       tw,
		Logger:      o.cfg.Logger,
	})
	res := runner.Run(ctx)
	if err := engine.SaveState(dir, engine.NewRunState(o.cfg.RunID, id, res)); err != nil {
		o.cfg.Logger.Warn().Err(err).Str("test_case", id).Int("attempt", n).Msg("could not persist run state")
	}

	vr, err := verify.Verify(plan, res.Entries, verify.Options{Logs: execlog.DirLogs(dir)})
	if err != nil {
		r.Err, r.ErrKind = err, ErrStructural
		return r
	}
	r.Verification = vr
	r.Verdict = vr.Verdict

	if res.Err != nil {
		r.Err = res.Err
		r.ErrKind = ErrRuntime
		if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
			r.ErrKind = ErrCanceled
		}
	}
	return r
}

func (o *Orchestrator) record(ctx context.Context, job Job, n int, started time.Time, r *Result) {
	if o.cfg.Recorder == nil {
		return
	}
	a := Attempt{
		RunID:      o.cfg.RunID,
		TestCaseID: job.TestCase.ID,
		Number:     n,
		Verdict:    r.Verdict,
		StartedAt:  started.UTC(),
		Duration:   time.Since(started),
		ErrKind:    r.ErrKind,
	}
	if r.Err != nil {
		a.Error = r.Err.Error()
	}
	if r.ArtifactDir != "" {
		a.LogPath = filepath.Join(r.ArtifactDir, LogFileName)
	}
	if err := o.cfg.Recorder.SaveAttempt(context.WithoutCancel(ctx), a); err != nil {
		o.cfg.Logger.Warn().Err(err).Str("test_case", a.TestCaseID).Msg("record attempt")
	}
}

func (o *Orchestrator) emit(e Event) {
	if o.cfg.OnEvent == nil {
		return
	}
	e.Time = time.Now()
	o.cfg.OnEvent(e)
}

var unsafePath = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// AttemptDir is the artifact directory of one attempt.
func AttemptDir(outputDir, runID, testCaseID string, attempt int) string {
	return filepath.Join(outputDir, runID, unsafePath.ReplaceAllString(testCaseID, "_"), fmt.Sprintf("attempt-%d", attempt))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
