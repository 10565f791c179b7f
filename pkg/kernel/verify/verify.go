// Package verify evaluates an execution log against a compiled plan and
// produces step, sequence and test case verdicts.
//
// Verification is pure: the same plan, log and step log files always give
// the same result, and nothing is written.
package verify

import (
	"fmt"
	"os"
	"time"

	"github.com/ormasoftchile/tcrun/pkg/kernel/compiler"
	"github.com/ormasoftchile/tcrun/pkg/kernel/execlog"
	"github.com/ormasoftchile/tcrun/pkg/kernel/expression"
)

// Verdict is the outcome of a step, a sequence or a test case.
type Verdict string

const (
	Pass        Verdict = "pass"
	Fail        Verdict = "fail"
	NotExecuted Verdict = "not_executed"
)

// Rollup combines verdicts: Fail if any failed, else NotExecuted if any did
// not run, else Pass. An empty set is Pass.
func Rollup(vs ...Verdict) Verdict {
	out := Pass
	for _, v := range vs {
		switch v {
		case Fail:
			return Fail
		case NotExecuted:
			out = NotExecuted
		}
	}
	return out
}

// StepResult is the verdict of one automated step.
type StepResult struct {
	Sequence    int        `json:"sequence"`
	Step        int        `json:"step"`
	Description string     `json:"description"`
	Verdict     Verdict    `json:"verdict"`
	ResultOK    bool       `json:"result_ok"`
	OutputOK    bool       `json:"output_ok"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	Message     string     `json:"message,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// SequenceResult is the verdict of one sequence.
type SequenceResult struct {
	ID      int          `json:"id"`
	Name    string       `json:"name"`
	Verdict Verdict      `json:"verdict"`
	Steps   []StepResult `json:"steps"`
}

// Result is the verdict of a test case.
type Result struct {
	TestCaseID  string           `json:"test_case"`
	Verdict     Verdict          `json:"verdict"`
	Sequences   []SequenceResult `json:"sequences"`
	Passed      int              `json:"passed"`
	Failed      int              `json:"failed"`
	NotExecuted int              `json:"not_executed"`
}

// Steps returns every step result in plan order.
func (r *Result) Steps() []StepResult {
	var out []StepResult
	for _, s := range r.Sequences {
		out = append(out, s.Steps...)
	}
	return out
}

// FirstFailure returns the first failing step, if any.
func (r *Result) FirstFailure() (StepResult, bool) {
	for _, s := range r.Steps() {
		if s.Verdict == Fail {
			return s, true
		}
	}
	return StepResult{}, false
}

// StructuralError means the log does not describe a possible run of the
// plan. It is never turned into a Fail verdict.
type StructuralError struct {
	Path string // e.g. "log[3]"
	Msg  string
}

func (e *StructuralError) Error() string {
	if e.Path == "" {
		return "structural: " + e.Msg
	}
	return fmt.Sprintf("structural: %s: %s", e.Path, e.Msg)
}

// Options configures verification.
type Options struct {
	// Logs resolves artifact("name") references. Nil means every artifact
	// is missing and such expressions evaluate to false.
	Logs expression.LogSource
}

// VerifyFile validates the log file's shape, then verifies it against p.
// A malformed log yields *execlog.ShapeError.
func VerifyFile(p *compiler.Plan, logPath string, opts Options) (*Result, error) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return nil, fmt.Errorf("read execution log: %w", err)
	}
	if err := execlog.Validate(data); err != nil {
		return nil, err
	}
	entries, err := execlog.Parse(data)
	if err != nil {
		return nil, err
	}
	return Verify(p, entries, opts)
}

// Verify evaluates entries against p.
func Verify(p *compiler.Plan, entries []execlog.Entry, opts Options) (*Result, error) {
	if err := checkStructure(p, entries); err != nil {
		return nil, err
	}
	idx, _ := execlog.Index(entries)

	res := &Result{TestCaseID: p.TestCaseID}
	var seqVerdicts []Verdict
	for _, seq := range p.Sequences {
		sr := SequenceResult{ID: seq.ID, Name: seq.Name}
		var stepVerdicts []Verdict
		for i := range seq.Steps {
			st := &seq.Steps[i]
			if st.Manual {
				continue
			}
			r := verifyStep(st, idx, opts)
			switch r.Verdict {
			case Pass:
				res.Passed++
			case Fail:
				res.Failed++
			case NotExecuted:
				res.NotExecuted++
			}
			sr.Steps = append(sr.Steps, r)
			stepVerdicts = append(stepVerdicts, r.Verdict)
		}
		sr.Verdict = Rollup(stepVerdicts...)
		res.Sequences = append(res.Sequences, sr)
		seqVerdicts = append(seqVerdicts, sr.Verdict)
	}
	res.Verdict = Rollup(seqVerdicts...)
	return res, nil
}

func verifyStep(st *compiler.Step, idx map[execlog.Key]execlog.Entry, opts Options) StepResult {
	r := StepResult{Sequence: st.Sequence, Step: st.Number, Description: st.Description}
	e, ok := idx[st.Key()]
	if !ok {
		r.Verdict = NotExecuted
		r.Message = "no execution log entry"
		return r
	}
	code, ts := e.ExitCode, e.Timestamp
	r.ExitCode, r.Timestamp = &code, &ts

	env := expression.Env{ExitCode: e.ExitCode, Output: e.Output, Logs: opts.Logs}
	r.ResultOK = expression.Eval(st.Result, env)
	r.OutputOK = expression.Eval(st.Output, env)
	switch {
	case r.ResultOK && r.OutputOK:
		r.Verdict = Pass
	case !r.ResultOK && !r.OutputOK:
		r.Verdict = Fail
		r.Message = fmt.Sprintf("result %s and output %s not satisfied (exit code %d)", st.Result, st.Output, e.ExitCode)
	case !r.ResultOK:
		r.Verdict = Fail
		r.Message = fmt.Sprintf("result %s not satisfied (exit code %d)", st.Result, e.ExitCode)
	default:
		r.Verdict = Fail
		r.Message = fmt.Sprintf("output %s not satisfied", st.Output)
	}
	return r
}

// checkStructure rejects logs that no run of p could have produced:
// entries for unknown or manual steps, duplicate keys, or entries out of
// plan order.
func checkStructure(p *compiler.Plan, entries []execlog.Entry) error {
	order := make(map[execlog.Key]int)
	manual := make(map[execlog.Key]bool)
	n := 0
	for _, seq := range p.Sequences {
		for i := range seq.Steps {
			st := &seq.Steps[i]
			if st.Manual {
				manual[st.Key()] = true
				continue
			}
			order[st.Key()] = n
			n++
		}
	}
	if len(entries) > n {
		return &StructuralError{Msg: fmt.Sprintf("log has %d entries but the plan has %d automated steps", len(entries), n)}
	}

	seen := make(map[execlog.Key]bool, len(entries))
	last := -1
	for i, e := range entries {
		path := fmt.Sprintf("log[%d]", i)
		k := e.Key()
		if manual[k] {
			return &StructuralError{Path: path, Msg: fmt.Sprintf("entry for manual step %d of sequence %d", k.Step, k.Sequence)}
		}
		pos, ok := order[k]
		if !ok {
			return &StructuralError{Path: path, Msg: fmt.Sprintf("sequence %d step %d is not in the plan", k.Sequence, k.Step)}
		}
		if seen[k] {
			return &StructuralError{Path: path, Msg: fmt.Sprintf("duplicate entry for sequence %d step %d", k.Sequence, k.Step)}
		}
		seen[k] = true
		if pos < last {
			return &StructuralError{Path: path, Msg: fmt.Sprintf("sequence %d step %d is out of order", k.Sequence, k.Step)}
		}
		last = pos
	}
	return nil
}
