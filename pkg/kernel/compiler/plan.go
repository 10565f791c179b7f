// Package compiler turns a test case document into an executable Plan and
// renders plans as portable bash artifacts.
package compiler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ormasoftchile/tcrun/pkg/kernel/execlog"
	"github.com/ormasoftchile/tcrun/pkg/kernel/expression"
	"github.com/ormasoftchile/tcrun/pkg/kernel/hydrate"
	"github.com/ormasoftchile/tcrun/pkg/kernel/schema"
	"github.com/ormasoftchile/tcrun/pkg/kernel/vars"
)

// Plan is a compiled, immutable test case: hydration resolved, sequence
// variables bound, expressions parsed and captures compiled.
type Plan struct {
	TestCaseID    string
	Description   string
	Prerequisites []schema.Prerequisite
	Hooks         *schema.Hooks
	Sequences     []Sequence
	Document      *schema.TestCase // hydrated source
	Secrets       []string         // values of secret hydration variables
}

// Sequence is a compiled test sequence.
type Sequence struct {
	ID          int
	Name        string
	Description string
	Variables   map[string]string
	Steps       []Step
}

// Step is a compiled step. Command has sequence variables bound; the
// references left in it name variables captured by earlier steps.
type Step struct {
	Sequence    int
	Number      int
	Description string
	Manual      bool
	Command     vars.Template
	Captures    []vars.Capture
	Result      expression.Node
	Output      expression.Node
}

// Key returns the log key of the step.
func (s *Step) Key() execlog.Key { return execlog.Key{Sequence: s.Sequence, Step: s.Number} }

// AutomatedSteps returns pointers to every non-manual step in execution order.
func (p *Plan) AutomatedSteps() []*Step {
	var out []*Step
	for i := range p.Sequences {
		for j := range p.Sequences[i].Steps {
			if st := &p.Sequences[i].Steps[j]; !st.Manual {
				out = append(out, st)
			}
		}
	}
	return out
}

// StepLogName is the per-step output file written next to the execution log.
func StepLogName(testCaseID string, sequence, step int) string {
	return fmt.Sprintf("%s_sequence-%d_step-%d.actual.log", testCaseID, sequence, step)
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// Problem is one compile-time finding.
type Problem struct {
	Path    string
	Message string
}

func (p Problem) String() string {
	if p.Path == "" {
		return p.Message
	}
	return p.Path + ": " + p.Message
}

// CompileError aborts a test case before anything runs.
type CompileError struct {
	TestCase string
	Problems []Problem
	Err      error // underlying cause, e.g. *hydrate.UnresolvedError
}

func (e *CompileError) Error() string {
	msg := "compile " + e.TestCase + ": "
	if len(e.Problems) == 0 {
		if e.Err != nil {
			return msg + e.Err.Error()
		}
		return msg + "failed"
	}
	msg += e.Problems[0].String()
	if n := len(e.Problems) - 1; n > 0 {
		msg += fmt.Sprintf(" (and %d more)", n)
	}
	return msg
}

func (e *CompileError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Compile
// ---------------------------------------------------------------------------

// Compile hydrates tc with values and compiles the result. The hydration
// report is returned even on failure so callers can print warnings.
func Compile(tc *schema.TestCase, values hydrate.Values) (*Plan, *hydrate.Report, error) {
	hydrated, report, err := hydrate.Resolve(tc, values)
	if err != nil {
		return nil, report, &CompileError{
			TestCase: tc.ID,
			Problems: []Problem{{Path: "hydration_vars", Message: err.Error()}},
			Err:      err,
		}
	}
	plan, problems := build(hydrated)
	if len(problems) > 0 {
		return nil, report, &CompileError{TestCase: tc.ID, Problems: problems}
	}
	plan.Secrets = hydrate.Secrets(tc, values)
	return plan, report, nil
}

// Check runs every compile rule except hydration and returns the findings.
func Check(tc *schema.TestCase) []Problem {
	_, problems := build(tc)
	return problems
}

func build(tc *schema.TestCase) (*Plan, []Problem) {
	var problems []Problem
	addf := func(path, format string, args ...any) {
		problems = append(problems, Problem{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(tc.ID) == "" {
		addf("id", "test case id is required")
	}
	if len(tc.Sequences) == 0 {
		addf("test_sequences", "at least one test sequence is required")
	}
	for name := range tc.HydrationVars {
		if !hydrate.ValidName(name) {
			addf("hydration_vars."+name, "invalid hydration variable name %q: must match [A-Z_][A-Z0-9_]*", name)
		}
	}

	plan := &Plan{
		TestCaseID:    tc.ID,
		Description:   tc.Description,
		Prerequisites: tc.Prerequisites,
		Hooks:         tc.Hooks,
		Document:      tc,
	}

	for i, pr := range tc.Prerequisites {
		path := fmt.Sprintf("prerequisites[%d]", i)
		switch pr.Type {
		case schema.PrerequisiteManual:
		case schema.PrerequisiteAutomatic:
			if strings.TrimSpace(pr.VerificationCommand) == "" {
				addf(path, "automatic prerequisite requires verification_command")
			}
		default:
			addf(path+".type", "invalid prerequisite type %q: must be manual or automatic", pr.Type)
		}
	}

	for _, kind := range schema.HookKinds {
		h := tc.Hooks.Get(kind)
		if h == nil {
			continue
		}
		path := "hooks." + string(kind)
		if strings.TrimSpace(h.Command) == "" {
			addf(path+".command", "hook command is required")
		}
		switch h.Policy() {
		case schema.OnErrorFail, schema.OnErrorContinue:
		default:
			addf(path+".on_error", "invalid on_error %q: must be fail or continue", h.OnError)
		}
	}

	captured := make(map[string]bool) // names captured by earlier steps
	seqIDs := make(map[int]bool)
	for i, seq := range tc.Sequences {
		seqPath := fmt.Sprintf("test_sequences[%d]", i)
		if seqIDs[seq.ID] {
			addf(seqPath+".id", "duplicate sequence id %d", seq.ID)
		}
		seqIDs[seq.ID] = true
		for name := range seq.Variables {
			if !vars.ValidName(name) {
				addf(seqPath+".variables", "invalid variable name %q", name)
			}
		}
		if len(seq.Steps) == 0 {
			addf(seqPath+".steps", "sequence %d has no steps", seq.ID)
		}

		cs := Sequence{
			ID:          seq.ID,
			Name:        seq.Name,
			Description: seq.Description,
			Variables:   seq.Variables,
		}
		stepNums := make(map[int]bool)
		for j, st := range seq.Steps {
			path := fmt.Sprintf("%s.steps[%d]", seqPath, j)
			if stepNums[st.Number] {
				addf(path+".step", "duplicate step number %d in sequence %d", st.Number, seq.ID)
			}
			stepNums[st.Number] = true

			bindSeq := func(name string) (string, bool) {
				if captured[name] {
					return "", false
				}
				v, ok := seq.Variables[name]
				return v, ok
			}

			cst := Step{
				Sequence:    seq.ID,
				Number:      st.Number,
				Description: st.Description,
				Manual:      st.Manual,
				Command:     vars.Parse(strings.TrimSpace(st.Command)).Bind(bindSeq),
			}

			if st.Manual {
				if len(st.CaptureVars) > 0 {
					addf(path+".capture_vars", "manual step cannot capture variables")
				}
				cs.Steps = append(cs.Steps, cst)
				continue
			}

			if strings.TrimSpace(st.Command) == "" {
				addf(path+".command", "automated step requires a command")
			}
			for _, ref := range cst.Command.Refs() {
				if !captured[ref] {
					addf(path+".command", "unresolved variable ${%s}", ref)
				}
			}

			for _, e := range []struct {
				field string
				src   string
				dst   *expression.Node
			}{
				{"verification.result", st.ResultExpr(), &cst.Result},
				{"verification.output", st.OutputExpr(), &cst.Output},
			} {
				tpl := vars.Parse(e.src)
				for _, ref := range tpl.Refs() {
					if captured[ref] {
						addf(path+"."+e.field, "captured variable ${%s} cannot be used in a verification expression", ref)
					} else if _, ok := seq.Variables[ref]; !ok {
						addf(path+"."+e.field, "unresolved variable ${%s}", ref)
					}
				}
				n, err := expression.Parse(tpl.Bind(bindSeq).String())
				if err != nil {
					addf(path+"."+e.field, "%s", err)
					continue
				}
				*e.dst = n
			}

			caps, err := vars.CompileCaptures(st.CaptureVars)
			if err != nil {
				addf(path+".capture_vars", "%s", err)
			}
			// Capture commands see sequence variables, earlier captures
			// and captures declared before them in the same step.
			var own []string
			for k := range caps {
				c := &caps[k]
				if c.IsCommand() {
					c.Command = c.Command.Bind(bindSeq)
					for _, ref := range c.Command.Refs() {
						if !captured[ref] && !slices.Contains(own, ref) {
							addf(path+".capture_vars."+c.Name+".command", "unresolved variable ${%s}", ref)
						}
					}
				}
				own = append(own, c.Name)
			}
			cst.Captures = caps
			cs.Steps = append(cs.Steps, cst)

			// Visible to later steps only, across sequences too.
			for _, c := range caps {
				captured[c.Name] = true
			}
		}
		plan.Sequences = append(plan.Sequences, cs)
	}

	return plan, problems
}
