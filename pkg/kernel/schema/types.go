// Package schema defines the test case document model: metadata, conditions,
// sequences, steps, hooks and hydration variable declarations.
package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// TestCase is the top-level test case document.
type TestCase struct {
	ID          string   `yaml:"id" json:"id" jsonschema:"required,minLength=1"`
	Requirement string   `yaml:"requirement,omitempty" json:"requirement,omitempty"`
	Item        int      `yaml:"item,omitempty" json:"item,omitempty"`
	TC          int      `yaml:"tc,omitempty" json:"tc,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`

	GeneralInitialConditions Conditions `yaml:"general_initial_conditions,omitempty" json:"general_initial_conditions,omitempty"`
	InitialConditions        Conditions `yaml:"initial_conditions,omitempty" json:"initial_conditions,omitempty"`

	Prerequisites []Prerequisite         `yaml:"prerequisites,omitempty" json:"prerequisites,omitempty"`
	HydrationVars map[string]HydrationVar `yaml:"hydration_vars,omitempty" json:"hydration_vars,omitempty"`
	Hooks         *Hooks                  `yaml:"hooks,omitempty" json:"hooks,omitempty"`
	Sequences     []TestSequence          `yaml:"test_sequences" json:"test_sequences" jsonschema:"required,minItems=1"`
}

// Conditions maps a subject (e.g. "eUICC") to its ordered condition list.
// Subjects are open-ended.
type Conditions map[string][]string

// Subjects returns the condition subjects in a stable order.
func (c Conditions) Subjects() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HydrationVar declares a ${#NAME} placeholder resolved before compilation.
type HydrationVar struct {
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Default     *string `yaml:"default,omitempty" json:"default,omitempty"`
	Required    bool    `yaml:"required,omitempty" json:"required,omitempty"`
	Secret      bool    `yaml:"secret,omitempty" json:"secret,omitempty"` // redacted from traces and recordings
}

// PrerequisiteType is manual or automatic.
type PrerequisiteType string

const (
	PrerequisiteManual    PrerequisiteType = "manual"
	PrerequisiteAutomatic PrerequisiteType = "automatic"
)

// Prerequisite is a condition checked before the setup hook.
type Prerequisite struct {
	Type                PrerequisiteType `yaml:"type" json:"type" jsonschema:"enum=manual,enum=automatic"`
	Description         string           `yaml:"description" json:"description"`
	VerificationCommand string           `yaml:"verification_command,omitempty" json:"verification_command,omitempty"`
}

// TestSequence is an ordered group of steps. Its id is unique only within
// the owning test case.
type TestSequence struct {
	ID                int               `yaml:"id" json:"id"`
	Name              string            `yaml:"name" json:"name"`
	Description       string            `yaml:"description,omitempty" json:"description,omitempty"`
	Variables         map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`
	InitialConditions Conditions        `yaml:"initial_conditions,omitempty" json:"initial_conditions,omitempty"`
	Steps             []Step            `yaml:"steps" json:"steps" jsonschema:"required,minItems=1"`
}

// Step is a single automated or manual action.
type Step struct {
	Number       int               `yaml:"step" json:"step"`
	Description  string            `yaml:"description" json:"description"`
	Command      string            `yaml:"command,omitempty" json:"command,omitempty"`
	Manual       bool              `yaml:"manual,omitempty" json:"manual,omitempty"`
	CaptureVars  CaptureVars       `yaml:"capture_vars,omitempty" json:"capture_vars,omitempty"`
	Expected     Expected          `yaml:"expected,omitempty" json:"expected,omitempty"`
	Verification Verification      `yaml:"verification,omitempty" json:"verification,omitempty"`
}

// CaptureVar declares one captured variable. Exactly one of Capture (a
// pattern applied to the step output) and Command (a command whose combined
// stdout and stderr becomes the value) is set.
type CaptureVar struct {
	Name    string `yaml:"name" json:"name" jsonschema:"required,minLength=1"`
	Capture string `yaml:"capture,omitempty" json:"capture,omitempty"`
	Command string `yaml:"command,omitempty" json:"command,omitempty"`
}

// IsCommand reports whether the value comes from running Command.
func (c CaptureVar) IsCommand() bool { return c.Command != "" }

// CaptureVars is written either as a name -> pattern mapping or as a list
// of CaptureVar entries. The mapping form is ordered by name.
type CaptureVars []CaptureVar

// UnmarshalYAML accepts both the mapping and the list form.
func (c *CaptureVars) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.MappingNode:
		var m map[string]string
		if err := n.Decode(&m); err != nil {
			return err
		}
		*c = CapturePatterns(m)
		return nil
	case yaml.SequenceNode:
		for _, item := range n.Content {
			if item.Kind != yaml.MappingNode {
				continue
			}
			for i := 0; i < len(item.Content); i += 2 {
				switch k := item.Content[i]; k.Value {
				case "name", "capture", "command":
				default:
					return fmt.Errorf("line %d: field %s not found in capture_vars entry", k.Line, k.Value)
				}
			}
		}
		var list []CaptureVar
		if err := n.Decode(&list); err != nil {
			return err
		}
		*c = list
		return nil
	}
	return fmt.Errorf("line %d: capture_vars must be a mapping or a list", n.Line)
}

// CapturePatterns builds pattern captures from a name -> pattern mapping.
func CapturePatterns(m map[string]string) CaptureVars {
	if len(m) == 0 {
		return nil
	}
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make(CaptureVars, 0, len(names))
	for _, name := range names {
		out = append(out, CaptureVar{Name: name, Capture: m[name]})
	}
	return out
}

// Names returns the declared names in order.
func (c CaptureVars) Names() []string {
	out := make([]string, len(c))
	for i, v := range c {
		out[i] = v.Name
	}
	return out
}

// Expected is the human-readable expectation for a step.
type Expected struct {
	Success *bool  `yaml:"success,omitempty" json:"success,omitempty"`
	Result  string `yaml:"result,omitempty" json:"result,omitempty"`
	Output  string `yaml:"output,omitempty" json:"output,omitempty"`
}

// Verification holds the result and output expressions for a step.
type Verification struct {
	Result string `yaml:"result,omitempty" json:"result,omitempty"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// Default verification expressions.
const (
	DefaultResultExpr = "success"
	DefaultOutputExpr = "true"
)

// ResultExpr returns the effective result expression source.
// An integer expected.result without an explicit expression becomes an
// exit code equality check.
func (s Step) ResultExpr() string {
	if strings.TrimSpace(s.Verification.Result) != "" {
		return s.Verification.Result
	}
	if r := strings.TrimSpace(s.Expected.Result); r != "" {
		if n, err := strconv.Atoi(r); err == nil {
			return fmt.Sprintf("exit_code == %d", n)
		}
	}
	return DefaultResultExpr
}

// OutputExpr returns the effective output expression source.
func (s Step) OutputExpr() string {
	if strings.TrimSpace(s.Verification.Output) != "" {
		return s.Verification.Output
	}
	return DefaultOutputExpr
}

// ---------------------------------------------------------------------------
// Hooks
// ---------------------------------------------------------------------------

// HookKind names one of the eight lifecycle injection points.
type HookKind string

const (
	HookScriptStart    HookKind = "script_start"
	HookSetupTest      HookKind = "setup_test"
	HookBeforeSequence HookKind = "before_sequence"
	HookAfterSequence  HookKind = "after_sequence"
	HookBeforeStep     HookKind = "before_step"
	HookAfterStep      HookKind = "after_step"
	HookTeardownTest   HookKind = "teardown_test"
	HookScriptEnd      HookKind = "script_end"
)

// HookKinds lists every kind in lifecycle order.
var HookKinds = []HookKind{
	HookScriptStart, HookSetupTest, HookBeforeSequence, HookBeforeStep,
	HookAfterStep, HookAfterSequence, HookTeardownTest, HookScriptEnd,
}

// OnError is a hook's failure policy.
type OnError string

const (
	OnErrorFail     OnError = "fail"
	OnErrorContinue OnError = "continue"
)

// Hook is a user-supplied command bound to a lifecycle point.
type Hook struct {
	Command string  `yaml:"command" json:"command" jsonschema:"required,minLength=1"`
	OnError OnError `yaml:"on_error,omitempty" json:"on_error,omitempty" jsonschema:"enum=fail,enum=continue"`
}

// Policy returns the effective error policy (fail when unset).
func (h *Hook) Policy() OnError {
	if h.OnError == "" {
		return OnErrorFail
	}
	return h.OnError
}

// Hooks is the optional top-level hook block.
type Hooks struct {
	ScriptStart    *Hook `yaml:"script_start,omitempty" json:"script_start,omitempty"`
	SetupTest      *Hook `yaml:"setup_test,omitempty" json:"setup_test,omitempty"`
	BeforeSequence *Hook `yaml:"before_sequence,omitempty" json:"before_sequence,omitempty"`
	AfterSequence  *Hook `yaml:"after_sequence,omitempty" json:"after_sequence,omitempty"`
	BeforeStep     *Hook `yaml:"before_step,omitempty" json:"before_step,omitempty"`
	AfterStep      *Hook `yaml:"after_step,omitempty" json:"after_step,omitempty"`
	TeardownTest   *Hook `yaml:"teardown_test,omitempty" json:"teardown_test,omitempty"`
	ScriptEnd      *Hook `yaml:"script_end,omitempty" json:"script_end,omitempty"`
}

// Get returns the hook for a kind, or nil. Safe on a nil receiver.
func (h *Hooks) Get(kind HookKind) *Hook {
	if h == nil {
		return nil
	}
	switch kind {
	case HookScriptStart:
		return h.ScriptStart
	case HookSetupTest:
		return h.SetupTest
	case HookBeforeSequence:
		return h.BeforeSequence
	case HookAfterSequence:
		return h.AfterSequence
	case HookBeforeStep:
		return h.BeforeStep
	case HookAfterStep:
		return h.AfterStep
	case HookTeardownTest:
		return h.TeardownTest
	case HookScriptEnd:
		return h.ScriptEnd
	}
	return nil
}

// ---------------------------------------------------------------------------
// Traversal helpers
// ---------------------------------------------------------------------------

// AutomatedStepCount returns the number of non-manual steps.
func (tc *TestCase) AutomatedStepCount() int {
	n := 0
	for _, seq := range tc.Sequences {
		for _, st := range seq.Steps {
			if !st.Manual {
				n++
			}
		}
	}
	return n
}

// Sequence returns the sequence with the given id.
func (tc *TestCase) Sequence(id int) (*TestSequence, bool) {
	for i := range tc.Sequences {
		if tc.Sequences[i].ID == id {
			return &tc.Sequences[i], true
		}
	}
	return nil, false
}

// WalkStrings calls fn on every free-text field that may hold placeholders
// and stores the returned value back. Used by hydration.
func (tc *TestCase) WalkStrings(fn func(path, s string) (string, error)) error {
	apply := func(path string, p *string) error {
		if *p == "" {
			return nil
		}
		v, err := fn(path, *p)
		if err != nil {
			return err
		}
		*p = v
		return nil
	}
	for i := range tc.Prerequisites {
		if err := apply(fmt.Sprintf("prerequisites[%d].verification_command", i), &tc.Prerequisites[i].VerificationCommand); err != nil {
			return err
		}
	}
	if tc.Hooks != nil {
		for _, kind := range HookKinds {
			if h := tc.Hooks.Get(kind); h != nil {
				if err := apply("hooks."+string(kind)+".command", &h.Command); err != nil {
					return err
				}
			}
		}
	}
	for i := range tc.Sequences {
		seq := &tc.Sequences[i]
		for k, v := range seq.Variables {
			nv, err := fn(fmt.Sprintf("test_sequences[%d].variables.%s", i, k), v)
			if err != nil {
				return err
			}
			seq.Variables[k] = nv
		}
		for j := range seq.Steps {
			st := &seq.Steps[j]
			base := fmt.Sprintf("test_sequences[%d].steps[%d]", i, j)
			for _, f := range []struct {
				name string
				p    *string
			}{
				{"command", &st.Command},
				{"description", &st.Description},
				{"verification.result", &st.Verification.Result},
				{"verification.output", &st.Verification.Output},
				{"expected.output", &st.Expected.Output},
			} {
				if err := apply(base+"."+f.name, f.p); err != nil {
					return err
				}
			}
			for k := range st.CaptureVars {
				cv := &st.CaptureVars[k]
				if err := apply(base+".capture_vars."+cv.Name+".capture", &cv.Capture); err != nil {
					return err
				}
				if err := apply(base+".capture_vars."+cv.Name+".command", &cv.Command); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Clone returns a deep copy, so that derived documents never mutate the input.
func (tc *TestCase) Clone() *TestCase {
	c := *tc
	c.Tags = append([]string(nil), tc.Tags...)
	c.GeneralInitialConditions = cloneConditions(tc.GeneralInitialConditions)
	c.InitialConditions = cloneConditions(tc.InitialConditions)
	c.Prerequisites = append([]Prerequisite(nil), tc.Prerequisites...)
	if tc.HydrationVars != nil {
		c.HydrationVars = make(map[string]HydrationVar, len(tc.HydrationVars))
		for k, v := range tc.HydrationVars {
			c.HydrationVars[k] = v
		}
	}
	if tc.Hooks != nil {
		h := *tc.Hooks
		for _, p := range []**Hook{&h.ScriptStart, &h.SetupTest, &h.BeforeSequence, &h.AfterSequence,
			&h.BeforeStep, &h.AfterStep, &h.TeardownTest, &h.ScriptEnd} {
			if *p != nil {
				cp := **p
				*p = &cp
			}
		}
		c.Hooks = &h
	}
	c.Sequences = make([]TestSequence, len(tc.Sequences))
	for i, seq := range tc.Sequences {
		ns := seq
		ns.Variables = cloneStrings(seq.Variables)
		ns.InitialConditions = cloneConditions(seq.InitialConditions)
		ns.Steps = make([]Step, len(seq.Steps))
		for j, st := range seq.Steps {
			st.CaptureVars = append(CaptureVars(nil), st.CaptureVars...)
			ns.Steps[j] = st
		}
		c.Sequences[i] = ns
	}
	return &c
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneConditions(c Conditions) Conditions {
	if c == nil {
		return nil
	}
	out := make(Conditions, len(c))
	for k, v := range c {
		out[k] = append([]string(nil), v...)
	}
	return out
}
