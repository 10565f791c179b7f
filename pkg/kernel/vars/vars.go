// Package vars resolves sequence-scoped and captured ${NAME} placeholders.
package vars

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ormasoftchile/tcrun/pkg/kernel/expression"
	"github.com/ormasoftchile/tcrun/pkg/kernel/schema"
)

var refPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Segment is one piece of a template: literal text or a variable reference.
type Segment struct {
	Literal string
	Ref     string
}

// IsRef reports whether the segment is a reference.
func (s Segment) IsRef() bool { return s.Ref != "" }

// Template is a string split into literal and ${NAME} reference segments.
// Hydration placeholders (${#NAME}) are never treated as references.
type Template []Segment

// Parse splits s into a template.
func Parse(s string) Template {
	var t Template
	last := 0
	for _, m := range refPattern.FindAllStringSubmatchIndex(s, -1) {
		if m[0] > last {
			t = append(t, Segment{Literal: s[last:m[0]]})
		}
		t = append(t, Segment{Ref: s[m[2]:m[3]]})
		last = m[1]
	}
	if last < len(s) {
		t = append(t, Segment{Literal: s[last:]})
	}
	return t
}

// Refs returns the distinct referenced names in order of first use.
func (t Template) Refs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, seg := range t {
		if seg.IsRef() && !seen[seg.Ref] {
			seen[seg.Ref] = true
			out = append(out, seg.Ref)
		}
	}
	return out
}

// String reassembles the template with references in ${NAME} form.
func (t Template) String() string {
	var b strings.Builder
	for _, seg := range t {
		if seg.IsRef() {
			b.WriteString("${" + seg.Ref + "}")
		} else {
			b.WriteString(seg.Literal)
		}
	}
	return b.String()
}

// Bind replaces references for which fn returns ok with literal text and
// keeps the rest as references. Adjacent literals are merged.
func (t Template) Bind(fn func(name string) (string, bool)) Template {
	var out Template
	for _, seg := range t {
		if seg.IsRef() {
			if v, ok := fn(seg.Ref); ok {
				seg = Segment{Literal: v}
			}
		}
		if !seg.IsRef() && len(out) > 0 && !out[len(out)-1].IsRef() {
			out[len(out)-1].Literal += seg.Literal
			continue
		}
		out = append(out, seg)
	}
	return out
}

// UnsetError is returned when a referenced variable has no value at the
// point of use.
type UnsetError struct {
	Name string
}

func (e *UnsetError) Error() string {
	return fmt.Sprintf("variable %q is not set", e.Name)
}

// ---------------------------------------------------------------------------
// Scope
// ---------------------------------------------------------------------------

// Scope holds the variables visible to a step. Captured values shadow
// sequence values of the same name.
type Scope struct {
	sequence map[string]string
	captured map[string]string
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{
		sequence: make(map[string]string),
		captured: make(map[string]string),
	}
}

// EnterSequence replaces the sequence-scoped variables. Captured values
// persist across sequences of the same test case.
func (s *Scope) EnterSequence(vars map[string]string) {
	s.sequence = make(map[string]string, len(vars))
	for k, v := range vars {
		s.sequence[k] = v
	}
}

// Capture records a captured value.
func (s *Scope) Capture(name, value string) {
	s.captured[name] = value
}

// Lookup resolves name: captured first, then sequence.
func (s *Scope) Lookup(name string) (string, bool) {
	if v, ok := s.captured[name]; ok {
		return v, true
	}
	v, ok := s.sequence[name]
	return v, ok
}

// Captured returns a copy of the captured values.
func (s *Scope) Captured() map[string]string {
	out := make(map[string]string, len(s.captured))
	for k, v := range s.captured {
		out[k] = v
	}
	return out
}

// Expand renders t against the scope. The first unresolved reference is
// returned as an *UnsetError.
func (s *Scope) Expand(t Template) (string, error) {
	var b strings.Builder
	for _, seg := range t {
		if !seg.IsRef() {
			b.WriteString(seg.Literal)
			continue
		}
		v, ok := s.Lookup(seg.Ref)
		if !ok {
			return "", &UnsetError{Name: seg.Ref}
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

// ---------------------------------------------------------------------------
// Capture extraction
// ---------------------------------------------------------------------------

// Capture is a compiled capture declaration. Pattern captures read the
// step output; command captures run Command and keep its combined output.
type Capture struct {
	Name    string
	Pattern *expression.Regexp // nil for command captures
	Command Template
}

// IsCommand reports whether the capture runs a command.
func (c Capture) IsCommand() bool { return c.Pattern == nil }

// CompileCaptures compiles capture declarations in order. Names must be
// valid and distinct, and each declaration sets exactly one of capture and
// command.
func CompileCaptures(decls schema.CaptureVars) ([]Capture, error) {
	seen := make(map[string]bool, len(decls))
	out := make([]Capture, 0, len(decls))
	for _, d := range decls {
		if !validName(d.Name) {
			return nil, fmt.Errorf("capture %q: invalid variable name", d.Name)
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("capture %q: declared more than once", d.Name)
		}
		seen[d.Name] = true
		switch {
		case d.Capture != "" && d.Command != "":
			return nil, fmt.Errorf("capture %q: capture and command are mutually exclusive", d.Name)
		case d.Command != "":
			out = append(out, Capture{Name: d.Name, Command: Parse(strings.TrimSpace(d.Command))})
		case d.Capture != "":
			re, err := expression.CompileRegexp(d.Capture)
			if err != nil {
				return nil, fmt.Errorf("capture %q: invalid pattern: %w", d.Name, err)
			}
			out = append(out, Capture{Name: d.Name, Pattern: re})
		default:
			return nil, fmt.Errorf("capture %q: one of capture or command is required", d.Name)
		}
	}
	return out, nil
}

// Extract applies a pattern capture to output. The first submatch is used
// when the pattern has groups, otherwise the whole match. No match reports
// false and leaves the variable unset.
func (c Capture) Extract(output string) (string, bool) {
	if c.Pattern == nil {
		return "", false
	}
	m := c.Pattern.FindStringSubmatch(output)
	switch {
	case len(m) > 1:
		return m[1], true
	case len(m) == 1:
		return m[0], true
	}
	return "", false
}

// CommandValue turns the combined output of a capture command into the
// variable value. Trailing newlines are dropped, as $(...) does.
func CommandValue(output string) string {
	return strings.TrimRight(output, "\n")
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validName(s string) bool { return namePattern.MatchString(s) }

// ValidName reports whether s is usable as a variable name.
func ValidName(s string) bool { return validName(s) }
