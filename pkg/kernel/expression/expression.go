// Package expression implements the typed verification expression model.
//
// Expressions are written in a small boolean language (exit_code == 0,
// output matches "re", artifact("app.log") contains "ready", &&, ||, !),
// parsed once with the expr-lang parser and lowered into a closed set of
// node types. Evaluation is a pure function of an exit code, an output and
// a read-only log source; nothing is ever executed dynamically.
package expression

import (
	"fmt"
	"strconv"
)

// SourceKind selects where OutputMatches reads its subject text.
type SourceKind string

const (
	SourceLive     SourceKind = "live"
	SourceArtifact SourceKind = "artifact"
)

// Source is the subject of an OutputMatches node.
type Source struct {
	Kind SourceKind
	Name string // artifact name when Kind == SourceArtifact
}

// Node is a verification expression node. The set of implementations is
// closed: ExitCodeEquals, ExitCodeIsZero, OutputMatches, Always, And, Or, Not.
type Node interface {
	String() string
	node()
}

// ExitCodeEquals holds when the exit code equals Value.
type ExitCodeEquals struct{ Value int }

// ExitCodeIsZero holds when the exit code is zero.
type ExitCodeIsZero struct{}

// OutputMatches holds when Pattern matches the selected source.
type OutputMatches struct {
	Pattern string
	Source  Source
	re      *Regexp
}

// Always evaluates to Value regardless of input.
type Always struct{ Value bool }

// And is logical conjunction.
type And struct{ Left, Right Node }

// Or is logical disjunction.
type Or struct{ Left, Right Node }

// Not is logical negation.
type Not struct{ X Node }

func (ExitCodeEquals) node() {}
func (ExitCodeIsZero) node() {}
func (*OutputMatches) node() {}
func (Always) node()         {}
func (And) node()            {}
func (Or) node()             {}
func (Not) node()            {}

// NewOutputMatches compiles pattern and returns the node. Patterns that
// cannot be rendered for the artifact are rejected here.
func NewOutputMatches(pattern string, src Source) (*OutputMatches, error) {
	re, err := CompileRegexp(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return &OutputMatches{Pattern: pattern, Source: src, re: re}, nil
}

func (n ExitCodeEquals) String() string { return "exit_code == " + strconv.Itoa(n.Value) }
func (ExitCodeIsZero) String() string   { return "success" }
func (n Always) String() string         { return strconv.FormatBool(n.Value) }
func (n And) String() string            { return "(" + n.Left.String() + " && " + n.Right.String() + ")" }
func (n Or) String() string             { return "(" + n.Left.String() + " || " + n.Right.String() + ")" }
func (n Not) String() string            { return "!(" + n.X.String() + ")" }

// ERE returns the pattern in the form bash evaluates.
func (n *OutputMatches) ERE() string {
	if n.re == nil {
		return MustCompileRegexp(n.Pattern).ERE()
	}
	return n.re.ERE()
}

func (n *OutputMatches) String() string {
	subject := "output"
	if n.Source.Kind == SourceArtifact {
		subject = "artifact(" + strconv.Quote(n.Source.Name) + ")"
	}
	return subject + " matches " + strconv.Quote(n.Pattern)
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

// LogSource resolves named log artifacts for OutputMatches nodes.
type LogSource interface {
	ReadLog(name string) (string, bool)
}

// MapLogs is an in-memory LogSource.
type MapLogs map[string]string

// ReadLog implements LogSource.
func (m MapLogs) ReadLog(name string) (string, bool) {
	s, ok := m[name]
	return s, ok
}

// Env is the concrete data an expression is evaluated against.
type Env struct {
	ExitCode int
	Output   string
	Logs     LogSource
}

// Eval evaluates n against env. A missing artifact makes its match false.
func Eval(n Node, env Env) bool {
	switch n := n.(type) {
	case ExitCodeEquals:
		return env.ExitCode == n.Value
	case ExitCodeIsZero:
		return env.ExitCode == 0
	case *OutputMatches:
		subject := env.Output
		if n.Source.Kind == SourceArtifact {
			if env.Logs == nil {
				return false
			}
			s, ok := env.Logs.ReadLog(n.Source.Name)
			if !ok {
				return false
			}
			subject = s
		}
		re := n.re
		if re == nil {
			re = MustCompileRegexp(n.Pattern)
		}
		return re.MatchString(subject)
	case Always:
		return n.Value
	case And:
		return Eval(n.Left, env) && Eval(n.Right, env)
	case Or:
		return Eval(n.Left, env) || Eval(n.Right, env)
	case Not:
		return !Eval(n.X, env)
	}
	panic(fmt.Sprintf("expression: unknown node %T", n))
}

// Artifacts returns the artifact names referenced by n.
func Artifacts(n Node) []string {
	var out []string
	var walk func(Node)
	walk = func(n Node) {
		switch n := n.(type) {
		case *OutputMatches:
			if n.Source.Kind == SourceArtifact {
				out = append(out, n.Source.Name)
			}
		case And:
			walk(n.Left)
			walk(n.Right)
		case Or:
			walk(n.Left)
			walk(n.Right)
		case Not:
			walk(n.X)
		}
	}
	walk(n)
	return out
}
