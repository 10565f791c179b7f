package expression

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// ParseError reports a malformed expression.
type ParseError struct {
	Expr string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("expression %q: %s", e.Expr, e.Msg)
}

// Parse parses src into a typed expression tree.
func Parse(src string) (Node, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, &ParseError{Expr: src, Msg: "empty expression"}
	}
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, &ParseError{Expr: src, Msg: firstLine(err.Error())}
	}
	n, err := lower(tree.Node)
	if err != nil {
		return nil, &ParseError{Expr: src, Msg: err.Error()}
	}
	return n, nil
}

// MustParse is Parse for constant expressions; it panics on error.
func MustParse(src string) Node {
	n, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return n
}

func lower(n ast.Node) (Node, error) {
	switch n := n.(type) {
	case *ast.BoolNode:
		return Always{Value: n.Value}, nil

	case *ast.IdentifierNode:
		switch n.Value {
		case "success":
			return ExitCodeIsZero{}, nil
		case "exit_code", "output":
			return nil, fmt.Errorf("%s must be compared", n.Value)
		}
		return nil, fmt.Errorf("unknown identifier %q", n.Value)

	case *ast.UnaryNode:
		switch n.Operator {
		case "!", "not":
			x, err := lower(n.Node)
			if err != nil {
				return nil, err
			}
			return Not{X: x}, nil
		}
		return nil, fmt.Errorf("unsupported unary operator %q", n.Operator)

	case *ast.BinaryNode:
		switch n.Operator {
		case "&&", "and", "||", "or":
			l, err := lower(n.Left)
			if err != nil {
				return nil, err
			}
			r, err := lower(n.Right)
			if err != nil {
				return nil, err
			}
			if n.Operator == "&&" || n.Operator == "and" {
				return And{Left: l, Right: r}, nil
			}
			return Or{Left: l, Right: r}, nil
		case "==", "!=":
			return lowerExitCode(n)
		case "matches", "contains":
			return lowerMatch(n)
		}
		return nil, fmt.Errorf("unsupported operator %q", n.Operator)
	}
	return nil, fmt.Errorf("unsupported expression %q", n.String())
}

func lowerExitCode(n *ast.BinaryNode) (Node, error) {
	left, right := n.Left, n.Right
	if !isIdent(left, "exit_code") {
		left, right = right, left
	}
	if !isIdent(left, "exit_code") {
		return nil, fmt.Errorf("%s compares only exit_code with an integer", n.Operator)
	}
	v, ok := intLiteral(right)
	if !ok {
		return nil, fmt.Errorf("exit_code must be compared with an integer literal")
	}
	var out Node = ExitCodeEquals{Value: v}
	if n.Operator == "!=" {
		out = Not{X: out}
	}
	return out, nil
}

func lowerMatch(n *ast.BinaryNode) (Node, error) {
	var src Source
	switch l := n.Left.(type) {
	case *ast.IdentifierNode:
		if l.Value != "output" {
			return nil, fmt.Errorf("%s applies to output or artifact(...), not %q", n.Operator, l.Value)
		}
		src = Source{Kind: SourceLive}
	case *ast.CallNode:
		name, err := artifactName(l)
		if err != nil {
			return nil, err
		}
		src = Source{Kind: SourceArtifact, Name: name}
	default:
		return nil, fmt.Errorf("%s applies to output or artifact(...)", n.Operator)
	}
	lit, ok := n.Right.(*ast.StringNode)
	if !ok {
		return nil, fmt.Errorf("%s requires a string literal", n.Operator)
	}
	pattern := lit.Value
	if n.Operator == "contains" {
		pattern = regexp.QuoteMeta(pattern)
	}
	return NewOutputMatches(pattern, src)
}

func artifactName(c *ast.CallNode) (string, error) {
	callee, ok := c.Callee.(*ast.IdentifierNode)
	if !ok || callee.Value != "artifact" {
		return "", fmt.Errorf("unknown function %q", c.Callee.String())
	}
	if len(c.Arguments) != 1 {
		return "", fmt.Errorf("artifact() takes exactly one argument")
	}
	s, ok := c.Arguments[0].(*ast.StringNode)
	if !ok || s.Value == "" {
		return "", fmt.Errorf("artifact() requires a non-empty string name")
	}
	if strings.ContainsAny(s.Value, `/\`) || s.Value == "." || s.Value == ".." {
		return "", fmt.Errorf("artifact name %q must be a plain file name", s.Value)
	}
	return s.Value, nil
}

func isIdent(n ast.Node, name string) bool {
	id, ok := n.(*ast.IdentifierNode)
	return ok && id.Value == name
}

func intLiteral(n ast.Node) (int, bool) {
	switch n := n.(type) {
	case *ast.IntegerNode:
		return n.Value, true
	case *ast.UnaryNode:
		if n.Operator == "-" {
			if v, ok := intLiteral(n.Node); ok {
				return -v, true
			}
		}
	}
	return 0, false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
