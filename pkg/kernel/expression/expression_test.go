package expression

import (
	"errors"
	"strings"
	"testing"
)

func TestParse_Lowering(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"success", "success"},
		{"exit_code == 0", "exit_code == 0"},
		{"0 == exit_code", "exit_code == 0"},
		{"exit_code != 2", "!(exit_code == 2)"},
		{"exit_code == -1", "exit_code == -1"},
		{"true", "true"},
		{"false", "false"},
		{`output matches "^ok$"`, `output matches "^ok$"`},
		{`output contains "a.b"`, `output matches "a\\.b"`},
		{`artifact("app.log") matches "ready"`, `artifact("app.log") matches "ready"`},
		{`success && output contains "OK"`, `(success && output matches "OK")`},
		{`success and not (exit_code == 3)`, `(success && !(exit_code == 3))`},
		{`exit_code == 1 || !success`, `(exit_code == 1 || !(success))`},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			n, err := Parse(tt.src)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.src, err)
			}
			if got := n.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		src     string
		wantMsg string
	}{
		{"", "empty expression"},
		{"exit_code", "must be compared"},
		{"exit_code == \"0\"", "integer literal"},
		{`output matches "("`, "invalid pattern"},
		{`output matches "a.*?b"`, "non-greedy"},
		{`output matches "\\bok\\b"`, "word boundaries"},
		{`stdout contains "x"`, "output or artifact"},
		{`file("x") matches "y"`, "unknown function"},
		{`artifact("../etc/passwd") matches "root"`, "plain file name"},
		{`artifact() matches "x"`, "exactly one argument"},
		{"exit_code > 1", "unsupported operator"},
		{"foo", "unknown identifier"},
		{"success &&", ""},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, err := Parse(tt.src)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", tt.src)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("error %T is not *ParseError", err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want substring %q", err, tt.wantMsg)
			}
		})
	}
}

func TestEval(t *testing.T) {
	logs := MapLogs{"app.log": "service ready\n"}
	tests := []struct {
		src      string
		exitCode int
		output   string
		want     bool
	}{
		{"success", 0, "", true},
		{"success", 1, "", false},
		{"exit_code == 2", 2, "", true},
		{"exit_code != 2", 2, "", false},
		{"true", 9, "", true},
		{"false", 0, "", false},
		{`output contains "OK"`, 0, "status: OK", true},
		{`output matches "^status"`, 0, "status: OK", true},
		{`output matches "^OK"`, 0, "status: OK", false},
		{`artifact("app.log") contains "ready"`, 1, "", true},
		{`artifact("missing.log") contains "ready"`, 0, "ready", false},
		{`success && output contains "x"`, 0, "y", false},
		{`success || output contains "x"`, 1, "x", true},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			n := MustParse(tt.src)
			env := Env{ExitCode: tt.exitCode, Output: tt.output, Logs: logs}
			if got := Eval(n, env); got != tt.want {
				t.Errorf("Eval = %v, want %v", got, tt.want)
			}
			// Evaluation is pure: a second evaluation agrees.
			if again := Eval(n, env); again != tt.want {
				t.Errorf("second Eval = %v, want %v", again, tt.want)
			}
		})
	}
}

func TestBash(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"success", `[ "$EXIT_CODE" -eq 0 ]`},
		{"exit_code == 3", `[ "$EXIT_CODE" -eq 3 ]`},
		{"true", "true"},
		{`output matches "a b"`, `tcrun_match "$COMMAND_OUTPUT" 'a b'`},
		{`artifact("x.log") matches "ok"`, `tcrun_match_file "$ARTIFACT_DIR"/x.log ok`},
		{`output matches "token=\\d+"`, `tcrun_match "$COMMAND_OUTPUT" 'token=[0-9]+'`},
		{`!success || false`, `{ { ! [ "$EXIT_CODE" -eq 0 ]; } || false; }`},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			if got := Bash(MustParse(tt.src)); got != tt.want {
				t.Errorf("Bash = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestArtifacts(t *testing.T) {
	n := MustParse(`artifact("a.log") contains "x" && (success || artifact("b.log") matches "y")`)
	got := Artifacts(n)
	if len(got) != 2 || got[0] != "a.log" || got[1] != "b.log" {
		t.Errorf("Artifacts = %v", got)
	}
}
