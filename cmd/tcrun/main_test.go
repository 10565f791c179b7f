package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ormasoftchile/tcrun/pkg/kernel/compiler"
	"github.com/ormasoftchile/tcrun/pkg/kernel/engine"
	"github.com/ormasoftchile/tcrun/pkg/kernel/execlog"
	"github.com/ormasoftchile/tcrun/pkg/kernel/hydrate"
	"github.com/ormasoftchile/tcrun/pkg/kernel/orchestrator"
	"github.com/ormasoftchile/tcrun/pkg/kernel/verify"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"plain", errors.New("boom"), exitFailed},
		{"verdict", fmt.Errorf("TC_A: FAIL: %w", errVerdictFailed), exitFailed},
		{"compile", &compiler.CompileError{TestCase: "TC_A"}, exitInvalid},
		{"wrapped compile", fmt.Errorf("run: %w", &compiler.CompileError{TestCase: "TC_A"}), exitInvalid},
		{"structural", &verify.StructuralError{Msg: "duplicate"}, exitInvalid},
		{"log shape", &execlog.ShapeError{}, exitInvalid},
		{"unresolved", &hydrate.UnresolvedError{Names: []string{"HOST"}}, exitInvalid},
		{"runtime", &engine.RuntimeError{Kind: "hook", Err: errors.New("x")}, exitFailed},
		{"orchestration", &orchestrator.OrchestrationError{TestCase: "TC_A", Attempts: 3}, exitFailed},
		{"explicit", &exitError{code: 7, err: errors.New("x")}, 7},
		{"usage", usageError(errors.New("bad flag")), exitInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseVarFlags(t *testing.T) {
	got, err := parseVarFlags([]string{"HOST=example.com", "QUERY=a=b", "EMPTY="})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"HOST": "example.com", "QUERY": "a=b", "EMPTY": ""}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}

	for _, bad := range []string{"NOVALUE", "=x"} {
		if _, err := parseVarFlags([]string{bad}); exitCode(err) != exitInvalid {
			t.Errorf("parseVarFlags(%q) err = %v, want usage error", bad, err)
		}
	}
}

func TestLoadValues_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.env")
	if err := os.WriteFile(path, []byte("export HOST=file.example\nPORT=80\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	values, err := loadValues(path, []string{"HOST=flag.example"})
	if err != nil {
		t.Fatal(err)
	}
	if values["HOST"] != "flag.example" || values["PORT"] != "80" {
		t.Errorf("values = %v", values)
	}
}
