package validate

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/ormasoftchile/tcrun/pkg/kernel/schema"
)

func testdataPath(name string) string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata", name)
}

func TestValidateFile_Valid(t *testing.T) {
	tc, errs := ValidateFile(testdataPath("valid.yaml"))
	for _, e := range errs {
		t.Errorf("unexpected finding: %s", e)
	}
	if tc == nil {
		t.Fatal("expected test case, got nil")
	}
	if tc.ID != "TC_VALID_001" {
		t.Errorf("expected id TC_VALID_001, got %q", tc.ID)
	}
}

func TestValidateFile_UnknownField(t *testing.T) {
	tc, errs := ValidateFile(testdataPath("unknown_field.yaml"))
	if tc != nil {
		t.Error("expected nil test case on structural failure")
	}
	if len(errs) != 1 || errs[0].Phase != PhaseStructural {
		t.Fatalf("errs = %v", errs)
	}
	if !strings.Contains(errs[0].Message, "stepz") {
		t.Errorf("message = %q", errs[0].Message)
	}
}

func TestValidateFile_Semantic(t *testing.T) {
	_, errs := ValidateFile(testdataPath("semantic_errors.yaml"))
	errors := Errors(errs)
	if len(errors) == 0 {
		t.Fatal("expected semantic errors")
	}
	for _, e := range errors {
		if e.Phase != PhaseSemantic {
			t.Errorf("domain phase must not run after semantic errors: %s", e)
		}
	}
	for _, path := range []string{"prerequisites[0].type", "hooks.before_step.on_error", "test_sequences[0].id", "test_sequences[0].name"} {
		if !containsPath(errors, path) {
			t.Errorf("expected an error at %s, got %v", path, errors)
		}
	}
}

func TestValidateFile_Domain(t *testing.T) {
	_, errs := ValidateFile(testdataPath("domain_errors.yaml"))
	errors := Errors(errs)
	for _, want := range []string{"NOPE", "exit_code > 2"} {
		if !containsMessage(errors, want) {
			t.Errorf("expected error mentioning %q, got %v", want, errors)
		}
	}
	warnings := filterSeverity(errs, SeverityWarning)
	for _, want := range []string{"${#UNDECLARED} is not declared", "declared but never referenced", "hooks/missing.sh not found", "step 1 follows step 2"} {
		if !containsMessage(warnings, want) {
			t.Errorf("expected warning %q, got %v", want, warnings)
		}
	}
}

func TestValidateTestCase_WarningsDoNotFail(t *testing.T) {
	tc, err := schema.Load(strings.NewReader(`
id: TC_W
test_sequences:
  - id: 1
    name: s
    steps:
      - {step: 1, description: "", command: "true"}
`))
	if err != nil {
		t.Fatal(err)
	}
	errs := ValidateTestCase(tc, t.TempDir())
	if HasErrors(errs) {
		t.Errorf("unexpected errors: %v", Errors(errs))
	}
	if !containsMessage(errs, "no description") {
		t.Errorf("expected description warning, got %v", errs)
	}
}

func TestInstancePath(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"id"}, "id"},
		{[]string{"test_sequences", "0", "steps", "2", "step"}, "test_sequences[0].steps[2].step"},
		{[]string{"hooks", "before_step", "on_error"}, "hooks.before_step.on_error"},
	}
	for _, tt := range tests {
		if got := instancePath(tt.in); got != tt.want {
			t.Errorf("instancePath(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func filterSeverity(errs []*ValidationError, sev string) []*ValidationError {
	var out []*ValidationError
	for _, e := range errs {
		if e.Severity == sev {
			out = append(out, e)
		}
	}
	return out
}

func containsMessage(errs []*ValidationError, substr string) bool {
	for _, e := range errs {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func containsPath(errs []*ValidationError, path string) bool {
	for _, e := range errs {
		if e.Path == path {
			return true
		}
	}
	return false
}
