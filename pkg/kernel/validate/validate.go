// Package validate implements the 3-phase test case validation pipeline:
// structural → semantic → domain.
package validate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ormasoftchile/tcrun/pkg/kernel/schema"
)

// Phases, in pipeline order.
const (
	PhaseStructural = "structural"
	PhaseSemantic   = "semantic"
	PhaseDomain     = "domain"
)

// Severities. Warnings never fail validation.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError represents one error or warning from the validation pipeline.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s at %s", e.Phase, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

func errorf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: SeverityError,
	}
}

func warningf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: SeverityWarning,
	}
}

// ValidateFile runs the full 3-phase pipeline on a test case file.
func ValidateFile(path string) (*schema.TestCase, []*ValidationError) {
	// Phase 1: Structural (strict YAML decode)
	tc, err := schema.LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{errorf(PhaseStructural, "", "failed to load: %s", err)}
	}
	return tc, ValidateTestCase(tc, filepath.Dir(path))
}

// ValidateTestCase runs phases 2+3 on an already-loaded test case. Relative
// hook scripts are looked up in baseDir.
func ValidateTestCase(tc *schema.TestCase, baseDir string) []*ValidationError {
	errs := validateSemantic(tc)
	// Domain rules assume a well-formed document.
	if HasErrors(errs) {
		return errs
	}
	return append(errs, validateDomain(tc, baseDir)...)
}

// HasErrors reports whether any finding has error severity.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors filters findings down to errors.
func Errors(errs []*ValidationError) []*ValidationError {
	var out []*ValidationError
	for _, e := range errs {
		if e.Severity == SeverityError {
			out = append(out, e)
		}
	}
	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
