// Package report renders verification and orchestration results as console
// text, JUnit XML and Markdown.
package report

import (
	"fmt"
	"strings"

	"github.com/ormasoftchile/tcrun/pkg/kernel/orchestrator"
	"github.com/ormasoftchile/tcrun/pkg/kernel/verify"
)

// Summary is the one-line outcome of a verified test case.
func Summary(r *verify.Result) string {
	return fmt.Sprintf("%s: %s (%d passed, %d failed, %d not executed)",
		r.TestCaseID, strings.ToUpper(string(r.Verdict)), r.Passed, r.Failed, r.NotExecuted)
}

// BatchSummary is the one-line outcome of an orchestrated run.
func BatchSummary(s *orchestrator.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d test case(s): %d passed, %d failed, %d not executed", s.Total, s.Passed, s.Failed, s.NotExecuted)
	if s.Errors > 0 {
		fmt.Fprintf(&b, ", %d error(s)", s.Errors)
	}
	fmt.Fprintf(&b, "; %d attempt(s) in %s", s.TotalAttempts, s.Duration.Round(timeRound))
	return b.String()
}

// SequenceCounts tallies step verdicts of one sequence.
func SequenceCounts(s verify.SequenceResult) (passed, failed, notExecuted int) {
	for _, st := range s.Steps {
		switch st.Verdict {
		case verify.Pass:
			passed++
		case verify.Fail:
			failed++
		default:
			notExecuted++
		}
	}
	return
}

// errorLabel describes a result that carries an error, or "".
func errorLabel(r orchestrator.Result) string {
	if r.Err == nil {
		return ""
	}
	if r.ErrKind == orchestrator.ErrNone {
		return r.Err.Error()
	}
	return fmt.Sprintf("%s error: %v", r.ErrKind, r.Err)
}
