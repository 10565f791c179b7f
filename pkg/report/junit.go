package report

import (
	"encoding/xml"
	"fmt"
	"io"

	"github.com/ormasoftchile/tcrun/pkg/kernel/orchestrator"
	"github.com/ormasoftchile/tcrun/pkg/kernel/verify"
)

// ---------------------------------------------------------------------------
// JUnit model
// ---------------------------------------------------------------------------

// JUnitSuites is the <testsuites> root.
type JUnitSuites struct {
	XMLName  xml.Name     `xml:"testsuites"`
	Name     string       `xml:"name,attr,omitempty"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Errors   int          `xml:"errors,attr"`
	Skipped  int          `xml:"skipped,attr"`
	Time     float64      `xml:"time,attr"`
	Suites   []JUnitSuite `xml:"testsuite"`
}

// JUnitSuite is one test case definition.
type JUnitSuite struct {
	Name     string      `xml:"name,attr"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	Errors   int         `xml:"errors,attr"`
	Skipped  int         `xml:"skipped,attr"`
	Time     float64     `xml:"time,attr"`
	Cases    []JUnitCase `xml:"testcase"`
}

// JUnitCase is one automated step, or a placeholder for a test case that
// errored before producing step verdicts.
type JUnitCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Failure   *JUnitMessage `xml:"failure,omitempty"`
	Error     *JUnitMessage `xml:"error,omitempty"`
	Skipped   *JUnitMessage `xml:"skipped,omitempty"`
}

// JUnitMessage is the body of a failure, error or skipped element.
type JUnitMessage struct {
	Message string `xml:"message,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
	Text    string `xml:",chardata"`
}

// FromVerification converts a verified test case into a suite.
func FromVerification(r *verify.Result) JUnitSuite {
	s := JUnitSuite{Name: r.TestCaseID}
	for _, seq := range r.Sequences {
		class := fmt.Sprintf("%s.sequence-%d", r.TestCaseID, seq.ID)
		for _, st := range seq.Steps {
			c := JUnitCase{
				Name:      fmt.Sprintf("step %d: %s", st.Step, st.Description),
				ClassName: class,
			}
			switch st.Verdict {
			case verify.Fail:
				c.Failure = &JUnitMessage{Message: st.Message, Type: "verification"}
				s.Failures++
			case verify.NotExecuted:
				c.Skipped = &JUnitMessage{Message: st.Message}
				s.Skipped++
			}
			s.Cases = append(s.Cases, c)
		}
	}
	s.Tests = len(s.Cases)
	return s
}

// FromSummary converts an orchestrated run. Test cases without a
// verification get a single errored case.
func FromSummary(sum *orchestrator.Summary) JUnitSuites {
	out := JUnitSuites{Name: "tcrun " + sum.RunID, Time: sum.Duration.Seconds()}
	for _, r := range sum.Results {
		var s JUnitSuite
		if r.Verification != nil {
			s = FromVerification(r.Verification)
		} else {
			s = JUnitSuite{Name: r.TestCaseID}
			s.Cases = []JUnitCase{{Name: r.TestCaseID, ClassName: r.TestCaseID}}
			s.Tests = 1
		}
		if r.Err != nil {
			msg := &JUnitMessage{Message: r.Err.Error(), Type: string(r.ErrKind)}
			if r.Verification == nil {
				s.Cases[0].Error = msg
			} else {
				s.Cases = append(s.Cases, JUnitCase{Name: "orchestration", ClassName: r.TestCaseID, Error: msg})
				s.Tests++
			}
			s.Errors++
		}
		s.Time = r.Duration.Seconds()
		out.Suites = append(out.Suites, s)
		out.Tests += s.Tests
		out.Failures += s.Failures
		out.Errors += s.Errors
		out.Skipped += s.Skipped
	}
	return out
}

// WriteJUnit writes suites as indented JUnit XML.
func WriteJUnit(w io.Writer, suites JUnitSuites) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(suites); err != nil {
		return fmt.Errorf("encode junit: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteVerificationJUnit writes a single verified test case.
func WriteVerificationJUnit(w io.Writer, r *verify.Result) error {
	s := FromVerification(r)
	return WriteJUnit(w, JUnitSuites{
		Tests: s.Tests, Failures: s.Failures, Skipped: s.Skipped,
		Suites: []JUnitSuite{s},
	})
}
