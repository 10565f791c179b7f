package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/tcrun/pkg/kernel/orchestrator"
	"github.com/ormasoftchile/tcrun/pkg/kernel/verify"
)

const timeRound = 10 * time.Millisecond

// Printer writes human-readable results.
type Printer struct {
	w     io.Writer
	pass  *color.Color
	fail  *color.Color
	skip  *color.Color
	faint *color.Color
	bold  *color.Color
}

// NewPrinter returns a printer on w. Colors are used only when useColor is
// true.
func NewPrinter(w io.Writer, useColor bool) *Printer {
	p := &Printer{
		w:     w,
		pass:  color.New(color.FgGreen),
		fail:  color.New(color.FgRed, color.Bold),
		skip:  color.New(color.FgYellow),
		faint: color.New(color.FgHiBlack),
		bold:  color.New(color.Bold),
	}
	for _, c := range []*color.Color{p.pass, p.fail, p.skip, p.faint, p.bold} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *Printer) mark(v verify.Verdict) string {
	switch v {
	case verify.Pass:
		return p.pass.Sprint("✓")
	case verify.Fail:
		return p.fail.Sprint("✗")
	}
	return p.skip.Sprint("-")
}

func (p *Printer) verdict(v verify.Verdict) string {
	s := strings.ToUpper(string(v))
	switch v {
	case verify.Pass:
		return p.pass.Sprint(s)
	case verify.Fail:
		return p.fail.Sprint(s)
	}
	return p.skip.Sprint(s)
}

// Verification prints step lines grouped by sequence, then the summary.
func (p *Printer) Verification(r *verify.Result) {
	for _, seq := range r.Sequences {
		fmt.Fprintf(p.w, "%s %s\n", p.bold.Sprintf("Sequence %d: %s", seq.ID, seq.Name), p.verdict(seq.Verdict))
		for _, st := range seq.Steps {
			fmt.Fprintf(p.w, "  %s Step %d: %s", p.mark(st.Verdict), st.Step, st.Description)
			if st.Message != "" {
				fmt.Fprint(p.w, p.faint.Sprintf("  (%s)", st.Message))
			}
			fmt.Fprintln(p.w)
		}
	}
	fmt.Fprintln(p.w, Summary(r))
}

// Batch prints one aligned row per test case, then the batch summary.
func (p *Printer) Batch(s *orchestrator.Summary) {
	width := len("TEST CASE")
	for _, r := range s.Results {
		if w := runewidth.StringWidth(r.TestCaseID); w > width {
			width = w
		}
	}
	fmt.Fprintf(p.w, "  %s  %-12s %-8s %s\n", runewidth.FillRight("TEST CASE", width), "VERDICT", "ATTEMPTS", "DURATION")
	for _, r := range s.Results {
		fmt.Fprintf(p.w, "%s %s  %s %-8d %s",
			p.mark(r.Verdict),
			runewidth.FillRight(r.TestCaseID, width),
			p.verdict(r.Verdict)+strings.Repeat(" ", 12-len(r.Verdict)),
			r.Attempts,
			r.Duration.Round(timeRound))
		if msg := errorLabel(r); msg != "" {
			fmt.Fprint(p.w, p.faint.Sprintf("  %s", msg))
		} else if r.Verification != nil {
			if f, ok := r.Verification.FirstFailure(); ok {
				fmt.Fprint(p.w, p.faint.Sprintf("  seq %d step %d: %s", f.Sequence, f.Step, f.Message))
			}
		}
		fmt.Fprintln(p.w)
	}
	fmt.Fprintln(p.w, BatchSummary(s))
}
