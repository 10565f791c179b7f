package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/ormasoftchile/tcrun/pkg/kernel/orchestrator"
	"github.com/ormasoftchile/tcrun/pkg/kernel/verify"
)

var verdictIcon = map[verify.Verdict]string{
	verify.Pass:        "✅",
	verify.Fail:        "❌",
	verify.NotExecuted: "⏭️",
}

// Markdown renders a verified test case as a Markdown document.
func Markdown(r *verify.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s %s\n\n", verdictIcon[r.Verdict], r.TestCaseID)
	fmt.Fprintf(&b, "**Verdict:** %s · %d passed · %d failed · %d not executed\n", r.Verdict, r.Passed, r.Failed, r.NotExecuted)
	for _, seq := range r.Sequences {
		p, f, n := SequenceCounts(seq)
		fmt.Fprintf(&b, "\n## Sequence %d: %s %s\n\n", seq.ID, seq.Name, verdictIcon[seq.Verdict])
		fmt.Fprintf(&b, "%d passed, %d failed, %d not executed\n\n", p, f, n)
		b.WriteString("| Step | Description | Verdict | Exit code | Details |\n")
		b.WriteString("|---:|---|---|---:|---|\n")
		for _, st := range seq.Steps {
			code := ""
			if st.ExitCode != nil {
				code = fmt.Sprint(*st.ExitCode)
			}
			fmt.Fprintf(&b, "| %d | %s | %s %s | %s | %s |\n",
				st.Step, cell(st.Description), verdictIcon[st.Verdict], st.Verdict, code, cell(st.Message))
		}
	}
	return b.String()
}

// SummaryMarkdown renders an orchestrated run as a Markdown table.
func SummaryMarkdown(s *orchestrator.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n%s\n\n", s.RunID, BatchSummary(s))
	b.WriteString("| Test case | Verdict | Attempts | Duration | Details |\n")
	b.WriteString("|---|---|---:|---:|---|\n")
	for _, r := range s.Results {
		detail := errorLabel(r)
		if detail == "" && r.Verification != nil {
			if f, ok := r.Verification.FirstFailure(); ok {
				detail = fmt.Sprintf("sequence %d step %d: %s", f.Sequence, f.Step, f.Message)
			}
		}
		fmt.Fprintf(&b, "| %s | %s %s | %d | %s | %s |\n",
			cell(r.TestCaseID), verdictIcon[r.Verdict], r.Verdict, r.Attempts, r.Duration.Round(timeRound), cell(detail))
	}
	return b.String()
}

// RenderTerminal styles Markdown for a terminal of the given width
// (0 disables wrapping).
func RenderTerminal(md string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("markdown renderer: %w", err)
	}
	return r.Render(md)
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
