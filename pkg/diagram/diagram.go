// Package diagram draws the flow of a test case as a Mermaid flowchart or
// as ASCII boxes.
package diagram

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/tcrun/pkg/kernel/schema"
)

// Format represents the output diagram format.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
)

// Generate produces a diagram of tc.
func Generate(tc *schema.TestCase, format Format) (string, error) {
	if tc == nil {
		return "", fmt.Errorf("nil test case")
	}
	switch format {
	case FormatMermaid:
		return generateMermaid(tc), nil
	case FormatASCII:
		return generateASCII(tc), nil
	default:
		return "", fmt.Errorf("unsupported diagram format: %s", format)
	}
}

// --- Mermaid flowchart ---

func generateMermaid(tc *schema.TestCase) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")

	steps := flatten(tc)
	if len(steps) == 0 {
		return b.String()
	}

	b.WriteString(fmt.Sprintf("    START([%s]) --> %s\n", escape(tc.ID), steps[0].id))
	for _, seq := range tc.Sequences {
		b.WriteString(fmt.Sprintf("    subgraph seq_%d [\"%d: %s\"]\n", seq.ID, seq.ID, escape(seq.Name)))
		for _, s := range steps {
			if s.sequence == seq.ID {
				b.WriteString("        " + nodeDefinition(s) + "\n")
			}
		}
		b.WriteString("    end\n")
	}

	for i, s := range steps {
		next := "PASS"
		if i < len(steps)-1 {
			next = steps[i+1].id
		}
		b.WriteString(fmt.Sprintf("    %s --> %s\n", s.id, next))
	}
	b.WriteString("    PASS([✅ Pass])\n")

	halts := false
	for _, s := range steps {
		if s.manual {
			continue
		}
		halts = true
		b.WriteString(fmt.Sprintf("    %s -.->|\"%s\"| HALT\n", s.id, escape(truncate(s.check, 30))))
	}
	if halts {
		b.WriteString("    HALT([❌ Halt])\n")
		b.WriteString("    style PASS fill:#0d6,stroke:#0a5,color:#fff\n")
		b.WriteString("    style HALT fill:#c33,stroke:#a11,color:#fff\n")
	}

	for _, s := range steps {
		if s.manual {
			b.WriteString(fmt.Sprintf("    style %s fill:#3a3a1a,stroke:#fa0\n", s.id))
		}
	}
	return b.String()
}

func nodeDefinition(s diagramStep) string {
	label := fmt.Sprintf("%s %d. %s", stepIcon(s.manual), s.number, s.title)
	if s.capture != "" {
		label += "<br/>→ " + s.capture
	}
	if s.manual {
		return fmt.Sprintf("%s[/\"%s\"/]", s.id, escape(label))
	}
	return fmt.Sprintf("%s[\"%s\"]", s.id, escape(label))
}

func escape(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}

// --- ASCII ---

func generateASCII(tc *schema.TestCase) string {
	var b strings.Builder

	name := tc.ID
	if name == "" {
		name = "Test case"
	}
	steps := flatten(tc)
	if len(steps) == 0 {
		b.WriteString(name + " (empty)\n")
		return b.String()
	}

	const indent = 8
	boxWidth := computeUniformBoxWidth(steps, name)
	connCol := indent + 1 + boxWidth/2
	pad := strings.Repeat(" ", indent)
	connPad := strings.Repeat(" ", connCol)

	mid := boxWidth / 2
	b.WriteString(pad + "╔" + strings.Repeat("═", boxWidth) + "╗\n")
	b.WriteString(pad + "║" + centerPad(name, boxWidth) + "║\n")
	b.WriteString(pad + "╚" + strings.Repeat("═", mid) + "╤" + strings.Repeat("═", boxWidth-mid-1) + "╝\n")

	current := -1
	for _, s := range steps {
		b.WriteString(connPad + "│\n")
		if s.sequence != current {
			current = s.sequence
			b.WriteString(connPad + "│  " + s.sequenceName + "\n")
			b.WriteString(connPad + "│\n")
		}
		writeASCIIStep(&b, s, indent, boxWidth)
	}
	b.WriteString(connPad + "│\n")
	b.WriteString(strings.Repeat(" ", connCol-2) + "✅ Pass\n")
	return b.String()
}

// computeUniformBoxWidth returns the widest interior width needed across
// all steps and the header name.
func computeUniformBoxWidth(steps []diagramStep, name string) int {
	w := 22
	if nw := runewidth.StringWidth(name) + 4; nw > w {
		w = nw
	}
	for _, s := range steps {
		for _, line := range boxLines(s) {
			if lw := runewidth.StringWidth(line); lw > w {
				w = lw
			}
		}
	}
	return w
}

func boxLines(s diagramStep) []string {
	lines := []string{fmt.Sprintf(" %s %d. %s ", stepIcon(s.manual), s.number, s.title)}
	if !s.manual {
		lines = append(lines, " ✓ "+truncate(s.check, 40)+" ")
	}
	if s.capture != "" {
		lines = append(lines, " → "+s.capture+" ")
	}
	return lines
}

// centerPad centers s within width using spaces, based on display width.
func centerPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	total := width - sw
	left := total / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", total-left)
}

func writeASCIIStep(b *strings.Builder, s diagramStep, indent, boxWidth int) {
	pad := strings.Repeat(" ", indent)
	mid := boxWidth / 2

	b.WriteString(pad + "┌" + strings.Repeat("─", boxWidth) + "┐\n")
	for _, line := range boxLines(s) {
		b.WriteString(pad + "│" + runewidth.FillRight(line, boxWidth) + "│\n")
	}
	b.WriteString(pad + "└" + strings.Repeat("─", mid) + "┬" + strings.Repeat("─", boxWidth-mid-1) + "┘\n")
}

func stepIcon(manual bool) string {
	if manual {
		return "🧑"
	}
	return "⚡"
}

// --- flattening ---

type diagramStep struct {
	id           string
	sequence     int
	sequenceName string
	number       int
	title        string
	manual       bool
	check        string // result and output expressions
	capture      string
}

func flatten(tc *schema.TestCase) []diagramStep {
	var out []diagramStep
	for _, seq := range tc.Sequences {
		for _, st := range seq.Steps {
			ds := diagramStep{
				id:           fmt.Sprintf("s%d_%d", seq.ID, st.Number),
				sequence:     seq.ID,
				sequenceName: fmt.Sprintf("Sequence %d: %s", seq.ID, seq.Name),
				number:       st.Number,
				title:        truncate(st.Description, 40),
				manual:       st.Manual,
			}
			if !st.Manual {
				ds.check = st.ResultExpr()
				if o := st.OutputExpr(); o != schema.DefaultOutputExpr {
					ds.check += " && " + o
				}
			}
			if len(st.CaptureVars) > 0 {
				ds.capture = strings.Join(st.CaptureVars.Names(), ", ")
			}
			out = append(out, ds)
		}
	}
	return out
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if runewidth.StringWidth(s) <= max {
		return s
	}
	return runewidth.Truncate(s, max, "...")
}
