package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/tcrun/pkg/kernel/execlog"
	"github.com/ormasoftchile/tcrun/pkg/logclean"
)

var diffCmd = &cobra.Command{
	Use:   "diff [before.json] [after.json]",
	Short: "Compare two execution logs for change detection",
	Long: `Compare two execution logs of the same test case step by step.

Outputs are compared after cleaning (ANSI, control characters, whitespace)
and with timestamps masked, so runs that differ only in timing compare
equal.`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

// stepDiff is the comparison of one (sequence, step) across two logs.
type stepDiff struct {
	Key    execlog.Key
	Change string // empty when the step is unchanged
}

func runDiff(cmd *cobra.Command, args []string) error {
	before, err := execlog.ReadFile(args[0])
	if err != nil {
		return usageError(err)
	}
	after, err := execlog.ReadFile(args[1])
	if err != nil {
		return usageError(err)
	}

	diffs := diffLogs(before, after)
	changed := 0
	for _, d := range diffs {
		icon := "="
		if d.Change != "" {
			icon = "≠"
			changed++
		}
		fmt.Printf("    %s sequence %d step %d", icon, d.Key.Sequence, d.Key.Step)
		if d.Change != "" {
			fmt.Printf(": %s", d.Change)
		}
		fmt.Println()
	}

	fmt.Printf("\n  %d same, %d changed\n", len(diffs)-changed, changed)
	if changed > 0 {
		return &exitError{code: exitFailed, err: fmt.Errorf("%d step(s) changed", changed)}
	}
	return nil
}

// diffLogs pairs entries by key, in the order of before and then the keys
// only present in after.
func diffLogs(before, after []execlog.Entry) []stepDiff {
	bIdx, _ := execlog.Index(before)
	aIdx, _ := execlog.Index(after)

	var out []stepDiff
	seen := make(map[execlog.Key]bool, len(before))
	for _, b := range before {
		k := b.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		a, ok := aIdx[k]
		d := stepDiff{Key: k}
		switch {
		case !ok:
			d.Change = "not executed in the second log"
		case a.ExitCode != b.ExitCode:
			d.Change = fmt.Sprintf("exit code %d → %d", b.ExitCode, a.ExitCode)
		case logclean.Comparable(a.Output) != logclean.Comparable(b.Output):
			d.Change = "output changed"
		}
		out = append(out, d)
	}
	for _, a := range after {
		k := a.Key()
		if _, ok := bIdx[k]; ok || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, stepDiff{Key: k, Change: "not executed in the first log"})
	}
	return out
}

func init() {
	rootCmd.AddCommand(diffCmd)
}
