package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/tcrun/pkg/kernel/execlog"
	"github.com/ormasoftchile/tcrun/pkg/kernel/verify"
	"github.com/ormasoftchile/tcrun/pkg/report"
)

var (
	verifyVarsFile string
	verifyVars     []string
	verifyLogsDir  string
	verifyJUnit    string
	verifyMarkdown bool
	verifyJSON     bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify [testcase.yaml] [execution_log.json]",
	Short: "Verify an execution log against a test case and print the verdict",
	Long: `Verify an execution log against a test case.

Every automated step is matched by (sequence, step) to a log entry and its
result and output expressions are re-evaluated. Steps with no entry are
NOT EXECUTED. A log that no run of the test case could have produced is a
structural error (exit 2), never a Fail verdict.

artifact("name") expressions read <name> from --logs-dir, which defaults
to the directory of the execution log.`,
	Args: cobra.ExactArgs(2),
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	plan, err := compileFile(args[0], verifyVarsFile, verifyVars)
	if err != nil {
		return err
	}
	logsDir := verifyLogsDir
	if logsDir == "" {
		logsDir = filepath.Dir(args[1])
	}
	res, err := verify.VerifyFile(plan, args[1], verify.Options{Logs: execlog.DirLogs(logsDir)})
	if err != nil {
		return err
	}

	switch {
	case verifyJSON:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	case verifyMarkdown:
		md := report.Markdown(res)
		if isatty.IsTerminal(os.Stdout.Fd()) {
			if out, err := report.RenderTerminal(md, 100); err == nil {
				md = out
			}
		}
		fmt.Print(md)
	default:
		report.NewPrinter(os.Stdout, !color.NoColor).Verification(res)
	}

	if verifyJUnit != "" {
		f, err := os.Create(verifyJUnit)
		if err != nil {
			return fmt.Errorf("create junit report: %w", err)
		}
		defer f.Close()
		if err := report.WriteVerificationJUnit(f, res); err != nil {
			return err
		}
	}

	if res.Verdict != verify.Pass {
		return &exitError{code: exitFailed, err: fmt.Errorf("%s: %w", report.Summary(res), errVerdictFailed)}
	}
	return nil
}

func init() {
	verifyCmd.Flags().StringVar(&verifyVarsFile, "vars", "", "Hydration value file used when the test case was compiled")
	verifyCmd.Flags().StringArrayVar(&verifyVars, "var", nil, "Set a hydration value (key=value), repeatable")
	verifyCmd.Flags().StringVar(&verifyLogsDir, "logs-dir", "", "Directory holding artifact logs (default: the log's directory)")
	verifyCmd.Flags().StringVar(&verifyJUnit, "junit", "", "Write a JUnit XML report to this file")
	verifyCmd.Flags().BoolVar(&verifyMarkdown, "markdown", false, "Print the report as Markdown")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "Print the result as JSON")
	rootCmd.AddCommand(verifyCmd)
}
