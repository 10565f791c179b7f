package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/tcrun/pkg/kernel/compiler"
	kvalidate "github.com/ormasoftchile/tcrun/pkg/kernel/validate"
)

var (
	compileVarsFile string
	compileVars     []string
	compileOut      string
	compileLogPath  string
)

var compileCmd = &cobra.Command{
	Use:   "compile [testcase.yaml]",
	Short: "Compile a test case into a bash artifact",
	Long: `Compile a test case into a self-contained bash artifact.

Hydration placeholders (${#NAME}) are resolved from --vars and --var before
compilation. The artifact writes its execution log to --log-path, which can
be overridden at run time with TCRUN_LOG_PATH.`,
	Args: cobra.ExactArgs(1),
	RunE: runCompile,
}

func runCompile(cmd *cobra.Command, args []string) error {
	plan, err := compileFile(args[0], compileVarsFile, compileVars)
	if err != nil {
		return err
	}
	script := compiler.RenderBash(plan, compiler.BashOptions{LogPath: compileLogPath})

	return writeOutput(compileOut, script, 0o755)
}

// compileFile validates, hydrates and compiles a document.
func compileFile(path, varsFile string, overrides []string) (*compiler.Plan, error) {
	tc, errs := kvalidate.ValidateFile(path)
	printValidationWarnings(errs)
	if kvalidate.HasErrors(errs) {
		printValidationErrors(errs)
		return nil, usageError(fmt.Errorf("test case validation failed"))
	}
	values, err := loadValues(varsFile, overrides)
	if err != nil {
		return nil, err
	}
	plan, report, err := compiler.Compile(tc, values)
	printHydrationWarnings(report)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("test_case", plan.TestCaseID).Int("sequences", len(plan.Sequences)).Msg("compiled")
	return plan, nil
}

func init() {
	compileCmd.Flags().StringVar(&compileVarsFile, "vars", "", "Hydration value file (NAME=value lines)")
	compileCmd.Flags().StringArrayVar(&compileVars, "var", nil, "Set a hydration value (key=value), repeatable")
	compileCmd.Flags().StringVarP(&compileOut, "out", "o", "", "Output path for the artifact (default stdout)")
	compileCmd.Flags().StringVar(&compileLogPath, "log-path", "", "Execution log path baked into the artifact")
	rootCmd.AddCommand(compileCmd)
}
