package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/tcrun/pkg/kernel/hydrate"
	kschema "github.com/ormasoftchile/tcrun/pkg/kernel/schema"
	kvalidate "github.com/ormasoftchile/tcrun/pkg/kernel/validate"
)

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [testcase.yaml]",
	Short: "Validate a test case document",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	tc, errs := kvalidate.ValidateFile(args[0])
	printValidationWarnings(errs)
	if kvalidate.HasErrors(errs) {
		printValidationErrors(errs)
		return usageError(fmt.Errorf("validation failed with %d error(s)", len(kvalidate.Errors(errs))))
	}
	fmt.Printf("✓ %s is valid (%d sequences, %d automated steps)\n", tc.ID, len(tc.Sequences), tc.AutomatedStepCount())
	return nil
}

// --- validate-vars ---

var validateVarsFile string

var validateVarsCmd = &cobra.Command{
	Use:   "validate-vars [testcase.yaml]",
	Short: "Check a hydration value file against a test case's declared variables",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidateVars,
}

func runValidateVars(cmd *cobra.Command, args []string) error {
	if validateVarsFile == "" {
		return usageError(fmt.Errorf("--vars is required"))
	}
	tc, err := kschema.LoadFile(args[0])
	if err != nil {
		return usageError(err)
	}
	values, err := hydrate.LoadValuesFile(validateVarsFile)
	if err != nil {
		return usageError(err)
	}

	report := hydrate.Check(tc, values)
	printHydrationWarnings(report)
	for _, name := range report.Defaulted {
		fmt.Printf("  %s: using declared default\n", name)
	}
	if len(report.Missing) > 0 {
		for _, name := range report.Missing {
			fmt.Fprintf(os.Stderr, "  ✗ %s is required but has no value\n", name)
		}
		return &exitError{code: exitFailed, err: report.Err()}
	}
	fmt.Printf("✓ %s provides every required variable of %s\n", validateVarsFile, tc.ID)
	return nil
}

func init() {
	validateVarsCmd.Flags().StringVar(&validateVarsFile, "vars", "", "Hydration value file (NAME=value lines)")
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(validateVarsCmd)
}
