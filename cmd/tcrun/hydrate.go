package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/tcrun/pkg/kernel/hydrate"
	kschema "github.com/ormasoftchile/tcrun/pkg/kernel/schema"
)

var (
	hydrateVarsFile string
	hydrateVars     []string
	hydrateOut      string
)

var hydrateCmd = &cobra.Command{
	Use:   "hydrate [testcase.yaml]",
	Short: "Resolve ${#NAME} placeholders and emit the hydrated document",
	Args:  cobra.ExactArgs(1),
	RunE:  runHydrate,
}

func runHydrate(cmd *cobra.Command, args []string) error {
	tc, err := kschema.LoadFile(args[0])
	if err != nil {
		return usageError(err)
	}
	values, err := loadValues(hydrateVarsFile, hydrateVars)
	if err != nil {
		return err
	}
	hydrated, report, err := hydrate.Resolve(tc, values)
	printHydrationWarnings(report)
	if err != nil {
		return err
	}
	data, err := kschema.Marshal(hydrated)
	if err != nil {
		return err
	}
	return writeOutput(hydrateOut, data, 0o644)
}

var exportTemplateOut string

var exportTemplateCmd = &cobra.Command{
	Use:   "export-template [testcase.yaml]",
	Short: "Write an export file listing the declared hydration variables",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := kschema.LoadFile(args[0])
		if err != nil {
			return usageError(err)
		}
		data, err := hydrate.ExportTemplate(tc)
		if err != nil {
			return err
		}
		return writeOutput(exportTemplateOut, data, 0o644)
	},
}

// writeOutput writes data to path, or to stdout when path is empty or "-".
func writeOutput(path string, data []byte, perm os.FileMode) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", path)
	return nil
}

func init() {
	hydrateCmd.Flags().StringVar(&hydrateVarsFile, "vars", "", "Hydration value file (NAME=value lines)")
	hydrateCmd.Flags().StringArrayVar(&hydrateVars, "var", nil, "Set a hydration value (key=value), repeatable")
	hydrateCmd.Flags().StringVarP(&hydrateOut, "out", "o", "", "Output path for the hydrated document (default stdout)")
	exportTemplateCmd.Flags().StringVarP(&exportTemplateOut, "out", "o", "", "Output path (default stdout)")
	hydrateCmd.AddCommand(exportTemplateCmd)
	rootCmd.AddCommand(hydrateCmd)
}
