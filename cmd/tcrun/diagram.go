package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/tcrun/pkg/diagram"
	kschema "github.com/ormasoftchile/tcrun/pkg/kernel/schema"
)

var diagramFormat string

var diagramCmd = &cobra.Command{
	Use:   "diagram [testcase.yaml]",
	Short: "Draw the step flow of a test case (mermaid or ascii)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := kschema.LoadFile(args[0])
		if err != nil {
			return usageError(err)
		}
		out, err := diagram.Generate(tc, diagram.Format(diagramFormat))
		if err != nil {
			return usageError(err)
		}
		fmt.Print(out)
		return nil
	},
}

func init() {
	diagramCmd.Flags().StringVar(&diagramFormat, "format", "ascii", "Diagram format: mermaid or ascii")
	rootCmd.AddCommand(diagramCmd)
}
