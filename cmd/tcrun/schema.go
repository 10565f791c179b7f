package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/tcrun/pkg/kernel/execlog"
	kschema "github.com/ormasoftchile/tcrun/pkg/kernel/schema"
)

var schemaCmd = &cobra.Command{
	Use:       "schema [testcase|log]",
	Short:     "Print the JSON Schema of test case documents or execution logs",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"testcase", "log"},
	RunE:      runSchema,
}

func runSchema(cmd *cobra.Command, args []string) error {
	switch args[0] {
	case "testcase":
		data, err := kschema.GenerateTestCaseJSONSchema()
		if err != nil {
			return fmt.Errorf("generate schema: %w", err)
		}
		var out json.RawMessage = data
		formatted, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			fmt.Println(string(data))
			return nil
		}
		fmt.Println(string(formatted))
	case "log":
		data, err := execlog.PrettySchema()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	default:
		return usageError(fmt.Errorf("unknown schema %q: use testcase or log", args[0]))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
