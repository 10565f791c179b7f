package schema

//go:generate go run ../../../scripts/gen-schema.go ../../../schemas

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateTestCaseJSONSchema produces a JSON Schema Draft 2020-12 document
// from the TestCase Go types.
func GenerateTestCaseJSONSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag: "yaml",
	}
	s := r.Reflect(&TestCase{})
	s.ID = "https://github.com/ormasoftchile/tcrun/schemas/testcase-v1.json"
	s.Title = "tcrun test case"
	s.Description = "Schema for test case YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal test case schema: %w", err)
	}
	return data, nil
}
