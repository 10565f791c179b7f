package execlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is the JSON Schema of the execution log file.
const Schema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://github.com/ormasoftchile/tcrun/schemas/execution-log-v1.json",
  "title": "tcrun execution log",
  "type": "array",
  "items": {
    "type": "object",
    "additionalProperties": false,
    "required": ["test_sequence", "step", "command", "exit_code", "output", "timestamp"],
    "properties": {
      "test_sequence": {"type": "integer"},
      "step": {"type": "integer"},
      "command": {"type": "string"},
      "exit_code": {"type": "integer"},
      "output": {"type": "string"},
      "timestamp": {"type": "string", "format": "date-time"}
    }
  }
}`

const schemaURL = "execution-log-v1.json"

// ShapeError lists the places where a log document violates the schema.
type ShapeError struct {
	Problems []string
}

func (e *ShapeError) Error() string {
	return "execution log does not match schema: " + strings.Join(e.Problems, "; ")
}

// Validate checks raw log bytes against Schema.
func Validate(data []byte) error {
	schemaDoc, err := sjsonschema.UnmarshalJSON(strings.NewReader(Schema))
	if err != nil {
		return fmt.Errorf("unmarshal log schema: %w", err)
	}
	c := sjsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(schemaURL, schemaDoc); err != nil {
		return fmt.Errorf("add log schema: %w", err)
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("compile log schema: %w", err)
	}

	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return &ShapeError{Problems: []string{"not valid JSON: " + err.Error()}}
	}
	if err := sch.Validate(doc); err != nil {
		ve, ok := err.(*sjsonschema.ValidationError)
		if !ok {
			return &ShapeError{Problems: []string{err.Error()}}
		}
		var problems []string
		for _, cause := range leaves(ve) {
			problems = append(problems, fmt.Sprintf("/%s: %v", strings.Join(cause.InstanceLocation, "/"), cause.ErrorKind))
		}
		return &ShapeError{Problems: problems}
	}
	return nil
}

func leaves(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var out []*sjsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

// PrettySchema returns Schema re-indented.
func PrettySchema() ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(Schema), "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
