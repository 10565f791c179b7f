package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ormasoftchile/tcrun/pkg/kernel/schema"
)

var (
	compiledOnce sync.Once
	compiled     *sjsonschema.Schema
	compileErr   error
)

const testCaseSchemaURL = "testcase-v1.json"

// testCaseSchema compiles the reflected TestCase schema once.
func testCaseSchema() (*sjsonschema.Schema, error) {
	compiledOnce.Do(func() {
		raw, err := schema.GenerateTestCaseJSONSchema()
		if err != nil {
			compileErr = err
			return
		}
		doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal test case schema: %w", err)
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource(testCaseSchemaURL, doc); err != nil {
			compileErr = fmt.Errorf("add test case schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile(testCaseSchemaURL)
	})
	return compiled, compileErr
}

// validateSemantic checks the decoded document against the JSON Schema
// reflected from the Go types, then applies value rules the schema cannot
// express.
func validateSemantic(tc *schema.TestCase) []*ValidationError {
	var errs []*ValidationError

	sch, err := testCaseSchema()
	if err != nil {
		return []*ValidationError{errorf(PhaseSemantic, "", "schema unavailable: %s", err)}
	}
	data, err := json.Marshal(tc)
	if err != nil {
		return []*ValidationError{errorf(PhaseSemantic, "", "encode document: %s", err)}
	}
	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []*ValidationError{errorf(PhaseSemantic, "", "decode document: %s", err)}
	}
	if err := sch.Validate(doc); err != nil {
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, leaf := range leaves(ve) {
				errs = append(errs, errorf(PhaseSemantic, instancePath(leaf.InstanceLocation), "%v", leaf.ErrorKind))
			}
		} else {
			errs = append(errs, errorf(PhaseSemantic, "", "%s", err))
		}
	}

	if strings.TrimSpace(tc.ID) == "" {
		errs = append(errs, errorf(PhaseSemantic, "id", "id is required"))
	}
	for i, seq := range tc.Sequences {
		path := fmt.Sprintf("test_sequences[%d]", i)
		if seq.ID < 1 {
			errs = append(errs, errorf(PhaseSemantic, path+".id", "sequence id must be a positive integer, got %d", seq.ID))
		}
		if strings.TrimSpace(seq.Name) == "" {
			errs = append(errs, errorf(PhaseSemantic, path+".name", "sequence name is required"))
		}
		for j, st := range seq.Steps {
			spath := fmt.Sprintf("%s.steps[%d]", path, j)
			if st.Number < 1 {
				errs = append(errs, errorf(PhaseSemantic, spath+".step", "step number must be a positive integer, got %d", st.Number))
			}
			if strings.TrimSpace(st.Description) == "" {
				errs = append(errs, warningf(PhaseSemantic, spath+".description", "step has no description"))
			}
		}
	}
	return errs
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

// instancePath renders ["test_sequences","0","name"] as
// test_sequences[0].name.
func instancePath(loc []string) string {
	var b strings.Builder
	for _, p := range loc {
		if p != "" && strings.Trim(p, "0123456789") == "" {
			b.WriteString("[" + p + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(p)
	}
	return b.String()
}
