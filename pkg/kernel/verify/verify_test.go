package verify

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ormasoftchile/tcrun/pkg/kernel/compiler"
	"github.com/ormasoftchile/tcrun/pkg/kernel/execlog"
	"github.com/ormasoftchile/tcrun/pkg/kernel/expression"
	"github.com/ormasoftchile/tcrun/pkg/kernel/schema"
)

func plan(t *testing.T, doc string) *compiler.Plan {
	t.Helper()
	tc, err := schema.Load(strings.NewReader(doc))
	require.NoError(t, err)
	p, _, err := compiler.Compile(tc, nil)
	require.NoError(t, err)
	return p
}

var ts = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func entry(seq, step, code int, output string) execlog.Entry {
	return execlog.Entry{TestSequence: seq, Step: step, Command: "cmd", ExitCode: code, Output: output, Timestamp: ts}
}

const twoAutomated = `
id: TC_A
test_sequences:
  - id: 1
    name: main
    steps:
      - {step: 1, description: one, command: "true"}
      - {step: 2, description: two, command: "true"}
`

func TestVerify_AllPass(t *testing.T) {
	res, err := Verify(plan(t, twoAutomated), []execlog.Entry{entry(1, 1, 0, ""), entry(1, 2, 0, "")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, Pass, res.Verdict)
	assert.Equal(t, Pass, res.Sequences[0].Verdict)
	assert.Equal(t, 2, res.Passed)
	for _, s := range res.Steps() {
		assert.Equal(t, Pass, s.Verdict)
	}
}

func TestVerify_SecondStepFails(t *testing.T) {
	res, err := Verify(plan(t, twoAutomated), []execlog.Entry{entry(1, 1, 0, ""), entry(1, 2, 1, "")}, Options{})
	require.NoError(t, err)
	steps := res.Steps()
	assert.Equal(t, Pass, steps[0].Verdict)
	assert.Equal(t, Fail, steps[1].Verdict)
	assert.False(t, steps[1].ResultOK)
	assert.True(t, steps[1].OutputOK)
	assert.Equal(t, Fail, res.Sequences[0].Verdict)
	assert.Equal(t, Fail, res.Verdict)

	first, ok := res.FirstFailure()
	require.True(t, ok)
	assert.Equal(t, 2, first.Step)
	assert.Contains(t, first.Message, "exit code 1")
}

func TestVerify_ManualStepExcluded(t *testing.T) {
	doc := `
id: TC_C
test_sequences:
  - id: 1
    name: main
    steps:
      - {step: 1, description: one, command: "true"}
      - {step: 2, description: look, manual: true}
      - {step: 3, description: three, command: "true"}
`
	res, err := Verify(plan(t, doc), []execlog.Entry{entry(1, 1, 0, ""), entry(1, 3, 0, "")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, Pass, res.Verdict)
	assert.Len(t, res.Steps(), 2, "manual steps carry no verdict")
}

func TestVerify_MissingEntriesAreNotExecuted(t *testing.T) {
	doc := `
id: TC_NE
test_sequences:
  - id: 1
    name: first
    steps:
      - {step: 1, description: one, command: "true"}
  - id: 2
    name: second
    steps:
      - {step: 1, description: one, command: "true"}
`
	p := plan(t, doc)

	res, err := Verify(p, []execlog.Entry{entry(1, 1, 0, "")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, Pass, res.Sequences[0].Verdict)
	assert.Equal(t, NotExecuted, res.Sequences[1].Verdict)
	assert.Equal(t, NotExecuted, res.Verdict)

	res, err = Verify(p, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, NotExecuted, res.Verdict)
	assert.Equal(t, 2, res.NotExecuted)

	res, err = Verify(p, []execlog.Entry{entry(1, 1, 3, "")}, Options{})
	require.NoError(t, err)
	assert.Equal(t, Fail, res.Verdict, "fail dominates not executed")
}

func TestVerify_OutputAndArtifactExpressions(t *testing.T) {
	doc := `
id: TC_OUT
test_sequences:
  - id: 1
    name: main
    steps:
      - step: 1
        description: json
        command: "true"
        verification:
          result: exit_code == 0 && output matches "\"status\":\\s*\"ok\""
          output: artifact("side.log") contains "ready"
`
	p := plan(t, doc)
	entries := []execlog.Entry{entry(1, 1, 0, `{"status": "ok"}`)}

	res, err := Verify(p, entries, Options{Logs: expression.MapLogs{"side.log": "service ready"}})
	require.NoError(t, err)
	assert.Equal(t, Pass, res.Verdict)

	res, err = Verify(p, entries, Options{})
	require.NoError(t, err)
	assert.Equal(t, Fail, res.Verdict, "a missing artifact evaluates to false")
	assert.False(t, res.Steps()[0].OutputOK)
}

func TestVerify_StructuralErrors(t *testing.T) {
	doc := `
id: TC_S
test_sequences:
  - id: 1
    name: main
    steps:
      - {step: 1, description: one, command: "true"}
      - {step: 2, description: look, manual: true}
      - {step: 3, description: three, command: "true"}
      - {step: 4, description: four, command: "true"}
`
	p := plan(t, doc)
	tests := []struct {
		name    string
		entries []execlog.Entry
		want    string
	}{
		{"unknown step", []execlog.Entry{entry(1, 9, 0, "")}, "not in the plan"},
		{"unknown sequence", []execlog.Entry{entry(2, 1, 0, "")}, "not in the plan"},
		{"manual step", []execlog.Entry{entry(1, 2, 0, "")}, "manual step"},
		{"duplicate", []execlog.Entry{entry(1, 1, 0, ""), entry(1, 1, 0, "")}, "duplicate"},
		{"out of order", []execlog.Entry{entry(1, 3, 0, ""), entry(1, 1, 0, "")}, "out of order"},
		{"too many", []execlog.Entry{entry(1, 1, 0, ""), entry(1, 3, 0, ""), entry(1, 4, 0, ""), entry(1, 4, 0, "")}, "entries but the plan has 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Verify(p, tt.entries, Options{})
			var se *StructuralError
			require.True(t, errors.As(err, &se), "err = %v", err)
			assert.Contains(t, se.Error(), tt.want)
		})
	}
}

func TestVerify_Deterministic(t *testing.T) {
	p := plan(t, twoAutomated)
	entries := []execlog.Entry{entry(1, 1, 0, "x"), entry(1, 2, 1, "y")}
	a, err := Verify(p, entries, Options{})
	require.NoError(t, err)
	b, err := Verify(p, entries, Options{})
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("results differ (-first +second):\n%s", diff)
	}
}

func TestVerifyFile_ShapeError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"step": 1}]`), 0o644))
	_, err := VerifyFile(plan(t, twoAutomated), path, Options{})
	var se *execlog.ShapeError
	assert.True(t, errors.As(err, &se), "err = %v", err)
}

func TestVerifyFile_ReadsWriterOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	w, err := execlog.Create(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(entry(1, 1, 0, "")))
	require.NoError(t, w.Close())

	res, err := VerifyFile(plan(t, twoAutomated), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, NotExecuted, res.Verdict)
}

func TestRollup(t *testing.T) {
	assert.Equal(t, Pass, Rollup())
	assert.Equal(t, Pass, Rollup(Pass, Pass))
	assert.Equal(t, NotExecuted, Rollup(Pass, NotExecuted))
	assert.Equal(t, Fail, Rollup(NotExecuted, Fail, Pass))
}
