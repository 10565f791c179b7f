package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ormasoftchile/tcrun/pkg/kernel/compiler"
	"github.com/ormasoftchile/tcrun/pkg/kernel/execlog"
	"github.com/ormasoftchile/tcrun/pkg/kernel/schema"
)

func TestRunArtifact_CancelClosesLog(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	doc := `
id: TC_ARTIFACT_CANCEL
test_sequences:
  - id: 1
    name: main
    steps:
      - {step: 1, description: a, command: "sleep 0.3"}
      - {step: 2, description: b, command: "sleep 0.3"}
      - {step: 3, description: c, command: "sleep 0.3"}
`
	tc, err := schema.Load(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	plan, _, err := compiler.Compile(tc, nil)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "artifact.sh")
	if err := os.WriteFile(script, compiler.RenderBash(plan, compiler.BashOptions{}), 0o755); err != nil {
		t.Fatal(err)
	}
	logPath := filepath.Join(dir, "log.json")
	t.Setenv("TCRUN_LOG_PATH", logPath)
	t.Setenv("TCRUN_ARTIFACT_DIR", dir)
	t.Setenv("TCRUN_NON_INTERACTIVE", "1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(100*time.Millisecond, cancel)

	err = runArtifact(ctx, script)
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != compiler.ExitCanceled {
		t.Fatalf("err = %v, want exit %d", err, compiler.ExitCanceled)
	}
	// The EXIT trap ran: the log parses without repair.
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	var entries []execlog.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("log not closed: %v\n%s", err, data)
	}
	if len(entries) != 1 || entries[0].Step != 1 {
		t.Errorf("entries = %+v, want only step 1", entries)
	}
}
