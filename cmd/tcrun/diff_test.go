package main

import (
	"testing"
	"time"

	"github.com/ormasoftchile/tcrun/pkg/kernel/execlog"
)

func logEntry(seq, step, code int, output string) execlog.Entry {
	return execlog.Entry{
		TestSequence: seq,
		Step:         step,
		Command:      "cmd",
		ExitCode:     code,
		Output:       output,
		Timestamp:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDiffLogs(t *testing.T) {
	before := []execlog.Entry{
		logEntry(1, 1, 0, "done at 2026-01-01T00:00:00Z"),
		logEntry(1, 2, 0, "\x1b[32mok\x1b[0m"),
		logEntry(1, 3, 0, "ready"),
		logEntry(2, 1, 0, "x"),
	}
	after := []execlog.Entry{
		logEntry(1, 1, 0, "done at 2026-02-02T10:30:00Z"),
		logEntry(1, 2, 0, "ok"),
		logEntry(1, 3, 1, "ready"),
		logEntry(2, 2, 0, "y"),
	}

	got := diffLogs(before, after)
	want := []struct {
		seq, step int
		changed   bool
	}{
		{1, 1, false}, // only the timestamp differs
		{1, 2, false}, // only colors differ
		{1, 3, true},
		{2, 1, true},
		{2, 2, true},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d diffs, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		d := got[i]
		if d.Key.Sequence != w.seq || d.Key.Step != w.step {
			t.Errorf("diff %d key = %+v, want %d/%d", i, d.Key, w.seq, w.step)
		}
		if (d.Change != "") != w.changed {
			t.Errorf("diff %d (%d/%d) change = %q, want changed=%v", i, w.seq, w.step, d.Change, w.changed)
		}
	}
	if got[2].Change != "exit code 0 → 1" {
		t.Errorf("exit change = %q", got[2].Change)
	}
}

func TestDiffLogs_Identical(t *testing.T) {
	entries := []execlog.Entry{logEntry(1, 1, 0, "a"), logEntry(1, 2, 3, "b")}
	for _, d := range diffLogs(entries, entries) {
		if d.Change != "" {
			t.Errorf("%+v: unexpected change", d)
		}
	}
}
