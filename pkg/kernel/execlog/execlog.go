// Package execlog implements the structured execution log: one JSON array of
// entries, one entry per automated step actually executed.
package execlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is a single executed automated step.
type Entry struct {
	TestSequence int       `json:"test_sequence"`
	Step         int       `json:"step"`
	Command      string    `json:"command"`
	ExitCode     int       `json:"exit_code"`
	Output       string    `json:"output"`
	Timestamp    time.Time `json:"timestamp"`
}

// Key identifies the step an entry belongs to.
type Key struct {
	Sequence int
	Step     int
}

// Key returns the (sequence id, step number) pair.
func (e Entry) Key() Key { return Key{Sequence: e.TestSequence, Step: e.Step} }

// Now returns the timestamp used for new entries: UTC, second precision,
// matching what the bash artifact records.
func Now() time.Time { return time.Now().UTC().Truncate(time.Second) }

// Writer streams entries to a JSON array. Close writes the closing bracket
// exactly once; callers defer it so the log stays well-formed on every exit
// path.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	n      int
	closed bool
	err    error
}

// NewWriter starts a log on w.
func NewWriter(w io.Writer) (*Writer, error) {
	lw := &Writer{w: w}
	if _, err := io.WriteString(w, "["); err != nil {
		return nil, fmt.Errorf("start execution log: %w", err)
	}
	return lw, nil
}

// Create truncates path and starts a log there.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open execution log: %w", err)
	}
	lw, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	lw.closer = f
	return lw, nil
}

// Append writes one entry.
func (lw *Writer) Append(e Entry) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.closed {
		return fmt.Errorf("append to finalized execution log")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}
	sep := "\n  "
	if lw.n > 0 {
		sep = ",\n  "
	}
	if _, err := io.WriteString(lw.w, sep); err != nil {
		lw.err = err
		return err
	}
	if _, err := lw.w.Write(data); err != nil {
		lw.err = err
		return err
	}
	lw.n++
	return nil
}

// Len returns the number of entries written.
func (lw *Writer) Len() int {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.n
}

// Close finalizes the array. It is safe to call more than once.
func (lw *Writer) Close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.closed {
		return lw.err
	}
	lw.closed = true
	if _, err := io.WriteString(lw.w, "\n]\n"); err != nil && lw.err == nil {
		lw.err = fmt.Errorf("finalize execution log: %w", err)
	}
	if lw.closer != nil {
		if err := lw.closer.Close(); err != nil && lw.err == nil {
			lw.err = err
		}
	}
	return lw.err
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

// ReadFile loads a log from disk.
func ReadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read execution log: %w", err)
	}
	return Parse(data)
}

// Parse decodes a log. A log whose closing bracket is missing (the writer
// was killed before finalization) is repaired before decoding.
func Parse(data []byte) ([]Entry, error) {
	var entries []Entry
	err := json.Unmarshal(data, &entries)
	if err == nil {
		return entries, nil
	}
	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("[")) && !bytes.HasSuffix(trimmed, []byte("]")) {
		repaired := append(bytes.TrimRight(trimmed, ","), []byte("\n]")...)
		if err2 := json.Unmarshal(repaired, &entries); err2 == nil {
			return entries, nil
		}
	}
	return nil, fmt.Errorf("decode execution log: %w", err)
}

// Index maps entries by key. When a key repeats, the first entry wins and the
// duplicate keys are returned.
func Index(entries []Entry) (map[Key]Entry, []Key) {
	idx := make(map[Key]Entry, len(entries))
	var dups []Key
	for _, e := range entries {
		if _, ok := idx[e.Key()]; ok {
			dups = append(dups, e.Key())
			continue
		}
		idx[e.Key()] = e
	}
	return idx, dups
}

// Encode writes entries as an indented JSON array.
func Encode(w io.Writer, entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

// DirLogs reads named step logs from a directory. It satisfies
// expression.LogSource.
type DirLogs string

// ReadLog returns the content of name inside the directory with trailing
// newlines removed. Names containing path separators are rejected.
func (d DirLogs) ReadLog(name string) (string, bool) {
	if name == "" || name != filepath.Base(name) {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(string(d), name))
	if err != nil {
		return "", false
	}
	return strings.TrimRight(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n"), true
}
