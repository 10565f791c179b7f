package schema

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and structurally decodes a test case YAML document.
// Returns a structural error if the YAML contains unknown fields.
func LoadFile(path string) (*TestCase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open test case: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a test case document from a reader.
func Load(r io.Reader) (*TestCase, error) {
	var tc TestCase
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // strict: reject unknown fields
	if err := dec.Decode(&tc); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	return &tc, nil
}

// Marshal encodes a test case back to YAML with two-space indentation.
func Marshal(tc *TestCase) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(tc); err != nil {
		return nil, fmt.Errorf("encode test case: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Document is a discovered test case with its source path.
type Document struct {
	Path     string
	TestCase *TestCase
}

// Discover loads every *.yaml / *.yml test case under dir (recursively) and
// indexes them by id. Files that fail to load are returned as errors keyed by
// path; a duplicate id is an error for the second file.
func Discover(dir string) (map[string]Document, map[string]error, error) {
	docs := make(map[string]Document)
	failed := make(map[string]error)

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("discover %s: %w", dir, err)
	}
	sort.Strings(paths)

	for _, p := range paths {
		tc, err := LoadFile(p)
		if err != nil {
			failed[p] = err
			continue
		}
		if tc.ID == "" {
			failed[p] = fmt.Errorf("missing test case id")
			continue
		}
		if prev, dup := docs[tc.ID]; dup {
			failed[p] = fmt.Errorf("duplicate test case id %q (first seen in %s)", tc.ID, prev.Path)
			continue
		}
		docs[tc.ID] = Document{Path: p, TestCase: tc}
	}
	return docs, failed, nil
}

// SortedIDs returns the keys of a discovery result in order.
func SortedIDs(docs map[string]Document) []string {
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
