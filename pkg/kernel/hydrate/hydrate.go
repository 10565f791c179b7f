// Package hydrate resolves ${#NAME} hydration placeholders against a
// line-based NAME=value source before compilation.
package hydrate

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/ormasoftchile/tcrun/pkg/kernel/schema"
)

var (
	placeholderPattern = regexp.MustCompile(`\$\{#([A-Z_][A-Z0-9_]*)\}`)
	namePattern        = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)
)

// ValidName reports whether name can be declared as a hydration variable.
// Other names could never be referenced, since ${#name} is bash's
// string-length expansion.
func ValidName(name string) bool { return namePattern.MatchString(name) }

// Values is a parsed hydration value source.
type Values map[string]string

// ParseValues reads NAME=value lines. "export NAME=value", quoting and #
// comments are accepted.
func ParseValues(r io.Reader) (Values, error) {
	m, err := godotenv.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse hydration values: %w", err)
	}
	return Values(m), nil
}

// LoadValuesFile reads a hydration value file.
func LoadValuesFile(path string) (Values, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open hydration values: %w", err)
	}
	defer f.Close()
	return ParseValues(f)
}

// Merge returns a copy of v overlaid with o.
func (v Values) Merge(o Values) Values {
	out := make(Values, len(v)+len(o))
	for k, val := range v {
		out[k] = val
	}
	for k, val := range o {
		out[k] = val
	}
	return out
}

// UnresolvedError names the hydration variables that have no value.
type UnresolvedError struct {
	Names []string
}

func (e *UnresolvedError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("unresolved hydration variable %s", e.Names[0])
	}
	return fmt.Sprintf("unresolved hydration variables %s", strings.Join(e.Names, ", "))
}

// NameError names declared hydration variables that no placeholder can
// reference.
type NameError struct {
	Names []string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("invalid hydration variable name %s: must match [A-Z_][A-Z0-9_]*", strings.Join(e.Names, ", "))
}

// Report is the result of checking a value source against a document.
type Report struct {
	Missing    []string // required, no value, no default
	Extra      []string // supplied but not declared
	Defaulted  []string // resolved from the declared default
	Undeclared []string // used as ${#NAME} without a declaration
	Invalid    []string // declared with a name that is not UPPER_CASE
}

// Err returns a *NameError for invalid declarations, otherwise an
// *UnresolvedError when variables are missing.
func (r *Report) Err() error {
	if len(r.Invalid) > 0 {
		return &NameError{Names: r.Invalid}
	}
	if len(r.Missing) == 0 {
		return nil
	}
	return &UnresolvedError{Names: r.Missing}
}

// Warnings renders the non-fatal findings.
func (r *Report) Warnings() []string {
	var out []string
	for _, n := range r.Extra {
		out = append(out, fmt.Sprintf("value %s is not declared by the test case", n))
	}
	for _, n := range r.Undeclared {
		out = append(out, fmt.Sprintf("placeholder ${#%s} is used but not declared", n))
	}
	return out
}

// Placeholders returns every ${#NAME} used in the document, sorted.
func Placeholders(tc *schema.TestCase) []string {
	seen := make(map[string]bool)
	// Walk a clone: the callback is read-only but WalkStrings writes back.
	_ = tc.Clone().WalkStrings(func(_, s string) (string, error) {
		for _, m := range placeholderPattern.FindAllStringSubmatch(s, -1) {
			seen[m[1]] = true
		}
		return s, nil
	})
	return sortedKeys(seen)
}

// Check joins the declared hydration variables against values.
func Check(tc *schema.TestCase, values Values) *Report {
	r := &Report{}
	for _, name := range sortedKeys(tc.HydrationVars) {
		hv := tc.HydrationVars[name]
		if !ValidName(name) {
			r.Invalid = append(r.Invalid, name)
		}
		if _, ok := values[name]; ok {
			continue
		}
		if hv.Default != nil {
			r.Defaulted = append(r.Defaulted, name)
			continue
		}
		if hv.Required {
			r.Missing = append(r.Missing, name)
		}
	}
	for _, name := range sortedKeys(values) {
		if _, ok := tc.HydrationVars[name]; !ok {
			r.Extra = append(r.Extra, name)
		}
	}
	for _, name := range Placeholders(tc) {
		if _, ok := tc.HydrationVars[name]; !ok {
			r.Undeclared = append(r.Undeclared, name)
		}
	}
	return r
}

// Resolve returns a hydrated copy of tc with every ${#NAME} substituted and
// the hydration declarations removed. The input is never modified.
//
// Precedence is supplied value, then declared default. Optional variables
// without either resolve to the empty string. Required variables without
// either, and undeclared placeholders without a supplied value, fail with an
// *UnresolvedError.
func Resolve(tc *schema.TestCase, values Values) (*schema.TestCase, *Report, error) {
	report := Check(tc, values)
	if len(report.Invalid) > 0 {
		return nil, report, &NameError{Names: report.Invalid}
	}

	resolved := make(map[string]string)
	for name, hv := range tc.HydrationVars {
		switch v, ok := values[name]; {
		case ok:
			resolved[name] = v
		case hv.Default != nil:
			resolved[name] = *hv.Default
		case !hv.Required:
			resolved[name] = ""
		}
	}

	missing := append([]string(nil), report.Missing...)
	for _, name := range report.Undeclared {
		if v, ok := values[name]; ok {
			resolved[name] = v
		} else {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, report, &UnresolvedError{Names: missing}
	}

	out := tc.Clone()
	out.HydrationVars = nil
	err := out.WalkStrings(func(_, s string) (string, error) {
		return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
			name := placeholderPattern.FindStringSubmatch(m)[1]
			return resolved[name]
		}), nil
	})
	if err != nil {
		return nil, report, err
	}
	return out, report, nil
}

// Secrets returns the values of the variables declared secret, as they
// resolve against values. Empty values are left out.
func Secrets(tc *schema.TestCase, values Values) []string {
	var out []string
	for _, name := range sortedKeys(tc.HydrationVars) {
		hv := tc.HydrationVars[name]
		if !hv.Secret {
			continue
		}
		v, ok := values[name]
		if !ok && hv.Default != nil {
			v = *hv.Default
		}
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ExportTemplate renders an "export NAME=value" file for the declared
// hydration variables, using defaults where present. The output reads back
// with ParseValues.
func ExportTemplate(tc *schema.TestCase) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Hydration values for %s\n", tc.ID)
	for _, name := range sortedKeys(tc.HydrationVars) {
		hv := tc.HydrationVars[name]
		buf.WriteString("\n")
		if hv.Description != "" {
			fmt.Fprintf(&buf, "# %s\n", hv.Description)
		}
		if hv.Required {
			buf.WriteString("# required\n")
		}
		val := ""
		if hv.Default != nil {
			val = *hv.Default
		}
		line, err := exportLine(name, val)
		if err != nil {
			return nil, err
		}
		buf.WriteString(line + "\n")
	}
	return buf.Bytes(), nil
}

// exportLine quotes val the way godotenv reads it back. godotenv.Marshal
// writes integers bare, which would turn "007" into 7, so those are quoted
// here; digits and a sign need no escaping.
func exportLine(name, val string) (string, error) {
	if n, err := strconv.Atoi(val); err == nil && strconv.Itoa(n) != val {
		return fmt.Sprintf("export %s=\"%s\"", name, val), nil
	}
	line, err := godotenv.Marshal(map[string]string{name: val})
	if err != nil {
		return "", fmt.Errorf("export %s: %w", name, err)
	}
	return "export " + line, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
