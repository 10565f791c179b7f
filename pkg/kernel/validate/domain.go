package validate

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ormasoftchile/tcrun/pkg/kernel/compiler"
	"github.com/ormasoftchile/tcrun/pkg/kernel/hydrate"
	"github.com/ormasoftchile/tcrun/pkg/kernel/schema"
)

// validateDomain applies the compile rules plus advisory checks that do not
// block compilation.
func validateDomain(tc *schema.TestCase, baseDir string) []*ValidationError {
	var errs []*ValidationError
	for _, p := range compiler.Check(tc) {
		errs = append(errs, errorf(PhaseDomain, p.Path, "%s", p.Message))
	}
	errs = append(errs, checkHydrationVars(tc)...)
	errs = append(errs, checkHookFiles(tc, baseDir)...)
	errs = append(errs, checkStepOrder(tc)...)
	return errs
}

// checkHydrationVars flags placeholders without a declaration (they can
// only come from an external value source) and declarations never used.
func checkHydrationVars(tc *schema.TestCase) []*ValidationError {
	var errs []*ValidationError
	used := make(map[string]bool)
	for _, name := range hydrate.Placeholders(tc) {
		used[name] = true
		if _, ok := tc.HydrationVars[name]; !ok {
			errs = append(errs, warningf(PhaseDomain, "hydration_vars",
				"placeholder ${#%s} is not declared; it must be supplied by a value source", name))
		}
	}
	names := make([]string, 0, len(tc.HydrationVars))
	for name := range tc.HydrationVars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !used[name] {
			errs = append(errs, warningf(PhaseDomain, "hydration_vars."+name, "declared but never referenced"))
		}
		if v := tc.HydrationVars[name]; v.Required && v.Default != nil {
			errs = append(errs, warningf(PhaseDomain, "hydration_vars."+name, "required variable has a default that is never used"))
		}
	}
	return errs
}

// checkHookFiles warns about .sh hooks that do not exist relative to
// baseDir. They fail at run time with exit code 127.
func checkHookFiles(tc *schema.TestCase, baseDir string) []*ValidationError {
	var errs []*ValidationError
	for _, kind := range schema.HookKinds {
		h := tc.Hooks.Get(kind)
		if h == nil {
			continue
		}
		cmd := strings.TrimSpace(h.Command)
		if !strings.HasSuffix(cmd, ".sh") || strings.ContainsAny(cmd, " \t") {
			continue
		}
		path := cmd
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		if !fileExists(path) {
			errs = append(errs, warningf(PhaseDomain, fmt.Sprintf("hooks.%s.command", kind), "hook script %s not found", cmd))
		}
	}
	return errs
}

// checkStepOrder warns when step numbers are not ascending; execution
// follows document order regardless.
func checkStepOrder(tc *schema.TestCase) []*ValidationError {
	var errs []*ValidationError
	for i, seq := range tc.Sequences {
		for j := 1; j < len(seq.Steps); j++ {
			if seq.Steps[j].Number < seq.Steps[j-1].Number {
				errs = append(errs, warningf(PhaseDomain, fmt.Sprintf("test_sequences[%d].steps[%d]", i, j),
					"step %d follows step %d; steps run in document order", seq.Steps[j].Number, seq.Steps[j-1].Number))
			}
		}
	}
	return errs
}
