package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/tcrun/pkg/config"
	"github.com/ormasoftchile/tcrun/pkg/kernel/compiler"
	"github.com/ormasoftchile/tcrun/pkg/kernel/execlog"
	"github.com/ormasoftchile/tcrun/pkg/kernel/hydrate"
	kvalidate "github.com/ormasoftchile/tcrun/pkg/kernel/validate"
	"github.com/ormasoftchile/tcrun/pkg/kernel/verify"
	"github.com/ormasoftchile/tcrun/pkg/logging"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// Process exit codes.
const (
	exitOK      = 0
	exitFailed  = 1 // a Fail verdict, runtime or orchestration error
	exitInvalid = 2 // compile, validation or structural error
)

func main() {
	// A missing .env is fine; existing variables are never overwritten.
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

var (
	logLevel   string
	logJSON    bool
	configPath string

	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tcrun",
	Short: "Compile, run and verify YAML test cases",
	Long: `tcrun compiles declarative YAML test cases into bash artifacts,
runs them (alone or orchestrated across workers, with retries), and
verifies execution logs against the test case's expectations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(os.Stderr, logLevel, !logJSON)
		if err != nil {
			return usageError(err)
		}
		logger = l
		return nil
	},
}

// loadConfig reads the project file and applies environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// --- exit codes ---

// exitError carries an explicit process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error { return &exitError{code: exitInvalid, err: err} }

// errVerdictFailed is returned when a command completed but the verdict was
// not Pass.
var errVerdictFailed = errors.New("test case did not pass")

// exitCode maps an error returned by a command to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var (
		ce *compiler.CompileError
		se *verify.StructuralError
		le *execlog.ShapeError
		ue *hydrate.UnresolvedError
	)
	switch {
	case errors.As(err, &ce), errors.As(err, &se), errors.As(err, &le), errors.As(err, &ue):
		return exitInvalid
	}
	return exitFailed
}

// --- shared flag helpers ---

// loadValues merges a hydration value file with --var overrides.
func loadValues(path string, overrides []string) (hydrate.Values, error) {
	values := hydrate.Values{}
	if path != "" {
		v, err := hydrate.LoadValuesFile(path)
		if err != nil {
			return nil, err
		}
		values = v
	}
	cli, err := parseVarFlags(overrides)
	if err != nil {
		return nil, err
	}
	return values.Merge(cli), nil
}

// parseVarFlags parses repeated --var key=value flags.
func parseVarFlags(flags []string) (hydrate.Values, error) {
	out := hydrate.Values{}
	for _, v := range flags {
		parts := strings.SplitN(v, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, usageError(fmt.Errorf("invalid --var %q: expected key=value", v))
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}

// printValidationWarnings prints any warnings to stderr.
func printValidationWarnings(errs []*kvalidate.ValidationError) {
	for _, e := range errs {
		if e.Severity == kvalidate.SeverityWarning {
			fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(os.Stderr, "    at: %s\n", e.Path)
			}
		}
	}
}

// printValidationErrors prints the numbered error list to stderr.
func printValidationErrors(errs []*kvalidate.ValidationError) {
	errs = kvalidate.Errors(errs)
	fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n\n", len(errs))
	for i, e := range errs {
		fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
		if e.Path != "" {
			fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
		}
	}
}

// printHydrationWarnings prints non-fatal hydration findings.
func printHydrationWarnings(r *hydrate.Report) {
	if r == nil {
		return
	}
	for _, w := range r.Warnings() {
		fmt.Fprintf(os.Stderr, "  ⚠ [hydrate] %s\n", w)
	}
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tcrun %s (build: %s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (default warn)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON instead of console text")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Project configuration file (default "+config.FileName+" if present)")
	rootCmd.AddCommand(versionCmd)
}
