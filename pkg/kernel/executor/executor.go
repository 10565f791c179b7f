// Package executor invokes external commands for test steps, hooks and
// prerequisites and captures their exit code and combined output.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ExitCommandNotFound is the shell's exit status for a missing executable.
const ExitCommandNotFound = 127

// Command describes one invocation. Exactly one of Script or File is set.
type Command struct {
	Script string   // shell text run with bash -c
	File   string   // script file run with bash <file>
	Env    []string // appended to the inherited environment
	Dir    string

	// Interrupt is sent to the process when ctx is canceled while it runs.
	// Nil lets the command run to completion.
	Interrupt os.Signal
}

// Result is the outcome of a command that ran.
type Result struct {
	ExitCode int
	Output   string // stdout and stderr interleaved, CRLF normalized, trailing newlines removed
}

// StartError means the command could not be started at all.
type StartError struct {
	Command string
	Err     error
}

func (e *StartError) Error() string { return fmt.Sprintf("exec %q: %v", e.Command, e.Err) }
func (e *StartError) Unwrap() error { return e.Err }

// Executor runs commands. Implementations must not kill a running command
// when ctx is canceled; cancellation is observed between commands, or
// delivered as Command.Interrupt when one is set.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Shell runs commands with bash.
type Shell struct {
	// Bash is the interpreter path; "bash" is looked up on PATH when empty.
	Bash string
}

// Run implements Executor.
func (s Shell) Run(ctx context.Context, c Command) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bash := s.Bash
	if bash == "" {
		bash = "bash"
	}

	var args []string
	label := c.Script
	switch {
	case c.File != "":
		args = []string{c.File}
		label = c.File
	default:
		args = []string{"-c", c.Script}
	}

	cmd := exec.Command(bash, args...) //#nosec G204 -- commands come from the test case author
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Start(); err != nil {
		return nil, &StartError{Command: label, Err: err}
	}
	if c.Interrupt != nil {
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				_ = cmd.Process.Signal(c.Interrupt)
			case <-done:
			}
		}()
	}

	err := cmd.Wait()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &StartError{Command: label, Err: err}
		}
		exitCode = exitErr.ExitCode()
	}

	return &Result{
		ExitCode: exitCode,
		Output:   NormalizeOutput(out.String()),
	}, nil
}

// NormalizeOutput replaces \r\n with \n and drops trailing newlines, which
// is what bash command substitution does to the same output.
func NormalizeOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimRight(s, "\n")
}
