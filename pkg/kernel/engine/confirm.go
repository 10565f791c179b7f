package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"
)

// Confirmer waits for an operator to acknowledge a manual step.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) error
}

// ErrConfirmationAborted is returned when the operator interrupts a prompt.
var ErrConfirmationAborted = errors.New("manual confirmation aborted")

// AutoConfirmer acknowledges immediately.
type AutoConfirmer struct{}

// Confirm implements Confirmer.
func (AutoConfirmer) Confirm(ctx context.Context, _ string) error { return ctx.Err() }

// ReadlineConfirmer prompts on the terminal.
type ReadlineConfirmer struct {
	Stdin  io.ReadCloser // defaults to os.Stdin
	Stdout io.Writer     // defaults to os.Stdout
}

// Confirm implements Confirmer. Ctrl-C aborts the run; EOF counts as an
// acknowledgement so piped input does not hang.
func (c ReadlineConfirmer) Confirm(ctx context.Context, prompt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := &readline.Config{
		Prompt:          prompt + " ",
		InterruptPrompt: "^C",
	}
	if c.Stdin != nil {
		cfg.Stdin = c.Stdin
	}
	if c.Stdout != nil {
		cfg.Stdout = c.Stdout
	}
	rl, err := readline.NewEx(cfg)
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	if _, err := rl.Readline(); err != nil {
		if err == readline.ErrInterrupt {
			return ErrConfirmationAborted
		}
		if err == io.EOF {
			return nil
		}
		return err
	}
	return nil
}

// DetectInteractive decides once, at run start, whether manual steps may
// block on operator input. TCRUN_NON_INTERACTIVE=1 and
// DEBIAN_FRONTEND=noninteractive force non-interactive mode; otherwise
// stdin must be a terminal.
func DetectInteractive() bool {
	if os.Getenv("TCRUN_NON_INTERACTIVE") == "1" || os.Getenv("DEBIAN_FRONTEND") == "noninteractive" {
		return false
	}
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
