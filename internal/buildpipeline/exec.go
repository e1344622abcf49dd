package buildpipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"mkoffload/internal/argv"
)

// Command is one child invocation.
type Command struct {
	Stage Stage
	Argv  argv.Vector
	Env   Environ
	// Assign lists KEY=VALUE settings made for this child only; they are
	// echoed with the command line when Echo is set.
	Assign []string
	Echo   bool
	// Display is echoed instead of Argv when set, e.g. the full command
	// line behind an @file invocation.
	Display argv.Vector
}

// Runner runs a child to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs children with os/exec. The child inherits only the
// command's environment snapshot.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (r ExecRunner) Run(ctx context.Context, c Command) error {
	stdout, stderr := r.Stdout, r.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	if len(c.Argv) == 0 {
		return fmt.Errorf("empty command")
	}
	if c.Echo {
		for _, kv := range c.Assign {
			if _, err := fmt.Fprintln(stderr, kv); err != nil {
				return fmt.Errorf("failed to print command: %w", err)
			}
		}
		shown := c.Argv
		if len(c.Display) > 0 {
			shown = c.Display
		}
		if _, err := fmt.Fprintln(stderr, shown.String()); err != nil {
			return fmt.Errorf("failed to print command: %w", err)
		}
	}

	// #nosec G204 -- the program is the resolved device compiler
	cmd := exec.CommandContext(ctx, c.Argv.Program(), c.Argv.Args()...)
	cmd.Env = c.Env.List()
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		if code, ok := ExitCode(err); ok {
			return fmt.Errorf("%s returned %d exit status: %w", c.Argv.Program(), code, err)
		}
		return fmt.Errorf("%s: %w", c.Argv.Program(), err)
	}
	return nil
}

// ExitCode extracts a child's exit status from err.
func ExitCode(err error) (int, bool) {
	var ee *exec.ExitError
	if errors.As(err, &ee) && ee.ExitCode() > 0 {
		return ee.ExitCode(), true
	}
	return 0, false
}
