package runner

import (
	"context"
	"errors"
	"os"
	"os/exec"
)

// outputTailLimit bounds the captured combined output kept per step.
const outputTailLimit = 4 * 1024

// ShellRunner executes step commands through the shell so configured step
// lines behave as they would in a CI script.
type ShellRunner struct {
	Shell string // defaults to /bin/sh
}

// NewShellRunner creates a ShellRunner with the default shell.
func NewShellRunner() *ShellRunner { return &ShellRunner{} }

// Run executes the command, blocking until completion or context cancelation.
// A non-zero exit is reported via CommandResult.ExitCode with a nil error;
// error is reserved for failures to start or context cancelation.
func (r *ShellRunner) Run(ctx context.Context, cmd Command) (CommandResult, error) {
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	c := exec.CommandContext(ctx, shell, "-c", cmd.Script)
	c.Dir = cmd.Dir
	c.Env = append(os.Environ(), cmd.Env...)

	out, err := c.CombinedOutput()
	result := CommandResult{Output: tail(out)}

	if err == nil {
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ctx.Err() != nil {
			// Process was killed by cancelation, not a genuine failure.
			result.ExitCode = -1
			return result, ctx.Err()
		}
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return result, err
}

func tail(out []byte) []byte {
	if len(out) <= outputTailLimit {
		return out
	}
	return out[len(out)-outputTailLimit:]
}
