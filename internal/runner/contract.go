package runner

import (
	"context"

	appcfg "git.home.luguber.info/inful/matrixci/internal/config"
)

// CheckoutClient obtains repository contents at the triggering commit.
type CheckoutClient interface {
	Checkout(ctx context.Context, repo appcfg.Repository, dir, commit string) (string, error)
}

// Provisioner makes the interpreter for a matrix version available,
// returning its resolved path.
type Provisioner interface {
	Resolve(ctx context.Context, version string) (string, error)
}

// Command describes one step invocation.
type Command struct {
	Script string   // Shell command line
	Dir    string   // Working directory
	Env    []string // Extra KEY=VALUE entries appended to the process env
}

// CommandResult carries the outcome of a command invocation.
type CommandResult struct {
	ExitCode int
	Output   []byte // Combined stdout/stderr, possibly truncated to the tail
}

// CommandRunner executes step commands. Implementations must honor context
// cancellation by killing the process.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (CommandResult, error)
}
