package runner

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// TemplateProvisioner resolves interpreters by substituting the matrix value
// into a command template ("python{version}" -> "python3.8") and looking the
// result up on PATH. The hosting environment supplies the interpreters; this
// only verifies and locates them.
type TemplateProvisioner struct {
	Command string
}

// NewTemplateProvisioner creates a provisioner for the given template.
func NewTemplateProvisioner(command string) *TemplateProvisioner {
	return &TemplateProvisioner{Command: command}
}

// Resolve returns the absolute path of the interpreter for version, or an
// error when the interpreter is not installed.
func (p *TemplateProvisioner) Resolve(_ context.Context, version string) (string, error) {
	name := strings.ReplaceAll(p.Command, "{version}", version)
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("interpreter %s not available: %w", name, err)
	}
	return path, nil
}
