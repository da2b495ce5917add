package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks structural invariants after defaulting. It returns the
// first violation found; partial configurations are never executed.
func (c *Config) Validate() error {
	if c.Pipeline.Repository.URL == "" {
		return fmt.Errorf("pipeline.repository.url is required")
	}
	if c.Pipeline.Trigger.Event != "push" {
		return fmt.Errorf("pipeline.trigger.event must be %q (got %q)", "push", c.Pipeline.Trigger.Event)
	}
	if c.Pipeline.Trigger.Branch == "" {
		return fmt.Errorf("pipeline.trigger.branch is required")
	}
	if len(c.Pipeline.Matrix.Interpreter) == 0 {
		return fmt.Errorf("pipeline.matrix.interpreter must declare at least one version")
	}
	seen := make(map[string]struct{}, len(c.Pipeline.Matrix.Interpreter))
	for _, v := range c.Pipeline.Matrix.Interpreter {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("pipeline.matrix.interpreter contains an empty version")
		}
		if _, dup := seen[v]; dup {
			return fmt.Errorf("pipeline.matrix.interpreter contains duplicate version %q", v)
		}
		seen[v] = struct{}{}
	}
	if !strings.Contains(c.Pipeline.Provision.Command, "{version}") {
		return fmt.Errorf("pipeline.provision.command must contain the {version} placeholder")
	}
	if len(c.Pipeline.Steps) == 0 {
		return fmt.Errorf("pipeline.steps must declare at least one step")
	}
	names := make(map[string]struct{}, len(c.Pipeline.Steps))
	for i, s := range c.Pipeline.Steps {
		if s.Name == "" {
			return fmt.Errorf("pipeline.steps[%d].name is required", i)
		}
		if s.Run == "" {
			return fmt.Errorf("pipeline.steps[%d] (%s): run command is required", i, s.Name)
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("pipeline.steps contains duplicate step name %q", s.Name)
		}
		names[s.Name] = struct{}{}
		for _, e := range s.Env {
			if !strings.Contains(e, "=") {
				return fmt.Errorf("pipeline.steps[%d] (%s): env entry %q must be KEY=VALUE", i, s.Name, e)
			}
		}
	}
	if c.Build.JobTimeout != "" {
		if _, err := time.ParseDuration(c.Build.JobTimeout); err != nil {
			return fmt.Errorf("build.job_timeout: %w", err)
		}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.WebhookPath != "" && !strings.HasPrefix(c.Server.WebhookPath, "/") {
		return fmt.Errorf("server.webhook_path must start with '/'")
	}
	if mode := NormalizeRetryBackoff(string(c.Events.RetryBackoff)); mode == "" {
		return fmt.Errorf("events.retry_backoff: unknown mode %q", c.Events.RetryBackoff)
	}
	return nil
}
