package config

// DefaultMatrixVersions is the interpreter matrix used when none is
// configured: the versions the documentation build is verified against.
var DefaultMatrixVersions = []string{"3.7", "3.8", "3.9", "3.10"}

// DefaultSteps reproduce the canonical documentation verification sequence:
// system doc tooling, sphinx theme packages, package install, docs build.
func DefaultSteps() []Step {
	return []Step{
		{Name: "install-system-deps", Run: "apt-get install -y python3-enchant aspell-en"},
		{Name: "install-doc-deps", Run: "pip install sphinx sphinx_rtd_theme recommonmark"},
		{Name: "install-package", Run: "pip install ."},
		{Name: "build-docs", Run: "make html", Dir: "docs"},
	}
}

// Default returns a fully-defaulted configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero values in place. Called by Load before Validate.
func (c *Config) applyDefaults() {
	if c.Pipeline.Name == "" {
		c.Pipeline.Name = "docs-verify"
	}
	if c.Pipeline.Trigger.Event == "" {
		c.Pipeline.Trigger.Event = "push"
	}
	if c.Pipeline.Trigger.Branch == "" {
		c.Pipeline.Trigger.Branch = "main"
	}
	if c.Pipeline.Repository.Branch == "" {
		c.Pipeline.Repository.Branch = c.Pipeline.Trigger.Branch
	}
	if len(c.Pipeline.Matrix.Interpreter) == 0 {
		c.Pipeline.Matrix.Interpreter = append([]string(nil), DefaultMatrixVersions...)
	}
	if c.Pipeline.Provision.Command == "" {
		c.Pipeline.Provision.Command = "python{version}"
	}
	if len(c.Pipeline.Steps) == 0 {
		c.Pipeline.Steps = DefaultSteps()
	}
	if c.Pipeline.Verify.Enabled && c.Pipeline.Verify.Path == "" {
		c.Pipeline.Verify.Path = "docs/_build/html/index.html"
	}

	if c.Build.MaxParallelJobs <= 0 {
		c.Build.MaxParallelJobs = 4
	}
	if c.Build.ShallowDepth < 0 {
		c.Build.ShallowDepth = 0
	}
	if c.Build.JobTimeout == "" {
		c.Build.JobTimeout = "30m"
	}
	if c.Build.QueueSize <= 0 {
		c.Build.QueueSize = 100
	}
	if c.Build.Workers <= 0 {
		c.Build.Workers = 1
	}
	if c.Build.HistorySize <= 0 {
		c.Build.HistorySize = 50
	}

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.WebhookPath == "" {
		c.Server.WebhookPath = "/webhooks/push"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Storage.EventsDB == "" {
		c.Storage.EventsDB = "matrixci.db"
	}

	if c.Events.SubjectPrefix == "" {
		c.Events.SubjectPrefix = "matrixci"
	}
	if c.Events.RetryBackoff == "" {
		c.Events.RetryBackoff = RetryBackoffLinear
	}
	if c.Events.RetryInitialDelay == "" {
		c.Events.RetryInitialDelay = "1s"
	}
	if c.Events.RetryMaxDelay == "" {
		c.Events.RetryMaxDelay = "30s"
	}
	if c.Events.MaxRetries == 0 {
		c.Events.MaxRetries = 2
	}

	if c.Maintenance.WorkspaceRetention == "" {
		c.Maintenance.WorkspaceRetention = "24h"
	}
	if c.Maintenance.Interval == "" {
		c.Maintenance.Interval = "1h"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}
