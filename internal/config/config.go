package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/matrixci/internal/errors"
)

// Config represents the application configuration.
type Config struct {
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	Build       BuildConfig       `yaml:"build"`
	Server      ServerConfig      `yaml:"server"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Storage     StorageConfig     `yaml:"storage"`
	Events      EventsConfig      `yaml:"events"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// PipelineConfig declares the verification pipeline: repository, trigger,
// matrix, and the ordered step sequence every matrix entry executes.
type PipelineConfig struct {
	Name       string          `yaml:"name"`
	Repository Repository      `yaml:"repository"`
	Trigger    TriggerConfig   `yaml:"trigger"`
	Matrix     MatrixConfig    `yaml:"matrix"`
	Provision  ProvisionConfig `yaml:"provision"`
	Steps      []Step          `yaml:"steps"`
	Verify     VerifyConfig    `yaml:"verify"`
}

// Repository identifies the Git repository the pipeline verifies.
type Repository struct {
	URL    string      `yaml:"url"`
	Name   string      `yaml:"name,omitempty"`
	Branch string      `yaml:"branch,omitempty"`
	Auth   *AuthConfig `yaml:"auth,omitempty"`
}

// AuthConfig represents Git authentication configuration.
type AuthConfig struct {
	Type     string `yaml:"type"` // "ssh", "token", "basic"
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Token    string `yaml:"token,omitempty"`
	KeyPath  string `yaml:"key_path,omitempty"`
}

// TriggerConfig gates run activation. Only push events to the configured
// branch schedule a run; everything else is acknowledged and ignored.
type TriggerConfig struct {
	Event  string `yaml:"event"`
	Branch string `yaml:"branch"`
}

// MatrixConfig is the ordered set of interpreter versions. Each entry drives
// one independent job executing the identical step sequence.
type MatrixConfig struct {
	Interpreter []string `yaml:"interpreter"`
}

// ProvisionConfig controls how the interpreter for a matrix entry is located.
// Command is a template where {version} is replaced with the matrix value.
type ProvisionConfig struct {
	Command string `yaml:"command"`
}

// Step is one configured pipeline step. Run is executed through the shell in
// Dir (relative to the checkout root). Env entries are KEY=VALUE pairs.
type Step struct {
	Name string   `yaml:"name"`
	Run  string   `yaml:"run"`
	Dir  string   `yaml:"dir,omitempty"`
	Env  []string `yaml:"env,omitempty"`
}

// VerifyConfig enables the optional post-build artifact check.
type VerifyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// WorkspaceConfig controls per-run checkout directories.
type WorkspaceConfig struct {
	BaseDir string `yaml:"base_dir,omitempty"`
	Keep    bool   `yaml:"keep"`
}

// BuildConfig controls run execution.
type BuildConfig struct {
	MaxParallelJobs int    `yaml:"max_parallel_jobs"`
	ShallowDepth    int    `yaml:"shallow_depth"`
	JobTimeout      string `yaml:"job_timeout,omitempty"`
	QueueSize       int    `yaml:"queue_size"`
	Workers         int    `yaml:"workers"`
	HistorySize     int    `yaml:"history_size"`
}

// JobTimeoutDuration parses JobTimeout, returning zero for unset/invalid values.
func (b BuildConfig) JobTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(b.JobTimeout)
	if err != nil {
		return 0
	}
	return d
}

// ServerConfig controls the daemon HTTP surface.
type ServerConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	WebhookPath   string `yaml:"webhook_path"`
	WebhookSecret string `yaml:"webhook_secret,omitempty"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// MetricsConfig controls Prometheus exposure.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// StorageConfig locates the sqlite event store.
type StorageConfig struct {
	EventsDB string `yaml:"events_db"`
}

// EventsConfig controls optional NATS run-event publishing.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix"`

	RetryBackoff      RetryBackoffMode `yaml:"retry_backoff,omitempty"`
	RetryInitialDelay string           `yaml:"retry_initial_delay,omitempty"`
	RetryMaxDelay     string           `yaml:"retry_max_delay,omitempty"`
	MaxRetries        int              `yaml:"max_retries,omitempty"`
}

// MaintenanceConfig controls daemon housekeeping jobs.
type MaintenanceConfig struct {
	WorkspaceRetention string `yaml:"workspace_retention"`
	Interval           string `yaml:"interval,omitempty"`
}

// RetentionDuration parses WorkspaceRetention with a 24h fallback.
func (m MaintenanceConfig) RetentionDuration() time.Duration {
	d, err := time.ParseDuration(m.WorkspaceRetention)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// IntervalDuration parses Interval with a 1h fallback.
func (m MaintenanceConfig) IntervalDuration() time.Duration {
	d, err := time.ParseDuration(m.Interval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// LoggingConfig controls slog setup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from the specified file.
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	if err := loadEnvFile(); err != nil {
		// Don't fail if .env doesn't exist, just log it
		fmt.Fprintf(os.Stderr, "Note: .env file not found or couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, errors.ConfigNotFound(configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Default()
	example.Pipeline.Repository = Repository{
		URL:    "https://github.com/example/project.git",
		Name:   "project",
		Branch: "main",
	}

	data, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("failed to marshal example config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
