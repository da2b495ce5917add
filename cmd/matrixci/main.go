package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/matrixci/internal/config"
	"git.home.luguber.info/inful/matrixci/internal/daemon"
	"git.home.luguber.info/inful/matrixci/internal/errors"
	"git.home.luguber.info/inful/matrixci/internal/logfields"
	"git.home.luguber.info/inful/matrixci/internal/pipeline"
	"git.home.luguber.info/inful/matrixci/internal/runner"
	"git.home.luguber.info/inful/matrixci/internal/version"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"matrixci.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`
	Version bool   `help:"Print version and exit"`

	Run struct {
		Branch string `short:"b" help:"Branch to verify" default:""`
		Commit string `help:"Commit to pin the checkout to (default: branch head)"`
	} `cmd:"" help:"Execute the verification matrix once and exit"`

	Validate struct{} `cmd:"" help:"Validate the configuration file"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Daemon struct{} `cmd:"" help:"Start the webhook-driven daemon"`
}

func main() {
	kctx := kong.Parse(&CLI)

	if CLI.Version {
		fmt.Printf("matrixci %s (commit %s, built %s)\n", version.Version, version.GitCommit, version.BuildTime)
		return
	}

	errAdapter := errors.NewCLIErrorAdapter(CLI.Verbose, nil)

	switch kctx.Command() {
	case "run":
		cfg := loadConfig(errAdapter)
		setupLogging(cfg)
		errAdapter.HandleError(runOnce(cfg, CLI.Run.Branch, CLI.Run.Commit))
	case "validate":
		cfg := loadConfig(errAdapter)
		fmt.Printf("configuration valid: pipeline %q, matrix %v, %d steps\n",
			cfg.Pipeline.Name, cfg.Pipeline.Matrix.Interpreter, len(cfg.Pipeline.Steps))
	case "init":
		if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
			errAdapter.HandleError(errors.WrapError(err, errors.CategoryConfig, "failed to initialize configuration"))
		}
		fmt.Printf("wrote %s\n", CLI.Config)
	case "daemon":
		cfg := loadConfig(errAdapter)
		setupLogging(cfg)
		errAdapter.HandleError(runDaemon(cfg, CLI.Config))
	}
}

func loadConfig(errAdapter *errors.CLIErrorAdapter) *config.Config {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		errAdapter.HandleError(errors.WrapError(err, errors.CategoryConfig, err.Error()))
	}
	return cfg
}

// setupLogging configures the default slog logger from the config block;
// --verbose forces debug level.
func setupLogging(cfg *config.Config) {
	level := config.NormalizeLogLevel(cfg.Logging.Level).SlogLevel()
	if CLI.Verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if config.NormalizeLogFormat(cfg.Logging.Format) == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// runOnce executes the full matrix synchronously, the same sequence the
// daemon runs on a push. A failed run exits non-zero.
func runOnce(cfg *config.Config, branch, commit string) error {
	if branch == "" {
		branch = cfg.Pipeline.Trigger.Branch
	}

	run := pipeline.NewRun(&cfg.Pipeline, pipeline.TriggerManual, branch, commit)
	slog.Info("Executing run",
		logfields.RunID(run.ID),
		logfields.Branch(branch),
		"matrix", cfg.Pipeline.Matrix.Interpreter)

	r := runner.New(cfg)
	if err := r.ExecuteRun(context.Background(), run); err != nil {
		return errors.WrapError(err, errors.CategoryRuntime, "run execution failed")
	}

	printRunSummary(run)

	if run.Status != pipeline.RunStatusSucceeded {
		return errors.RunFailed(firstFailedStep(run), fmt.Errorf("run %s finished with status %s", run.ID, run.Status))
	}
	return nil
}

func printRunSummary(run *pipeline.Run) {
	fmt.Printf("run %s: %s\n", run.ID, run.Status)
	for _, job := range run.Jobs {
		fmt.Printf("  %s: %s", job.Version, job.Status)
		if job.Error != "" {
			fmt.Printf(" (%s)", job.Error)
		}
		fmt.Println()
		for _, step := range job.Steps {
			fmt.Printf("    %-24s %s\n", step.Name, step.Status)
		}
	}
}

func firstFailedStep(run *pipeline.Run) string {
	for _, job := range run.Jobs {
		for _, step := range job.Steps {
			if step.Status == pipeline.StepStatusFailed {
				return step.Name
			}
		}
	}
	return ""
}

// runDaemon starts the service and blocks until SIGINT/SIGTERM.
func runDaemon(cfg *config.Config, configPath string) error {
	d, err := daemon.New(cfg, configPath)
	if err != nil {
		return errors.WrapError(err, errors.CategoryDaemon, "failed to assemble daemon")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		return errors.WrapError(err, errors.CategoryDaemon, "failed to start daemon")
	}

	<-ctx.Done()
	slog.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return d.Stop(shutdownCtx)
}
