// Package report renders human-readable run summaries. Summaries are
// produced as Markdown and converted to HTML for the status page.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"git.home.luguber.info/inful/matrixci/internal/pipeline"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// Markdown renders a run as a Markdown document: run header, one section
// per matrix job with a step result table.
func Markdown(run *pipeline.Run) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Run %s\n\n", run.ID)
	fmt.Fprintf(&b, "- **Pipeline:** %s\n", run.Pipeline)
	fmt.Fprintf(&b, "- **Status:** %s\n", run.Status)
	fmt.Fprintf(&b, "- **Trigger:** %s on `%s`\n", run.Trigger, run.Branch)
	if run.Commit != "" {
		fmt.Fprintf(&b, "- **Commit:** `%s`\n", run.Commit)
	}
	if run.StartedAt != nil && run.EndedAt != nil {
		fmt.Fprintf(&b, "- **Duration:** %s\n", run.EndedAt.Sub(*run.StartedAt).Round(time.Millisecond))
	}
	b.WriteString("\n")

	for _, job := range run.Jobs {
		fmt.Fprintf(&b, "## Interpreter %s (%s)\n\n", job.Version, job.Status)
		if job.Error != "" {
			fmt.Fprintf(&b, "> %s\n\n", job.Error)
		}
		b.WriteString("| # | Step | Status | Exit | Duration |\n")
		b.WriteString("|---|------|--------|------|----------|\n")
		for _, step := range job.Steps {
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
				step.Ordinal, step.Name, step.Status, exitCell(step), durationCell(step))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// HTML renders the run summary as an HTML fragment.
func HTML(run *pipeline.Run) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(Markdown(run)), &buf); err != nil {
		return "", fmt.Errorf("failed to render run summary: %w", err)
	}
	return buf.String(), nil
}

func exitCell(step pipeline.StepResult) string {
	if step.Status == pipeline.StepStatusSkipped {
		return "-"
	}
	return fmt.Sprintf("%d", step.ExitCode)
}

func durationCell(step pipeline.StepResult) string {
	if step.Status == pipeline.StepStatusSkipped {
		return "-"
	}
	return step.Duration.Round(time.Millisecond).String()
}
