package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveStepDuration("build-docs", 150*time.Millisecond)
	pr.ObserveJobDuration("3.8", 500*time.Millisecond, true)
	pr.IncStepResult("build-docs", ResultSuccess)
	pr.IncJobOutcome("3.8", "succeeded")
	pr.IncRunOutcome("succeeded")
	pr.ObserveCheckoutDuration(80*time.Millisecond, true)
	pr.SetActiveJobs(2)
	pr.SetQueueDepth(1)
	// Basic scrape to ensure metrics encode without panic
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected metrics, got none")
	}
}

func TestNilRecorderSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.ObserveStepDuration("x", time.Second)
	pr.IncRunOutcome("failed")
	pr.SetActiveJobs(0)
}

func TestNoopRecorderSatisfiesInterface(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveStepDuration("x", time.Second)
	r.IncStepResult("x", ResultFailed)
}
