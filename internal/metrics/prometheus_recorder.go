package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once             sync.Once
	stepDuration     *prom.HistogramVec
	jobDuration      *prom.HistogramVec
	stepResults      *prom.CounterVec
	jobOutcome       *prom.CounterVec
	runOutcome       *prom.CounterVec
	checkoutDuration *prom.HistogramVec
	activeJobs       prom.Gauge
	queueDepth       prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stepDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "matrixci",
			Name:      "step_duration_seconds",
			Help:      "Duration of individual job steps",
			Buckets:   prom.DefBuckets,
		}, []string{"step"})
		pr.jobDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "matrixci",
			Name:      "job_duration_seconds",
			Help:      "Total matrix job duration",
			Buckets:   prom.DefBuckets,
		}, []string{"matrix_version", "result"})
		pr.stepResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "matrixci",
			Name:      "step_results_total",
			Help:      "Step result counts by outcome",
		}, []string{"step", "result"})
		pr.jobOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "matrixci",
			Name:      "job_outcomes_total",
			Help:      "Matrix job outcomes by final status",
		}, []string{"matrix_version", "outcome"})
		pr.runOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "matrixci",
			Name:      "run_outcomes_total",
			Help:      "Run outcomes by final status",
		}, []string{"outcome"})
		pr.checkoutDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "matrixci",
			Name:      "checkout_duration_seconds",
			Help:      "Duration of repository checkout operations",
			Buckets:   prom.DefBuckets,
		}, []string{"result"})
		pr.activeJobs = prom.NewGauge(prom.GaugeOpts{
			Namespace: "matrixci",
			Name:      "active_jobs",
			Help:      "Matrix jobs currently executing",
		})
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: "matrixci",
			Name:      "queue_depth",
			Help:      "Runs waiting in the queue",
		})
		reg.MustRegister(pr.stepDuration, pr.jobDuration, pr.stepResults, pr.jobOutcome, pr.runOutcome, pr.checkoutDuration, pr.activeJobs, pr.queueDepth)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStepDuration(step string, d time.Duration) {
	if p == nil || p.stepDuration == nil {
		return
	}
	p.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveJobDuration(version string, d time.Duration, success bool) {
	if p == nil || p.jobDuration == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.jobDuration.WithLabelValues(version, res).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStepResult(step string, result ResultLabel) {
	if p == nil || p.stepResults == nil {
		return
	}
	p.stepResults.WithLabelValues(step, string(result)).Inc()
}

func (p *PrometheusRecorder) IncJobOutcome(version string, outcome string) {
	if p == nil || p.jobOutcome == nil {
		return
	}
	p.jobOutcome.WithLabelValues(version, outcome).Inc()
}

func (p *PrometheusRecorder) IncRunOutcome(outcome string) {
	if p == nil || p.runOutcome == nil {
		return
	}
	p.runOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveCheckoutDuration(d time.Duration, success bool) {
	if p == nil || p.checkoutDuration == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.checkoutDuration.WithLabelValues(res).Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetActiveJobs(n int) {
	if p == nil || p.activeJobs == nil {
		return
	}
	p.activeJobs.Set(float64(n))
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}
