package analytics

import (
	"github.com/mohitkumar/agentorchy/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "agentorchy"

var _ WorkflowDataCollector = new(PrometheusDataCollector)

type PrometheusDataCollector struct {
	stepsTotal       *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	stepAttempts     *prometheus.HistogramVec
	transitionsTotal *prometheus.CounterVec
}

func NewPrometheusDataCollector(reg prometheus.Registerer) *PrometheusDataCollector {
	factory := promauto.With(reg)
	return &PrometheusDataCollector{
		stepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "steps_total",
				Help:      "Total number of executed workflow steps",
			},
			[]string{"agent", "outcome", "error_type"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of successful workflow steps in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"agent"},
		),
		stepAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "step_attempts",
				Help:      "Generation attempts needed per successful step",
				Buckets:   []float64{1, 2, 3, 5},
			},
			[]string{"agent"},
		),
		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "workflow_transitions_total",
				Help:      "Total number of workflow status transitions",
			},
			[]string{"from", "to"},
		),
	}
}

func (p *PrometheusDataCollector) RecordStepSuccess(rec StepRecord) {
	p.stepsTotal.WithLabelValues(rec.Agent, "success", "").Inc()
	p.stepDuration.WithLabelValues(rec.Agent).Observe(rec.Duration.Seconds())
	p.stepAttempts.WithLabelValues(rec.Agent).Observe(float64(rec.Attempts))
}

func (p *PrometheusDataCollector) RecordStepFailure(rec StepRecord, errorType string, reason string) {
	p.stepsTotal.WithLabelValues(rec.Agent, "failure", errorType).Inc()
}

func (p *PrometheusDataCollector) RecordTransition(workflowId string, from model.WorkflowStatus, to model.WorkflowStatus) {
	p.transitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}
