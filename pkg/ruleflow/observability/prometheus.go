package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder is a MetricsRecorder that exports Prometheus
// collectors. Counters are exported as fields so tests and handlers can
// read them directly.
type PrometheusRecorder struct {
	RulesTotal      *prometheus.CounterVec
	TasksTotal      *prometheus.CounterVec
	TaskDuration    *prometheus.HistogramVec
	InvokesTotal    *prometheus.CounterVec
	DeliveriesTotal *prometheus.CounterVec
	PurgesTotal     *prometheus.CounterVec
	PurgedItems     *prometheus.CounterVec
}

var _ MetricsRecorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers ruleflow collectors with reg. A nil reg
// uses prometheus.DefaultRegisterer, which panics if called twice.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		RulesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ruleflow_rules_total",
				Help: "Routing rules handled, by outcome.",
			},
			[]string{"outcome"},
		),
		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ruleflow_tasks_total",
				Help: "Workflow tasks run, by flow and status.",
			},
			[]string{"flow_id", "status"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ruleflow_task_duration_seconds",
				Help:    "Workflow task duration.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"flow_id"},
		),
		InvokesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ruleflow_invokes_total",
				Help: "Orchestrator calls, by status.",
			},
			[]string{"status"},
		),
		DeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ruleflow_deliveries_total",
				Help: "Destination deliveries, by destination and outcome.",
			},
			[]string{"destination_id", "outcome"},
		),
		PurgesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ruleflow_batch_purges_total",
				Help: "Batch purges, by trigger and status.",
			},
			[]string{"trigger", "status"},
		),
		PurgedItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ruleflow_batch_purged_items_total",
				Help: "Items handed to the purge handler, by trigger.",
			},
			[]string{"trigger"},
		),
	}
}

// RecordRule implements MetricsRecorder.
func (p *PrometheusRecorder) RecordRule(_ context.Context, outcome string) {
	p.RulesTotal.WithLabelValues(outcome).Inc()
}

// RecordTask implements MetricsRecorder.
func (p *PrometheusRecorder) RecordTask(_ context.Context, flowID string, duration time.Duration, err error) {
	p.TasksTotal.WithLabelValues(flowID, status(err)).Inc()
	p.TaskDuration.WithLabelValues(flowID).Observe(duration.Seconds())
}

// RecordInvoke implements MetricsRecorder.
func (p *PrometheusRecorder) RecordInvoke(_ context.Context, _ int, _ time.Duration, err error) {
	p.InvokesTotal.WithLabelValues(status(err)).Inc()
}

// RecordDelivery implements MetricsRecorder.
func (p *PrometheusRecorder) RecordDelivery(_ context.Context, destinationID, outcome string, _ time.Duration) {
	p.DeliveriesTotal.WithLabelValues(destinationID, outcome).Inc()
}

// RecordPurge implements MetricsRecorder.
func (p *PrometheusRecorder) RecordPurge(_ context.Context, trigger string, size int, err error) {
	p.PurgesTotal.WithLabelValues(trigger, status(err)).Inc()
	if err == nil {
		p.PurgedItems.WithLabelValues(trigger).Add(float64(size))
	}
}

func status(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}
