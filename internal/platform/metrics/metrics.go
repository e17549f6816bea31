// Package metrics exposes the ledger's Prometheus instruments.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "custodyledger"

// Metrics holds all Prometheus metrics for the ledger process. It satisfies
// the recorder and observer interfaces of the service, processor, notifier
// and export worker.
type Metrics struct {
	Operations    *prometheus.CounterVec
	OperationTime *prometheus.HistogramVec
	QueueDepth    prometheus.Gauge
	Notifications *prometheus.CounterVec
	ExportJobs    *prometheus.CounterVec
	HTTPRequests  *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger operations by name and outcome",
		}, []string{"operation", "outcome"}),
		OperationTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of ledger operations",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processor_queue_depth",
			Help:      "Commands accepted by the processor and not yet executed",
		}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_published_total",
			Help:      "Notification batches published by sink and outcome",
		}, []string{"sink", "outcome"}),
		ExportJobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_jobs_total",
			Help:      "Custody export jobs by terminal status",
		}, []string{"status"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code class",
		}, []string{"route", "code"}),
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// Observe records one service operation.
func (m *Metrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	m.Operations.WithLabelValues(operation, outcome(success)).Inc()
	m.OperationTime.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveQueueDepth tracks the processor backlog.
func (m *Metrics) ObserveQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// ObservePublish counts one batch handed to a notification sink.
func (m *Metrics) ObservePublish(sink string, ok bool) {
	m.Notifications.WithLabelValues(sink, outcome(ok)).Inc()
}

// ObserveExport counts an export job reaching status.
func (m *Metrics) ObserveExport(status string) {
	m.ExportJobs.WithLabelValues(status).Inc()
}

// ObserveRequest counts one served HTTP request.
func (m *Metrics) ObserveRequest(route, code string) {
	m.HTTPRequests.WithLabelValues(route, code).Inc()
}
