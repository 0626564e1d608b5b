// Package metrics exposes Prometheus metrics for rule evaluation, sessions and the
// logger's error counters. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/liamcoop/formrules/internal/logger"
	"github.com/liamcoop/formrules/rules"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks:
//   - <ns>_evaluations_total: evaluations by mode
//   - <ns>_evaluation_duration_seconds: evaluation latency
//   - <ns>_rule_warnings_total: engine warnings by kind
//   - <ns>_sessions_total: session transitions by event
//   - <ns>_http_errors_total, <ns>_slow_requests_total: read from the logger counters
type Metrics struct {
	registry *prometheus.Registry

	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	warningsTotal      *prometheus.CounterVec
	sessionsTotal      *prometheus.CounterVec
}

// New creates and registers all metrics on a fresh registry
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of rule set evaluations",
			},
			[]string{"mode"},
		),

		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of rule set evaluation in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.000005, 2, 15), // 5µs to 80ms
			},
			[]string{"mode"},
		),

		warningsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_warnings_total",
				Help:      "Total number of non-fatal rule warnings by kind",
			},
			[]string{"kind"},
		),

		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_events_total",
				Help:      "Total number of form session events",
			},
			[]string{"event"},
		),
	}

	registry.MustRegister(
		m.evaluationsTotal,
		m.evaluationDuration,
		m.warningsTotal,
		m.sessionsTotal,
		counterFunc(namespace, "errors_total", "Total errors logged, before sampling", &logger.TotalErrors),
		counterFunc(namespace, "warnings_total", "Total warnings logged, before sampling", &logger.TotalWarnings),
		counterFunc(namespace, "http_5xx_total", "Total HTTP 5xx responses", &logger.Total5xxErrors),
		counterFunc(namespace, "http_4xx_total", "Total HTTP 4xx responses", &logger.Total4xxErrors),
		counterFunc(namespace, "http_conflicts_total", "Total HTTP 409 responses", &logger.Conflicts),
		counterFunc(namespace, "http_unprocessable_total", "Total HTTP 422 responses", &logger.Unprocessable),
		counterFunc(namespace, "slow_requests_total", "Total requests slower than the configured threshold", &logger.SlowRequests),
		counterFunc(namespace, "db_pool_exhausted_total", "Total times the database pool had no idle connection", &logger.ConnPoolWarnings),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func counterFunc(namespace, name, help string, v *atomic.Int64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	)
}

// RecordEvaluation records one evaluation and the warnings it produced
func (m *Metrics) RecordEvaluation(mode rules.Mode, duration time.Duration, warnings []rules.Warning) {
	if m == nil {
		return
	}
	if mode == "" {
		mode = rules.ModeRuntime
	}
	m.evaluationsTotal.WithLabelValues(string(mode)).Inc()
	m.evaluationDuration.WithLabelValues(string(mode)).Observe(duration.Seconds())
	for _, w := range warnings {
		m.warningsTotal.WithLabelValues(string(w.Kind)).Inc()
	}
}

// RecordSessionEvent counts a session event such as "started", "answered" or "submitted"
func (m *Metrics) RecordSessionEvent(event string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(event).Inc()
}

// Registry returns the registry all metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
