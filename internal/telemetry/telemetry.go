// Package telemetry exports the pipeline's Prometheus metrics and its tracer.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/failure"
)

const (
	serviceName = "listings"
	namespace   = "listings"
)

// Metrics holds the pipeline's Prometheus metrics.
type Metrics struct {
	// Source fetches
	FetchTotal    *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec

	// Worker tasks
	TasksTotal   *prometheus.CounterVec
	TaskDuration *prometheus.HistogramVec

	// Unification
	UnificationsTotal   *prometheus.CounterVec
	UnificationDuration *prometheus.HistogramVec
	IndexFailures       prometheus.Counter

	// HTTP API
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// Provider wraps the registry, metrics and tracer.
type Provider struct {
	Tracer   trace.Tracer
	Metrics  *Metrics
	registry *prometheus.Registry
}

// NewProvider creates a provider with its own registry, including Go and process collectors.
func NewProvider() *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Provider{
		Tracer:   otel.Tracer(serviceName),
		Metrics:  initMetrics(promauto.With(reg)),
		registry: reg,
	}
}

// Registry returns the provider's registry.
func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func initMetrics(f promauto.Factory) *Metrics {
	m := &Metrics{}

	m.FetchTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_fetch_total",
		Help:      "Source fetches by platform, operation and error kind (empty on success)",
	}, []string{"platform", "operation", "kind"})
	m.FetchDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "source_fetch_duration_seconds",
		Help:      "Source fetch latency",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"platform", "operation"})

	m.TasksTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_tasks_total",
		Help:      "Worker tasks by stage, outcome and error kind",
	}, []string{"stage", "outcome", "kind"})
	m.TaskDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "worker_task_duration_seconds",
		Help:      "Worker task latency",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"stage"})

	m.UnificationsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "unifications_total",
		Help:      "Unification attempts by mode and outcome",
	}, []string{"mode", "outcome"})
	m.UnificationDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "unification_duration_seconds",
		Help:      "Unification latency including the reasoning call",
		Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 60, 120},
	}, []string{"mode"})
	m.IndexFailures = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "property_index_failures_total",
		Help:      "Failed writes of unified properties to the read model",
	})

	m.HTTPRequests = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "API requests by method, route and status",
	}, []string{"method", "route", "status"})
	m.HTTPDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "API request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	return m
}

// ObserveFetch records one source fetch.
func (p *Provider) ObserveFetch(platform, operation string, kind failure.Kind, elapsed time.Duration) {
	p.Metrics.FetchTotal.WithLabelValues(platform, operation, string(kind)).Inc()
	p.Metrics.FetchDuration.WithLabelValues(platform, operation).Observe(elapsed.Seconds())
}

// ObserveTask records one worker task.
func (p *Provider) ObserveTask(stage, outcome string, kind failure.Kind, elapsed time.Duration) {
	p.Metrics.TasksTotal.WithLabelValues(stage, outcome, string(kind)).Inc()
	p.Metrics.TaskDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObserveUnification records one unification attempt.
func (p *Provider) ObserveUnification(mode domain.UnificationMode, outcome string, elapsed time.Duration) {
	p.Metrics.UnificationsTotal.WithLabelValues(string(mode), outcome).Inc()
	p.Metrics.UnificationDuration.WithLabelValues(string(mode)).Observe(elapsed.Seconds())
}

// ObserveIndexFailure records a failed read-model write.
func (p *Provider) ObserveIndexFailure() {
	p.Metrics.IndexFailures.Inc()
}
