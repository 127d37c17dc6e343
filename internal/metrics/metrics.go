// Package metrics provides Prometheus metrics instrumentation for the operator.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector provides metrics recording interface.
// This allows components to record metrics without direct prometheus dependency.
//
//nolint:interfacebloat // All methods are needed for comprehensive metrics coverage
type Collector interface {
	// Reconcile metrics
	RecordReconcileDuration(ctx context.Context, status string, duration time.Duration)
	RecordManagedHostnames(ctx context.Context, tunnel string, count int)
	RecordIngressRules(ctx context.Context, tunnel string, count int)
	RecordSkippedBackends(ctx context.Context, count int)
	RecordReconcileError(ctx context.Context, errorType string)

	// Cloudflare API metrics
	RecordAPICall(ctx context.Context, method, resource, status string, duration time.Duration)
	RecordAPIError(ctx context.Context, method, errorType string)

	// Connector (cloudflared workload) metrics
	RecordConnectorOperation(ctx context.Context, operation, status string, duration time.Duration)
	RecordConnectorError(ctx context.Context, operation, errorType string)

	// Desired-state builder metrics
	RecordBuildDuration(ctx context.Context, duration time.Duration)
	RecordBackendValidation(ctx context.Context, result, reason string)
}

// prometheusCollector implements Collector using Prometheus metrics.
type prometheusCollector struct {
	// Reconcile metrics
	reconcileDuration    *prometheus.HistogramVec
	managedHostnames     *prometheus.GaugeVec
	ingressRules         *prometheus.GaugeVec
	skippedBackends      prometheus.Gauge
	reconcileErrorsTotal *prometheus.CounterVec

	// Cloudflare API metrics
	apiDuration    *prometheus.HistogramVec
	apiCallsTotal  *prometheus.CounterVec
	apiErrorsTotal *prometheus.CounterVec

	// Connector metrics
	connectorDuration    *prometheus.HistogramVec
	connectorOpsTotal    *prometheus.CounterVec
	connectorErrorsTotal *prometheus.CounterVec

	// Builder metrics
	buildDuration     prometheus.Histogram
	backendValidation *prometheus.CounterVec
}

// NewCollector creates a new Prometheus metrics collector and registers metrics.
func NewCollector(reg prometheus.Registerer) Collector {
	c := &prometheusCollector{}
	c.initReconcileMetrics()
	c.initAPIMetrics()
	c.initConnectorMetrics()
	c.initBuilderMetrics()
	c.register(reg)

	return c
}

// RecordReconcileDuration records the duration of a ClusterTunnel reconciliation.
func (c *prometheusCollector) RecordReconcileDuration(_ context.Context, status string, duration time.Duration) {
	c.reconcileDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordManagedHostnames records the number of DNS hostnames managed per tunnel.
func (c *prometheusCollector) RecordManagedHostnames(_ context.Context, tunnel string, count int) {
	c.managedHostnames.WithLabelValues(tunnel).Set(float64(count))
}

// RecordIngressRules records the number of ingress rules in the tunnel config.
func (c *prometheusCollector) RecordIngressRules(_ context.Context, tunnel string, count int) {
	c.ingressRules.WithLabelValues(tunnel).Set(float64(count))
}

// RecordSkippedBackends records the number of Ingress backends that could not
// be resolved to a Service URL.
func (c *prometheusCollector) RecordSkippedBackends(_ context.Context, count int) {
	c.skippedBackends.Set(float64(count))
}

// RecordReconcileError records a reconciliation error by type.
func (c *prometheusCollector) RecordReconcileError(_ context.Context, errorType string) {
	c.reconcileErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordAPICall records a Cloudflare API call.
func (c *prometheusCollector) RecordAPICall(
	_ context.Context,
	method, resource, status string,
	duration time.Duration,
) {
	c.apiDuration.WithLabelValues(method, resource).Observe(duration.Seconds())
	c.apiCallsTotal.WithLabelValues(method, resource, status).Inc()
}

// RecordAPIError records a Cloudflare API error.
func (c *prometheusCollector) RecordAPIError(_ context.Context, method, errorType string) {
	c.apiErrorsTotal.WithLabelValues(method, errorType).Inc()
}

// RecordConnectorOperation records an operation on the cloudflared workload.
func (c *prometheusCollector) RecordConnectorOperation(
	_ context.Context,
	operation, status string,
	duration time.Duration,
) {
	c.connectorDuration.WithLabelValues(operation).Observe(duration.Seconds())
	c.connectorOpsTotal.WithLabelValues(operation, status).Inc()
}

// RecordConnectorError records a cloudflared workload error.
func (c *prometheusCollector) RecordConnectorError(_ context.Context, operation, errorType string) {
	c.connectorErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordBuildDuration records the duration of desired-state building.
func (c *prometheusCollector) RecordBuildDuration(_ context.Context, duration time.Duration) {
	c.buildDuration.Observe(duration.Seconds())
}

// RecordBackendValidation records a backend resolution result.
func (c *prometheusCollector) RecordBackendValidation(_ context.Context, result, reason string) {
	c.backendValidation.WithLabelValues(result, reason).Inc()
}

func (c *prometheusCollector) initReconcileMetrics() {
	c.reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cftunnel_reconcile_duration_seconds",
			Help:    "Duration of ClusterTunnel reconciliation",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)
	c.managedHostnames = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cftunnel_managed_hostnames",
			Help: "Number of DNS hostnames managed per tunnel",
		},
		[]string{"tunnel"},
	)
	c.ingressRules = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cftunnel_ingress_rules",
			Help: "Ingress rules in tunnel config per tunnel",
		},
		[]string{"tunnel"},
	)
	c.skippedBackends = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cftunnel_skipped_backends",
			Help: "Ingress backends that could not be resolved",
		},
	)
	c.reconcileErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cftunnel_reconcile_errors_total",
			Help: "Total reconciliation errors by type",
		},
		[]string{"error_type"},
	)
}

func (c *prometheusCollector) initAPIMetrics() {
	c.apiDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cftunnel_cloudflare_api_duration_seconds",
			Help:    "Duration of Cloudflare API calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "resource"},
	)
	c.apiCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cftunnel_cloudflare_api_calls_total",
			Help: "Total Cloudflare API calls",
		},
		[]string{"method", "resource", "status"},
	)
	c.apiErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cftunnel_cloudflare_api_errors_total",
			Help: "Total Cloudflare API errors by type",
		},
		[]string{"method", "error_type"},
	)
}

func (c *prometheusCollector) initConnectorMetrics() {
	c.connectorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cftunnel_connector_operation_duration_seconds",
			Help:    "Duration of cloudflared workload operations",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)
	c.connectorOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cftunnel_connector_operations_total",
			Help: "Total cloudflared workload operations",
		},
		[]string{"operation", "status"},
	)
	c.connectorErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cftunnel_connector_errors_total",
			Help: "Total cloudflared workload errors by type",
		},
		[]string{"operation", "error_type"},
	)
}

func (c *prometheusCollector) initBuilderMetrics() {
	c.buildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cftunnel_build_duration_seconds",
			Help:    "Duration of desired-state building",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)
	c.backendValidation = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cftunnel_backend_validation_total",
			Help: "Ingress backend resolution results",
		},
		[]string{"result", "reason"},
	)
}

func (c *prometheusCollector) register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.reconcileDuration,
		c.managedHostnames,
		c.ingressRules,
		c.skippedBackends,
		c.reconcileErrorsTotal,
		c.apiDuration,
		c.apiCallsTotal,
		c.apiErrorsTotal,
		c.connectorDuration,
		c.connectorOpsTotal,
		c.connectorErrorsTotal,
		c.buildDuration,
		c.backendValidation,
	)
}

// NoopCollector is a no-op implementation of Collector for testing.
type NoopCollector struct{}

// NewNoopCollector creates a new no-op collector.
func NewNoopCollector() *NoopCollector {
	return &NoopCollector{}
}

// RecordReconcileDuration is a no-op.
func (c *NoopCollector) RecordReconcileDuration(_ context.Context, _ string, _ time.Duration) {}

// RecordManagedHostnames is a no-op.
func (c *NoopCollector) RecordManagedHostnames(_ context.Context, _ string, _ int) {}

// RecordIngressRules is a no-op.
func (c *NoopCollector) RecordIngressRules(_ context.Context, _ string, _ int) {}

// RecordSkippedBackends is a no-op.
func (c *NoopCollector) RecordSkippedBackends(_ context.Context, _ int) {}

// RecordReconcileError is a no-op.
func (c *NoopCollector) RecordReconcileError(_ context.Context, _ string) {}

// RecordAPICall is a no-op.
func (c *NoopCollector) RecordAPICall(_ context.Context, _, _, _ string, _ time.Duration) {}

// RecordAPIError is a no-op.
func (c *NoopCollector) RecordAPIError(_ context.Context, _, _ string) {}

// RecordConnectorOperation is a no-op.
func (c *NoopCollector) RecordConnectorOperation(_ context.Context, _, _ string, _ time.Duration) {}

// RecordConnectorError is a no-op.
func (c *NoopCollector) RecordConnectorError(_ context.Context, _, _ string) {}

// RecordBuildDuration is a no-op.
func (c *NoopCollector) RecordBuildDuration(_ context.Context, _ time.Duration) {}

// RecordBackendValidation is a no-op.
func (c *NoopCollector) RecordBackendValidation(_ context.Context, _, _ string) {}
