package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all application metrics
type Metrics struct {
	meter metric.Meter

	// Upstream API metrics
	UpstreamCalls    metric.Int64Counter
	UpstreamDuration metric.Float64Histogram

	// Rate gate metrics
	RateGateWaits      metric.Int64Counter
	RateGateRejections metric.Int64Counter

	// Cache metrics
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter
	StaleServed metric.Int64Counter

	// Error handling metrics
	Errors           metric.Int64Counter
	ErrorsSuppressed metric.Int64Counter
	RecoveryAttempts metric.Int64Counter
	RecoverySuccess  metric.Int64Counter

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	// Prometheus exporter for HTTP handler
	exporter *prometheus.Exporter
}

// NewMetrics creates a new Metrics instance
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:    provider.Meter(serviceName),
		exporter: exporter,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initMetrics initializes all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	m.UpstreamCalls, err = m.meter.Int64Counter(
		"telemetry.upstream.calls",
		metric.WithDescription("Total upstream API calls"),
	)
	if err != nil {
		return err
	}

	m.UpstreamDuration, err = m.meter.Float64Histogram(
		"telemetry.upstream.duration",
		metric.WithDescription("Upstream API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.RateGateWaits, err = m.meter.Int64Counter(
		"telemetry.rategate.waits",
		metric.WithDescription("Calls delayed by minimum-spacing enforcement"),
	)
	if err != nil {
		return err
	}

	m.RateGateRejections, err = m.meter.Int64Counter(
		"telemetry.rategate.rejections",
		metric.WithDescription("Calls rejected by an exhausted rate window"),
	)
	if err != nil {
		return err
	}

	m.CacheHits, err = m.meter.Int64Counter(
		"telemetry.cache.hits",
		metric.WithDescription("Fresh cache hits"),
	)
	if err != nil {
		return err
	}

	m.CacheMisses, err = m.meter.Int64Counter(
		"telemetry.cache.misses",
		metric.WithDescription("Cache misses"),
	)
	if err != nil {
		return err
	}

	m.StaleServed, err = m.meter.Int64Counter(
		"telemetry.cache.stale_served",
		metric.WithDescription("Stale cache entries served as fallback"),
	)
	if err != nil {
		return err
	}

	m.Errors, err = m.meter.Int64Counter(
		"telemetry.errors",
		metric.WithDescription("Classified errors by kind"),
	)
	if err != nil {
		return err
	}

	m.ErrorsSuppressed, err = m.meter.Int64Counter(
		"telemetry.errors.suppressed",
		metric.WithDescription("Error occurrences silenced by suppression"),
	)
	if err != nil {
		return err
	}

	m.RecoveryAttempts, err = m.meter.Int64Counter(
		"telemetry.recovery.attempts",
		metric.WithDescription("Recovery strategy attempts"),
	)
	if err != nil {
		return err
	}

	m.RecoverySuccess, err = m.meter.Int64Counter(
		"telemetry.recovery.success",
		metric.WithDescription("Recovery strategies that produced a usable result"),
	)
	if err != nil {
		return err
	}

	m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"telemetry.circuit_breaker.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordUpstreamCall records an upstream API call with its outcome
func (m *Metrics) RecordUpstreamCall(ctx context.Context, operation string, status int, duration time.Duration) {
	if m.UpstreamCalls == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.Int("status", status),
	}
	m.UpstreamCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.UpstreamDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordRateGateWait records a call delayed by minimum spacing
func (m *Metrics) RecordRateGateWait(ctx context.Context) {
	if m.RateGateWaits == nil {
		return
	}
	m.RateGateWaits.Add(ctx, 1)
}

// RecordRateGateRejection records a call rejected by an exhausted window
func (m *Metrics) RecordRateGateRejection(ctx context.Context, scope string) {
	if m.RateGateRejections == nil {
		return
	}
	m.RateGateRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}

// RecordCacheHit records a fresh cache hit
func (m *Metrics) RecordCacheHit(ctx context.Context, layer string) {
	if m.CacheHits == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss(ctx context.Context, layer string) {
	if m.CacheMisses == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// RecordStaleServed records a stale entry served as fallback
func (m *Metrics) RecordStaleServed(ctx context.Context, family string) {
	if m.StaleServed == nil {
		return
	}
	m.StaleServed.Add(ctx, 1, metric.WithAttributes(attribute.String("family", family)))
}

// RecordError records a classified error
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	if m.Errors == nil {
		return
	}
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSuppressed records a suppressed error occurrence
func (m *Metrics) RecordSuppressed(ctx context.Context, kind string) {
	if m.ErrorsSuppressed == nil {
		return
	}
	m.ErrorsSuppressed.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordRecovery records a recovery attempt and whether it succeeded
func (m *Metrics) RecordRecovery(ctx context.Context, strategy string, success bool) {
	if m.RecoveryAttempts == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("strategy", strategy))
	m.RecoveryAttempts.Add(ctx, 1, attrs)
	if success {
		m.RecoverySuccess.Add(ctx, 1, attrs)
	}
}

// SetCircuitBreakerState sets circuit breaker state
// 0 = closed, 1 = open, 2 = half-open
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, service string, state int64) {
	if m.CircuitBreakerState == nil {
		return
	}
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("service", service)))
}

// Handler returns the HTTP handler for Prometheus metrics.
// The OTEL Prometheus exporter registers with the default registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
