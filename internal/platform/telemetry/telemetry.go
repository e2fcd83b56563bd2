package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "tenantgate"

// ShutdownFunc releases telemetry resources.
type ShutdownFunc func(ctx context.Context) error

// Setup initializes OpenTelemetry: a meter provider exporting to Prometheus
// and a sampling tracer provider. Span processors, such as an exporter's
// batcher, receive every finished span.
// Returns a shutdown function that must be called on exit.
func Setup(ctx context.Context, serviceName string, spanProcessors ...sdktrace.SpanProcessor) (ShutdownFunc, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter for %s: %w", serviceName, err)
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	}
	for _, sp := range spanProcessors {
		opts = append(opts, sdktrace.WithSpanProcessor(sp))
	}
	tracerProvider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tracerProvider)

	return func(ctx context.Context) error {
		return errors.Join(tracerProvider.Shutdown(ctx), meterProvider.Shutdown(ctx))
	}, nil
}

// MetricsHandler returns an http.Handler that serves Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Tracer returns the tracer used for gateway spans, taken from the global
// TracerProvider installed by Setup.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// GatewayMetrics holds all OTel instruments for the gateway.
type GatewayMetrics struct {
	httpRequestsTotal       otelmetric.Int64Counter
	httpRequestDuration     otelmetric.Float64Histogram
	authAttemptsTotal       otelmetric.Int64Counter
	authDuration            otelmetric.Float64Histogram
	keysetFetchesTotal      otelmetric.Int64Counter
	keysetCacheTotal        otelmetric.Int64Counter
	tenantLookupsTotal      otelmetric.Int64Counter
	rateLimitDecisionsTotal otelmetric.Int64Counter
	proxyRequestsTotal      otelmetric.Int64Counter
	proxyDuration           otelmetric.Float64Histogram
}

// NewGatewayMetrics creates and registers all gateway metrics on the global
// MeterProvider.
func NewGatewayMetrics() (*GatewayMetrics, error) {
	return NewGatewayMetricsFor(otel.GetMeterProvider())
}

// NewGatewayMetricsFor creates the gateway metrics on provider.
func NewGatewayMetricsFor(provider otelmetric.MeterProvider) (*GatewayMetrics, error) {
	meter := provider.Meter(instrumentationName)
	m := &GatewayMetrics{}
	var err error

	latencyBuckets := otelmetric.WithExplicitBucketBoundaries(
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
	)

	if m.httpRequestsTotal, err = meter.Int64Counter("tenantgate_http_requests_total",
		otelmetric.WithDescription("Total HTTP requests")); err != nil {
		return nil, fmt.Errorf("creating http_requests_total: %w", err)
	}
	if m.httpRequestDuration, err = meter.Float64Histogram("tenantgate_http_request_duration_seconds",
		otelmetric.WithDescription("HTTP request duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating http_request_duration: %w", err)
	}
	if m.authAttemptsTotal, err = meter.Int64Counter("tenantgate_auth_attempts_total",
		otelmetric.WithDescription("Total authentication attempts by outcome")); err != nil {
		return nil, fmt.Errorf("creating auth_attempts_total: %w", err)
	}
	if m.authDuration, err = meter.Float64Histogram("tenantgate_auth_duration_seconds",
		otelmetric.WithDescription("Duration of the authentication pipeline"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating auth_duration: %w", err)
	}
	if m.keysetFetchesTotal, err = meter.Int64Counter("tenantgate_keyset_fetches_total",
		otelmetric.WithDescription("Total key set fetches from the IdP")); err != nil {
		return nil, fmt.Errorf("creating keyset_fetches_total: %w", err)
	}
	if m.keysetCacheTotal, err = meter.Int64Counter("tenantgate_keyset_cache_total",
		otelmetric.WithDescription("Key set cache lookups by result")); err != nil {
		return nil, fmt.Errorf("creating keyset_cache_total: %w", err)
	}
	if m.tenantLookupsTotal, err = meter.Int64Counter("tenantgate_tenant_lookups_total",
		otelmetric.WithDescription("Tenant lookups by signal source and result")); err != nil {
		return nil, fmt.Errorf("creating tenant_lookups_total: %w", err)
	}
	if m.rateLimitDecisionsTotal, err = meter.Int64Counter("tenantgate_ratelimit_decisions_total",
		otelmetric.WithDescription("Total rate limit decisions")); err != nil {
		return nil, fmt.Errorf("creating ratelimit_decisions_total: %w", err)
	}
	if m.proxyRequestsTotal, err = meter.Int64Counter("tenantgate_proxy_requests_total",
		otelmetric.WithDescription("Total proxied requests")); err != nil {
		return nil, fmt.Errorf("creating proxy_requests_total: %w", err)
	}
	if m.proxyDuration, err = meter.Float64Histogram("tenantgate_proxy_duration_seconds",
		otelmetric.WithDescription("Proxied request duration"), latencyBuckets); err != nil {
		return nil, fmt.Errorf("creating proxy_duration: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric.
func (m *GatewayMetrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, durationSec float64) {
	attrs := otelmetric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(status),
	)
	m.httpRequestsTotal.Add(ctx, 1, attrs)
	m.httpRequestDuration.Record(ctx, durationSec, attrs)
}

// RecordAuthAttempt records one pass through the gateway pipeline.
// kind is empty on success.
func (m *GatewayMetrics) RecordAuthAttempt(ctx context.Context, outcome, kind, mode string, durationSec float64) {
	m.authAttemptsTotal.Add(ctx, 1, otelmetric.WithAttributes(
		outcomeAttr(outcome),
		kindAttr(kind),
		modeAttr(mode),
	))
	m.authDuration.Record(ctx, durationSec, otelmetric.WithAttributes(
		outcomeAttr(outcome),
		modeAttr(mode),
	))
}

// RecordKeySetFetch records a key set fetch attempt against the IdP.
func (m *GatewayMetrics) RecordKeySetFetch(ctx context.Context, result string) {
	m.keysetFetchesTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordKeySetCache records a key set cache lookup (hit, miss, stale, unavailable).
func (m *GatewayMetrics) RecordKeySetCache(ctx context.Context, result string) {
	m.keysetCacheTotal.Add(ctx, 1, otelmetric.WithAttributes(resultAttr(result)))
}

// RecordTenantLookup records a tenant lookup by signal source (identity, header, host, cache).
func (m *GatewayMetrics) RecordTenantLookup(ctx context.Context, source, result string) {
	m.tenantLookupsTotal.Add(ctx, 1, otelmetric.WithAttributes(
		sourceAttr(source),
		resultAttr(result),
	))
}

// RecordRateLimitDecision records a rate limit decision.
func (m *GatewayMetrics) RecordRateLimitDecision(ctx context.Context, layer, result string) {
	m.rateLimitDecisionsTotal.Add(ctx, 1, otelmetric.WithAttributes(
		layerAttr(layer),
		resultAttr(result),
	))
}

// RecordProxyRequest records a request forwarded to the upstream.
func (m *GatewayMetrics) RecordProxyRequest(ctx context.Context, upstream string, status int, durationSec float64) {
	attrs := otelmetric.WithAttributes(
		upstreamAttr(upstream),
		statusAttr(status),
	)
	m.proxyRequestsTotal.Add(ctx, 1, attrs)
	m.proxyDuration.Record(ctx, durationSec, attrs)
}
