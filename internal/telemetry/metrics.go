package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AuthMetrics holds metric instruments for authentication resolution.
// Initialize once at startup and share; instruments are safe for concurrent
// use.
type AuthMetrics struct {
	Attempts   metric.Int64Counter     // resolutions, by channel and outcome
	Rejections metric.Int64Counter     // resolutions that did not proceed
	Duration   metric.Float64Histogram // resolution latency
}

// NewAuthMetrics creates the authentication instruments.
func NewAuthMetrics() (*AuthMetrics, error) {
	meter := otel.Meter("grid/authn")

	attempts, err := meter.Int64Counter(
		"auth.resolution.count",
		metric.WithDescription("Total authentication resolutions"),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		return nil, err
	}

	rejections, err := meter.Int64Counter(
		"auth.rejection.count",
		metric.WithDescription("Authentication resolutions that did not proceed"),
		metric.WithUnit("{rejection}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"auth.resolution.duration",
		metric.WithDescription("Authentication resolution duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500, 1000),
	)
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{
		Attempts:   attempts,
		Rejections: rejections,
		Duration:   duration,
	}, nil
}

// RecordAuth records one resolution. channel is "api" or "user"; outcome is
// the status short name; proceeded reports whether the request went through.
func (m *AuthMetrics) RecordAuth(ctx context.Context, channel, outcome string, proceeded bool, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String(AttrAuthChannel, channel),
		attribute.String(AttrAuthOutcome, outcome),
	)

	m.Attempts.Add(ctx, 1, attrs)
	m.Duration.Record(ctx, durationMs, attrs)

	if !proceeded {
		m.Rejections.Add(ctx, 1, attrs)
	}
}

// RegistryMetrics holds metric instruments for the accessor registry.
type RegistryMetrics struct {
	SnapshotSize    metric.Int64Gauge       // accessors in the active snapshot
	RefreshDuration metric.Float64Histogram // snapshot rebuild latency
	RefreshErrors   metric.Int64Counter     // failed refresh attempts
}

// NewRegistryMetrics creates the registry instruments.
func NewRegistryMetrics() (*RegistryMetrics, error) {
	meter := otel.Meter("grid/registry")

	size, err := meter.Int64Gauge(
		"registry.snapshot.size",
		metric.WithDescription("Accessors in the active registry snapshot"),
		metric.WithUnit("{accessor}"),
	)
	if err != nil {
		return nil, err
	}

	refreshDuration, err := meter.Float64Histogram(
		"registry.refresh.duration",
		metric.WithDescription("Registry snapshot rebuild duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500),
	)
	if err != nil {
		return nil, err
	}

	refreshErrors, err := meter.Int64Counter(
		"registry.refresh.error.count",
		metric.WithDescription("Failed registry refresh attempts"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &RegistryMetrics{
		SnapshotSize:    size,
		RefreshDuration: refreshDuration,
		RefreshErrors:   refreshErrors,
	}, nil
}

// RecordRefresh records one snapshot rebuild.
func (m *RegistryMetrics) RecordRefresh(ctx context.Context, size int, durationMs float64, err error) {
	m.RefreshDuration.Record(ctx, durationMs)
	if err != nil {
		m.RefreshErrors.Add(ctx, 1)
		return
	}
	m.SnapshotSize.Record(ctx, int64(size))
}

// ServerMetrics holds metric instruments for the HTTP server.
type ServerMetrics struct {
	RequestCounter  metric.Int64Counter     // requests by method, route, status
	RequestDuration metric.Float64Histogram // request latency
	ErrorCounter    metric.Int64Counter     // 5xx responses
}

// NewServerMetrics creates the HTTP server instruments.
func NewServerMetrics() (*ServerMetrics, error) {
	meter := otel.Meter("grid/http")

	requestCounter, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"http.server.error.count",
		metric.WithDescription("Total HTTP 5xx responses"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &ServerMetrics{
		RequestCounter:  requestCounter,
		RequestDuration: requestDuration,
		ErrorCounter:    errorCounter,
	}, nil
}

// RecordRequest records one HTTP request, typically from middleware.
func (m *ServerMetrics) RecordRequest(ctx context.Context, method, route, status string, durationMs float64) {
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.String("http.status_code", status),
	)

	m.RequestCounter.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, durationMs, attrs)

	if len(status) > 0 && status[0] == '5' {
		m.ErrorCounter.Add(ctx, 1, attrs)
	}
}
