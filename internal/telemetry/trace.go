package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a span for a service operation.
//
// Usage:
//
//	ctx, span := telemetry.StartSpan(ctx, "grid/registry", "registry.Refresh",
//	    attribute.Int("registry.size", size),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and marks the span status.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named business event to the span.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys for grid auth services.
const (
	// Resolution attributes
	AttrAuthChannel = "auth.channel"
	AttrAuthOutcome = "auth.outcome"

	// Principal attributes
	AttrPrincipalID   = "principal.id"
	AttrPrincipalTier = "principal.tier"

	// Accessor registry attributes
	AttrAccessorName = "accessor.name"
	AttrAccessorTier = "accessor.tier"
	AttrRegistrySize = "registry.size"

	// Permission checker attributes
	AttrPermissionAction  = "permission.action"
	AttrPermissionAllowed = "permission.allowed"
)
