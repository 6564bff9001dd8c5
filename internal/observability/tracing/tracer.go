// Package tracing wires OpenTelemetry tracing: the process tracer provider,
// a span exporter that writes finished spans to the structured log, and an
// HTTP middleware for the operational servers.
package tracing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of the operational servers.
const TracerName = "changewatch/http"

// Tracer returns the tracer of the registered provider. Resolved on each
// call so a provider installed by Init is picked up.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
