// Package observability provides logging, metrics and tracing for conduit.
//
// # Logging
//
// NewLogger returns a *slog.Logger whose handler redacts secrets (API keys,
// bearer tokens, JWTs) and adds correlation fields stored in the context:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	ctx = observability.AddRequestID(ctx, "req-123")
//	logger.InfoContext(ctx, "turn started", "session_id", sessionID)
//
// # Metrics
//
// Metrics wraps the Prometheus collectors exposed on /metrics. All methods are
// safe to call on a nil *Metrics, so components can be constructed without
// instrumentation in tests.
//
// # Tracing
//
// Tracer wraps an OpenTelemetry tracer exporting over OTLP/gRPC. A nil *Tracer
// or an empty endpoint yields no-op spans.
package observability
