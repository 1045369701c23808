package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

type ctxKey int

const (
	loggerKey ctxKey = iota
	requestIDKey
)

// NewRequestContext stores the request id and a logger derived from base that
// carries request_id plus the trace and span ids of the active span.
func NewRequestContext(ctx context.Context, base *slog.Logger, requestID string) context.Context {
	if base == nil {
		base = slog.Default()
	}
	lg := base.With(slog.String("request_id", requestID))
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		lg = lg.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return ContextWithRequestID(ContextWithLogger(ctx, lg), requestID)
}

// ContextWithLogger attaches a non-nil logger to the context.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if lg == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, lg)
}

// LoggerFromContext falls back to slog.Default.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if lg, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
			return lg
		}
	}
	return slog.Default()
}

// ContextWithRequestID stores a non-empty request id.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns "" when no id is stored.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	rid, _ := ctx.Value(requestIDKey).(string)
	return rid
}

// WithConversation tags the context logger with conversation_id.
func WithConversation(ctx context.Context, conversationID string) context.Context {
	if conversationID == "" {
		return ctx
	}
	return ContextWithLogger(ctx, LoggerFromContext(ctx).With(slog.String("conversation_id", conversationID)))
}
