package logger

import (
	"context"
	"log/slog"
)

// ContextKey is the type of logging keys stored in a context.
type ContextKey string

const (
	RequestIDKey  ContextKey = "request_id"
	SessionIDKey  ContextKey = "yba.session.id"
	IdentityIDKey ContextKey = "yba.identity.id"
	MemberIDKey   ContextKey = "yba.member.id"
	OperationKey  ContextKey = "operation"
)

// contextKeys are copied onto log records in this order.
var contextKeys = []ContextKey{RequestIDKey, SessionIDKey, IdentityIDKey, MemberIDKey, OperationKey}

// GlobalContext is set by Init.
var GlobalContext *ContextLogger

// ContextLogger enriches a logger with the business keys found in a context.
type ContextLogger struct {
	logger *slog.Logger
}

// NewContextLogger wraps logger.
func NewContextLogger(logger *slog.Logger) *ContextLogger {
	return &ContextLogger{logger: logger}
}

// WithContext returns a logger carrying every known key present in ctx.
func (cl *ContextLogger) WithContext(ctx context.Context) *slog.Logger {
	var fields []any
	for _, k := range contextKeys {
		if k == SessionIDKey {
			// TraceContextHandler adds it per record.
			continue
		}
		if v, ok := ctx.Value(k).(string); ok && v != "" {
			fields = append(fields, string(k), v)
		}
	}
	if len(fields) == 0 {
		return cl.logger
	}
	return cl.logger.With(fields...)
}

// LogDuration logs how long an operation took.
func (cl *ContextLogger) LogDuration(ctx context.Context, operation string, durationMs int64) {
	cl.WithContext(ctx).InfoContext(ctx, "operation completed",
		"operation", operation,
		"duration_ms", durationMs)
}

// LogError logs a failed operation.
func (cl *ContextLogger) LogError(ctx context.Context, operation string, err error) {
	cl.WithContext(ctx).ErrorContext(ctx, "operation failed",
		"operation", operation,
		"error", err.Error())
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

func WithIdentityID(ctx context.Context, identityID string) context.Context {
	return context.WithValue(ctx, IdentityIDKey, identityID)
}

func WithMemberID(ctx context.Context, memberID string) context.Context {
	return context.WithValue(ctx, MemberIDKey, memberID)
}

func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}
