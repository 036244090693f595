package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey int

const (
	correlationIDKey contextKey = iota
	organizationIDKey
)

// Log field names shared by request and send loop logs.
const (
	FieldCorrelationID  = "correlationId"
	FieldOrganizationID = "organizationId"
)

func NewLogger(level string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		return zapcore.InfoLevel, nil
	}

	var parsed zapcore.Level
	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return parsed, nil
}

// WithCorrelationID tags ctx with the request's correlation id.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return withValue(ctx, correlationIDKey, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, correlationIDKey)
}

// WithOrganizationID tags ctx with the tenant a request or send job acts for.
func WithOrganizationID(ctx context.Context, organizationID string) context.Context {
	return withValue(ctx, organizationIDKey, organizationID)
}

func OrganizationIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, organizationIDKey)
}

// ContextFields returns the log fields carried by ctx, in a stable order.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if correlationID, ok := CorrelationIDFromContext(ctx); ok {
		fields = append(fields, zap.String(FieldCorrelationID, correlationID))
	}
	if organizationID, ok := OrganizationIDFromContext(ctx); ok {
		fields = append(fields, zap.String(FieldOrganizationID, organizationID))
	}
	return fields
}

// WithContextLogger scopes logger to the correlation and organization ids on ctx.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

func withValue(ctx context.Context, key contextKey, value string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, key, value)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(key).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}
