// Package logger provides the structured logger used by sessions, stores,
// migrations and the uowctl command.
package logger

import (
	"context"
)

// Logger is a structured logger. All log methods accept a message string
// followed by key-value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With creates a child logger with additional key-value pairs that will be
	// included in all subsequent log entries
	With(args ...any) Logger

	// WithContext creates a child logger carrying the fields attached to ctx
	// with ContextWithFields
	WithContext(ctx context.Context) Logger
}

type fieldsKey struct{}

// ContextWithFields returns a copy of ctx carrying args in addition to any
// fields already attached. Loggers derived with WithContext include them.
func ContextWithFields(ctx context.Context, args ...any) context.Context {
	if len(args) == 0 {
		return ctx
	}
	existing := FieldsFromContext(ctx)
	fields := make([]any, 0, len(existing)+len(args))
	fields = append(fields, existing...)
	fields = append(fields, args...)
	return context.WithValue(ctx, fieldsKey{}, fields)
}

// FieldsFromContext returns the key-value pairs attached to ctx.
func FieldsFromContext(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(fieldsKey{}).([]any)
	return fields
}
