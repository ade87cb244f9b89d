package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/nimburion/unitofwork"

// SpanOperation represents a traced operation type.
type SpanOperation string

const (
	// SpanOperationDBQuery is a statement that returns rows.
	SpanOperationDBQuery SpanOperation = "db.query"
	// SpanOperationDBExec is a statement that only reports affected rows.
	SpanOperationDBExec SpanOperation = "db.exec"
	// SpanOperationDBTx spans one transactional call, from begin to commit or rollback.
	SpanOperationDBTx SpanOperation = "db.transaction"
	// SpanOperationDBMigrate spans applying or reverting one schema migration.
	SpanOperationDBMigrate SpanOperation = "db.migrate"
)

// DatabaseSpanOption configures a database span.
type DatabaseSpanOption func(*spanConfig)

type spanConfig struct {
	table string
	attrs []attribute.KeyValue
}

func (c *spanConfig) add(kv ...attribute.KeyValue) {
	c.attrs = append(c.attrs, kv...)
}

// StartDatabaseSpan starts a client span named "DB <operation>[ <table>]" on
// the global tracer provider.
func StartDatabaseSpan(ctx context.Context, operation SpanOperation, opts ...DatabaseSpanOption) (context.Context, trace.Span) {
	cfg := spanConfig{attrs: []attribute.KeyValue{attribute.String("db.operation", string(operation))}}
	for _, opt := range opts {
		opt(&cfg)
	}

	name := "DB " + string(operation)
	if cfg.table != "" {
		name += " " + cfg.table
	}
	return otel.Tracer(instrumentationName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(cfg.attrs...),
	)
}

// WithDBTable names the table and appends it to the span name.
func WithDBTable(table string) DatabaseSpanOption {
	return func(c *spanConfig) {
		c.table = table
		c.add(attribute.String("db.table", table))
	}
}

// WithDBSystem sets db.system, e.g. "postgresql" or "mysql".
func WithDBSystem(system string) DatabaseSpanOption {
	return func(c *spanConfig) { c.add(attribute.String("db.system", system)) }
}

// WithDBStatement records the statement text after placeholder rewriting.
func WithDBStatement(statement string) DatabaseSpanOption {
	return func(c *spanConfig) { c.add(attribute.String("db.statement", statement)) }
}

// WithTransaction tags the span with the unit-of-work call it belongs to.
// owner is true when the call opened the transaction itself.
func WithTransaction(method, txID string, owner bool) DatabaseSpanOption {
	return func(c *spanConfig) {
		c.add(
			attribute.String("uow.method", method),
			attribute.String("uow.tx_id", txID),
			attribute.Bool("uow.owner", owner),
		)
	}
}

// WithMigration tags the span with a migration version and direction.
func WithMigration(version int64, direction string) DatabaseSpanOption {
	return func(c *spanConfig) {
		c.add(
			attribute.Int64("migration.version", version),
			attribute.String("migration.direction", direction),
		)
	}
}

// RecordError records err on span and marks the span as failed. A nil err
// leaves the span untouched.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess sets the span status to OK.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
