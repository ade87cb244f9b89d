package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	spanRecorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(spanRecorder),
	)
	otel.SetTracerProvider(provider)

	return spanRecorder
}

func TestStartDatabaseSpan(t *testing.T) {
	recorder := setupTestTracer(t)
	ctx := context.Background()

	tests := []struct {
		name          string
		operation     SpanOperation
		opts          []DatabaseSpanOption
		expectedName  string
		expectedAttrs map[string]interface{}
	}{
		{
			name:         "query without options",
			operation:    SpanOperationDBQuery,
			expectedName: "DB db.query",
			expectedAttrs: map[string]interface{}{
				"db.operation": "db.query",
			},
		},
		{
			name:         "query with table",
			operation:    SpanOperationDBQuery,
			opts:         []DatabaseSpanOption{WithDBTable("users")},
			expectedName: "DB db.query users",
			expectedAttrs: map[string]interface{}{
				"db.operation": "db.query",
				"db.table":     "users",
			},
		},
		{
			name:      "exec with all options",
			operation: SpanOperationDBExec,
			opts: []DatabaseSpanOption{
				WithDBTable("orders"),
				WithDBSystem("postgresql"),
				WithDBStatement("INSERT INTO orders (id, total) VALUES ($1, $2)"),
			},
			expectedName: "DB db.exec orders",
			expectedAttrs: map[string]interface{}{
				"db.operation": "db.exec",
				"db.table":     "orders",
				"db.system":    "postgresql",
				"db.statement": "INSERT INTO orders (id, total) VALUES ($1, $2)",
			},
		},
		{
			name:         "transactional call",
			operation:    SpanOperationDBTx,
			opts:         []DatabaseSpanOption{WithDBSystem("mysql"), WithTransaction("PlaceOrder", "tx-1", true)},
			expectedName: "DB db.transaction",
			expectedAttrs: map[string]interface{}{
				"db.system":  "mysql",
				"uow.method": "PlaceOrder",
				"uow.tx_id":  "tx-1",
				"uow.owner":  true,
			},
		},
		{
			name:         "migration",
			operation:    SpanOperationDBMigrate,
			opts:         []DatabaseSpanOption{WithMigration(3, "up")},
			expectedName: "DB db.migrate",
			expectedAttrs: map[string]interface{}{
				"migration.version":   int64(3),
				"migration.direction": "up",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder.Reset()

			_, span := StartDatabaseSpan(ctx, tt.operation, tt.opts...)
			if span == nil {
				t.Fatal("expected span to be non-nil")
			}
			span.End()

			spans := recorder.Ended()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}

			got := spans[0]
			if got.Name() != tt.expectedName {
				t.Errorf("span name = %q, want %q", got.Name(), tt.expectedName)
			}
			if got.InstrumentationScope().Name != instrumentationName {
				t.Errorf("instrumentation scope = %q", got.InstrumentationScope().Name)
			}

			attrs := attribute.NewSet(got.Attributes()...)
			for key, want := range tt.expectedAttrs {
				v, ok := attrs.Value(attribute.Key(key))
				if !ok {
					t.Errorf("attribute %s not found", key)
					continue
				}
				if v.AsInterface() != want {
					t.Errorf("attribute %s = %v, want %v", key, v.AsInterface(), want)
				}
			}
		})
	}
}

func TestRecordError(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := otel.Tracer("test").Start(context.Background(), "test-span")
	testErr := errors.New("commit failed")
	RecordError(span, testErr)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	recordedSpan := spans[0]
	events := recordedSpan.Events()
	if len(events) != 1 || events[0].Name != "exception" {
		t.Fatalf("expected a single exception event, got %v", events)
	}
	if recordedSpan.Status().Code != codes.Error {
		t.Errorf("expected span status Error, got %v", recordedSpan.Status().Code)
	}
	if recordedSpan.Status().Description != testErr.Error() {
		t.Errorf("expected span status description %q, got %q", testErr.Error(), recordedSpan.Status().Description)
	}
}

func TestRecordError_NilIsNoop(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := otel.Tracer("test").Start(context.Background(), "test-span")
	RecordError(span, nil)
	span.End()

	if got := recorder.Ended()[0].Status().Code; got != codes.Unset {
		t.Errorf("expected status Unset, got %v", got)
	}
}

func TestRecordSuccess(t *testing.T) {
	recorder := setupTestTracer(t)

	_, span := otel.Tracer("test").Start(context.Background(), "test-span")
	RecordSuccess(span)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Ok {
		t.Errorf("expected span status Ok, got %v", spans[0].Status().Code)
	}
}
