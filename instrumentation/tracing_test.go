package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

func TestRecordError(t *testing.T) {
	inst, err := New(Config{
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := inst.Tracer("server").Start(ctx, "test-span")
	defer span.End()

	testErr := errors.New("test error")
	RecordError(span, testErr)

	// Should not panic
}

func TestSetSpanSuccess(t *testing.T) {
	inst, err := New(Config{
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := inst.Tracer("server").Start(ctx, "test-span")
	defer span.End()

	SetSpanSuccess(span)

	// Should not panic
}

func TestAddFlowAttributes(t *testing.T) {
	inst, err := New(Config{
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := inst.Tracer("server").Start(ctx, "test-span")
	defer span.End()

	AddFlowAttributes(span, "test-client", "test-user", "openid email")
	AddFlowAttributes(span, "test-client-2", "", "")
	AddFlowAttributes(span, "", "test-user-2", "")

	// Should not panic
}

func TestAddStorageAttributes(t *testing.T) {
	inst, err := New(Config{
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := inst.Tracer("server").Start(ctx, "test-span")
	defer span.End()

	AddStorageAttributes(span, "save_access_token", "memory")
	AddStorageAttributes(span, "get_access_token", "redis")

	// Should not panic
}

func TestAddHTTPAttributes(t *testing.T) {
	inst, err := New(Config{
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := inst.Tracer("server").Start(ctx, "test-span")
	defer span.End()

	AddHTTPAttributes(span, "GET", "/authorize", 200)
	AddHTTPAttributes(span, "POST", "/token", 401)

	// Should not panic
}

func TestSpanLifecycle(t *testing.T) {
	inst, err := New(Config{
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()

	_, span := inst.Tracer("server").Start(ctx, "oidc.exchange_authorization_code")

	AddFlowAttributes(span, "test-client", "test-user", "openid email")
	AddHTTPAttributes(span, "POST", "/token", 200)

	testErr := errors.New("validation failed")
	RecordError(span, testErr)

	span.End()

	// Should complete without panic
}

func TestSpanNesting(t *testing.T) {
	inst, err := New(Config{
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()

	ctx, span1 := inst.Tracer("http").Start(ctx, "http.request")
	AddHTTPAttributes(span1, "POST", "/token", 200)

	ctx, span2 := inst.Tracer("server").Start(ctx, "oidc.exchange_code")
	AddFlowAttributes(span2, "test-client", "test-user", "openid")

	_, span3 := inst.Tracer("storage").Start(ctx, "storage.get_authorization_code")
	AddStorageAttributes(span3, "get_code", "memory")
	SetSpanSuccess(span3)
	span3.End()

	SetSpanSuccess(span2)
	span2.End()

	SetSpanSuccess(span1)
	span1.End()

	// Should complete without panic
}

func TestSpanConcurrency(t *testing.T) {
	inst, err := New(Config{
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	done := make(chan bool)

	for i := 0; i < 10; i++ {
		go func(id int) {
			for j := 0; j < 100; j++ {
				_, span := inst.Tracer("server").Start(ctx, "concurrent-span")
				AddFlowAttributes(span, "client", "user", "scope")
				SetSpanSuccess(span)
				span.End()
			}
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	// Should complete without race conditions
}

func TestNoOpSpans(t *testing.T) {
	inst, err := New(Config{
		Enabled: false,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()

	// Create and manipulate spans, all should be no-ops
	_, span := inst.Tracer("server").Start(ctx, "test-span")
	AddFlowAttributes(span, "client", "user", "scope")
	AddHTTPAttributes(span, "GET", "/test", 200)
	AddStorageAttributes(span, "save", "memory")
	RecordError(span, errors.New("test"))
	SetSpanSuccess(span)
	span.SetStatus(codes.Ok, "")
	span.End()

	// Should not panic
}

func TestSetSpanError(t *testing.T) {
	inst, err := New(Config{
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := inst.Tracer("server").Start(ctx, "test-span")
	defer span.End()

	SetSpanError(span, "test error message")

	// Should not panic
}

func TestSetSpanAttributes(t *testing.T) {
	inst, err := New(Config{
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	_, span := inst.Tracer("server").Start(ctx, "test-span")
	defer span.End()

	SetSpanAttributes(span,
		attribute.String("key1", "value1"),
		attribute.Int("key2", 42),
	)

	// Should not panic
}

func TestNilSafeHelpers_WithNilSpans(t *testing.T) {
	SetSpanError(nil, "error")
	SetSpanAttributes(nil, attribute.String("key", "value"))
	RecordError(nil, errors.New("test"))
	SetSpanSuccess(nil)
	AddFlowAttributes(nil, "client", "user", "scope")
	AddStorageAttributes(nil, "save", "memory")
	AddHTTPAttributes(nil, "GET", "/test", 200)

	// Should not panic
}
