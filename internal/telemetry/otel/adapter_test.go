package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"citizen-identity/session-notifications/internal/telemetry"
)

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if em == nil {
		t.Fatal("NewEventEmitter(nil) returned nil")
	}
	if err := em.Emit(context.Background(), telemetry.Event{Name: "x"}); err != nil {
		t.Errorf("noop Emit: %v", err)
	}
}

func TestNewEventEmitter_WithProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	em := NewEventEmitter(provider)
	if err := em.Emit(context.Background(), telemetry.Event{Name: "session.expired"}); err != nil {
		t.Errorf("Emit: %v", err)
	}
}

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec otellog.Record
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
}

var _ RecordLogger = (*recordCapture)(nil)

func TestEmit_AttributeAndBodyMapping(t *testing.T) {
	capture := &recordCapture{}
	em := NewEventEmitterWithLogger(capture)
	occurred := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	event := telemetry.Event{
		Name: "session.processor.maxRetryReached",
		Properties: map[string]string{
			"subjectId": "subject-1",
			"eventType": "LOGIN",
		},
		OccurredAt: occurred,
	}
	if err := em.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	rec := capture.rec

	if got := rec.Body().AsString(); got != event.Name {
		t.Errorf("body = %q, want %q", got, event.Name)
	}
	attrs := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	want := map[string]string{
		"event_name": "session.processor.maxRetryReached",
		"subjectId":  "subject-1",
		"eventType":  "LOGIN",
	}
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %q = %q, want %q", k, attrs[k], v)
		}
	}
	if !rec.Timestamp().Equal(occurred) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), occurred)
	}
}

func TestEmit_ZeroTimestampDefaultsToNow(t *testing.T) {
	capture := &recordCapture{}
	em := NewEventEmitterWithLogger(capture)

	before := time.Now().UTC()
	if err := em.Emit(context.Background(), telemetry.Event{Name: "x"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	ts := capture.rec.Timestamp()
	if ts.Before(before) || ts.After(time.Now().UTC().Add(time.Second)) {
		t.Errorf("timestamp = %v, want ~now", ts)
	}
}
