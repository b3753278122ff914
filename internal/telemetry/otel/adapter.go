package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"citizen-identity/session-notifications/internal/telemetry"
)

// RecordLogger is the subset of otellog.Logger the emitter uses; it exists
// so tests can capture records without implementing the full API surface.
type RecordLogger interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log
// records via the given LoggerProvider. A nil provider yields a no-op.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return telemetry.Noop{}
	}
	return &otelEmitter{logger: provider.Logger("session-notifications.telemetry")}
}

// NewEventEmitterWithLogger returns an emitter over the given logger. For tests.
func NewEventEmitterWithLogger(logger RecordLogger) telemetry.EventEmitter {
	return &otelEmitter{logger: logger}
}

type otelEmitter struct {
	logger RecordLogger
}

// Emit converts the event to an OTel log record: the event name is the body,
// each property becomes a string attribute.
func (e *otelEmitter) Emit(ctx context.Context, event telemetry.Event) error {
	rec := otellog.Record{}
	rec.SetBody(otellog.StringValue(event.Name))
	rec.AddAttributes(otellog.String("event_name", event.Name))
	for k, v := range event.Properties {
		rec.AddAttributes(otellog.String(k, v))
	}
	ts := event.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	e.logger.Emit(ctx, rec)
	return nil
}
