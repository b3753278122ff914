// Package telemetry defines the injected event-emission capability used by
// every component for observability of transient/permanent classification
// decisions. It is passed through each component's dependencies rather than
// held as a process-wide singleton, so components stay testable in isolation.
// Emission is fire-and-forget and never part of the correctness path.
package telemetry

import (
	"context"
	"time"
)

// Event is a named telemetry event with a flat property bag.
type Event struct {
	Name       string
	Properties map[string]string
	OccurredAt time.Time
}

// EventEmitter emits telemetry events (e.g. to OTel Logs). Best-effort;
// callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event Event) error
}

// Noop is an EventEmitter that discards events.
type Noop struct{}

func (Noop) Emit(context.Context, Event) error { return nil }
