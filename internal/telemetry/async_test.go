package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []Event
	emitErr error
	delay   time.Duration
}

func (m *mockEventEmitter) Emit(ctx context.Context, event Event) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	// Should not panic
	EmitAsync(nil, Event{Name: "test"})
}

func TestEmitAsync_EmptyName(t *testing.T) {
	emitter := &mockEventEmitter{}

	EmitAsync(emitter, Event{})

	// Give goroutine time to run (if it starts)
	time.Sleep(10 * time.Millisecond)

	if got := len(emitter.getEvents()); got != 0 {
		t.Errorf("expected 0 events, got %d", got)
	}
}

func TestEmitAsync_SuccessfulEmit(t *testing.T) {
	emitter := &mockEventEmitter{}
	event := Event{
		Name:       "session.notification.sent",
		Properties: map[string]string{"subjectId": "subject-1"},
	}

	EmitAsync(emitter, event)

	deadline := time.After(time.Second)
	for {
		if events := emitter.getEvents(); len(events) == 1 {
			if events[0].Name != "session.notification.sent" {
				t.Errorf("Name = %q", events[0].Name)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("emit did not complete in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEmitAsync_ErrorIsSwallowed(t *testing.T) {
	emitter := &mockEventEmitter{emitErr: errors.New("sink down")}

	// Must not panic or propagate; the error is only logged.
	EmitAsync(emitter, Event{Name: "x"})
	time.Sleep(20 * time.Millisecond)

	if got := len(emitter.getEvents()); got != 1 {
		t.Errorf("expected 1 attempted event, got %d", got)
	}
}

func TestNoop(t *testing.T) {
	if err := (Noop{}).Emit(context.Background(), Event{Name: "x"}); err != nil {
		t.Errorf("Noop.Emit = %v, want nil", err)
	}
}
