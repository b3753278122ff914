package telemetry

import (
	"context"
	"log"
	"time"
)

// emitTimeout is the max time allowed for a single async emit. Used by
// EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long mains wait after stopping their consume
// loops before shutting down OTel providers, so in-flight async emits have
// time to complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is
// not blocked. Use for fire-and-forget, best-effort telemetry; errors are
// logged.
//
// emitter may be nil; EmitAsync returns immediately without starting a
// goroutine. The goroutine uses context.Background() with emitTimeout so
// invocation cancellation does not abort an in-flight emit.
func EmitAsync(emitter EventEmitter, event Event) {
	if emitter == nil || event.Name == "" {
		return
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Printf("telemetry: async emit failed: %v", err)
		}
	}()
}
