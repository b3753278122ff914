package queue

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"citizen-identity/session-notifications/internal/failure"
	"citizen-identity/session-notifications/internal/telemetry"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultRetryDelay   = 5 * time.Minute
)

// HandlerFunc processes one queue item.
type HandlerFunc func(ctx context.Context, item Item) error

// Consumer polls a Queue and dispatches items to a handler. Transient
// handler failures put the item back with a visibility delay and a bumped
// attempt counter; once maxAttempts is reached the item is dropped and a
// single maxRetryReached telemetry event is emitted.
type Consumer struct {
	queue   Queue
	handle  HandlerFunc
	emitter telemetry.EventEmitter

	// name prefixes the telemetry events, e.g. "session.advisor".
	name        string
	maxAttempts int

	pollInterval time.Duration
	retryDelay   time.Duration
}

func NewConsumer(q Queue, handle HandlerFunc, emitter telemetry.EventEmitter, name string, maxAttempts int) *Consumer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Consumer{
		queue:        q,
		handle:       handle,
		emitter:      emitter,
		name:         name,
		maxAttempts:  maxAttempts,
		pollInterval: defaultPollInterval,
		retryDelay:   defaultRetryDelay,
	}
}

// Run polls until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, ok, err := c.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if failure.IsPermanent(err) {
				// Undecodable payload, already removed from the queue.
				log.Printf("%s: dropping malformed item: %v", c.name, err)
				telemetry.EmitAsync(c.emitter, telemetry.Event{
					Name:       c.name + ".malformedItem",
					Properties: map[string]string{"error": err.Error()},
				})
				continue
			}
			log.Printf("%s: receive failed: %v", c.name, err)
			c.sleep(ctx)
			continue
		}
		if !ok {
			c.sleep(ctx)
			continue
		}
		c.dispatch(ctx, item)
	}
}

func (c *Consumer) dispatch(ctx context.Context, item Item) {
	err := c.handle(ctx, item)
	if err == nil {
		return
	}
	attempt := item.Attempts + 1
	if failure.IsPermanent(err) || attempt >= c.maxAttempts {
		log.Printf("%s: giving up on item after attempt %d: %v", c.name, attempt, err)
		telemetry.EmitAsync(c.emitter, telemetry.Event{
			Name: c.name + ".maxRetryReached",
			Properties: map[string]string{
				"attempts":  strconv.Itoa(attempt),
				"expiredAt": strconv.FormatInt(item.ExpiresAt, 10),
				"error":     err.Error(),
			},
		})
		return
	}
	item.Attempts = attempt
	if sendErr := c.queue.Send(ctx, item, c.retryDelay); sendErr != nil {
		log.Printf("%s: redelivery enqueue failed, item lost: %v", c.name, sendErr)
		telemetry.EmitAsync(c.emitter, telemetry.Event{
			Name:       c.name + ".redeliveryFailed",
			Properties: map[string]string{"error": sendErr.Error()},
		})
	}
}

func (c *Consumer) sleep(ctx context.Context) {
	t := time.NewTimer(c.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
