package processor

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"citizen-identity/session-notifications/internal/telemetry"
)

// MessageSource is the subset of kafka.Reader the consumer uses. Messages are
// committed explicitly so a crash mid-message yields redelivery.
type MessageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Consumer drives the Processor from a Kafka subscription with bounded
// per-message retries.
type Consumer struct {
	source      MessageSource
	proc        *Processor
	emitter     telemetry.EventEmitter
	maxAttempts int
	backoff     time.Duration
}

// NewConsumer returns a consumer that retries each message up to maxAttempts
// before dropping it with a max-retry telemetry event.
func NewConsumer(source MessageSource, proc *Processor, emitter telemetry.EventEmitter, maxAttempts int) *Consumer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Consumer{
		source:      source,
		proc:        proc,
		emitter:     emitter,
		maxAttempts: maxAttempts,
		backoff:     time.Second,
	}
}

// NewReader builds the kafka.Reader for the auth-events subscription.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  1 * time.Second,
	})
}

// Run consumes until ctx is cancelled. Returns nil on clean shutdown.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.source.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("processor: kafka fetch error: %v", err)
			continue
		}

		c.handle(ctx, msg)

		if err := c.source.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("processor: commit failed: %v", err)
		}
	}
}

// handle retries the message on transient failures. On the last configured
// attempt it emits a distinguished max-retry event before giving the message
// up, so operators are alerted exactly once per exhausted message.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	for attempt := 1; ; attempt++ {
		err := c.proc.Process(ctx, msg.Value)
		if err == nil {
			return
		}
		log.Printf("processor: attempt %d/%d failed: %v", attempt, c.maxAttempts, err)
		if attempt >= c.maxAttempts {
			telemetry.EmitAsync(c.emitter, telemetry.Event{
				Name: "session.processor.maxRetryReached",
				Properties: map[string]string{
					"attempts":  strconv.Itoa(attempt),
					"partition": strconv.Itoa(msg.Partition),
					"offset":    strconv.FormatInt(msg.Offset, 10),
				},
			})
			log.Printf("processor: giving up message partition=%d offset=%d: %v", msg.Partition, msg.Offset, err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
}
