// Package queue moves {subjectId, expiresAt} work items between the
// discoverer and the advisor/recovery consumers with per-item visibility
// delays. Payloads travel base64-JSON encoded.
package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Item is a unit of advisor/recovery work.
type Item struct {
	// ID identifies this envelope across redeliveries.
	ID string `json:"id"`
	// SubjectID is the user the session belongs to.
	SubjectID string `json:"fiscalCode"`
	// ExpiresAt is the session expiry in epoch millis.
	ExpiresAt int64 `json:"expiredAt"`
	// Attempts counts deliveries so far; incremented by the consumer on each
	// redelivery so max-retry exhaustion can be detected.
	Attempts int `json:"attempts"`
}

// NewItem returns an Item with a fresh envelope ID and zero attempts.
func NewItem(subjectID string, expiresAt int64) Item {
	return Item{ID: uuid.NewString(), SubjectID: subjectID, ExpiresAt: expiresAt}
}

// Encode serializes the item to the wire format (base64 over JSON).
func (i Item) Encode() (string, error) {
	raw, err := json.Marshal(i)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeItem parses a wire payload produced by Encode.
func DecodeItem(payload string) (Item, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Item{}, fmt.Errorf("queue payload base64: %w", err)
	}
	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return Item{}, fmt.Errorf("queue payload json: %w", err)
	}
	if item.SubjectID == "" {
		return Item{}, fmt.Errorf("queue payload: missing fiscalCode")
	}
	if item.ExpiresAt <= 0 {
		return Item{}, fmt.Errorf("queue payload: missing or non-positive expiredAt")
	}
	return item, nil
}

// Queue is a delayed delivery queue.
type Queue interface {
	// Send enqueues the item, visible to consumers after visibilityDelay.
	Send(ctx context.Context, item Item, visibilityDelay time.Duration) error
	// Receive pops the next visible item. ok is false when nothing is due.
	Receive(ctx context.Context) (item Item, ok bool, err error)
}
