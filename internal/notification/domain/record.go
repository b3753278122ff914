// Package domain holds the session-notification record and the TTL and
// interval arithmetic shared by the processor, discoverer, and recovery flows.
package domain

import (
	"fmt"
	"time"
)

// EventKind names a per-session notification milestone.
type EventKind string

const (
	// EventExpiringSession marks that the "session about to expire" advice
	// was forwarded for delivery.
	EventExpiringSession EventKind = "EXPIRING_SESSION"
	// EventExpiredSession marks that the record was picked up by the expiry
	// discoverer and forwarded to the delivery queue.
	EventExpiredSession EventKind = "EXPIRED_SESSION"
)

// Record tracks one user session's notification state. The composite key is
// (SubjectID, ExpiredAt): SubjectID partitions records per user, ExpiredAt
// distinguishes sessions within the partition. At most one live record per
// subject exists in steady state; consumers tolerate transient duplicates and
// treat the highest ExpiredAt as authoritative.
type Record struct {
	SubjectID string
	// ExpiredAt is the session expiry instant in epoch milliseconds.
	ExpiredAt int64
	// NotificationEvents maps event kinds to processed flags. A missing key
	// means the milestone has not been processed.
	NotificationEvents map[EventKind]bool
	// TTLSeconds is the store-enforced time-to-live, always >= 0.
	TTLSeconds int64

	// Store-assigned metadata, read-only for the domain.
	Revision     string
	LastModified time.Time
}

// Flag reports whether the given milestone has been processed. Absent keys
// read as false.
func (r *Record) Flag(kind EventKind) bool {
	if r == nil || r.NotificationEvents == nil {
		return false
	}
	return r.NotificationEvents[kind]
}

// ErrNegativeTTL is wrapped by ComputeTTL when the session expiry plus the
// retention offset is already in the past. Creation treats this as permanent;
// flag updates fall back to the default offset instead.
var ErrNegativeTTL = fmt.Errorf("computed ttl is negative")

// ComputeTTL returns the store TTL in seconds for a session expiring at
// expiredAt (epoch millis): (expiredAt - now)/1000 + retentionOffsetSeconds.
// Returns ErrNegativeTTL when the result would be negative.
func ComputeTTL(expiredAt int64, now time.Time, retentionOffsetSeconds int64) (int64, error) {
	ttl := (expiredAt-now.UnixMilli())/1000 + retentionOffsetSeconds
	if ttl < 0 {
		return 0, fmt.Errorf("expiredAt=%d offset=%d: %w", expiredAt, retentionOffsetSeconds, ErrNegativeTTL)
	}
	return ttl, nil
}

// Interval is a half-open time window [From, To) used to scope range scans.
type Interval struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the interval.
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.From) && t.Before(i.To)
}

// CreateInterval returns the UTC midnight-to-midnight window containing d.
// Consecutive days yield contiguous, non-overlapping intervals: the To of one
// day equals the From of the next.
func CreateInterval(d time.Time) Interval {
	u := d.UTC()
	from := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return Interval{From: from, To: from.AddDate(0, 0, 1)}
}
