package repository

import (
	"context"
	"time"

	"citizen-identity/session-notifications/internal/notification/domain"
)

// RecordResult is one element of a page: either a decoded record or the
// reason it was rejected, never both. Malformed rows must not abort the page
// they appear in nor the pages after it.
type RecordResult struct {
	Record *domain.Record
	Err    error
}

// Pager is a finite, single-traversal stream of pages.
type Pager interface {
	// Next returns the next page. ok is false when the stream is exhausted;
	// err is a transient store failure that aborts the traversal.
	Next(ctx context.Context) (page []RecordResult, ok bool, err error)
}

// Repository defines persistence for session-notification records.
type Repository interface {
	// Create inserts a record for the session, computing its TTL from the
	// retention offset. A negative TTL is a permanent failure (stale data,
	// retrying cannot fix it); any store failure is transient.
	Create(ctx context.Context, subjectID string, expiredAt int64) error

	// Delete removes the record with the given composite key. A missing row
	// surfaces the store's native not-found as a transient failure; see the
	// package note on redelivered logouts.
	Delete(ctx context.Context, subjectID string, expiredAt int64) error

	// UpdateExpiredFlag patches the EXPIRED_SESSION flag and the TTL
	// together. When the recomputed TTL would be negative it falls back to
	// the configured fallback offset, so this call never fails permanently:
	// an abandoned flag flip would leave the record un-reprocessable.
	UpdateExpiredFlag(ctx context.Context, subjectID string, expiredAt int64, value bool) error

	// FindBySubject streams all records for the subject.
	FindBySubject(ctx context.Context, subjectID string) Pager

	// FindByExpiryWindow streams records whose expiry falls in [From, To)
	// and whose EXPIRED_SESSION flag is false or absent.
	FindByExpiryWindow(ctx context.Context, interval domain.Interval) Pager

	// PurgeExpired deletes records whose TTL has elapsed as of now and
	// returns how many were removed. Emulates store-side TTL enforcement.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
