// Package repository persists session-notification records in Postgres.
//
// Deleting a key that is not present is surfaced as a transient failure on
// purpose: a LOGOUT redelivered after a successful delete will retry until
// the bus gives up. Whether that miss should instead count as success is an
// open point with the bus owners; do not change it here without agreeing on
// the redelivery semantics.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"citizen-identity/session-notifications/internal/failure"
	"citizen-identity/session-notifications/internal/notification/domain"
)

const defaultPageSize = 100

// PostgresRepository implements Repository over a session_notifications table.
type PostgresRepository struct {
	db *sql.DB
	// retentionOffsetSeconds is added to the session lifetime when computing
	// TTL on create, so records outlive their session for the expired-session
	// advice window.
	retentionOffsetSeconds int64
	// fallbackOffsetSeconds is used as the TTL when a flag update would
	// otherwise compute a negative TTL.
	fallbackOffsetSeconds int64
	pageSize               int
	now                    func() time.Time
}

// NewPostgresRepository returns a repository using db for persistence.
// retentionOffsetSeconds extends record TTL beyond session expiry;
// fallbackOffsetSeconds bounds the TTL used when a flag update races record
// expiry.
func NewPostgresRepository(db *sql.DB, retentionOffsetSeconds, fallbackOffsetSeconds int64) *PostgresRepository {
	return &PostgresRepository{
		db:                     db,
		retentionOffsetSeconds: retentionOffsetSeconds,
		fallbackOffsetSeconds:  fallbackOffsetSeconds,
		pageSize:               defaultPageSize,
		now:                    time.Now,
	}
}

// SetPageSize overrides the page size used by the paged queries. Values
// below 1 keep the default.
func (r *PostgresRepository) SetPageSize(n int) {
	if n >= 1 {
		r.pageSize = n
	}
}

func (r *PostgresRepository) Create(ctx context.Context, subjectID string, expiredAt int64) error {
	now := r.now()
	ttl, err := domain.ComputeTTL(expiredAt, now, r.retentionOffsetSeconds)
	if err != nil {
		return failure.Permanent("store.create", err)
	}
	const q = `
		INSERT INTO session_notifications
			(subject_id, expired_at, notification_events, ttl_seconds, purge_at, revision, last_modified)
		VALUES ($1, $2, '{}'::jsonb, $3, $4, $5, $6)`
	_, err = r.db.ExecContext(ctx, q,
		subjectID, expiredAt, ttl, now.Add(time.Duration(ttl)*time.Second), uuid.NewString(), now)
	if err != nil {
		return failure.Transient("store.create", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, subjectID string, expiredAt int64) error {
	const q = `DELETE FROM session_notifications WHERE subject_id = $1 AND expired_at = $2`
	res, err := r.db.ExecContext(ctx, q, subjectID, expiredAt)
	if err != nil {
		return failure.Transient("store.delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return failure.Transient("store.delete", err)
	}
	if n == 0 {
		// Store-native not-found; kept transient, see the package doc.
		return failure.Transientf("store.delete", "no record for subject=%s expiredAt=%d", subjectID, expiredAt)
	}
	return nil
}

// flagUpdateAttempts bounds the in-call retry of UpdateExpiredFlag. The flip
// must not be abandoned on a blip, but unbounded retry would stall the run.
const flagUpdateAttempts = 3

func (r *PostgresRepository) UpdateExpiredFlag(ctx context.Context, subjectID string, expiredAt int64, value bool) error {
	var lastErr error
	for attempt := 0; attempt < flagUpdateAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return failure.Transient("store.updateFlag", ctx.Err())
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
		lastErr = r.updateExpiredFlagOnce(ctx, subjectID, expiredAt, value)
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (r *PostgresRepository) updateExpiredFlagOnce(ctx context.Context, subjectID string, expiredAt int64, value bool) error {
	now := r.now()
	ttl, err := domain.ComputeTTL(expiredAt, now, r.retentionOffsetSeconds)
	if err != nil {
		ttl = r.fallbackOffsetSeconds
	}
	const q = `
		UPDATE session_notifications
		SET notification_events = COALESCE(notification_events, '{}'::jsonb) || jsonb_build_object('EXPIRED_SESSION', $3::bool),
		    ttl_seconds = $4, purge_at = $5, revision = $6, last_modified = $7
		WHERE subject_id = $1 AND expired_at = $2`
	res, err := r.db.ExecContext(ctx, q,
		subjectID, expiredAt, value, ttl, now.Add(time.Duration(ttl)*time.Second), uuid.NewString(), now)
	if err != nil {
		return failure.Transient("store.updateFlag", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return failure.Transient("store.updateFlag", err)
	}
	if n == 0 {
		return failure.Transientf("store.updateFlag", "no record for subject=%s expiredAt=%d", subjectID, expiredAt)
	}
	return nil
}

func (r *PostgresRepository) FindBySubject(ctx context.Context, subjectID string) Pager {
	const q = `
		SELECT subject_id, expired_at, notification_events, ttl_seconds, revision, last_modified
		FROM session_notifications
		WHERE subject_id = $1 AND expired_at > $2
		ORDER BY expired_at
		LIMIT $3`
	p := &keysetPager{}
	p.fetch = func(ctx context.Context, after int64) (*sql.Rows, error) {
		return r.db.QueryContext(ctx, q, subjectID, after, r.pageSize)
	}
	p.pageSize = r.pageSize
	return p
}

func (r *PostgresRepository) FindByExpiryWindow(ctx context.Context, interval domain.Interval) Pager {
	// Filtered server-side to records not yet flagged as expired, so the
	// discoverer only ever sees work it has not done.
	const q = `
		SELECT subject_id, expired_at, notification_events, ttl_seconds, revision, last_modified
		FROM session_notifications
		WHERE expired_at >= $1 AND expired_at < $2
		  AND NOT COALESCE((notification_events->>'EXPIRED_SESSION')::bool, false)
		  AND expired_at > $3
		ORDER BY expired_at
		LIMIT $4`
	from := interval.From.UnixMilli()
	to := interval.To.UnixMilli()
	p := &keysetPager{}
	p.fetch = func(ctx context.Context, after int64) (*sql.Rows, error) {
		floor := from - 1
		if after > floor {
			floor = after
		}
		return r.db.QueryContext(ctx, q, from, to, floor, r.pageSize)
	}
	p.pageSize = r.pageSize
	return p
}

func (r *PostgresRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	const q = `DELETE FROM session_notifications WHERE purge_at <= $1`
	res, err := r.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, failure.Transient("store.purge", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, failure.Transient("store.purge", err)
	}
	return n, nil
}

// keysetPager pages rows ordered by expired_at using keyset continuation.
// Finite and single-traversal; a short page ends the stream.
type keysetPager struct {
	fetch    func(ctx context.Context, after int64) (*sql.Rows, error)
	pageSize int
	after    int64
	done     bool
}

func (p *keysetPager) Next(ctx context.Context) ([]RecordResult, bool, error) {
	if p.done {
		return nil, false, nil
	}
	rows, err := p.fetch(ctx, p.after)
	if err != nil {
		p.done = true
		return nil, false, failure.Transient("store.query", err)
	}
	defer rows.Close()

	prevAfter := p.after
	var page []RecordResult
	for rows.Next() {
		res, key := scanRecord(rows)
		if key > p.after {
			p.after = key
		}
		page = append(page, res)
	}
	if err := rows.Err(); err != nil {
		p.done = true
		return nil, false, failure.Transient("store.query", err)
	}
	if len(page) < p.pageSize {
		p.done = true
	} else if p.after == prevAfter {
		// A full page where no row yielded a continuation key (the key column
		// itself unreadable on every row) would refetch the same page forever.
		p.done = true
		return nil, false, failure.Transientf("store.query", "page after key %d did not advance", prevAfter)
	}
	if len(page) == 0 {
		return nil, false, nil
	}
	return page, true, nil
}

// scanRecord decodes one row into a RecordResult. A malformed row yields a
// rejection rather than aborting the page; the continuation key is still
// advanced so the traversal makes progress past it.
func scanRecord(rows *sql.Rows) (RecordResult, int64) {
	var (
		subjectID    string
		expiredAt    int64
		eventsRaw    []byte
		ttlSeconds   int64
		revision     string
		lastModified time.Time
	)
	if err := rows.Scan(&subjectID, &expiredAt, &eventsRaw, &ttlSeconds, &revision, &lastModified); err != nil {
		return RecordResult{Err: failure.Permanent("store.decode", err)}, expiredAt
	}
	rec, err := decodeRecord(subjectID, expiredAt, eventsRaw, ttlSeconds, revision, lastModified)
	if err != nil {
		return RecordResult{Err: failure.Permanent("store.decode", err)}, expiredAt
	}
	return RecordResult{Record: rec}, expiredAt
}

func decodeRecord(subjectID string, expiredAt int64, eventsRaw []byte, ttlSeconds int64, revision string, lastModified time.Time) (*domain.Record, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("empty subject_id")
	}
	if expiredAt <= 0 {
		return nil, fmt.Errorf("non-positive expired_at %d for subject=%s", expiredAt, subjectID)
	}
	events := map[domain.EventKind]bool{}
	if len(eventsRaw) > 0 {
		if err := json.Unmarshal(eventsRaw, &events); err != nil {
			return nil, fmt.Errorf("notification_events for subject=%s expiredAt=%d: %w", subjectID, expiredAt, err)
		}
	}
	return &domain.Record{
		SubjectID:          subjectID,
		ExpiredAt:          expiredAt,
		NotificationEvents: events,
		TTLSeconds:         ttlSeconds,
		Revision:           revision,
		LastModified:       lastModified,
	}, nil
}
