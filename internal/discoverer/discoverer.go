// Package discoverer scans the record store for sessions expiring in the
// current UTC day and forwards them to the delivery queue.
//
// Chunks are processed sequentially to bound store and queue load; items
// within a chunk fan out in parallel with accumulated (not fail-fast) errors,
// so one bad item never blocks its siblings. An item is only ever enqueued
// after its EXPIRED_SESSION flag is durably set; an enqueue failure reverts
// the flag so the next run picks the item up again.
package discoverer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"citizen-identity/session-notifications/internal/notification/domain"
	"citizen-identity/session-notifications/internal/notification/repository"
	"citizen-identity/session-notifications/internal/queue"
	"citizen-identity/session-notifications/internal/telemetry"
)

// Discoverer runs the daily expiry scan.
type Discoverer struct {
	repo    repository.Repository
	queue   queue.Queue
	emitter telemetry.EventEmitter
	// delayMultiplier is the per-chunk visibility delay step: items in chunk
	// k become visible after k*delayMultiplier, spreading delivery load.
	delayMultiplier time.Duration
	now             func() time.Time
}

// New returns a Discoverer forwarding due items to q.
func New(repo repository.Repository, q queue.Queue, emitter telemetry.EventEmitter, delayMultiplier time.Duration) *Discoverer {
	return &Discoverer{
		repo:            repo,
		queue:           q,
		emitter:         emitter,
		delayMultiplier: delayMultiplier,
		now:             time.Now,
	}
}

// Run performs one scan over the UTC-day window containing date. Returned
// errors are transient: the caller retries the whole run, which is safe
// because flagged items are filtered out of the next scan.
func (d *Discoverer) Run(ctx context.Context, date time.Time) error {
	if purged, err := d.repo.PurgeExpired(ctx, d.now()); err != nil {
		log.Printf("discoverer: purge failed: %v", err)
	} else if purged > 0 {
		log.Printf("discoverer: purged %d expired records", purged)
	}

	interval := domain.CreateInterval(date)
	pager := d.repo.FindByExpiryWindow(ctx, interval)

	var runErrs []error
	for chunkIndex := 0; ; chunkIndex++ {
		chunk, ok, err := pager.Next(ctx)
		if err != nil {
			runErrs = append(runErrs, err)
			break
		}
		if !ok {
			break
		}
		delay := time.Duration(chunkIndex) * d.delayMultiplier
		if errs := d.processChunk(ctx, chunk, delay); len(errs) > 0 {
			runErrs = append(runErrs, errs...)
		}
	}
	return errors.Join(runErrs...)
}

// RunWithRetries retries Run up to maxAttempts, emitting the distinguished
// max-retry event once before surfacing the final failure.
func (d *Discoverer) RunWithRetries(ctx context.Context, date time.Time, maxAttempts int, backoff time.Duration) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = d.Run(ctx, date)
		if lastErr == nil {
			return nil
		}
		log.Printf("discoverer: run attempt %d/%d failed: %v", attempt, maxAttempts, lastErr)
		if attempt == maxAttempts {
			telemetry.EmitAsync(d.emitter, telemetry.Event{
				Name: "session.discoverer.maxRetryReached",
				Properties: map[string]string{
					"attempts": strconv.Itoa(attempt),
					"date":     date.UTC().Format(time.DateOnly),
				},
			})
			break
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(backoff * time.Duration(attempt)):
		}
	}
	return lastErr
}

// processChunk fans the chunk's items out in parallel and accumulates their
// failures. Rejected page elements are reported and skipped.
func (d *Discoverer) processChunk(ctx context.Context, chunk []repository.RecordResult, delay time.Duration) []error {
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, res := range chunk {
		if res.Err != nil {
			log.Printf("discoverer: bad record in window: %v", res.Err)
			telemetry.EmitAsync(d.emitter, telemetry.Event{
				Name:       "session.discoverer.badRecord",
				Properties: map[string]string{"reason": res.Err.Error()},
			})
			continue
		}
		rec := res.Record
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.forward(ctx, rec, delay); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs
}

// forward flips the record's flag, then enqueues it. The flag flip comes
// first so a crash between the two steps errs on "flagged but not enqueued",
// which the revert path and recovery reconciliation can repair; the opposite
// order could notify a user twice.
func (d *Discoverer) forward(ctx context.Context, rec *domain.Record, delay time.Duration) error {
	if err := d.repo.UpdateExpiredFlag(ctx, rec.SubjectID, rec.ExpiredAt, true); err != nil {
		return fmt.Errorf("flagging record: %w", err)
	}

	item := queue.NewItem(rec.SubjectID, rec.ExpiredAt)
	if err := d.queue.Send(ctx, item, delay); err != nil {
		if revertErr := d.repo.UpdateExpiredFlag(ctx, rec.SubjectID, rec.ExpiredAt, false); revertErr != nil {
			// Accepted inconsistency: the flag stays true and the item is
			// never enqueued. Operators reconcile from this event.
			log.Printf("discoverer: flag revert failed: %v", revertErr)
			telemetry.EmitAsync(d.emitter, telemetry.Event{
				Name: "session.discoverer.flagRevertFailed",
				Properties: map[string]string{
					"expiredAt": strconv.FormatInt(rec.ExpiredAt, 10),
				},
			})
		}
		return fmt.Errorf("enqueueing item: %w", err)
	}
	return nil
}
