// Package processor reconciles notification records against the login/logout
// events arriving on the bus subscription.
//
// Reconciliation is delete-then-recreate: every prior record for the subject
// is removed, then (for LOGIN) a fresh one is created from the event's
// expiry. The transient duplicate window this opens is tolerated by
// consumers; do not collapse it into an upsert without re-deriving the
// ordering guarantees. Per-subject ordering of concurrent LOGIN/LOGOUT pairs
// is not enforced here: the bus must be configured to partition by subject.
package processor

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"golang.org/x/sync/errgroup"

	"citizen-identity/session-notifications/internal/events"
	"citizen-identity/session-notifications/internal/failure"
	"citizen-identity/session-notifications/internal/notification/domain"
	"citizen-identity/session-notifications/internal/notification/repository"
	"citizen-identity/session-notifications/internal/telemetry"
)

// deleteParallelism bounds the concurrent point deletes per message.
const deleteParallelism = 8

// Processor applies one auth event to the record store.
type Processor struct {
	repo    repository.Repository
	emitter telemetry.EventEmitter
}

// New returns a Processor using repo for persistence and emitter for
// classification telemetry.
func New(repo repository.Repository, emitter telemetry.EventEmitter) *Processor {
	return &Processor{repo: repo, emitter: emitter}
}

// Process runs the per-message state machine. A nil return means the message
// is done or permanently skipped and must be acknowledged; a non-nil return
// is transient and must trigger redelivery.
func (p *Processor) Process(ctx context.Context, raw []byte) error {
	ev, err := events.Decode(raw)
	if err != nil {
		if failure.IsPermanent(err) {
			// Unknown tag: log, emit, drop. No store calls are made.
			log.Printf("processor: dropping message: %v", err)
			telemetry.EmitAsync(p.emitter, telemetry.Event{
				Name:       "session.processor.unknownEvent",
				Properties: map[string]string{"reason": err.Error()},
			})
			return nil
		}
		return err
	}

	switch ev.Type {
	case events.TypeRejectedLogin:
		// Not part of the notification lifecycle.
		return nil
	case events.TypeLogin:
		login := ev.Login()
		if err := p.clearSubject(ctx, login.SubjectID); err != nil {
			return err
		}
		return p.createFromLogin(ctx, login)
	case events.TypeLogout:
		return p.clearSubject(ctx, ev.Logout().SubjectID)
	default:
		return failure.Permanentf("processor", "unhandled event type %q", ev.Type)
	}
}

// clearSubject removes every existing record for the subject. Deletes run in
// parallel and fail fast: any failure makes the whole message transient, which
// is safe because delete is idempotent across the retry.
func (p *Processor) clearSubject(ctx context.Context, subjectID string) error {
	records, err := p.collectRecords(ctx, subjectID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteParallelism)
	for _, rec := range records {
		g.Go(func() error {
			return p.repo.Delete(gctx, rec.SubjectID, rec.ExpiredAt)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("clearing subject records: %w", err)
	}
	return nil
}

// collectRecords accumulates the subject's records across all pages. Elements
// that fail to decode are reported as bad records and excluded; they never
// abort the batch.
func (p *Processor) collectRecords(ctx context.Context, subjectID string) ([]*domain.Record, error) {
	pager := p.repo.FindBySubject(ctx, subjectID)
	var out []*domain.Record
	for {
		page, ok, err := pager.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		for _, res := range page {
			if res.Err != nil {
				log.Printf("processor: bad record for subject: %v", res.Err)
				telemetry.EmitAsync(p.emitter, telemetry.Event{
					Name:       "session.processor.badRecord",
					Properties: map[string]string{"reason": res.Err.Error()},
				})
				continue
			}
			out = append(out, res.Record)
		}
	}
}

// createFromLogin creates the record for the new session. A negative TTL is
// silently dropped: the end state is "no record", which is safe because the
// discoverer will simply never see it.
func (p *Processor) createFromLogin(ctx context.Context, login *events.LoginEvent) error {
	err := p.repo.Create(ctx, login.SubjectID, login.ExpiresAt)
	if err == nil {
		return nil
	}
	if failure.IsPermanent(err) {
		log.Printf("processor: dropping login with stale expiry: %v", err)
		telemetry.EmitAsync(p.emitter, telemetry.Event{
			Name: "session.processor.staleLoginDropped",
			Properties: map[string]string{
				"expiredAt": strconv.FormatInt(login.ExpiresAt, 10),
			},
		})
		return nil
	}
	return err
}
