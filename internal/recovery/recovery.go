// Package recovery seeds notification records for sessions that were opened
// while the event pipeline was unavailable. Items arrive on a dedicated
// queue; the handler is idempotent so replays are harmless.
package recovery

import (
	"context"
	"log"
	"strconv"

	"citizen-identity/session-notifications/internal/clients/sessioninfo"
	"citizen-identity/session-notifications/internal/failure"
	"citizen-identity/session-notifications/internal/notification/repository"
	"citizen-identity/session-notifications/internal/queue"
	"citizen-identity/session-notifications/internal/telemetry"
)

// SessionGetter is the live session-info dependency.
type SessionGetter interface {
	GetSession(ctx context.Context, subjectID string) (sessioninfo.SessionState, error)
}

// Recovery backfills one missing record per queue item.
type Recovery struct {
	repo     repository.Repository
	sessions SessionGetter
	emitter  telemetry.EventEmitter
}

func New(repo repository.Repository, sessions SessionGetter, emitter telemetry.EventEmitter) *Recovery {
	return &Recovery{repo: repo, sessions: sessions, emitter: emitter}
}

// Handle seeds the record for the item's session. Permanent conditions
// (session no longer active, record already present, stale expiry) resolve
// to success plus telemetry; transient failures trigger redelivery.
func (r *Recovery) Handle(ctx context.Context, item queue.Item) error {
	err := r.recover(ctx, item)
	if err == nil {
		return nil
	}
	if failure.IsPermanent(err) {
		log.Printf("recovery: skipping item: %v", err)
		telemetry.EmitAsync(r.emitter, telemetry.Event{
			Name: "session.recovery.skipped",
			Properties: map[string]string{
				"reason":    failure.OpOf(err),
				"expiredAt": strconv.FormatInt(item.ExpiresAt, 10),
			},
		})
		return nil
	}
	return err
}

func (r *Recovery) recover(ctx context.Context, item queue.Item) error {
	state, err := r.sessions.GetSession(ctx, item.SubjectID)
	if err != nil {
		return err
	}
	if !state.Active {
		// The session lapsed before we could backfill it. Creating a record
		// now would advise on a session the user already knows is gone.
		return failure.Permanentf("recovery.sessionInactive", "subject has no live session")
	}

	exists, err := r.hasRecord(ctx, item.SubjectID)
	if err != nil {
		return err
	}
	if exists {
		return failure.Permanentf("recovery.alreadyRecorded", "subject already has a record")
	}

	if err := r.repo.Create(ctx, item.SubjectID, item.ExpiresAt); err != nil {
		return err
	}
	telemetry.EmitAsync(r.emitter, telemetry.Event{
		Name: "session.recovery.recordSeeded",
		Properties: map[string]string{
			"expiredAt": strconv.FormatInt(item.ExpiresAt, 10),
		},
	})
	return nil
}

// hasRecord checks the first page only: existence is the only fact needed
// and a subject with any record at all answers it.
func (r *Recovery) hasRecord(ctx context.Context, subjectID string) (bool, error) {
	pager := r.repo.FindBySubject(ctx, subjectID)
	page, ok, err := pager.Next(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	for _, res := range page {
		if res.Record != nil {
			return true, nil
		}
		log.Printf("recovery: unreadable record for subject, ignoring: %v", res.Err)
	}
	return false, nil
}
