// Package advisor consumes forwarded expiry items, re-verifies that the
// session really lapsed, and sends the re-engagement email.
package advisor

import (
	"context"
	"log"
	"strconv"
	"time"

	"citizen-identity/session-notifications/internal/clients/profile"
	"citizen-identity/session-notifications/internal/clients/sessioninfo"
	"citizen-identity/session-notifications/internal/failure"
	"citizen-identity/session-notifications/internal/mailer"
	"citizen-identity/session-notifications/internal/queue"
	"citizen-identity/session-notifications/internal/telemetry"
)

// SessionGetter is the live session-info dependency.
type SessionGetter interface {
	GetSession(ctx context.Context, subjectID string) (sessioninfo.SessionState, error)
}

// ProfileGetter is the profile-service dependency.
type ProfileGetter interface {
	GetProfile(ctx context.Context, subjectID string) (profile.Profile, error)
}

// Advisor handles one delivery-queue item end to end.
type Advisor struct {
	sessions SessionGetter
	profiles ProfileGetter
	mail     mailer.Mailer
	links    *mailer.MagicLinkBuilder
	emitter  telemetry.EventEmitter
	from     string
	// dryRun skips the actual send and only emits telemetry.
	dryRun bool
}

// New returns an Advisor. When dryRun is set no mail leaves the system.
func New(sessions SessionGetter, profiles ProfileGetter, mail mailer.Mailer, links *mailer.MagicLinkBuilder, emitter telemetry.EventEmitter, from string, dryRun bool) *Advisor {
	return &Advisor{
		sessions: sessions,
		profiles: profiles,
		mail:     mail,
		links:    links,
		emitter:  emitter,
		from:     from,
		dryRun:   dryRun,
	}
}

// Handle processes the item. Permanent conditions anywhere in the pipeline
// are converted into a successful no-retry outcome plus telemetry; transient
// failures are returned and trigger queue redelivery.
func (a *Advisor) Handle(ctx context.Context, item queue.Item) error {
	err := a.advise(ctx, item)
	if err == nil {
		return nil
	}
	if failure.IsPermanent(err) {
		log.Printf("advisor: skipping item: %v", err)
		telemetry.EmitAsync(a.emitter, telemetry.Event{
			Name: "session.advisor.skipped",
			Properties: map[string]string{
				"reason":    failure.OpOf(err),
				"expiredAt": strconv.FormatInt(item.ExpiresAt, 10),
			},
		})
		return nil
	}
	return err
}

func (a *Advisor) advise(ctx context.Context, item queue.Item) error {
	state, err := a.sessions.GetSession(ctx, item.SubjectID)
	if err != nil {
		return err
	}
	if state.Active {
		// Stale discovery: the user logged in again after the scan. Not an
		// expired session, nothing to advise.
		return failure.Permanentf("advisor.sessionStillActive", "subject has a live session")
	}

	prof, err := a.profiles.GetProfile(ctx, item.SubjectID)
	if err != nil {
		return err
	}
	if !prof.HasValidatedEmail() {
		return failure.Permanentf("advisor.emailNotValidated", "profile has no validated email")
	}

	if a.dryRun {
		// Short-circuit before link signing so a dry-run setup needs no
		// signing secret.
		telemetry.EmitAsync(a.emitter, telemetry.Event{
			Name: "session.advisor.dryRunSend",
			Properties: map[string]string{
				"expiredAt": strconv.FormatInt(item.ExpiresAt, 10),
			},
		})
		return nil
	}

	loginURL, err := a.links.BuildURL(item.SubjectID)
	if err != nil {
		// Signing only fails on misconfiguration; redelivery cannot fix it.
		return failure.Permanent("advisor.magicLink", err)
	}
	msg, err := mailer.RenderReengagement(a.from, prof.Email, mailer.ReengagementData{
		ExpiredAt: time.UnixMilli(item.ExpiresAt),
		LoginURL:  loginURL,
	})
	if err != nil {
		return failure.Permanent("advisor.render", err)
	}

	if err := a.mail.SendMail(ctx, msg); err != nil {
		return err
	}
	telemetry.EmitAsync(a.emitter, telemetry.Event{
		Name: "session.advisor.notificationSent",
		Properties: map[string]string{
			"expiredAt": strconv.FormatInt(item.ExpiresAt, 10),
		},
	})
	return nil
}
