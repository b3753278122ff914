// Package events decodes the auth-event messages delivered on the bus
// subscription: a tagged union of LOGIN, LOGOUT, and REJECTED_LOGIN keyed by
// the eventType field.
//
// The raw tag is inspected before the full shape is validated so the two
// failure modes stay distinct: an unrecognized tag is permanent (log and
// drop), while a recognized tag with a malformed body is transient (assumed
// to be a producer or schema bug worth retrying).
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"citizen-identity/session-notifications/internal/failure"
)

// EventType is the union tag of an auth event.
type EventType string

const (
	TypeLogin         EventType = "LOGIN"
	TypeLogout        EventType = "LOGOUT"
	TypeRejectedLogin EventType = "REJECTED_LOGIN"
)

// AuthEvent is the closed union of bus events. Exactly one of the three
// accessors returns a non-nil value, matching Type.
type AuthEvent struct {
	Type     EventType
	login    *LoginEvent
	logout   *LogoutEvent
	rejected *RejectedLoginEvent
}

// Login returns the LOGIN payload, or nil when Type differs.
func (e AuthEvent) Login() *LoginEvent { return e.login }

// Logout returns the LOGOUT payload, or nil when Type differs.
func (e AuthEvent) Logout() *LogoutEvent { return e.logout }

// RejectedLogin returns the REJECTED_LOGIN payload, or nil when Type differs.
func (e AuthEvent) RejectedLogin() *RejectedLoginEvent { return e.rejected }

// LoginEvent records a completed login and the resulting session expiry.
type LoginEvent struct {
	SubjectID        string `json:"fiscalCode"`
	OccurredAt       int64  `json:"ts"`
	ExpiresAt        int64  `json:"expiredAt"`
	LoginKind        string `json:"loginType"`
	Scenario         string `json:"scenario"`
	IdentityProvider string `json:"idp"`
}

// LogoutEvent records a logout.
type LogoutEvent struct {
	SubjectID  string `json:"fiscalCode"`
	OccurredAt int64  `json:"ts"`
	Scenario   string `json:"scenario"`
}

// RejectedLoginEvent records a login attempt that was refused upstream. The
// notification core ignores it; it is decoded so consumers can acknowledge it
// without telemetry noise.
type RejectedLoginEvent struct {
	SubjectID  string `json:"fiscalCode"`
	OccurredAt int64  `json:"ts"`
}

// envelope extracts only the tag for the first decode pass.
type envelope struct {
	EventType string `json:"eventType"`
}

// Decode parses raw as an auth event.
//
// Classification: an unparseable envelope or an unknown eventType is a
// permanent failure; a known eventType whose body fails validation is
// transient.
func Decode(raw []byte) (AuthEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return AuthEvent{}, failure.Permanent("event.decode", fmt.Errorf("unparseable envelope: %w", err))
	}

	switch EventType(env.EventType) {
	case TypeLogin:
		var ev LoginEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return AuthEvent{}, failure.Transient("event.decode", fmt.Errorf("LOGIN body: %w", err))
		}
		if err := ev.validate(); err != nil {
			return AuthEvent{}, failure.Transient("event.decode", fmt.Errorf("LOGIN body: %w", err))
		}
		return AuthEvent{Type: TypeLogin, login: &ev}, nil
	case TypeLogout:
		var ev LogoutEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return AuthEvent{}, failure.Transient("event.decode", fmt.Errorf("LOGOUT body: %w", err))
		}
		if err := ev.validate(); err != nil {
			return AuthEvent{}, failure.Transient("event.decode", fmt.Errorf("LOGOUT body: %w", err))
		}
		return AuthEvent{Type: TypeLogout, logout: &ev}, nil
	case TypeRejectedLogin:
		var ev RejectedLoginEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return AuthEvent{}, failure.Transient("event.decode", fmt.Errorf("REJECTED_LOGIN body: %w", err))
		}
		return AuthEvent{Type: TypeRejectedLogin, rejected: &ev}, nil
	default:
		return AuthEvent{}, failure.Permanentf("event.decode", "unknown eventType %q", env.EventType)
	}
}

func (e *LoginEvent) validate() error {
	if e.SubjectID == "" {
		return fmt.Errorf("missing fiscalCode")
	}
	if e.OccurredAt <= 0 {
		return fmt.Errorf("missing or non-positive ts")
	}
	if e.ExpiresAt <= 0 {
		return fmt.Errorf("missing or non-positive expiredAt")
	}
	// expiredAt before ts is not checked here: an already-lapsed expiry is a
	// data-quality condition, owned by the TTL computation at create time.
	return nil
}

func (e *LogoutEvent) validate() error {
	if e.SubjectID == "" {
		return fmt.Errorf("missing fiscalCode")
	}
	if e.OccurredAt <= 0 {
		return fmt.Errorf("missing or non-positive ts")
	}
	return nil
}

// OccurredTime converts the event timestamp to a time.Time.
func (e *LoginEvent) OccurredTime() time.Time { return time.UnixMilli(e.OccurredAt) }
