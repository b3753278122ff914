// Package failure classifies errors as transient (retry via the host's
// redelivery machinery) or permanent (terminal; converted to a no-retry
// outcome plus telemetry by the caller).
package failure

import (
	"errors"
	"fmt"
)

// Kind is the retry classification of an error.
type Kind int

const (
	// KindTransient marks failures caused by downstream unavailability,
	// unexpected statuses, or decode failures against a typed dependency
	// response. Transient errors propagate and trigger redelivery.
	KindTransient Kind = iota
	// KindPermanent marks conditions retrying cannot fix (stale discovery,
	// already-reconciled state, negative TTL, unknown message tag).
	KindPermanent
)

// Error wraps an underlying error with a retry classification and a short
// operation name used in telemetry properties.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(op string, err error) *Error {
	return &Error{Op: op, Kind: KindTransient, Err: err}
}

// Permanent wraps err as a terminal failure.
func Permanent(op string, err error) *Error {
	return &Error{Op: op, Kind: KindPermanent, Err: err}
}

// Transientf wraps a formatted message as a retryable failure.
func Transientf(op, format string, args ...any) *Error {
	return &Error{Op: op, Kind: KindTransient, Err: fmt.Errorf(format, args...)}
}

// Permanentf wraps a formatted message as a terminal failure.
func Permanentf(op, format string, args ...any) *Error {
	return &Error{Op: op, Kind: KindPermanent, Err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether any error in err's chain is a permanent failure.
// An unclassified error is treated as transient: the safe default is to retry.
func IsPermanent(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == KindPermanent
	}
	return false
}

// IsTransient reports whether err should trigger redelivery. Unclassified
// errors count as transient.
func IsTransient(err error) bool {
	return err != nil && !IsPermanent(err)
}

// OpOf returns the operation name of the outermost classified error in err's
// chain, or "unclassified" when none is present. Used for telemetry properties.
func OpOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Op
	}
	return "unclassified"
}
