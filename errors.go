package bitemporal

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies the error taxonomy from §7.
type Kind string

// Recognized error kinds.
const (
	KindInvalidTemporalRange         Kind = "InvalidTemporalRange"
	KindTemporalOverlap              Kind = "TemporalOverlap"
	KindTemporalGap                  Kind = "TemporalGap"
	KindTransactionTimeInconsistency Kind = "TransactionTimeInconsistency"
	KindVersionNotFound               Kind = "VersionNotFound"
	KindEntityNotFound                Kind = "EntityNotFound"
	KindSerialization                 Kind = "Serialization"
	KindBackendTransient              Kind = "Backend(transient)"
	KindBackendPermanent              Kind = "Backend(permanent)"
	KindInvalidID                     Kind = "InvalidId"
	KindNotFound                      Kind = "NotFound"
)

// ErrNotFound is the sentinel Storage backends return, unwrapped, when the
// version to supersede is unknown or already historical. An *Error of kind
// NotFound or EntityNotFound also matches it under errors.Is.
var ErrNotFound = errors.New("not found")

// Error is the engine's error type. It carries a machine-readable Kind plus
// the entity id and timestamp the error pertains to, per §7 "the message
// must name the entity_id and the offending timestamp when applicable".
type Error struct {
	Kind      Kind
	EntityID  EntityID
	Timestamp time.Time
	Message   string
	Err       error // wrapped cause, if any
}

func newError(kind Kind, id EntityID, ts time.Time, msg string) *Error {
	return &Error{Kind: kind, EntityID: id, Timestamp: ts, Message: msg}
}

func wrapError(kind Kind, id EntityID, ts time.Time, msg string, cause error) *Error {
	return &Error{Kind: kind, EntityID: id, Timestamp: ts, Message: msg, Err: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.EntityID.IsZero() && e.Timestamp.IsZero():
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Timestamp.IsZero():
		return fmt.Sprintf("%s: %s (entity_id=%s)", e.Kind, e.Message, e.EntityID)
	default:
		return fmt.Sprintf("%s: %s (entity_id=%s, t=%s)", e.Kind, e.Message, e.EntityID, e.Timestamp.Format(time.RFC3339))
	}
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the ErrNotFound sentinel and e's kind denotes
// a not-found condition, so that callers can keep writing
// errors.Is(err, bitemporal.ErrNotFound) as the teacher's codebase does.
func (e *Error) Is(target error) bool {
	if target == ErrNotFound {
		return e.Kind == KindNotFound || e.Kind == KindEntityNotFound
	}
	return false
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
