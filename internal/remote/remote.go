package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/pacekit/syncd/internal/entity"
)

// Kind classifies a remote operation failure. The worker pool routes on it:
// validation drops the item, conflict feeds the resolver, forbidden
// dead-letters immediately, transient retries with backoff.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindConflict
	KindForbidden
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is a typed remote-store failure.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	// Remote carries the server's copy of the entity on conflict responses,
	// when the server provides one. Input to the conflict resolver.
	Remote map[string]interface{}
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("remote: %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("remote: %s: %s", e.Kind, e.Message)
}

// FromStatus maps an HTTP-style status code to a typed error.
func FromStatus(code int, msg string) *Error {
	switch {
	case code == 400 || code == 422:
		return &Error{Kind: KindValidation, StatusCode: code, Message: msg}
	case code == 403:
		return &Error{Kind: KindForbidden, StatusCode: code, Message: msg}
	case code == 409:
		return &Error{Kind: KindConflict, StatusCode: code, Message: msg}
	case code == 429 || code >= 500:
		return &Error{Kind: KindTransient, StatusCode: code, Message: msg}
	default:
		return &Error{Kind: KindUnknown, StatusCode: code, Message: msg}
	}
}

// KindOf extracts the failure kind from an error chain. Untyped errors
// (timeouts, connection resets) classify as transient: retrying is the safe
// default for user data.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if err != nil {
		return KindTransient
	}
	return KindUnknown
}

// IsTransient reports whether the failure should be retried with backoff.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsConflict reports whether the failure is a 409-style conflict.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsForbidden reports whether the failure is permanent (authorization).
func IsForbidden(err error) bool { return KindOf(err) == KindForbidden }

// IsValidation reports whether the remote rejected the item as invalid.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// Store is the authoritative remote store. Create returns the canonical
// remote identifier for an entity created offline. Fetch returns the remote
// view of an owner's records for merge reads.
type Store interface {
	Create(ctx context.Context, p entity.Payload) (remoteID string, err error)
	Update(ctx context.Context, remoteID string, p entity.Payload) error
	Delete(ctx context.Context, entityType entity.Type, remoteID string) error
	Fetch(ctx context.Context, entityType entity.Type, ownerID string) ([]map[string]interface{}, error)
}
