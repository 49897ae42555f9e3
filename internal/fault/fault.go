// Package fault defines the domain error kinds surfaced at the request boundary.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error for boundary handling.
type Kind int

const (
	// KindUnknown is the zero kind for errors that carry no classification.
	KindUnknown Kind = iota
	// KindNotFound indicates an unknown asset, field, entry, or candidate.
	KindNotFound
	// KindPermissionDenied indicates the actor lacks edit/approve capability.
	KindPermissionDenied
	// KindInvalidValue indicates a value failed type validation for its field.
	KindInvalidValue
	// KindAlreadyResolved indicates approval/rejection of an already-terminal row.
	KindAlreadyResolved
	// KindRequiresOverrideIntent indicates an edit of an overridden hybrid field
	// without explicit override intent.
	KindRequiresOverrideIntent
	// KindReadOnlyField indicates an edit of an automatic or readonly field.
	KindReadOnlyField
	// KindTokenExpired indicates a bulk preview token past its TTL.
	KindTokenExpired
	// KindTokenNotFound indicates a missing or mismatched bulk preview token.
	KindTokenNotFound
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindInvalidValue:
		return "invalid_value"
	case KindAlreadyResolved:
		return "already_resolved"
	case KindRequiresOverrideIntent:
		return "requires_override_intent"
	case KindReadOnlyField:
		return "readonly_field"
	case KindTokenExpired:
		return "token_expired"
	case KindTokenNotFound:
		return "token_not_found"
	default:
		return "unknown"
	}
}

// Error is a classified domain error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first fault.Error in the chain, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether the error chain contains a fault.Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// NotFound returns a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// PermissionDenied returns a KindPermissionDenied error.
func PermissionDenied(format string, args ...any) *Error {
	return &Error{Kind: KindPermissionDenied, Msg: fmt.Sprintf(format, args...)}
}

// InvalidValue returns a KindInvalidValue error wrapping the validation failure.
func InvalidValue(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidValue, Msg: fmt.Sprintf(format, args...), Err: err}
}

// AlreadyResolved returns a KindAlreadyResolved error.
func AlreadyResolved(format string, args ...any) *Error {
	return &Error{Kind: KindAlreadyResolved, Msg: fmt.Sprintf(format, args...)}
}

// RequiresOverrideIntent returns a KindRequiresOverrideIntent error.
func RequiresOverrideIntent(format string, args ...any) *Error {
	return &Error{Kind: KindRequiresOverrideIntent, Msg: fmt.Sprintf(format, args...)}
}

// ReadOnlyField returns a KindReadOnlyField error.
func ReadOnlyField(format string, args ...any) *Error {
	return &Error{Kind: KindReadOnlyField, Msg: fmt.Sprintf(format, args...)}
}

// TokenExpired returns a KindTokenExpired error.
func TokenExpired(format string, args ...any) *Error {
	return &Error{Kind: KindTokenExpired, Msg: fmt.Sprintf(format, args...)}
}

// TokenNotFound returns a KindTokenNotFound error.
func TokenNotFound(format string, args ...any) *Error {
	return &Error{Kind: KindTokenNotFound, Msg: fmt.Sprintf(format, args...)}
}
