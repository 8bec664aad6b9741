package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the policy applied to it.
type Kind string

const (
	// KindAuthentication errors close the connection.
	KindAuthentication Kind = "authentication"
	// KindAuthorization errors abort the operation; the connection survives.
	KindAuthorization Kind = "authorization"
	// KindPresence errors abort the operation; the connection survives.
	KindPresence Kind = "presence"
	// KindBroadcast errors are logged and skipped.
	KindBroadcast Kind = "broadcast"
	// KindFanout errors are fatal at startup and logged at runtime.
	KindFanout Kind = "fanout"
	// KindAudit errors are always swallowed after logging.
	KindAudit Kind = "audit"
	// KindValidation errors abort the operation; the connection survives.
	KindValidation Kind = "validation"
	// KindInternal covers everything unexpected; the connection is closed.
	KindInternal Kind = "internal"
)

// Stable wire codes.
const (
	CodeInvalidToken          = "INVALID_TOKEN"
	CodeExpiredToken          = "EXPIRED_TOKEN"
	CodeRateLimited           = "RATE_LIMITED"
	CodeWorkspaceAccessDenied = "WORKSPACE_ACCESS_DENIED"
	CodePermissionDenied      = "PERMISSION_DENIED"
	CodeUserMismatch          = "USER_MISMATCH"
	CodeNotInRoom             = "NOT_IN_ROOM"
	CodeInvalidPayload        = "INVALID_PAYLOAD"
	CodeUnknownEvent          = "UNKNOWN_EVENT"
	CodePresence              = "PRESENCE_ERROR"
	CodeInternal              = "INTERNAL_ERROR"
)

// Error is a classified error carrying a stable code for the client.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error wrapping cause.
func New(kind Kind, code, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: cause}
}

// WithDetails returns a copy of e with extra debugging details attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// Payload is the wire shape of the error event.
type Payload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Classify maps any error onto a classified Error. Sentinels map to their stable codes,
// everything unknown becomes an internal error with a generic message.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, ErrInvalidToken):
		return New(KindAuthentication, CodeInvalidToken, "Invalid token", err)
	case errors.Is(err, ErrExpiredToken):
		return New(KindAuthentication, CodeExpiredToken, "Expired token", err)
	case errors.Is(err, ErrRateLimited):
		return New(KindAuthentication, CodeRateLimited, "Too many failed attempts", err)
	case errors.Is(err, ErrWorkspaceAccessDenied):
		return New(KindAuthorization, CodeWorkspaceAccessDenied, "Access denied to workspace", err)
	case errors.Is(err, ErrPermissionDenied):
		return New(KindAuthorization, CodePermissionDenied, "User permissions denied", err)
	case errors.Is(err, ErrUserMismatch):
		return New(KindAuthorization, CodeUserMismatch, "User does not match token subject", err)
	case errors.Is(err, ErrNotInRoom):
		return New(KindPresence, CodeNotInRoom, "Connection is not in the target room", err)
	case errors.Is(err, ErrInvalidPayload):
		return New(KindValidation, CodeInvalidPayload, "Validation error", err)
	case errors.Is(err, ErrUnknownEvent):
		return New(KindValidation, CodeUnknownEvent, "Invalid socket event", err)
	default:
		return New(KindInternal, CodeInternal, "Internal server error", err)
	}
}

// ToPayload renders err as the client error payload. Internal causes are never exposed.
func ToPayload(err error) Payload {
	e := Classify(err)
	return Payload{Code: e.Code, Message: e.Message, Details: e.Details}
}

// IsConnectionFatal reports whether err requires closing the connection.
func IsConnectionFatal(err error) bool {
	if err == nil {
		return false
	}
	e := Classify(err)
	return e.Kind == KindAuthentication || e.Kind == KindInternal
}
