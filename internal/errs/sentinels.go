// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across the session, service and router layers.
var (
	// ErrInvalidToken indicates a bearer token with a bad signature or format.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken indicates a well-formed token whose expiry has passed.
	ErrExpiredToken = errors.New("expired token")

	// ErrRateLimited indicates a temporary handshake lock due to repeated failures.
	ErrRateLimited = errors.New("rate limited")

	// ErrWorkspaceAccessDenied indicates the role authority returned no role for the user.
	ErrWorkspaceAccessDenied = errors.New("workspace access denied")

	// ErrPermissionDenied indicates the cached role does not allow the requested mutation.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUserMismatch indicates a join for a user other than the token subject.
	ErrUserMismatch = errors.New("user mismatch")

	// ErrNotInRoom indicates an operation that requires room membership on a connection without one.
	ErrNotInRoom = errors.New("not in room")

	// ErrInvalidPayload indicates a frame that failed decoding or validation.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrUnknownEvent indicates a frame with an event tag the server does not handle.
	ErrUnknownEvent = errors.New("unknown event")
)
