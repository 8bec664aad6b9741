// Package authctx carries per-connection identity through context.
package authctx

import "context"

type ctxKey string

const (
	userIDKey     ctxKey = "collab.userID"
	sessionIDKey  ctxKey = "collab.sessionID"
	remoteAddrKey ctxKey = "collab.remoteAddr"
)

// WithUserID stores authenticated user ID in context.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFromCtx fetches user ID from context.
func UserIDFromCtx(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// WithSessionID stores the connection id in context.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromCtx fetches the connection id from context.
func SessionIDFromCtx(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey).(string)
	return id, ok && id != ""
}

// WithRemoteAddr stores the client address in context.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey, addr)
}

// RemoteAddrFromCtx fetches the client address from context.
func RemoteAddrFromCtx(ctx context.Context) (string, bool) {
	addr, ok := ctx.Value(remoteAddrKey).(string)
	return addr, ok && addr != ""
}
