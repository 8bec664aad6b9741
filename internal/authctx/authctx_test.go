package authctx

import (
	"context"
	"testing"
)

func TestWithUserID_And_UserIDFromCtx(t *testing.T) {
	t.Parallel()

	if id, ok := UserIDFromCtx(context.Background()); ok || id != "" {
		t.Fatalf("expected no user id in empty ctx")
	}

	ctx := WithUserID(context.Background(), "u1")
	got, ok := UserIDFromCtx(ctx)
	if !ok || got != "u1" {
		t.Fatalf("mismatch: got %q ok=%v", got, ok)
	}

	bad := context.WithValue(context.Background(), userIDKey, 42)
	if _, ok := UserIDFromCtx(bad); ok {
		t.Fatalf("expected miss on wrong typed value")
	}

	type otherKey string
	foreign := context.WithValue(context.Background(), otherKey("collab.userID"), "u1")
	if _, ok := UserIDFromCtx(foreign); ok {
		t.Fatalf("foreign key type must not match")
	}
}

func TestSessionAndRemoteAddr(t *testing.T) {
	t.Parallel()

	ctx := WithRemoteAddr(WithSessionID(context.Background(), "c1"), "10.0.0.1")
	if id, ok := SessionIDFromCtx(ctx); !ok || id != "c1" {
		t.Fatalf("session id: %q %v", id, ok)
	}
	if addr, ok := RemoteAddrFromCtx(ctx); !ok || addr != "10.0.0.1" {
		t.Fatalf("remote addr: %q %v", addr, ok)
	}
	if _, ok := RemoteAddrFromCtx(WithRemoteAddr(context.Background(), "")); ok {
		t.Fatalf("empty address must read as absent")
	}
}
