package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify_Sentinels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err   error
		code  string
		kind  Kind
		fatal bool
	}{
		{ErrInvalidToken, CodeInvalidToken, KindAuthentication, true},
		{fmt.Errorf("verify: %w", ErrExpiredToken), CodeExpiredToken, KindAuthentication, true},
		{ErrRateLimited, CodeRateLimited, KindAuthentication, true},
		{ErrWorkspaceAccessDenied, CodeWorkspaceAccessDenied, KindAuthorization, false},
		{ErrPermissionDenied, CodePermissionDenied, KindAuthorization, false},
		{ErrUserMismatch, CodeUserMismatch, KindAuthorization, false},
		{ErrNotInRoom, CodeNotInRoom, KindPresence, false},
		{ErrInvalidPayload, CodeInvalidPayload, KindValidation, false},
		{ErrUnknownEvent, CodeUnknownEvent, KindValidation, false},
		{errors.New("boom"), CodeInternal, KindInternal, true},
	}
	for _, tc := range cases {
		e := Classify(tc.err)
		require.Equal(t, tc.code, e.Code, tc.err.Error())
		require.Equal(t, tc.kind, e.Kind, tc.err.Error())
		require.Equal(t, tc.fatal, IsConnectionFatal(tc.err), tc.err.Error())
	}
	require.Nil(t, Classify(nil))
}

func TestToPayload_HidesInternalCause(t *testing.T) {
	t.Parallel()

	p := ToPayload(errors.New("pq: password authentication failed for user"))
	require.Equal(t, CodeInternal, p.Code)
	require.Equal(t, "Internal server error", p.Message)
	require.Nil(t, p.Details)
}

func TestError_WithDetailsAndUnwrap(t *testing.T) {
	t.Parallel()

	base := New(KindPresence, CodePresence, "bad join", ErrInvalidPayload)
	withD := base.WithDetails(map[string]any{"pageId": "p1"})

	require.Nil(t, base.Details)
	require.Equal(t, "p1", withD.Details["pageId"])
	require.ErrorIs(t, withD, ErrInvalidPayload)
	require.Same(t, withD, Classify(fmt.Errorf("wrap: %w", withD)))
	require.Equal(t, "p1", ToPayload(withD).Details["pageId"])
}
