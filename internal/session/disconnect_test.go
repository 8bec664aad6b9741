package session

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tacohub/collab-relay/internal/audit"
	"github.com/tacohub/collab-relay/internal/authority"
	"github.com/tacohub/collab-relay/internal/convert"
	"github.com/tacohub/collab-relay/internal/model"
	"github.com/tacohub/collab-relay/internal/presence"
	"github.com/tacohub/collab-relay/internal/router"
	"github.com/tacohub/collab-relay/internal/service"
	"github.com/tacohub/collab-relay/internal/transport/ws"
)

// heldRoles parks every lookup until its context ends or release is closed.
type heldRoles struct {
	started chan string
	aborted chan error
	release chan struct{}
}

var _ authority.RoleSource = (*heldRoles)(nil)

func (h *heldRoles) RoleOf(ctx context.Context, _, user string) (model.Role, bool, error) {
	h.started <- user
	select {
	case <-ctx.Done():
		h.aborted <- ctx.Err()
		return "", false, ctx.Err()
	case <-h.release:
		return model.RoleMember, true, nil
	}
}

func dialRelay(t *testing.T, base, userID string) (*websocket.Conn, string) {
	t.Helper()
	tok, _, err := service.IssueToken(signKey, userID, userID+"@example.com", time.Hour)
	require.NoError(t, err)

	c, _, err := websocket.DefaultDialer.Dial(base+"?token="+tok, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := c.ReadMessage()
	require.NoError(t, err)
	f, err := convert.DecodeFrame(b)
	require.NoError(t, err)
	require.Equal(t, model.EventConnected, f.Event)
	ack, err := convert.DecodeData[convert.Connected](f)
	require.NoError(t, err)
	_ = c.SetReadDeadline(time.Time{})
	return c, ack.SocketID
}

func sendJoin(t *testing.T, c *websocket.Conn, userID string) {
	t.Helper()
	b, err := convert.EncodeFrame(model.EventPageJoin, convert.JoinPage{WorkspaceID: w1, PageID: p1, UserID: userID})
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, b))
}

func TestDisconnect_AbortsInFlightLookupOnlyForThatConnection(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	roles := &heldRoles{
		started: make(chan string, 2),
		aborted: make(chan error, 2),
		release: make(chan struct{}),
	}
	gate := service.NewGate(signKey, roles, nil, time.Minute, log)
	reg := presence.New()
	hub := ws.NewHub(ws.DefaultSettings(), log)
	mgr := NewManager(Deps{
		Gate:      gate,
		Presence:  reg,
		Transport: hub,
		Router:    router.New(reg, hub, gate, &fakePub{}, log),
		Notify:    &fakePub{},
		Audit:     audit.NewRecorder(&memSink{}, log),
		Log:       log,
	})
	hub.SetHandler(mgr)
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Shutdown)
	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	connA, idA := dialRelay(t, base, "u1")
	connB, idB := dialRelay(t, base, "u2")
	require.NotEqual(t, idA, idB)

	started := func() string {
		t.Helper()
		select {
		case u := <-roles.started:
			return u
		case <-time.After(5 * time.Second):
			t.Fatalf("role lookup never started")
			return ""
		}
	}

	// both connections are parked inside the authority call
	sendJoin(t, connA, "u1")
	require.Equal(t, "u1", started())
	sendJoin(t, connB, "u2")
	require.Equal(t, "u2", started())

	hub.Disconnect(idA)

	select {
	case err := <-roles.aborted:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatalf("lookup for the closed connection was not cancelled")
	}

	close(roles.release)
	require.Eventually(t, func() bool {
		members := reg.MembersOf(room1)
		return len(members) == 1 && members[0] == "u2"
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := mgr.Session(idA)
		return !ok && hub.Count() == 1
	}, 5*time.Second, 10*time.Millisecond)
	_, ok := mgr.Session(idB)
	require.True(t, ok)

	_ = connA.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := connA.ReadMessage(); err != nil {
			require.False(t, isTimeout(err), "socket not closed: %v", err)
			break
		}
	}
	select {
	case err := <-roles.aborted:
		t.Fatalf("second connection's lookup aborted: %v", err)
	default:
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
