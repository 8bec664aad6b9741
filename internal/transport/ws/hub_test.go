package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tacohub/collab-relay/internal/authctx"
	"github.com/tacohub/collab-relay/internal/convert"
	"github.com/tacohub/collab-relay/internal/transport"
)

type recHandler struct {
	hub *Hub

	mu           sync.Mutex
	connected    []transport.ConnInfo
	frames       []convert.Frame
	disconnected []string
	sessionIDs   []string
	discCh       chan string
}

var _ transport.Handler = (*recHandler)(nil)

func (h *recHandler) HandleConnect(ctx context.Context, info transport.ConnInfo) error {
	h.mu.Lock()
	h.connected = append(h.connected, info)
	sid, _ := authctx.SessionIDFromCtx(ctx)
	h.sessionIDs = append(h.sessionIDs, sid)
	h.mu.Unlock()

	if info.Token != "good" {
		_ = h.hub.Send(info.ID, "error", map[string]string{"code": "INVALID_TOKEN"})
		return errors.New("bad token")
	}
	return h.hub.Send(info.ID, "connected", convert.Connected{SocketID: info.ID})
}

func (h *recHandler) HandleFrame(_ context.Context, connID string, f convert.Frame) {
	h.mu.Lock()
	h.frames = append(h.frames, f)
	h.mu.Unlock()

	switch f.Event {
	case "join":
		_ = h.hub.JoinGroup(connID, "g")
		_ = h.hub.Send(connID, "joined", nil)
	case "shout":
		h.hub.SendGroup("g", connID, "shouted", f.Data)
	case "kick":
		_ = h.hub.Send(connID, "bye", nil)
		h.hub.Disconnect(connID)
	}
}

func (h *recHandler) HandleDisconnect(_ context.Context, connID string) {
	h.mu.Lock()
	h.disconnected = append(h.disconnected, connID)
	h.mu.Unlock()
	h.discCh <- connID
}

func newTestServer(t *testing.T) (*httptest.Server, *Hub, *recHandler) {
	t.Helper()
	hub := NewHub(DefaultSettings(), zaptest.NewLogger(t))
	h := &recHandler{hub: hub, discCh: make(chan string, 16)}
	hub.SetHandler(h)
	srv := httptest.NewServer(NewRouter(hub, "test-1", func() (any, error) { return map[string]int{"connections": hub.Count()}, nil }))
	t.Cleanup(srv.Close)
	return srv, hub, h
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	c, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readFrame(t *testing.T, c *websocket.Conn) convert.Frame {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := c.ReadMessage()
	require.NoError(t, err)
	f, err := convert.DecodeFrame(b)
	require.NoError(t, err)
	return f
}

func send(t *testing.T, c *websocket.Conn, event string, data any) {
	t.Helper()
	b, err := convert.EncodeFrame(event, data)
	require.NoError(t, err)
	require.NoError(t, c.WriteMessage(websocket.TextMessage, b))
}

func TestHub_ConnectAndGroupDelivery(t *testing.T) {
	t.Parallel()

	srv, hub, h := newTestServer(t)
	a := dial(t, srv, "good")
	b := dial(t, srv, "good")

	fa := readFrame(t, a)
	require.Equal(t, "connected", fa.Event)
	readFrame(t, b)

	send(t, a, "join", nil)
	send(t, b, "join", nil)
	require.Equal(t, "joined", readFrame(t, a).Event)
	require.Equal(t, "joined", readFrame(t, b).Event)

	send(t, a, "shout", map[string]string{"msg": "hi"})
	got := readFrame(t, b)
	require.Equal(t, "shouted", got.Event)
	require.JSONEq(t, `{"msg":"hi"}`, string(got.Data))

	require.Equal(t, 2, hub.Count())
	h.mu.Lock()
	require.Len(t, h.sessionIDs, 2)
	require.Equal(t, h.connected[0].ID, h.sessionIDs[0])
	h.mu.Unlock()
}

func TestHub_RejectedHandshakeFlushesErrorThenCloses(t *testing.T) {
	t.Parallel()

	srv, hub, h := newTestServer(t)
	c := dial(t, srv, "bad")

	f := readFrame(t, c)
	require.Equal(t, "error", f.Event)

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	select {
	case <-h.discCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("disconnect callback not called")
	}
	require.Equal(t, 0, hub.Count())
	require.ErrorIs(t, hub.Send("nope", "x", nil), transport.ErrConnGone)
}

func TestHub_DisconnectFromHandler(t *testing.T) {
	t.Parallel()

	srv, hub, h := newTestServer(t)
	c := dial(t, srv, "good")
	readFrame(t, c)

	send(t, c, "join", nil)
	readFrame(t, c)
	send(t, c, "kick", nil)
	require.Equal(t, "bye", readFrame(t, c).Event)

	id := <-h.discCh
	require.ErrorIs(t, hub.JoinGroup(id, "g"), transport.ErrConnGone)
	require.Equal(t, 0, hub.SendGroup("g", "", "x", nil), "group pruned on disconnect")
}

func TestHub_BadFrameBecomesEmptyEvent(t *testing.T) {
	t.Parallel()

	srv, _, h := newTestServer(t)
	c := dial(t, srv, "good")
	readFrame(t, c)

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte("garbage")))
	send(t, c, "join", nil)
	readFrame(t, c)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Equal(t, "", h.frames[0].Event)
	require.Equal(t, "join", h.frames[1].Event)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "OK", body.Status)
	require.Equal(t, "test-1", body.ServerID)
}

func TestHealth_Degraded(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	healthHandler("x", func() (any, error) { return nil, errors.New("broker down") })(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "broker down")
}

func TestTokenFromRequest(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Authorization", "Bearer abc")
	require.Equal(t, "abc", tokenFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	require.Equal(t, "q", tokenFromRequest(r))

	r = httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
	require.Equal(t, "9.9.9.9", clientIP(r))
}
