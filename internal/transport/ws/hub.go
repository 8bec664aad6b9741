// Package ws serves client connections over WebSocket.
package ws

import (
	"context"
	"crypto/rand"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/tacohub/collab-relay/internal/authctx"
	"github.com/tacohub/collab-relay/internal/convert"
	"github.com/tacohub/collab-relay/internal/transport"
)

const maxMessageSize = 1 << 20

// Settings tune per-connection buffering and keepalive.
type Settings struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	CheckOrigin  func(r *http.Request) bool
}

// DefaultSettings returns production defaults.
func DefaultSettings() Settings {
	return Settings{
		SendBuffer:   256,
		WriteTimeout: 10 * time.Second,
		PingInterval: 25 * time.Second,
	}
}

// Hub owns every live connection of this instance and the group index.
type Hub struct {
	settings Settings
	upgrader websocket.Upgrader
	log      *zap.Logger
	handler  transport.Handler

	mu     sync.RWMutex
	conns  map[string]*conn
	groups map[string]map[string]struct{}

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

var _ transport.Transport = (*Hub)(nil)

// NewHub constructs a hub. SetHandler must be called before serving.
func NewHub(settings Settings, log *zap.Logger) *Hub {
	check := settings.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	return &Hub{
		settings: settings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     check,
		},
		log:     log,
		conns:   make(map[string]*conn),
		groups:  make(map[string]map[string]struct{}),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// SetHandler installs the lifecycle handler.
func (h *Hub) SetHandler(handler transport.Handler) { h.handler = handler }

func (h *Hub) newID() string {
	h.entropyMu.Lock()
	defer h.entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), h.entropy).String()
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade", zap.Error(err))
		return
	}

	id := h.newID()
	remote := clientIP(r)

	ctx, cancel := context.WithCancel(context.Background())
	ctx = authctx.WithSessionID(ctx, id)
	ctx = authctx.WithRemoteAddr(ctx, remote)

	c := &conn{
		id:     id,
		ws:     ws,
		send:   make(chan []byte, h.settings.SendBuffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		groups: make(map[string]struct{}),
	}
	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()

	go h.writePump(c)

	defer func() {
		c.cancel()
		h.unregister(c)
		<-c.done
		h.handler.HandleDisconnect(context.WithoutCancel(ctx), id)
	}()

	if err := h.handler.HandleConnect(ctx, transport.ConnInfo{ID: id, RemoteAddr: remote, Token: token}); err != nil {
		return
	}
	h.readPump(c)
}

func (h *Hub) readPump(c *conn) {
	c.ws.SetReadLimit(maxMessageSize)
	wait := 2 * h.settings.PingInterval
	if wait > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(wait))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		if c.ctx.Err() != nil {
			return
		}
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Info("read", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}
		if wait > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(wait))
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		f, err := convert.DecodeFrame(message)
		if err != nil {
			f = convert.Frame{}
		}
		h.handler.HandleFrame(c.ctx, c.id, f)
	}
}

func (h *Hub) writePump(c *conn) {
	var tick <-chan time.Time
	if h.settings.PingInterval > 0 {
		ticker := time.NewTicker(h.settings.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer func() {
		_ = c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case message := <-c.send:
			if err := h.write(c, websocket.TextMessage, message); err != nil {
				c.cancel()
				return
			}
		case <-tick:
			if err := h.write(c, websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			// flush whatever was queued before the close, then say goodbye
			for {
				select {
				case message := <-c.send:
					if err := h.write(c, websocket.TextMessage, message); err != nil {
						return
					}
				default:
					_ = h.write(c, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (h *Hub) write(c *conn, messageType int, data []byte) error {
	if h.settings.WriteTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(h.settings.WriteTimeout))
	}
	return c.ws.WriteMessage(messageType, data)
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c.id)
	for g := range c.groups {
		if members, ok := h.groups[g]; ok {
			delete(members, c.id)
			if len(members) == 0 {
				delete(h.groups, g)
			}
		}
	}
}

func (h *Hub) lookup(connID string) *conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[connID]
}

// Send enqueues event for connID. A full queue marks the client as too slow and closes it.
func (h *Hub) Send(connID, event string, payload any) error {
	c := h.lookup(connID)
	if c == nil {
		return transport.ErrConnGone
	}
	b, err := convert.EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	return h.enqueue(c, b)
}

func (h *Hub) enqueue(c *conn, b []byte) error {
	if c.ctx.Err() != nil {
		return transport.ErrConnGone
	}
	select {
	case c.send <- b:
		return nil
	default:
		h.log.Warn("send queue full, closing", zap.String("conn", c.id))
		c.cancel()
		return transport.ErrConnGone
	}
}

// JoinGroup adds connID to group.
func (h *Hub) JoinGroup(connID, group string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return transport.ErrConnGone
	}
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]struct{})
		h.groups[group] = members
	}
	members[connID] = struct{}{}
	c.groups[group] = struct{}{}
	return nil
}

// LeaveGroup removes connID from group.
func (h *Hub) LeaveGroup(connID, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.conns[connID]; ok {
		delete(c.groups, group)
	}
	if members, ok := h.groups[group]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
}

// SendGroup encodes once and enqueues to every member except exceptConn.
func (h *Hub) SendGroup(group, exceptConn, event string, payload any) int {
	b, err := convert.EncodeFrame(event, payload)
	if err != nil {
		h.log.Error("encode group event", zap.String("event", event), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.groups[group]))
	for id := range h.groups[group] {
		if id == exceptConn {
			continue
		}
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range targets {
		if h.enqueue(c, b) == nil {
			n++
		}
	}
	return n
}

// Disconnect flushes queued events and closes connID.
func (h *Hub) Disconnect(connID string) {
	if c := h.lookup(connID); c != nil {
		c.cancel()
	}
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Shutdown closes every connection.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.conns {
		c.cancel()
	}
}

type conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	// guarded by Hub.mu
	groups map[string]struct{}
}

func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
