package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tacohub/collab-relay/internal/audit"
	"github.com/tacohub/collab-relay/internal/authctx"
	"github.com/tacohub/collab-relay/internal/convert"
	"github.com/tacohub/collab-relay/internal/errs"
	"github.com/tacohub/collab-relay/internal/fanout"
	"github.com/tacohub/collab-relay/internal/model"
	"github.com/tacohub/collab-relay/internal/presence"
	"github.com/tacohub/collab-relay/internal/router"
	"github.com/tacohub/collab-relay/internal/service"
	"github.com/tacohub/collab-relay/internal/transport"
)

// Router is what sessions need from the broadcast router.
type Router interface {
	Route(ctx context.Context, origin router.Origin, room model.RoomKey, msg model.EditMessage) error
	DeliverLocal(room model.RoomKey, exceptConn, event string, payload any) int
}

// Deps bundles the collaborators of a Manager.
type Deps struct {
	Gate      service.Gate
	Presence  *presence.Registry
	Transport transport.Transport
	Router    Router
	Notify    fanout.NotificationPublisher
	Audit     *audit.Recorder
	Log       *zap.Logger
}

type op = func(context.Context, request) (result, error)

// Manager implements transport.Handler.
type Manager struct {
	gate      service.Gate
	presence  *presence.Registry
	transport transport.Transport
	router    Router
	notify    fanout.NotificationPublisher
	log       *zap.Logger
	now       func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	joinPage       op
	leavePage      op
	joinWorkspace  op
	leaveWorkspace op
	submitEdit     op
	sendNotify     op
	disconnect     op
}

var _ transport.Handler = (*Manager)(nil)

// NewManager wires the handlers. State-changing handlers are audited.
func NewManager(d Deps) *Manager {
	m := &Manager{
		gate:      d.Gate,
		presence:  d.Presence,
		transport: d.Transport,
		router:    d.Router,
		notify:    d.Notify,
		log:       d.Log,
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
	m.joinPage = audit.Wrap(d.Audit, model.EventPageJoin, "JoinPage", m.handleJoinPage)
	m.leavePage = audit.Wrap(d.Audit, model.EventPageLeave, "LeavePage", m.handleLeavePage)
	m.joinWorkspace = audit.Wrap(d.Audit, model.EventWorkspaceJoin, "JoinWorkspace", m.handleJoinWorkspace)
	m.leaveWorkspace = audit.Wrap(d.Audit, model.EventWorkspaceLeave, "LeaveWorkspace", m.handleLeaveWorkspace)
	m.submitEdit = audit.Wrap(d.Audit, model.EventEditSubmit, "SubmitEdit", m.handleEdit)
	m.sendNotify = audit.Wrap(d.Audit, model.EventNotificationSend, "SendNotification", m.handleNotification)
	m.disconnect = audit.Wrap(d.Audit, "disconnect", "Disconnect", m.handleDisconnect)
	return m
}

// Session returns the session of connID, if it is still tracked.
func (m *Manager) Session(connID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[connID]
	return s, ok
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// HandleConnect authenticates the handshake and acknowledges it with connected.
func (m *Manager) HandleConnect(ctx context.Context, info transport.ConnInfo) error {
	s := newSession(info.ID, info.RemoteAddr)
	m.mu.Lock()
	m.sessions[info.ID] = s
	m.mu.Unlock()

	res, err := m.gate.AuthenticateWithIP(ctx, info.Token, info.RemoteAddr)
	if err != nil {
		m.fail(ctx, s, "connect", err)
		return err
	}

	s.UserID, s.Email, s.ExpiresAt = res.UserID, res.Email, res.ExpiresAt
	s.state = StateAuthenticated

	m.log.Info("client connected",
		zap.String("conn", s.ConnID),
		zap.String("userId", s.UserID),
		zap.String("remote", s.RemoteAddr),
	)
	return m.transport.Send(s.ConnID, model.EventConnected, convert.Connected{SocketID: s.ConnID, UserID: s.UserID})
}

// HandleFrame dispatches one inbound event.
func (m *Manager) HandleFrame(ctx context.Context, connID string, f convert.Frame) {
	s, ok := m.Session(connID)
	if !ok || s.state == StateUnauthenticated || s.state == StateClosed {
		return
	}
	ctx = authctx.WithUserID(ctx, s.UserID)

	if s.expired(m.now()) {
		m.fail(ctx, s, f.Event, fmt.Errorf("session token: %w", errs.ErrExpiredToken))
		return
	}

	if err := m.dispatch(ctx, s, f); err != nil {
		m.fail(ctx, s, f.Event, err)
	}
}

func (m *Manager) dispatch(ctx context.Context, s *Session, f convert.Frame) error {
	req := request{ConnID: s.ConnID}
	var (
		run op
		err error
	)
	switch f.Event {
	case model.EventPageJoin:
		req.Page, err = decode[convert.JoinPage](f)
		run = m.joinPage
	case model.EventPageLeave:
		if len(f.Data) > 0 {
			req.Page, err = decode[convert.JoinPage](f)
		}
		run = m.leavePage
	case model.EventWorkspaceJoin:
		req.Workspace, err = decode[convert.JoinWorkspace](f)
		run = m.joinWorkspace
	case model.EventWorkspaceLeave:
		req.Workspace, err = decode[convert.JoinWorkspace](f)
		run = m.leaveWorkspace
	case model.EventEditSubmit:
		req.Edit, err = decode[model.EditMessage](f)
		run = m.submitEdit
	case model.EventNotificationSend:
		req.Notification, err = decode[convert.NotificationSend](f)
		run = m.sendNotify
	case model.EventCursorUpdate:
		cu, derr := decode[convert.CursorUpdate](f)
		if derr != nil {
			return derr
		}
		return m.cursorUpdate(s, cu)
	case model.EventCursorHide:
		return m.cursorHide(s)
	case "":
		return fmt.Errorf("malformed frame: %w", errs.ErrInvalidPayload)
	default:
		return fmt.Errorf("event %q: %w", f.Event, errs.ErrUnknownEvent)
	}
	if err != nil {
		return err
	}
	_, err = run(ctx, req)
	return err
}

// HandleDisconnect cleans up presence and groups and forgets the session.
func (m *Manager) HandleDisconnect(ctx context.Context, connID string) {
	s, ok := m.Session(connID)
	if !ok {
		return
	}
	if s.UserID != "" {
		ctx = authctx.WithUserID(ctx, s.UserID)
	}
	if _, err := m.disconnect(ctx, request{ConnID: connID}); err != nil {
		m.log.Warn("disconnect cleanup", zap.String("conn", connID), zap.Error(err))
	}

	m.mu.Lock()
	delete(m.sessions, connID)
	m.mu.Unlock()
}

// fail reports err to the client and closes the connection when the error requires it.
func (m *Manager) fail(ctx context.Context, s *Session, event string, err error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// connection already closing
		return
	}

	e := errs.Classify(err)
	fields := []zap.Field{
		zap.String("conn", s.ConnID),
		zap.String("userId", s.UserID),
		zap.String("event", event),
		zap.String("code", e.Code),
		zap.Error(err),
	}
	if e.Kind == errs.KindInternal {
		m.log.Error("event failed", fields...)
	} else {
		m.log.Warn("event rejected", fields...)
	}

	if serr := m.transport.Send(s.ConnID, model.EventError, errs.ToPayload(err)); serr != nil && !errors.Is(serr, transport.ErrConnGone) {
		m.log.Warn("send error event", zap.String("conn", s.ConnID), zap.Error(serr))
	}
	if errs.IsConnectionFatal(err) {
		s.state = StateClosed
		m.transport.Disconnect(s.ConnID)
	}
}
