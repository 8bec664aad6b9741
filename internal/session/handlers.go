package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tacohub/collab-relay/internal/convert"
	"github.com/tacohub/collab-relay/internal/errs"
	"github.com/tacohub/collab-relay/internal/model"
	"github.com/tacohub/collab-relay/internal/router"
	"github.com/tacohub/collab-relay/internal/transport"
)

// request is the input of every audited handler; exactly one payload is set.
type request struct {
	ConnID       string                    `json:"socketId"`
	Page         *convert.JoinPage         `json:"page,omitempty"`
	Workspace    *convert.JoinWorkspace    `json:"workspace,omitempty"`
	Edit         *model.EditMessage        `json:"edit,omitempty"`
	Notification *convert.NotificationSend `json:"notification,omitempty"`
}

type result struct {
	Room      model.RoomKey `json:"room,omitempty"`
	Role      model.Role    `json:"role,omitempty"`
	MessageID string        `json:"messageId,omitempty"`
	Delivered int           `json:"delivered"`
}

func decode[T any](f convert.Frame) (*T, error) {
	v, err := convert.DecodeData[T](f)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func notInRoom(msg string, details map[string]any) error {
	return errs.New(errs.KindPresence, errs.CodeNotInRoom, msg, errs.ErrNotInRoom).WithDetails(details)
}

func (m *Manager) session(connID string) (*Session, error) {
	s, ok := m.Session(connID)
	if !ok {
		return nil, fmt.Errorf("session %s: %w", connID, transport.ErrConnGone)
	}
	return s, nil
}

func (m *Manager) presenceChange(s *Session, room model.RoomKey, workspaceID string) convert.PresenceChange {
	pc := convert.PresenceChange{
		UserID:      s.UserID,
		WorkspaceID: workspaceID,
		SocketID:    s.ConnID,
		Timestamp:   model.Timestamp(m.now()),
	}
	if room != "" {
		pc.WorkspaceID, pc.PageID = room.Split()
	}
	return pc
}

func (m *Manager) handleJoinPage(ctx context.Context, req request) (result, error) {
	s, err := m.session(req.ConnID)
	if err != nil {
		return result{}, err
	}
	p := *req.Page
	if err := p.Validate(); err != nil {
		return result{}, err
	}
	if p.UserID != s.UserID {
		return result{}, fmt.Errorf("join as %q: %w", p.UserID, errs.ErrUserMismatch)
	}

	room := model.NewRoomKey(p.WorkspaceID, p.PageID)
	if s.room == room {
		return result{Room: room}, nil
	}
	if s.room != "" {
		m.leaveRoom(s)
	}

	role, err := m.gate.AuthorizeRoomEntry(ctx, &s.Roles, p.WorkspaceID, s.UserID)
	if err != nil {
		return result{}, err
	}

	m.presence.Join(room, s.UserID, s.ConnID)
	s.room = room
	s.state = StateInRoom

	n := m.router.DeliverLocal(room, s.ConnID, model.EventUserJoined, m.presenceChange(s, room, ""))
	m.log.Info("joined page",
		zap.String("conn", s.ConnID),
		zap.String("userId", s.UserID),
		zap.String("room", string(room)),
		zap.String("role", string(role)),
	)
	return result{Room: room, Role: role, Delivered: n}, nil
}

// leaveRoom drops the connection from its current room and tells the remaining members.
func (m *Manager) leaveRoom(s *Session) int {
	room := s.room
	m.presence.Leave(room, s.UserID, s.ConnID)
	s.room = ""
	if s.state == StateInRoom {
		s.state = StateAuthenticated
	}
	m.log.Info("left page", zap.String("conn", s.ConnID), zap.String("room", string(room)))
	return m.router.DeliverLocal(room, s.ConnID, model.EventUserLeft, m.presenceChange(s, room, ""))
}

func (m *Manager) handleLeavePage(_ context.Context, req request) (result, error) {
	s, err := m.session(req.ConnID)
	if err != nil {
		return result{}, err
	}
	if s.room != "" {
		room := s.room
		return result{Room: room, Delivered: m.leaveRoom(s)}, nil
	}
	// stale client state; leave is a no-op for absent entries
	if req.Page != nil && req.Page.WorkspaceID != "" && req.Page.PageID != "" {
		room := model.NewRoomKey(req.Page.WorkspaceID, req.Page.PageID)
		m.presence.Leave(room, s.UserID, s.ConnID)
		return result{Room: room}, nil
	}
	return result{}, nil
}

func (m *Manager) handleJoinWorkspace(ctx context.Context, req request) (result, error) {
	s, err := m.session(req.ConnID)
	if err != nil {
		return result{}, err
	}
	p := *req.Workspace
	if err := p.Validate(); err != nil {
		return result{}, err
	}
	if p.UserID != "" && p.UserID != s.UserID {
		return result{}, fmt.Errorf("join as %q: %w", p.UserID, errs.ErrUserMismatch)
	}

	role, err := m.gate.AuthorizeRoomEntry(ctx, &s.Roles, p.WorkspaceID, s.UserID)
	if err != nil {
		return result{}, err
	}
	group := model.WorkspaceGroup(p.WorkspaceID)
	if err := m.transport.JoinGroup(s.ConnID, group); err != nil {
		return result{}, err
	}
	s.workspaces[p.WorkspaceID] = struct{}{}

	n := m.transport.SendGroup(group, s.ConnID, model.EventUserJoined, m.presenceChange(s, "", p.WorkspaceID))
	return result{Role: role, Delivered: n}, nil
}

func (m *Manager) handleLeaveWorkspace(_ context.Context, req request) (result, error) {
	s, err := m.session(req.ConnID)
	if err != nil {
		return result{}, err
	}
	p := *req.Workspace
	if err := p.Validate(); err != nil {
		return result{}, err
	}
	return result{Delivered: m.exitWorkspace(s, p.WorkspaceID)}, nil
}

func (m *Manager) exitWorkspace(s *Session, workspaceID string) int {
	group := model.WorkspaceGroup(workspaceID)
	m.transport.LeaveGroup(s.ConnID, group)
	delete(s.workspaces, workspaceID)
	return m.transport.SendGroup(group, s.ConnID, model.EventUserLeft, m.presenceChange(s, "", workspaceID))
}

func (m *Manager) handleEdit(ctx context.Context, req request) (result, error) {
	s, err := m.session(req.ConnID)
	if err != nil {
		return result{}, err
	}
	if s.room == "" {
		return result{}, notInRoom("Join a page before editing", nil)
	}

	msg, err := convert.ToEditMessage(*req.Edit, s.UserID, m.now())
	if err != nil {
		return result{}, err
	}
	if msg.Room() != s.room {
		return result{}, notInRoom("Connection is not in the target room", map[string]any{
			"room":    string(msg.Room()),
			"current": string(s.room),
		})
	}
	// presence is authoritative for delivery
	if recorded, ok := m.presence.RoomOf(s.ConnID); !ok || recorded != s.room {
		return result{}, notInRoom("Connection is not in the target room", map[string]any{
			"room": string(msg.Room()),
		})
	}

	origin := router.Origin{ConnID: s.ConnID, UserID: s.UserID, Roles: &s.Roles}
	if err := m.router.Route(ctx, origin, s.room, msg); err != nil {
		return result{}, err
	}
	return result{Room: s.room, MessageID: msg.MessageID}, nil
}

func (m *Manager) handleNotification(_ context.Context, req request) (result, error) {
	s, err := m.session(req.ConnID)
	if err != nil {
		return result{}, err
	}
	n, err := convert.NewNotification(*req.Notification, s.UserID, m.now())
	if err != nil {
		return result{}, err
	}
	if !s.inWorkspace(n.WorkspaceID) {
		return result{}, notInRoom("Join the workspace before notifying it", map[string]any{"workspaceId": n.WorkspaceID})
	}

	delivered := m.transport.SendGroup(model.WorkspaceGroup(n.WorkspaceID), s.ConnID, model.EventNotificationReceived, n)
	if err := m.notify.PublishNotification(n); err != nil {
		m.log.Error("notification fanout", zap.String("messageId", n.MessageID), zap.Error(err))
	}
	return result{MessageID: n.MessageID, Delivered: delivered}, nil
}

func (m *Manager) handleDisconnect(_ context.Context, req request) (result, error) {
	s, err := m.session(req.ConnID)
	if err != nil {
		return result{}, err
	}

	var res result
	if s.room != "" {
		res.Room = s.room
		res.Delivered = m.leaveRoom(s)
	}
	// whatever the registry still holds for this connection
	if room, user, ok := m.presence.LeaveConn(s.ConnID); ok {
		m.log.Debug("stale presence removed", zap.String("room", string(room)), zap.String("userId", user))
	}
	for ws := range s.workspaces {
		res.Delivered += m.exitWorkspace(s, ws)
	}
	s.state = StateClosed

	m.log.Info("client disconnected", zap.String("conn", s.ConnID), zap.String("userId", s.UserID))
	return res, nil
}

func (m *Manager) cursorUpdate(s *Session, cu *convert.CursorUpdate) error {
	if s.room == "" {
		return notInRoom("Join a page before moving the cursor", nil)
	}
	if err := cu.Validate(); err != nil {
		return err
	}
	if _, page := s.room.Split(); cu.PageID != "" && cu.PageID != page {
		return notInRoom("Connection is not in the target room", map[string]any{"pageId": cu.PageID})
	}
	m.router.DeliverLocal(s.room, s.ConnID, model.EventCursorMoved, convert.CursorMoved{
		UserID:    s.UserID,
		UserName:  cu.UserName,
		Position:  cu.Position,
		Timestamp: model.Timestamp(m.now()),
		SocketID:  s.ConnID,
	})
	return nil
}

func (m *Manager) cursorHide(s *Session) error {
	if s.room == "" {
		return nil
	}
	m.router.DeliverLocal(s.room, s.ConnID, model.EventCursorHidden, convert.CursorHidden{
		UserID:    s.UserID,
		Timestamp: model.Timestamp(m.now()),
	})
	return nil
}
