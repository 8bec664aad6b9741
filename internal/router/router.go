// Package router delivers edits to every local connection in the room and hands them to fanout.
package router

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/tacohub/collab-relay/internal/fanout"
	"github.com/tacohub/collab-relay/internal/model"
	"github.com/tacohub/collab-relay/internal/presence"
	"github.com/tacohub/collab-relay/internal/service"
	"github.com/tacohub/collab-relay/internal/transport"
)

// Origin identifies the connection an edit came from.
type Origin struct {
	ConnID string
	UserID string
	Roles  *service.RoleCache
}

// RoleChecker re-validates the origin's role for each edit.
type RoleChecker interface {
	EnsureRole(ctx context.Context, cache *service.RoleCache, workspaceID, userID string, min model.Role) (model.Role, error)
}

// Router is the broadcast router.
type Router struct {
	presence  *presence.Registry
	transport transport.Transport
	roles     RoleChecker
	pub       fanout.EditPublisher
	log       *zap.Logger
}

var _ fanout.LocalDeliverer = (*Router)(nil)

// New constructs a router.
func New(reg *presence.Registry, t transport.Transport, roles RoleChecker, pub fanout.EditPublisher, log *zap.Logger) *Router {
	return &Router{presence: reg, transport: t, roles: roles, pub: pub, log: log}
}

// Route authorizes the edit, delivers it to every other connection in room and enqueues it for
// other instances. Authorization failures stop before any delivery or publish.
func (r *Router) Route(ctx context.Context, origin Origin, room model.RoomKey, msg model.EditMessage) error {
	if _, err := r.roles.EnsureRole(ctx, origin.Roles, msg.WorkspaceID, origin.UserID, model.RoleMember); err != nil {
		r.log.Warn("edit rejected",
			zap.String("userId", origin.UserID),
			zap.String("workspaceId", msg.WorkspaceID),
			zap.String("messageId", msg.MessageID),
			zap.Error(err),
		)
		return err
	}

	n := r.DeliverLocal(room, origin.ConnID, model.EventEditBroadcast, msg)

	if err := r.pub.PublishEdit(msg); err != nil {
		r.log.Error("fanout enqueue", zap.String("messageId", msg.MessageID), zap.Error(err))
	}

	r.log.Debug("edit routed",
		zap.String("room", string(room)),
		zap.String("messageId", msg.MessageID),
		zap.String("op", string(msg.Operation)),
		zap.Int("delivered", n),
	)
	return nil
}

// DeliverLocal sends event to every connection recorded in room except exceptConn and
// returns how many accepted it. Vanished connections are skipped.
func (r *Router) DeliverLocal(room model.RoomKey, exceptConn, event string, payload any) int {
	n := 0
	for _, t := range r.presence.Targets(room, exceptConn) {
		err := r.transport.Send(t.ConnID, event, payload)
		switch {
		case err == nil:
			n++
		case errors.Is(err, transport.ErrConnGone):
			r.log.Debug("target gone", zap.String("conn", t.ConnID), zap.String("userId", t.UserID))
		default:
			r.log.Warn("deliver", zap.String("conn", t.ConnID), zap.String("event", event), zap.Error(err))
		}
	}
	return n
}
