package fanout

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/tacohub/collab-relay/internal/broker"
	"github.com/tacohub/collab-relay/internal/model"
)

// LocalDeliverer delivers an event to the connections of this instance recorded in room.
type LocalDeliverer interface {
	DeliverLocal(room model.RoomKey, exceptConn, event string, payload any) int
}

// GroupSender delivers an event to a transport group of this instance.
type GroupSender interface {
	SendGroup(group, exceptConn, event string, payload any) int
}

// RoleInvalidator drops cached roles of a workspace.
type RoleInvalidator interface {
	InvalidateWorkspace(workspaceID string)
}

// Relay consumes the instance queue and re-delivers messages published by other instances.
type Relay struct {
	src      ChannelSource
	serverID string
	prefetch int
	rooms    LocalDeliverer
	groups   GroupSender
	roles    RoleInvalidator
	log      *zap.Logger
}

// NewRelay constructs the instance relay.
func NewRelay(src ChannelSource, serverID string, prefetch int, rooms LocalDeliverer, groups GroupSender, roles RoleInvalidator, log *zap.Logger) *Relay {
	return &Relay{
		src:      src,
		serverID: serverID,
		prefetch: prefetch,
		rooms:    rooms,
		groups:   groups,
		roles:    roles,
		log:      log,
	}
}

// Run consumes until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	consumeLoop(ctx, r.src, broker.InstanceQueue(r.serverID), "relay-"+r.serverID, r.prefetch, r.log, r.handle)
}

func (r *Relay) handle(_ context.Context, d amqp.Delivery) {
	// local connections already got it from the router
	if d.AppId == r.serverID {
		_ = d.Ack(false)
		return
	}

	var env envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		r.reject(d, "decode envelope", err)
		return
	}

	switch model.MessageType(env.MessageType) {
	case model.MessageTypeBlock:
		var msg model.EditMessage
		if err := json.Unmarshal(d.Body, &msg); err != nil || msg.WorkspaceID == "" || msg.Block.PageID == "" {
			r.reject(d, "decode edit", err)
			return
		}
		n := r.rooms.DeliverLocal(msg.Room(), "", model.EventEditBroadcast, msg)
		r.log.Debug("relayed edit", zap.String("messageId", msg.MessageID), zap.Int("delivered", n))

	case model.MessageTypeWorkspace:
		var ch model.WorkspaceChange
		if err := json.Unmarshal(d.Body, &ch); err != nil || ch.WorkspaceID == "" {
			r.reject(d, "decode workspace change", err)
			return
		}
		r.roles.InvalidateWorkspace(ch.WorkspaceID)
		r.log.Info("workspace roles invalidated", zap.String("workspaceId", ch.WorkspaceID))

	case model.MessageTypeNotification:
		var n model.Notification
		if err := json.Unmarshal(d.Body, &n); err != nil || n.WorkspaceID == "" {
			r.reject(d, "decode notification", err)
			return
		}
		r.groups.SendGroup(model.WorkspaceGroup(n.WorkspaceID), "", model.EventNotificationReceived, n)

	default:
		r.log.Debug("ignored message", zap.String("type", env.MessageType), zap.String("key", d.RoutingKey))
	}
	_ = d.Ack(false)
}

func (r *Relay) reject(d amqp.Delivery, what string, err error) {
	r.log.Warn("bad broker message",
		zap.String("stage", what),
		zap.String("key", d.RoutingKey),
		zap.String("messageId", d.MessageId),
		zap.Error(err),
	)
	_ = d.Nack(false, false)
}
