package convert

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/tacohub/collab-relay/internal/errs"
	"github.com/tacohub/collab-relay/internal/model"
)

// --- client -> server ---

// JoinPage is the page:join payload.
type JoinPage struct {
	WorkspaceID string `json:"workspaceId"`
	PageID      string `json:"pageId"`
	UserID      string `json:"userId"`
}

// Validate reports the first missing or malformed field.
func (p JoinPage) Validate() error {
	switch {
	case !validID(p.WorkspaceID):
		return invalid("Invalid workspace ID", "workspaceId")
	case !validID(p.PageID):
		return invalid("Invalid page ID", "pageId")
	case p.UserID == "":
		return invalid("Invalid user ID", "userId")
	}
	return nil
}

// JoinWorkspace is the workspace:join and workspace:leave payload.
type JoinWorkspace struct {
	WorkspaceID string `json:"workspaceId"`
	UserID      string `json:"userId"`
}

// Validate checks the workspace id.
func (p JoinWorkspace) Validate() error {
	if !validID(p.WorkspaceID) {
		return invalid("Invalid workspace ID", "workspaceId")
	}
	return nil
}

// Position is a cursor location on the page.
type Position struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	BlockID string  `json:"blockId,omitempty"`
}

// CursorUpdate is the cursor:update payload.
type CursorUpdate struct {
	PageID   string   `json:"pageId"`
	UserID   string   `json:"userId"`
	UserName string   `json:"userName"`
	Position Position `json:"position"`
}

// Validate checks the page id when one is given.
func (p CursorUpdate) Validate() error {
	if p.PageID != "" && !validID(p.PageID) {
		return invalid("Invalid page ID", "pageId")
	}
	return nil
}

// CursorHide is the cursor:hide payload.
type CursorHide struct {
	PageID string `json:"pageId"`
	UserID string `json:"userId"`
}

// NotificationSend is the notification:send payload.
type NotificationSend struct {
	WorkspaceID string         `json:"workspaceId"`
	UserID      string         `json:"userId"`
	Type        string         `json:"type"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
}

var notificationTypes = map[string]bool{"invitation": true, "mention": true, "comment": true, "update": true}

// Validate checks workspace and notification type.
func (p NotificationSend) Validate() error {
	switch {
	case !validID(p.WorkspaceID):
		return invalid("Invalid workspace ID", "workspaceId")
	case !notificationTypes[p.Type]:
		return invalid("Unknown notification type", "type")
	}
	return nil
}

// --- server -> client ---

// Connected acknowledges a successful handshake.
type Connected struct {
	SocketID string `json:"socketId"`
	UserID   string `json:"userId"`
}

// PresenceChange is the user:joined / user:left payload.
type PresenceChange struct {
	UserID      string `json:"userId"`
	WorkspaceID string `json:"workspaceId"`
	PageID      string `json:"pageId,omitempty"`
	SocketID    string `json:"socketId"`
	Timestamp   string `json:"timestamp"`
}

// CursorMoved is the cursor:moved payload.
type CursorMoved struct {
	UserID    string   `json:"userId"`
	UserName  string   `json:"userName"`
	Position  Position `json:"position"`
	Timestamp string   `json:"timestamp"`
	SocketID  string   `json:"socketId"`
}

// CursorHidden is the cursor:hidden payload.
type CursorHidden struct {
	UserID    string `json:"userId"`
	Timestamp string `json:"timestamp"`
}

// --- edits ---

// ToEditMessage builds the immutable edit from a client submission. The authoring user is
// always the session user; message id and timestamp are assigned when absent.
func ToEditMessage(in model.EditMessage, sessionUser string, now time.Time) (model.EditMessage, error) {
	if !validID(in.WorkspaceID) {
		return model.EditMessage{}, invalid("Invalid workspace ID", "workspaceId")
	}
	if !validID(in.Block.PageID) {
		return model.EditMessage{}, invalid("Invalid page ID", "blockDTO.pageId")
	}
	if in.Block.ID == "" {
		return model.EditMessage{}, invalid("Missing block id", "blockDTO.id")
	}
	if !in.Operation.Valid() {
		return model.EditMessage{}, invalid("Unknown block operation", "blockOperation")
	}
	if in.UserID != "" && in.UserID != sessionUser {
		return model.EditMessage{}, fmt.Errorf("edit author %q: %w", in.UserID, errs.ErrUserMismatch)
	}

	out := in
	out.UserID = sessionUser
	if out.MessageType == "" {
		out.MessageType = model.MessageTypeBlock
	}
	if out.MessageType != model.MessageTypeBlock {
		return model.EditMessage{}, invalid("Unsupported message type", "messageType")
	}
	if out.MessageID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return model.EditMessage{}, err
		}
		out.MessageID = id.String()
	}
	if out.Timestamp == "" {
		out.Timestamp = model.Timestamp(now)
	}
	out.Block.LastEditedBy = sessionUser
	return out, nil
}

// NewNotification builds the relayed notification from a client submission.
func NewNotification(in NotificationSend, sessionUser string, now time.Time) (model.Notification, error) {
	if err := in.Validate(); err != nil {
		return model.Notification{}, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.Notification{}, err
	}
	return model.Notification{
		MessageID:   id.String(),
		MessageType: model.MessageTypeNotification,
		WorkspaceID: in.WorkspaceID,
		UserID:      sessionUser,
		Type:        in.Type,
		Message:     in.Message,
		Data:        in.Data,
		Timestamp:   model.Timestamp(now),
	}, nil
}

// validID reports whether v is a UUID. Room keys join ids with ':', so anything else
// could alias another workspace's room.
func validID(v string) bool {
	_, err := uuid.FromString(v)
	return err == nil
}

func invalid(msg, field string) error {
	return errs.New(errs.KindValidation, errs.CodeInvalidPayload, msg, errs.ErrInvalidPayload).
		WithDetails(map[string]any{"field": field})
}
