// Package model defines domain entities shared by the presence, routing and fanout layers.
package model

import (
	"strings"
	"time"
)

// RoomKey identifies one collaboratively edited page: "{workspaceId}:{pageId}".
type RoomKey string

// NewRoomKey renders the compound (workspaceId, pageId) key.
func NewRoomKey(workspaceID, pageID string) RoomKey {
	return RoomKey(workspaceID + ":" + pageID)
}

// Split returns the workspace and page parts of the key.
func (k RoomKey) Split() (workspaceID, pageID string) {
	ws, page, _ := strings.Cut(string(k), ":")
	return ws, page
}

// WorkspaceGroup is the transport group holding every connection joined to a workspace.
func WorkspaceGroup(workspaceID string) string { return "workspace:" + workspaceID }

// Role is a workspace-scoped privilege tier.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
	RoleGuest  Role = "GUEST"
)

// rank orders roles; unknown roles rank below GUEST.
func (r Role) rank() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleMember:
		return 2
	case RoleGuest:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is one of the known tiers.
func (r Role) Valid() bool { return r.rank() > 0 }

// AtLeast reports whether r grants at least the privileges of min.
func (r Role) AtLeast(min Role) bool { return r.rank() >= min.rank() && r.Valid() }

// MessageType tags broker and wire messages.
type MessageType string

const (
	MessageTypeBlock        MessageType = "block"
	MessageTypePage         MessageType = "page"
	MessageTypeWorkspace    MessageType = "workspace"
	MessageTypeNotification MessageType = "notification"
)

// BlockOperation is the kind of edit applied to a block.
type BlockOperation string

const (
	OpCreate      BlockOperation = "create"
	OpUpdate      BlockOperation = "update"
	OpDelete      BlockOperation = "delete"
	OpMove        BlockOperation = "move"
	OpDuplicate   BlockOperation = "duplicate"
	OpConvertType BlockOperation = "convert_type"
	OpIndent      BlockOperation = "indent"
	OpOutdent     BlockOperation = "outdent"
)

// Valid reports whether op is a known block operation.
func (op BlockOperation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete, OpMove, OpDuplicate, OpConvertType, OpIndent, OpOutdent:
		return true
	}
	return false
}

// BlockPayload is the target entity of an edit. The server never interprets content.
type BlockPayload struct {
	ID           string         `json:"id"`
	PageID       string         `json:"pageId"`
	BlockType    string         `json:"blockType"`
	Content      string         `json:"content,omitempty"`
	Properties   map[string]any `json:"properties,omitempty"`
	ParentID     *string        `json:"parentId,omitempty"`
	OrderIndex   *int           `json:"orderIndex,omitempty"`
	ChildrenIDs  []string       `json:"childrenIds,omitempty"`
	HasChildren  bool           `json:"hasChildren,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    string         `json:"createdAt,omitempty"`
	UpdatedAt    string         `json:"updatedAt,omitempty"`
	CreatedBy    string         `json:"createdBy,omitempty"`
	LastEditedBy string         `json:"lastEditedBy,omitempty"`
}

// EditMessage is the unit of collaborative change. It is built once by the session
// layer and passed by value afterwards; nothing mutates it after construction.
type EditMessage struct {
	MessageID   string         `json:"messageId"`
	MessageType MessageType    `json:"messageType"`
	Timestamp   string         `json:"timestamp"`
	WorkspaceID string         `json:"workspaceId"`
	Operation   BlockOperation `json:"blockOperation"`
	Block       BlockPayload   `json:"blockDTO"`
	UserID      string         `json:"userId"`
}

// Room returns the room the edit belongs to.
func (m EditMessage) Room() RoomKey { return NewRoomKey(m.WorkspaceID, m.Block.PageID) }

// RoutingKey is the topic key used on the collaboration exchange.
func (m EditMessage) RoutingKey() string {
	return "api." + string(m.MessageType) + "." + string(m.Operation)
}

// Notification is a workspace-wide notice relayed to every connection in the workspace group.
type Notification struct {
	MessageID   string         `json:"messageId"`
	MessageType MessageType    `json:"messageType"`
	WorkspaceID string         `json:"workspaceId"`
	UserID      string         `json:"userId"`
	Type        string         `json:"type"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

// WorkspaceChange is published by the API tier when workspace membership or roles change.
type WorkspaceChange struct {
	MessageID   string      `json:"messageId"`
	MessageType MessageType `json:"messageType"`
	WorkspaceID string      `json:"workspaceId"`
	UserID      string      `json:"userId,omitempty"`
	Timestamp   string      `json:"timestamp"`
}

// Timestamp renders t the way every wire message carries it.
func Timestamp(t time.Time) string { return t.UTC().Format("2006-01-02T15:04:05.000Z07:00") }
