package model

// Wire-level event tags.
const (
	EventConnected = "connected"
	EventError     = "error"

	EventWorkspaceJoin  = "workspace:join"
	EventWorkspaceLeave = "workspace:leave"
	EventUserJoined     = "user:joined"
	EventUserLeft       = "user:left"

	EventPageJoin  = "page:join"
	EventPageLeave = "page:leave"

	// client -> server
	EventEditSubmit = "block:update"
	// server -> client
	EventEditBroadcast = "block_update"

	EventCursorUpdate = "cursor:update"
	EventCursorMoved  = "cursor:moved"
	EventCursorHide   = "cursor:hide"
	EventCursorHidden = "cursor:hidden"

	EventNotificationSend     = "notification:send"
	EventNotificationReceived = "notification:received"
)

// AuditRecord is one structured audit entry around an entry point invocation.
type AuditRecord struct {
	EventName    string `json:"eventName"`
	MethodName   string `json:"methodName,omitempty"`
	UserID       string `json:"userId,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
	ClientIP     string `json:"clientIp,omitempty"`
	Parameters   any    `json:"parameters,omitempty"`
	Result       any    `json:"result,omitempty"`
	DurationMs   int64  `json:"durationMs"`
	ErrorType    string `json:"errorType,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	StartedAt    string `json:"startedAt"`
	Timestamp    string `json:"timestamp"`
}
