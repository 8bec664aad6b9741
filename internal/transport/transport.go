// Package transport defines the client connection surface used by sessions, the router and the relay.
package transport

import (
	"context"
	"errors"

	"github.com/tacohub/collab-relay/internal/convert"
)

// ErrConnGone is returned when the target connection no longer exists or is closing.
var ErrConnGone = errors.New("connection gone")

// Transport delivers events to live client connections.
type Transport interface {
	// Send enqueues one event for connID. Delivery order per connection is FIFO.
	Send(connID, event string, payload any) error
	// JoinGroup adds connID to a named group.
	JoinGroup(connID, group string) error
	// LeaveGroup removes connID from a named group.
	LeaveGroup(connID, group string)
	// SendGroup delivers to every group member except exceptConn and returns the count.
	SendGroup(group, exceptConn, event string, payload any) int
	// Disconnect flushes queued events and closes connID.
	Disconnect(connID string)
}

// ConnInfo describes a freshly accepted connection.
type ConnInfo struct {
	ID         string
	RemoteAddr string
	Token      string
}

// Handler receives connection lifecycle callbacks. Calls for one connection never overlap.
type Handler interface {
	// HandleConnect runs once before any frame. A non-nil error closes the connection.
	HandleConnect(ctx context.Context, info ConnInfo) error
	// HandleFrame runs for each inbound frame on the connection's read goroutine.
	HandleFrame(ctx context.Context, connID string, f convert.Frame)
	// HandleDisconnect runs once after the connection is gone.
	HandleDisconnect(ctx context.Context, connID string)
}
