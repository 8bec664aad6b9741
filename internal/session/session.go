// Package session drives each client connection through its lifecycle and maps events onto
// presence, the gate, the router and fanout.
package session

import (
	"time"

	"github.com/tacohub/collab-relay/internal/model"
	"github.com/tacohub/collab-relay/internal/service"
)

// State is the lifecycle position of a connection.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateInRoom
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateInRoom:
		return "in_room"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is the per-connection state. Fields are owned by the connection's read goroutine,
// and by the disconnect callback once that goroutine has finished.
type Session struct {
	ConnID     string
	RemoteAddr string
	UserID     string
	Email      string
	ExpiresAt  time.Time

	Roles service.RoleCache

	state      State
	room       model.RoomKey
	workspaces map[string]struct{}
}

func newSession(connID, remote string) *Session {
	return &Session{
		ConnID:     connID,
		RemoteAddr: remote,
		workspaces: make(map[string]struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Room returns the room the connection is in, or "".
func (s *Session) Room() model.RoomKey { return s.room }

func (s *Session) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt.Add(service.Leeway))
}

func (s *Session) inWorkspace(workspaceID string) bool {
	if _, ok := s.workspaces[workspaceID]; ok {
		return true
	}
	ws, _ := s.room.Split()
	return s.room != "" && ws == workspaceID
}
