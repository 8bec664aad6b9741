// Package presence tracks which users, through which connections, are viewing which room.
package presence

import (
	"sort"
	"sync"

	"github.com/tacohub/collab-relay/internal/model"
)

// Target is one delivery destination inside a room.
type Target struct {
	UserID string
	ConnID string
}

// Stats is a point-in-time size summary of the registry.
type Stats struct {
	Rooms       int `json:"rooms"`
	Users       int `json:"users"`
	Connections int `json:"connections"`
}

type connEntry struct {
	room   model.RoomKey
	userID string
}

// Registry is the in-process presence index. All methods are safe for concurrent use;
// no method performs I/O while holding the lock.
type Registry struct {
	mu sync.RWMutex
	// room -> member user ids
	rooms map[model.RoomKey]map[string]struct{}
	// user -> live connection ids
	users map[string]map[string]struct{}
	// connection -> room it is recorded in
	conns map[string]connEntry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		rooms: make(map[model.RoomKey]map[string]struct{}),
		users: make(map[string]map[string]struct{}),
		conns: make(map[string]connEntry),
	}
}

// Join records connID of userID in room. Repeated calls are no-ops. A connection that is
// recorded in another room is moved out of it first.
func (r *Registry) Join(room model.RoomKey, userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.conns[connID]; ok {
		if prev.room == room && prev.userID == userID {
			return
		}
		r.leaveLocked(prev.room, prev.userID, connID)
	}

	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[string]struct{})
		r.users[userID] = conns
	}
	conns[connID] = struct{}{}

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[room] = members
	}
	members[userID] = struct{}{}

	r.conns[connID] = connEntry{room: room, userID: userID}
}

// Leave removes connID from the user's connections and, once no other connection of the
// user remains in room, removes the user from the room. Leaving absent state is a no-op.
func (r *Registry) Leave(room model.RoomKey, userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(room, userID, connID)
}

// LeaveConn removes connID from whatever room it is recorded in and returns that room.
func (r *Registry) LeaveConn(connID string) (model.RoomKey, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[connID]
	if !ok {
		return "", "", false
	}
	r.leaveLocked(e.room, e.userID, connID)
	return e.room, e.userID, true
}

func (r *Registry) leaveLocked(room model.RoomKey, userID, connID string) {
	// A stale leave must not detach a connection that has since moved to another room.
	e, recorded := r.conns[connID]
	if !recorded || (e.room == room && e.userID == userID) {
		delete(r.conns, connID)
		if conns, ok := r.users[userID]; ok {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(r.users, userID)
			}
		}
	}

	members, ok := r.rooms[room]
	if !ok {
		return
	}
	for other := range r.users[userID] {
		if ce, ok := r.conns[other]; ok && ce.room == room {
			return
		}
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// MembersOf returns the users currently in room, sorted. Unknown rooms yield an empty slice.
func (r *Registry) MembersOf(room model.RoomKey) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.rooms[room])
}

// ConnectionsOf returns the live connections of userID, sorted.
func (r *Registry) ConnectionsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.users[userID])
}

// Targets returns every connection recorded in room except exceptConn, in one consistent read.
func (r *Registry) Targets(room model.RoomKey, exceptConn string) []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	if len(members) == 0 {
		return []Target{}
	}
	out := make([]Target, 0, len(members))
	for userID := range members {
		for connID := range r.users[userID] {
			if connID == exceptConn {
				continue
			}
			if e, ok := r.conns[connID]; ok && e.room != room {
				continue
			}
			out = append(out, Target{UserID: userID, ConnID: connID})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnID < out[j].ConnID })
	return out
}

// RoomOf reports the room connID is recorded in.
func (r *Registry) RoomOf(connID string) (model.RoomKey, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[connID]
	return e.room, ok
}

// Stats returns current registry sizes.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.users {
		n += len(c)
	}
	return Stats{Rooms: len(r.rooms), Users: len(r.users), Connections: n}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
