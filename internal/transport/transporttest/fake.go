// Package transporttest provides an in-memory Transport for tests.
package transporttest

import (
	"sort"
	"sync"

	"github.com/tacohub/collab-relay/internal/transport"
)

// Sent is one recorded delivery.
type Sent struct {
	Event   string
	Payload any
}

// Fake records deliveries per connection. Connections must be added with Open.
type Fake struct {
	mu           sync.Mutex
	open         map[string]bool
	sent         map[string][]Sent
	groups       map[string]map[string]struct{}
	disconnected []string
}

var _ transport.Transport = (*Fake)(nil)

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		open:   map[string]bool{},
		sent:   map[string][]Sent{},
		groups: map[string]map[string]struct{}{},
	}
}

// Open registers live connections.
func (f *Fake) Open(connIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range connIDs {
		f.open[id] = true
	}
}

// Gone marks a connection as closed without running any callback.
func (f *Fake) Gone(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.open, connID)
}

func (f *Fake) Send(connID, event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open[connID] {
		return transport.ErrConnGone
	}
	f.sent[connID] = append(f.sent[connID], Sent{Event: event, Payload: payload})
	return nil
}

func (f *Fake) JoinGroup(connID, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open[connID] {
		return transport.ErrConnGone
	}
	if f.groups[group] == nil {
		f.groups[group] = map[string]struct{}{}
	}
	f.groups[group][connID] = struct{}{}
	return nil
}

func (f *Fake) LeaveGroup(connID, group string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groups[group], connID)
}

func (f *Fake) SendGroup(group, exceptConn, event string, payload any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id := range f.groups[group] {
		if id == exceptConn || !f.open[id] {
			continue
		}
		f.sent[id] = append(f.sent[id], Sent{Event: event, Payload: payload})
		n++
	}
	return n
}

func (f *Fake) Disconnect(connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.open, connID)
	f.disconnected = append(f.disconnected, connID)
}

// SentTo returns a copy of everything delivered to connID.
func (f *Fake) SentTo(connID string) []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent[connID]...)
}

// Events returns the event names delivered to connID, in order.
func (f *Fake) Events(connID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent[connID]))
	for _, s := range f.sent[connID] {
		out = append(out, s.Event)
	}
	return out
}

// Members returns the sorted members of group.
func (f *Fake) Members(group string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.groups[group]))
	for id := range f.groups[group] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Disconnected returns connections closed through Disconnect.
func (f *Fake) Disconnected() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.disconnected...)
}

// Reset clears recorded deliveries.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = map[string][]Sent{}
}
