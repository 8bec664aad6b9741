package service

import (
	"sync"
	"time"

	"github.com/tacohub/collab-relay/internal/model"
)

// RoleCache holds one connection's last resolved role. The zero value is empty and ready to use.
type RoleCache struct {
	mu          sync.Mutex
	workspaceID string
	role        model.Role
	gen         uint64
	fetchedAt   time.Time
}

func (c *RoleCache) get(workspaceID string, gen uint64, now time.Time, ttl time.Duration) (model.Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role == "" || c.workspaceID != workspaceID || c.gen != gen {
		return "", false
	}
	if ttl > 0 && now.Sub(c.fetchedAt) >= ttl {
		return "", false
	}
	return c.role, true
}

func (c *RoleCache) put(workspaceID string, role model.Role, gen uint64, now time.Time) {
	c.mu.Lock()
	c.workspaceID, c.role, c.gen, c.fetchedAt = workspaceID, role, gen, now
	c.mu.Unlock()
}

func (c *RoleCache) clear() {
	c.mu.Lock()
	c.workspaceID, c.role = "", ""
	c.mu.Unlock()
}
