// Package repository declares storage interfaces.
package repository

import (
	"context"

	"github.com/tacohub/collab-relay/internal/model"
)

// AuditRepository persists audit records.
type AuditRepository interface {
	// Insert stores rec under key. Re-inserting an existing key is a no-op.
	Insert(ctx context.Context, key string, rec model.AuditRecord) error

	// Recent returns up to limit records of userID, newest first.
	Recent(ctx context.Context, userID string, limit int) ([]model.AuditRecord, error)
}
