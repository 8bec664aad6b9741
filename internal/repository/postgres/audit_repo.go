package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tacohub/collab-relay/internal/model"
	"github.com/tacohub/collab-relay/internal/repository"
)

// AuditRepo implements repository.AuditRepository on the audit_log table.
type AuditRepo struct{ db *DB }

var _ repository.AuditRepository = (*AuditRepo)(nil)

// NewAuditRepo constructs an audit repository.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

const insertAudit = `INSERT INTO audit_log (key, event_name, method_name, user_id, session_id, client_ip, duration_ms, error_type, error_message, started_at, record) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

// Insert stores rec. A duplicate key means the record is already there.
func (r *AuditRepo) Insert(ctx context.Context, key string, rec model.AuditRecord) error {
	startedAt, err := time.Parse(time.RFC3339Nano, rec.StartedAt)
	if err != nil {
		return fmt.Errorf("audit %s: startedAt: %w", key, err)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit %s: %w", key, err)
	}

	_, err = r.db.Pool.Exec(ctx, insertAudit,
		key, rec.EventName, rec.MethodName, rec.UserID, rec.SessionID, rec.ClientIP,
		rec.DurationMs, rec.ErrorType, rec.ErrorMessage, startedAt, body,
	)
	if err != nil && !isUniqueViolation(err) {
		return err
	}
	return nil
}

const selectRecent = `SELECT record FROM audit_log WHERE user_id=$1 ORDER BY started_at DESC LIMIT $2`

// Recent returns the newest records of userID.
func (r *AuditRepo) Recent(ctx context.Context, userID string, limit int) ([]model.AuditRecord, error) {
	rows, err := r.db.Pool.Query(ctx, selectRecent, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec model.AuditRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode audit record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
