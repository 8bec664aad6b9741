package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/tacohub/collab-relay/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func sampleRecord() model.AuditRecord {
	return model.AuditRecord{
		EventName:  "page:join",
		MethodName: "JoinPage",
		UserID:     "u1",
		SessionID:  "c1",
		ClientIP:   "10.0.0.1",
		DurationMs: 12,
		StartedAt:  "2026-03-01T10:00:00.000Z",
		Timestamp:  "2026-03-01T10:00:00.012Z",
	}
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

const insertPattern = `INSERT INTO audit_log \(key, event_name, method_name, user_id, session_id, client_ip, duration_ms, error_type, error_message, started_at, record\)`

func TestAuditRepo_Insert_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAuditRepo(db)

	rec := sampleRecord()
	mock.ExpectExec(insertPattern).
		WithArgs("audit/k.json", "page:join", "JoinPage", "u1", "c1", "10.0.0.1",
			int64(12), "", "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, r.Insert(context.Background(), "audit/k.json", rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_Insert_DuplicateIgnored(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAuditRepo(db)

	mock.ExpectExec(insertPattern).
		WithArgs(anyArgs(11)...).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	require.NoError(t, r.Insert(context.Background(), "audit/k.json", sampleRecord()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_Insert_Errors(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAuditRepo(db)

	bad := sampleRecord()
	bad.StartedAt = "yesterday"
	require.Error(t, r.Insert(context.Background(), "k", bad))

	mock.ExpectExec(insertPattern).
		WithArgs(anyArgs(11)...).
		WillReturnError(errors.New("conn reset"))
	require.ErrorContains(t, r.Insert(context.Background(), "k", sampleRecord()), "conn reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_Recent(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAuditRepo(db)

	first, _ := json.Marshal(sampleRecord())
	second := sampleRecord()
	second.EventName = "block:update"
	secondRaw, _ := json.Marshal(second)

	mock.ExpectQuery(`SELECT record FROM audit_log WHERE user_id=\$1 ORDER BY started_at DESC LIMIT \$2`).
		WithArgs("u1", 2).
		WillReturnRows(pgxmock.NewRows([]string{"record"}).AddRow(secondRaw).AddRow(first))

	got, err := r.Recent(context.Background(), "u1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "block:update", got[0].EventName)
	require.Equal(t, "page:join", got[1].EventName)
	require.NoError(t, mock.ExpectationsWereMet())
}
