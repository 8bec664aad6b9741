package main

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tacohub/collab-relay/internal/audit"
	"github.com/tacohub/collab-relay/internal/model"
)

type memSink struct {
	mu   sync.Mutex
	recs []model.AuditRecord
}

var _ audit.Sink = (*memSink)(nil)

func (m *memSink) Put(_ context.Context, _ string, rec model.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func edit(op model.BlockOperation) model.EditMessage {
	return model.EditMessage{
		MessageID:   "m1",
		MessageType: model.MessageTypeBlock,
		WorkspaceID: "w1",
		Operation:   op,
		Block:       model.BlockPayload{ID: "b1", PageID: "p1"},
		UserID:      "u1",
	}
}

func TestDispatch_AuditsEveryOperation(t *testing.T) {
	t.Parallel()

	sink := &memSink{}
	log := zaptest.NewLogger(t)
	d := newDispatch(audit.NewRecorder(sink, log), log)

	h, ok := d.Block[model.OpMove]
	require.True(t, ok)
	_, err := h(context.Background(), edit(model.OpMove))
	require.NoError(t, err)

	require.Len(t, sink.recs, 1)
	require.Equal(t, "api:block.move", sink.recs[0].EventName)
	require.Equal(t, "u1", sink.recs[0].UserID)
	require.Empty(t, sink.recs[0].ErrorType)
}

func TestDispatch_IncompleteEditFails(t *testing.T) {
	t.Parallel()

	sink := &memSink{}
	log := zaptest.NewLogger(t)
	d := newDispatch(audit.NewRecorder(sink, log), log)

	msg := edit(model.OpDelete)
	msg.Block.ID = ""
	_, err := d.Block[model.OpDelete](context.Background(), msg)
	if !errors.Is(err, errIncompleteEdit) {
		t.Fatalf("want errIncompleteEdit, got %v", err)
	}
	require.Len(t, sink.recs, 1)
	require.NotEmpty(t, sink.recs[0].ErrorType)
}

func TestDispatch_FallbackAcks(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	d := newDispatch(nil, log)

	_, err := d.Fallback(context.Background(), edit("rename"))
	require.NoError(t, err)
}
