package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tacohub/collab-relay/internal/audit"
	"github.com/tacohub/collab-relay/internal/authctx"
	"github.com/tacohub/collab-relay/internal/fanout"
	"github.com/tacohub/collab-relay/internal/model"
)

var errIncompleteEdit = errors.New("incomplete edit")

// newDispatch returns one audited handler per known block operation.
func newDispatch(rec *audit.Recorder, log *zap.Logger) fanout.Dispatch {
	ops := []model.BlockOperation{
		model.OpCreate, model.OpUpdate, model.OpDelete, model.OpMove,
		model.OpDuplicate, model.OpConvertType, model.OpIndent, model.OpOutdent,
	}
	d := fanout.Dispatch{Block: make(map[model.BlockOperation]fanout.EditHandler, len(ops))}
	for _, op := range ops {
		d.Block[op] = withUser(audit.Wrap(rec, "api:block."+string(op), "ApplyEdit", applyEdit(log)))
	}
	d.Fallback = func(_ context.Context, msg model.EditMessage) (struct{}, error) {
		log.Warn("unsupported block operation",
			zap.String("messageId", msg.MessageID),
			zap.String("op", string(msg.Operation)),
		)
		return struct{}{}, nil
	}
	return d
}

// withUser exposes the edit author to the audit wrapper.
func withUser(h fanout.EditHandler) fanout.EditHandler {
	return func(ctx context.Context, msg model.EditMessage) (struct{}, error) {
		if msg.UserID != "" {
			ctx = authctx.WithUserID(ctx, msg.UserID)
		}
		return h(ctx, msg)
	}
}

func applyEdit(log *zap.Logger) fanout.EditHandler {
	return func(_ context.Context, msg model.EditMessage) (struct{}, error) {
		if msg.Block.ID == "" || msg.Block.PageID == "" || msg.WorkspaceID == "" {
			return struct{}{}, fmt.Errorf("message %s: %w", msg.MessageID, errIncompleteEdit)
		}
		log.Info("edit applied",
			zap.String("messageId", msg.MessageID),
			zap.String("op", string(msg.Operation)),
			zap.String("room", string(msg.Room())),
			zap.String("blockId", msg.Block.ID),
			zap.String("userId", msg.UserID),
		)
		return struct{}{}, nil
	}
}
