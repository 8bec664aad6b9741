package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/tacohub/collab-relay/internal/broker"
	"github.com/tacohub/collab-relay/internal/model"
)

// EditHandler processes one edit on the API tier.
type EditHandler func(ctx context.Context, msg model.EditMessage) (struct{}, error)

// Dispatch routes shared-queue messages by message type, then by block operation.
type Dispatch struct {
	Block map[model.BlockOperation]EditHandler
	// Fallback handles block operations without a dedicated entry.
	Fallback EditHandler
}

func (d Dispatch) handlerFor(op model.BlockOperation) (EditHandler, error) {
	if h, ok := d.Block[op]; ok && h != nil {
		return h, nil
	}
	if d.Fallback != nil {
		return d.Fallback, nil
	}
	return nil, fmt.Errorf("no handler for block operation %q", op)
}

// WorkConsumer drains the shared API queue. Each message is processed by exactly one
// consumer; failures are dead-lettered.
type WorkConsumer struct {
	src      ChannelSource
	prefetch int
	tag      string
	dispatch Dispatch
	log      *zap.Logger
}

// NewWorkConsumer constructs a shared-queue consumer.
func NewWorkConsumer(src ChannelSource, tag string, prefetch int, dispatch Dispatch, log *zap.Logger) *WorkConsumer {
	return &WorkConsumer{src: src, tag: tag, prefetch: prefetch, dispatch: dispatch, log: log}
}

// Run consumes until ctx is done.
func (w *WorkConsumer) Run(ctx context.Context) {
	consumeLoop(ctx, w.src, broker.APIQueue, w.tag, w.prefetch, w.log, w.handle)
}

func (w *WorkConsumer) handle(ctx context.Context, d amqp.Delivery) {
	if err := w.process(ctx, d); err != nil {
		w.log.Error("api message failed, dead-lettering",
			zap.String("key", d.RoutingKey),
			zap.String("messageId", d.MessageId),
			zap.Error(err),
		)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func (w *WorkConsumer) process(ctx context.Context, d amqp.Delivery) error {
	var env envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	switch model.MessageType(env.MessageType) {
	case model.MessageTypeBlock:
		var msg model.EditMessage
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			return fmt.Errorf("decode edit: %w", err)
		}
		h, err := w.dispatch.handlerFor(msg.Operation)
		if err != nil {
			return err
		}
		_, err = h(ctx, msg)
		return err
	default:
		return fmt.Errorf("unsupported message type %q", env.MessageType)
	}
}
