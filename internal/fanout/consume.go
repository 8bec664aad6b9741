package fanout

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// consumeLoop consumes queue until ctx is done, re-subscribing with exponential backoff
// whenever the channel is lost.
func consumeLoop(ctx context.Context, src ChannelSource, queue, tag string, prefetch int, log *zap.Logger, handle func(context.Context, amqp.Delivery)) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	for {
		n, err := consumeOnce(ctx, src, queue, tag, prefetch, handle)
		if ctx.Err() != nil {
			return
		}
		if n > 0 {
			b.Reset()
		}
		wait := b.NextBackOff()
		log.Warn("consumer stopped, resubscribing",
			zap.String("queue", queue),
			zap.Duration("in", wait),
			zap.Error(err),
		)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func consumeOnce(ctx context.Context, src ChannelSource, queue, tag string, prefetch int, handle func(context.Context, amqp.Delivery)) (int, error) {
	ch, err := src.Channel(ctx)
	if err != nil {
		return 0, err
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			src.Invalidate(ch)
			return 0, err
		}
	}
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		src.Invalidate(ch)
		return 0, err
	}

	n := 0
	for {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				src.Invalidate(ch)
				return n, amqp.ErrClosed
			}
			n++
			handle(ctx, d)
		}
	}
}

// envelope is the common header of every broker message.
type envelope struct {
	MessageID   string `json:"messageId"`
	MessageType string `json:"messageType"`
}
