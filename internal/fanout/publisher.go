// Package fanout propagates edits between relay instances and to the API tier through the broker.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/tacohub/collab-relay/internal/broker"
	"github.com/tacohub/collab-relay/internal/model"
)

var (
	// ErrQueueFull is returned when the publisher cannot keep up.
	ErrQueueFull = errors.New("fanout: publish queue full")
	// ErrPublisherClosed is returned after the publisher stopped.
	ErrPublisherClosed = errors.New("fanout: publisher closed")
)

// ChannelSource hands out the shared broker channel.
type ChannelSource interface {
	Channel(ctx context.Context) (broker.Channel, error)
	Invalidate(ch broker.Channel)
}

// EditPublisher is what the router needs from the publisher.
type EditPublisher interface {
	PublishEdit(msg model.EditMessage) error
}

// NotificationPublisher is what sessions need to relay notifications to other instances.
type NotificationPublisher interface {
	PublishNotification(n model.Notification) error
}

type outgoing struct {
	exchange string
	key      string
	id       string
	typ      string
	body     []byte
}

// Publisher publishes on a single ordered worker so edits from one origin leave in the
// order they were routed. Each publish runs under the publisher's own context.
type Publisher struct {
	src      ChannelSource
	serverID string
	timeout  time.Duration
	log      *zap.Logger

	// mu orders enqueues against the stop: once stopped is closed under the write lock,
	// every accepted message is already in queue.
	mu       sync.RWMutex
	queue    chan outgoing
	stopped  chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

var (
	_ EditPublisher         = (*Publisher)(nil)
	_ NotificationPublisher = (*Publisher)(nil)
)

// NewPublisher constructs a publisher; Run must be started for messages to leave.
func NewPublisher(src ChannelSource, serverID string, buffer int, log *zap.Logger) *Publisher {
	return &Publisher{
		src:      src,
		serverID: serverID,
		timeout:  5 * time.Second,
		log:      log,
		queue:    make(chan outgoing, buffer),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// PublishEdit enqueues an edit for the collaboration exchange.
func (p *Publisher) PublishEdit(msg model.EditMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.enqueue(outgoing{
		exchange: broker.CollaborationExchange,
		key:      msg.RoutingKey(),
		id:       msg.MessageID,
		typ:      string(msg.MessageType),
		body:     body,
	})
}

// PublishNotification enqueues a notification for the notification exchange.
func (p *Publisher) PublishNotification(n model.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return p.enqueue(outgoing{
		exchange: broker.NotificationExchange,
		key:      "notification." + n.Type,
		id:       n.MessageID,
		typ:      string(model.MessageTypeNotification),
		body:     body,
	})
}

func (p *Publisher) enqueue(o outgoing) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	select {
	case <-p.stopped:
		return ErrPublisherClosed
	default:
	}
	select {
	case p.queue <- o:
		return nil
	default:
		p.log.Error("publish queue full, dropping", zap.String("messageId", o.id), zap.String("key", o.key))
		return ErrQueueFull
	}
}

// Run publishes until ctx is done, then drains what is already queued and returns.
func (p *Publisher) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case o := <-p.queue:
			p.publish(o)
		case <-ctx.Done():
			p.stop()
			for {
				select {
				case o := <-p.queue:
					p.publish(o)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		close(p.stopped)
		p.mu.Unlock()
	})
}

// Done is closed once Run has returned.
func (p *Publisher) Done() <-chan struct{} { return p.done }

func (p *Publisher) publish(o outgoing) {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    o.id,
		Type:         o.typ,
		AppId:        p.serverID,
		Timestamp:    time.Now(),
		Body:         o.body,
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = p.publishOnce(o, msg); err == nil {
			return
		}
	}
	p.log.Error("publish failed",
		zap.String("exchange", o.exchange),
		zap.String("key", o.key),
		zap.String("messageId", o.id),
		zap.Error(err),
	)
}

func (p *Publisher) publishOnce(o outgoing, msg amqp.Publishing) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	ch, err := p.src.Channel(ctx)
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, o.exchange, o.key, false, false, msg); err != nil {
		p.src.Invalidate(ch)
		return err
	}
	return nil
}
