// Package broker manages the AMQP connection, channel and topology shared by the fanout layer.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("broker: closed")

// Channel is the subset of *amqp.Channel used by the relay.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Connection is the subset of *amqp.Connection used by Conn.
type Connection interface {
	Channel() (Channel, error)
	Close() error
}

// Dialer opens a broker connection.
type Dialer func(url string) (Connection, error)

type amqpConnection struct{ *amqp.Connection }

func (c amqpConnection) Channel() (Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// DialAMQP dials a real RabbitMQ broker.
func DialAMQP(url string) (Connection, error) {
	c, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConnection{c}, nil
}

// Conn is the process-wide lazily created channel. After a detected loss the next caller
// reconnects; concurrent callers share one dial.
type Conn struct {
	url    string
	dial   Dialer
	log    *zap.Logger
	onOpen func(Channel) error

	sf singleflight.Group

	mu     sync.Mutex
	conn   Connection
	ch     Channel
	closed bool
}

// NewConn constructs a lazily connecting broker handle. onOpen, when set, runs on every new
// channel before it is handed out (topology declaration).
func NewConn(url string, dial Dialer, onOpen func(Channel) error, log *zap.Logger) *Conn {
	if dial == nil {
		dial = DialAMQP
	}
	return &Conn{url: url, dial: dial, onOpen: onOpen, log: log}
}

// Channel returns the memoized channel, connecting if needed.
func (c *Conn) Channel(ctx context.Context) (Channel, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.ch != nil {
		ch := c.ch
		c.mu.Unlock()
		return ch, nil
	}
	c.mu.Unlock()

	res := c.sf.DoChan("channel", func() (any, error) { return c.connect() })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-res:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(Channel), nil
	}
}

func (c *Conn) connect() (Channel, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.ch != nil {
		ch := c.ch
		c.mu.Unlock()
		return ch, nil
	}
	old := c.conn
	c.conn = nil
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	conn, err := c.dial(c.url)
	if err != nil {
		return nil, fmt.Errorf("broker dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("broker channel: %w", err)
	}
	if c.onOpen != nil {
		if err := c.onOpen(ch); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, fmt.Errorf("broker topology: %w", err)
		}
	}

	closes := ch.NotifyClose(make(chan *amqp.Error, 1))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ch.Close()
		_ = conn.Close()
		return nil, ErrClosed
	}
	c.conn, c.ch = conn, ch
	c.mu.Unlock()

	go c.watch(ch, closes)
	c.log.Info("broker channel open")
	return ch, nil
}

func (c *Conn) watch(ch Channel, closes chan *amqp.Error) {
	err, ok := <-closes
	if ok && err != nil {
		c.log.Warn("broker channel lost", zap.String("reason", err.Reason), zap.Int("code", err.Code))
	}
	c.Invalidate(ch)
}

// Invalidate drops ch if it is still the memoized channel so the next caller reconnects.
func (c *Conn) Invalidate(ch Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == ch {
		c.ch = nil
	}
}

// Healthy reports whether a channel is currently open.
func (c *Conn) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch != nil && !c.closed
}

// Close closes the channel and connection. Further calls to Channel fail with ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	ch, conn := c.ch, c.conn
	c.ch, c.conn, c.closed = nil, nil, true
	c.mu.Unlock()

	var errList []error
	if ch != nil {
		errList = append(errList, ch.Close())
	}
	if conn != nil {
		errList = append(errList, conn.Close())
	}
	return errors.Join(errList...)
}
