// Package brokertest is an in-memory topic broker implementing broker.Connection for tests.
package brokertest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tacohub/collab-relay/internal/broker"
)

type binding struct {
	queue, key, exchange string
}

// Server routes published messages to bound queues with topic semantics.
type Server struct {
	mu        sync.Mutex
	exchanges map[string]string
	queues    map[string]chan amqp.Delivery
	bindings  []binding
	channels  []*Channel
	published []amqp.Publishing
	tag       uint64

	Dials   atomic.Int32
	DialErr error

	Acks, Nacks, Requeues atomic.Int32
}

// NewServer returns an empty broker.
func NewServer() *Server {
	return &Server{exchanges: map[string]string{}, queues: map[string]chan amqp.Delivery{}}
}

// Dial is a broker.Dialer.
func (s *Server) Dial(string) (broker.Connection, error) {
	s.Dials.Add(1)
	if s.DialErr != nil {
		return nil, s.DialErr
	}
	return &conn{srv: s}, nil
}

// Kill closes every open channel as if the broker dropped them.
func (s *Server) Kill() {
	s.mu.Lock()
	chans := s.channels
	s.channels = nil
	s.mu.Unlock()
	for _, ch := range chans {
		ch.shutdown(&amqp.Error{Code: amqp.ConnectionForced, Reason: "killed"})
	}
}

// Published returns every message accepted by an exchange.
func (s *Server) Published() []amqp.Publishing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]amqp.Publishing(nil), s.published...)
}

// Bound reports whether queue is bound to exchange with key.
func (s *Server) Bound(queue, exchange, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bindings {
		if b == (binding{queue: queue, key: key, exchange: exchange}) {
			return true
		}
	}
	return false
}

// Depth returns the number of undelivered messages in queue.
func (s *Server) Depth(queue string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[queue])
}

func (s *Server) route(exchange, key string, msg amqp.Publishing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exchanges[exchange]; !ok {
		return &amqp.Error{Code: amqp.NotFound, Reason: "no exchange " + exchange}
	}
	s.published = append(s.published, msg)
	for _, b := range s.bindings {
		if b.exchange != exchange || !Match(b.key, key) {
			continue
		}
		s.tag++
		d := amqp.Delivery{
			Acknowledger: s,
			Headers:      msg.Headers,
			ContentType:  msg.ContentType,
			DeliveryMode: msg.DeliveryMode,
			MessageId:    msg.MessageId,
			Timestamp:    msg.Timestamp,
			Type:         msg.Type,
			AppId:        msg.AppId,
			DeliveryTag:  s.tag,
			Exchange:     exchange,
			RoutingKey:   key,
			Body:         append([]byte(nil), msg.Body...),
		}
		select {
		case s.queues[b.queue] <- d:
		default:
			return errors.New("brokertest: queue overflow " + b.queue)
		}
	}
	return nil
}

func (s *Server) Ack(uint64, bool) error { s.Acks.Add(1); return nil }
func (s *Server) Nack(_ uint64, _ bool, requeue bool) error {
	s.Nacks.Add(1)
	if requeue {
		s.Requeues.Add(1)
	}
	return nil
}
func (s *Server) Reject(tag uint64, requeue bool) error { return s.Nack(tag, false, requeue) }

// Match implements AMQP topic matching: '*' is one word, '#' is zero or more.
func Match(pattern, key string) bool {
	return match(strings.Split(pattern, "."), strings.Split(key, "."))
}

func match(p, k []string) bool {
	if len(p) == 0 {
		return len(k) == 0
	}
	switch p[0] {
	case "#":
		for i := 0; i <= len(k); i++ {
			if match(p[1:], k[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(k) > 0 && match(p[1:], k[1:])
	default:
		return len(k) > 0 && p[0] == k[0] && match(p[1:], k[1:])
	}
}

type conn struct{ srv *Server }

func (c *conn) Channel() (broker.Channel, error) {
	ch := &Channel{srv: c.srv, done: make(chan struct{})}
	c.srv.mu.Lock()
	c.srv.channels = append(c.srv.channels, ch)
	c.srv.mu.Unlock()
	return ch, nil
}

func (c *conn) Close() error { return nil }

// Channel is one fake AMQP channel.
type Channel struct {
	srv *Server

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	notify []chan *amqp.Error
}

var _ broker.Channel = (*Channel)(nil)

func (ch *Channel) isClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *Channel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	if ch.isClosed() {
		return amqp.ErrClosed
	}
	ch.srv.mu.Lock()
	defer ch.srv.mu.Unlock()
	if prev, ok := ch.srv.exchanges[name]; ok && prev != kind {
		return &amqp.Error{Code: amqp.PreconditionFailed, Reason: "inequivalent arg 'type' for exchange " + name}
	}
	ch.srv.exchanges[name] = kind
	return nil
}

func (ch *Channel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	if ch.isClosed() {
		return amqp.Queue{}, amqp.ErrClosed
	}
	ch.srv.mu.Lock()
	defer ch.srv.mu.Unlock()
	if _, ok := ch.srv.queues[name]; !ok {
		ch.srv.queues[name] = make(chan amqp.Delivery, 1024)
	}
	return amqp.Queue{Name: name}, nil
}

func (ch *Channel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	if ch.isClosed() {
		return amqp.ErrClosed
	}
	ch.srv.mu.Lock()
	defer ch.srv.mu.Unlock()
	b := binding{queue: name, key: key, exchange: exchange}
	for _, existing := range ch.srv.bindings {
		if existing == b {
			return nil
		}
	}
	ch.srv.bindings = append(ch.srv.bindings, b)
	return nil
}

func (ch *Channel) Qos(int, int, bool) error { return nil }

func (ch *Channel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if ch.isClosed() {
		return amqp.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return ch.srv.route(exchange, key, msg)
}

func (ch *Channel) Consume(queue, _ string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	if ch.isClosed() {
		return nil, amqp.ErrClosed
	}
	ch.srv.mu.Lock()
	src, ok := ch.srv.queues[queue]
	ch.srv.mu.Unlock()
	if !ok {
		return nil, &amqp.Error{Code: amqp.NotFound, Reason: "no queue " + queue}
	}

	out := make(chan amqp.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ch.done:
				return
			case d := <-src:
				select {
				case out <- d:
				case <-ch.done:
					// put it back for the next consumer
					src <- d
					return
				}
			}
		}
	}()
	return out, nil
}

func (ch *Channel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		close(c)
		return c
	}
	ch.notify = append(ch.notify, c)
	return c
}

func (ch *Channel) Close() error {
	ch.shutdown(nil)
	return nil
}

func (ch *Channel) shutdown(reason *amqp.Error) {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	close(ch.done)
	notify := ch.notify
	ch.notify = nil
	ch.mu.Unlock()

	for _, c := range notify {
		if reason != nil {
			c <- reason
		}
		close(c)
	}
}
