package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Names of the shared broker objects.
const (
	CollaborationExchange = "tacohub.collaboration.exchange"
	NotificationExchange  = "tacohub.notification.exchange"
	DLQExchange           = "tacohub.dlq.exchange"

	APIQueue       = "tacohub.api.server.shared"
	APIDLQueue     = "tacohub.api.server.shared.dlq"
	APIRoutingKey  = "api.#"
	DLQRoutingKey  = "dlq.api"
	instancePrefix = "tacohub.ws."

	// binding every key gives fanout semantics on a topic exchange
	allKeys = "#"

	apiMessageTTL = 300000 // ms
)

// InstanceQueue is the per-instance queue name.
func InstanceQueue(serverID string) string { return instancePrefix + serverID }

// Topology declares every exchange, queue and binding. Declares are idempotent.
type Topology struct {
	// ServerID names the instance queue; empty skips it (API tier consumers).
	ServerID string
}

// Declare runs every declaration on ch.
func (t Topology) Declare(ch Channel) error {
	for _, ex := range []string{CollaborationExchange, NotificationExchange, DLQExchange} {
		if err := ch.ExchangeDeclare(ex, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}

	if _, err := ch.QueueDeclare(APIDLQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", APIDLQueue, err)
	}
	if err := ch.QueueBind(APIDLQueue, DLQRoutingKey, DLQExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", APIDLQueue, err)
	}

	apiArgs := amqp.Table{
		"x-message-ttl":             int32(apiMessageTTL),
		"x-dead-letter-exchange":    DLQExchange,
		"x-dead-letter-routing-key": DLQRoutingKey,
	}
	if _, err := ch.QueueDeclare(APIQueue, true, false, false, false, apiArgs); err != nil {
		return fmt.Errorf("declare queue %s: %w", APIQueue, err)
	}
	if err := ch.QueueBind(APIQueue, APIRoutingKey, CollaborationExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", APIQueue, err)
	}

	if t.ServerID == "" {
		return nil
	}
	q := InstanceQueue(t.ServerID)
	if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", q, err)
	}
	for _, ex := range []string{CollaborationExchange, NotificationExchange} {
		if err := ch.QueueBind(q, allKeys, ex, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", q, ex, err)
		}
	}
	return nil
}
