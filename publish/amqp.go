package publish

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/MrEthical07/goIdentity/eventstore"
)

// AMQPChannel is the subset of *amqp.Channel the publisher needs.
type AMQPChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQP publishes envelopes to a topic exchange. The routing key is
// "<aggregateType>.<eventName>" so consumers can bind per kind.
type AMQP struct {
	channel    AMQPChannel
	conn       *amqp.Connection
	exchange   string
	serializer eventstore.Serializer
}

var _ eventstore.Publisher = (*AMQP)(nil)

// DialAMQP connects to url and declares a durable topic exchange.
func DialAMQP(url, exchange string, s eventstore.Serializer) (*AMQP, error) {
	if exchange == "" {
		return nil, errors.New("amqp exchange is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp declare exchange %q: %w", exchange, err)
	}
	p := NewAMQPWithChannel(ch, exchange, s)
	p.conn = conn
	return p, nil
}

// NewAMQPWithChannel allows injecting a channel.
func NewAMQPWithChannel(ch AMQPChannel, exchange string, s eventstore.Serializer) *AMQP {
	return &AMQP{channel: ch, exchange: exchange, serializer: s}
}

// RoutingKey returns the routing key used for evt.
func RoutingKey(evt eventstore.Event) string {
	return evt.AggregateType + "." + evt.Name
}

func (a *AMQP) Publish(ctx context.Context, evt eventstore.Event) error {
	body, err := encode(a.serializer, evt)
	if err != nil {
		return err
	}
	contentType := "application/json"
	if _, ok := a.serializer.(JSON); a.serializer != nil && !ok {
		contentType = "application/cbor"
	}
	msg := amqp.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    fmt.Sprintf("%s:%d", Key(evt), evt.Version),
		Timestamp:    evt.OccurredAt,
		Type:         evt.Name,
		Body:         body,
	}
	if err := a.channel.PublishWithContext(ctx, a.exchange, RoutingKey(evt), false, false, msg); err != nil {
		return fmt.Errorf("amqp publish %s: %w", evt.Name, err)
	}
	return nil
}

// Close closes the channel and, when dialed here, the connection.
func (a *AMQP) Close() error {
	err := a.channel.Close()
	if a.conn != nil {
		err = errors.Join(err, a.conn.Close())
	}
	return err
}
