package publish

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/MrEthical07/goIdentity/eventstore"
)

// KafkaWriter is the subset of *kafka.Writer the publisher needs.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes envelopes to a topic, keyed by stream scope.
type Kafka struct {
	writer     KafkaWriter
	serializer eventstore.Serializer
}

var _ eventstore.Publisher = (*Kafka)(nil)

// NewKafka writes to topic on brokers. The hash balancer keeps each
// aggregate's events on one partition.
func NewKafka(brokers []string, topic string, s eventstore.Serializer) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
	}
	return NewKafkaWithWriter(w, s), nil
}

// NewKafkaWithWriter allows injecting a writer.
func NewKafkaWithWriter(w KafkaWriter, s eventstore.Serializer) *Kafka {
	return &Kafka{writer: w, serializer: s}
}

func (k *Kafka) Publish(ctx context.Context, evt eventstore.Event) error {
	body, err := encode(k.serializer, evt)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(Key(evt)),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(evt.Name)},
			{Key: "version", Value: []byte(strconv.FormatUint(evt.Version, 10))},
		},
		Time: evt.OccurredAt,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s: %w", evt.Name, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
