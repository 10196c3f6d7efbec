package publish

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdentity/eventstore"
)

// Envelope is the transport form of a committed event.
type Envelope struct {
	AggregateType string    `json:"aggregateType" cbor:"aggregateType"`
	AggregateID   string    `json:"aggregateId" cbor:"aggregateId"`
	Version       uint64    `json:"version" cbor:"version"`
	Name          string    `json:"name" cbor:"name"`
	OccurredAt    time.Time `json:"occurredAt" cbor:"occurredAt"`
	Payload       any       `json:"payload" cbor:"payload"`
}

// NewEnvelope wraps evt.
func NewEnvelope(evt eventstore.Event) Envelope {
	return Envelope{
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		Version:       evt.Version,
		Name:          evt.Name,
		OccurredAt:    evt.OccurredAt,
		Payload:       evt.Payload,
	}
}

// Key returns the partition key for evt.
func Key(evt eventstore.Event) string {
	return eventstore.Scope(evt.AggregateType, evt.AggregateID)
}

// JSON encodes envelopes as JSON. It is the default wire encoding.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func encode(s eventstore.Serializer, evt eventstore.Event) ([]byte, error) {
	if s == nil {
		s = JSON{}
	}
	body, err := s.Marshal(NewEnvelope(evt))
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", evt.Name, err)
	}
	return body, nil
}
