package eventstore

import (
	"context"
	"time"
)

// Event is a decoded domain event bound to one aggregate stream.
type Event struct {
	AggregateType string
	AggregateID   string
	Version       uint64
	Name          string
	Payload       any
	OccurredAt    time.Time
}

// NewEvent builds an uncommitted event. The repository assigns stream
// identity, version and timestamp on append.
func NewEvent(name string, payload any) Event {
	return Event{Name: name, Payload: payload}
}

// Record is the stored form of an event: the payload is serialized and
// encrypted.
type Record struct {
	AggregateType string
	AggregateID   string
	Version       uint64
	Name          string
	OccurredAt    time.Time
	Payload       []byte
}

// Snapshot is the stored form of materialized aggregate state at Version.
type Snapshot struct {
	AggregateType string
	AggregateID   string
	Version       uint64
	Body          []byte
	CreatedAt     time.Time
}

// Aggregate is a consistency boundary rebuilt from its own events.
//
// Apply must be deterministic. Snapshot bodies are produced by serializing
// the aggregate value, so every field that contributes to state must be
// exported.
type Aggregate interface {
	AggregateType() string
	Apply(evt Event) error
}

// Backend is the persistence contract.
//
// PutEvents stores records only if the stream's current version equals
// expectedVersion and returns ErrConcurrencyConflict otherwise. GetEvents
// returns records with Version > fromVersion in ascending order.
// GetSnapshot returns ErrNotFound when no snapshot exists.
type Backend interface {
	GetEvents(ctx context.Context, aggregateType, aggregateID string, fromVersion uint64) ([]Record, error)
	PutEvents(ctx context.Context, aggregateType, aggregateID string, expectedVersion uint64, records []Record) error
	GetSnapshot(ctx context.Context, aggregateType, aggregateID string) (Snapshot, error)
	PutSnapshot(ctx context.Context, snapshot Snapshot) error
}

// Encryptor seals payloads. scope binds ciphertext to one aggregate stream.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext []byte, scope string) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte, scope string) ([]byte, error)
}

// Serializer is a canonical codec applied before encryption.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Publisher broadcasts committed events. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Scope returns the encryption scope of a stream.
func Scope(aggregateType, aggregateID string) string {
	return aggregateType + ":" + aggregateID
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// PlainEncryptor passes payloads through unchanged. Intended for tests.
type PlainEncryptor struct{}

func (PlainEncryptor) Encrypt(_ context.Context, plaintext []byte, _ string) ([]byte, error) {
	out := make([]byte, len(plaintext))
	copy(out, plaintext)
	return out, nil
}

func (PlainEncryptor) Decrypt(_ context.Context, ciphertext []byte, _ string) ([]byte, error) {
	out := make([]byte, len(ciphertext))
	copy(out, ciphertext)
	return out, nil
}
