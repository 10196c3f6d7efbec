package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goIdentity/eventstore"
)

// ErrRedisUnavailable wraps transport failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

const appendScript = `
local current = redis.call("LLEN", KEYS[1])
if current ~= tonumber(ARGV[1]) then
  return -1
end
for i = 2, #ARGV do
  redis.call("RPUSH", KEYS[1], ARGV[i])
end
return current + #ARGV - 1
`

var appendLua = redis.NewScript(appendScript)

const putSnapshotScript = `
local current = redis.call("HGET", KEYS[1], "version")
if current and tonumber(current) >= tonumber(ARGV[1]) then
  return 0
end
redis.call("HSET", KEYS[1], "version", ARGV[1], "created_at", ARGV[2], "body", ARGV[3])
return 1
`

var putSnapshotLua = redis.NewScript(putSnapshotScript)

// Store is a Redis-backed eventstore.Backend.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// New returns a Store writing keys under prefix.
func New(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "es"
	}
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) eventsKey(aggregateType, aggregateID string) string {
	return s.prefix + ":{" + aggregateType + ":" + aggregateID + "}:ev"
}

func (s *Store) snapshotKey(aggregateType, aggregateID string) string {
	return s.prefix + ":{" + aggregateType + ":" + aggregateID + "}:snap"
}

func (s *Store) GetEvents(ctx context.Context, aggregateType, aggregateID string, fromVersion uint64) ([]eventstore.Record, error) {
	raw, err := s.redis.LRange(ctx, s.eventsKey(aggregateType, aggregateID), int64(fromVersion), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]eventstore.Record, 0, len(raw))
	for i, item := range raw {
		rec, err := decodeRecord(aggregateType, aggregateID, []byte(item))
		if err != nil {
			return nil, err
		}
		if rec.Version != fromVersion+uint64(i)+1 {
			return nil, fmt.Errorf("%w: index %d holds version %d", errCorruptRecord, int(fromVersion)+i, rec.Version)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) PutEvents(ctx context.Context, aggregateType, aggregateID string, expectedVersion uint64, records []eventstore.Record) error {
	if len(records) == 0 {
		return nil
	}

	args := make([]any, 0, len(records)+1)
	args = append(args, strconv.FormatUint(expectedVersion, 10))
	for i, rec := range records {
		if rec.Version != expectedVersion+uint64(i)+1 {
			return fmt.Errorf("%w: record %d has version %d", eventstore.ErrInvalidRecord, i, rec.Version)
		}
		encoded, err := encodeRecord(rec)
		if err != nil {
			return fmt.Errorf("%w: %v", eventstore.ErrInvalidRecord, err)
		}
		args = append(args, encoded)
	}

	res, err := appendLua.Run(ctx, s.redis, []string{s.eventsKey(aggregateType, aggregateID)}, args...).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if res < 0 {
		return eventstore.ErrConcurrencyConflict
	}
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, aggregateType, aggregateID string) (eventstore.Snapshot, error) {
	fields, err := s.redis.HGetAll(ctx, s.snapshotKey(aggregateType, aggregateID)).Result()
	if err != nil {
		return eventstore.Snapshot{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return eventstore.Snapshot{}, eventstore.ErrNotFound
	}

	version, err := strconv.ParseUint(fields["version"], 10, 64)
	if err != nil {
		return eventstore.Snapshot{}, fmt.Errorf("%w: snapshot version: %v", errCorruptRecord, err)
	}
	createdNanos, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return eventstore.Snapshot{}, fmt.Errorf("%w: snapshot created_at: %v", errCorruptRecord, err)
	}

	return eventstore.Snapshot{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Version:       version,
		Body:          []byte(fields["body"]),
		CreatedAt:     time.Unix(0, createdNanos).UTC(),
	}, nil
}

func (s *Store) PutSnapshot(ctx context.Context, snapshot eventstore.Snapshot) error {
	err := putSnapshotLua.Run(ctx, s.redis,
		[]string{s.snapshotKey(snapshot.AggregateType, snapshot.AggregateID)},
		strconv.FormatUint(snapshot.Version, 10),
		strconv.FormatInt(snapshot.CreatedAt.UnixNano(), 10),
		snapshot.Body,
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Ping reports Redis round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
