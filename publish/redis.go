package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goIdentity/eventstore"
)

// RedisStream appends envelopes to a Redis stream with XADD.
type RedisStream struct {
	client     redis.UniversalClient
	stream     string
	maxLen     int64
	serializer eventstore.Serializer
}

var _ eventstore.Publisher = (*RedisStream)(nil)

// NewRedisStream trims the stream to roughly maxLen entries; zero disables
// trimming.
func NewRedisStream(client redis.UniversalClient, stream string, maxLen int64, s eventstore.Serializer) (*RedisStream, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if stream == "" {
		return nil, errors.New("redis stream name is required")
	}
	return &RedisStream{client: client, stream: stream, maxLen: maxLen, serializer: s}, nil
}

func (r *RedisStream) Publish(ctx context.Context, evt eventstore.Event) error {
	body, err := encode(r.serializer, evt)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"key":     Key(evt),
			"name":    evt.Name,
			"version": evt.Version,
			"body":    body,
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis stream publish %s: %w", evt.Name, err)
	}
	return nil
}
