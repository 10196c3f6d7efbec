package publish

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrEthical07/goIdentity/eventstore"
	"github.com/MrEthical07/goIdentity/internal/relay"
)

// DispatcherConfig tunes a Dispatcher.
type DispatcherConfig struct {
	BufferSize int
	// DropIfFull drops events instead of blocking the committing caller.
	DropIfFull bool
	// Timeout bounds each downstream publish; zero means 5s.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Dispatcher publishes committed events on a background relay so a slow
// broker never adds latency to the command that produced them.
type Dispatcher struct {
	relay *relay.Relay[eventstore.Event]
}

var _ eventstore.Publisher = (*Dispatcher)(nil)

// NewDispatcher starts the relay in front of next. Call Close to drain.
func NewDispatcher(cfg DispatcherConfig, next eventstore.Publisher) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if next == nil {
		next = eventstore.NopPublisher{}
	}

	return &Dispatcher{relay: relay.New(relay.Config{
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
		Timeout:    cfg.Timeout,
	}, next.Publish, relay.OnError(func(evt eventstore.Event, err error) {
		logger.Warn("event publish failed",
			"aggregate_type", evt.AggregateType,
			"aggregate_id", evt.AggregateID,
			"version", evt.Version,
			"event", evt.Name,
			"error", err,
		)
	}))}
}

// Publish enqueues evt. It never fails; events that cannot be queued are
// counted in Dropped.
func (d *Dispatcher) Publish(ctx context.Context, evt eventstore.Event) error {
	d.relay.Offer(ctx, evt)
	return nil
}

// Close stops intake and waits for queued events to reach the broker.
func (d *Dispatcher) Close() { d.relay.Close() }

// Dropped returns the number of events never handed downstream.
func (d *Dispatcher) Dropped() uint64 { return d.relay.Dropped() }

// Failed returns the number of downstream publish errors.
func (d *Dispatcher) Failed() uint64 { return d.relay.Failed() }
