package publish

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MrEthical07/goIdentity/eventstore"
)

// Slog logs event metadata. Payloads are never logged.
type Slog struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlog logs at level; nil logger uses slog.Default().
func NewSlog(logger *slog.Logger, level slog.Level) *Slog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slog{logger: logger, level: level}
}

func (s *Slog) Publish(ctx context.Context, evt eventstore.Event) error {
	s.logger.Log(ctx, s.level, "event committed",
		"aggregate_type", evt.AggregateType,
		"aggregate_id", evt.AggregateID,
		"version", evt.Version,
		"event", evt.Name,
	)
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []eventstore.Event
}

func (r *Recorder) Publish(_ context.Context, evt eventstore.Event) error {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []eventstore.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]eventstore.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns recorded event names in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.Name
	}
	return out
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Fanout publishes to every target and joins their errors.
type Fanout []eventstore.Publisher

func (f Fanout) Publish(ctx context.Context, evt eventstore.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
