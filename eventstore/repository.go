package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultSnapshotThreshold = 10
	defaultMaxAttempts       = 5
	defaultInitialBackoff    = 5 * time.Millisecond
	defaultMaxBackoff        = 200 * time.Millisecond
	defaultLogLimit          = 100
	defaultMaxLogLimit       = 1000
)

// Deps are the collaborators a Repository is composed from.
type Deps struct {
	Backend    Backend
	Encryptor  Encryptor
	Serializer Serializer
	Publisher  Publisher
	Registry   *Registry
}

// Hooks observe repository activity. Nil hooks are skipped.
type Hooks struct {
	OnConflict        func(aggregateType, aggregateID string, attempt int)
	OnSnapshot        func(aggregateType, aggregateID string, version uint64)
	OnSnapshotFailure func(aggregateType, aggregateID string, err error)
	OnPublishFailure  func(evt Event, err error)
}

// Options tune snapshotting, retries and log paging. Zero values take defaults.
type Options struct {
	SnapshotThreshold uint64
	MaxAttempts       uint
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	DefaultLogLimit   int
	MaxLogLimit       int
	Now               func() time.Time
	Logger            *slog.Logger
	Hooks             Hooks
}

// Stream is the persisted position of a loaded aggregate.
type Stream struct {
	Version         uint64
	SnapshotVersion uint64
}

// Exists reports whether the stream has at least one event.
func (s Stream) Exists() bool { return s.Version > 0 }

// Repository loads and appends aggregate streams.
type Repository struct {
	backend    Backend
	encryptor  Encryptor
	serializer Serializer
	publisher  Publisher
	registry   *Registry
	opts       Options
	logger     *slog.Logger
}

// NewRepository validates deps and applies option defaults.
func NewRepository(deps Deps, opts Options) (*Repository, error) {
	if deps.Backend == nil {
		return nil, errors.New("eventstore: backend is required")
	}
	if deps.Encryptor == nil {
		return nil, errors.New("eventstore: encryptor is required")
	}
	if deps.Serializer == nil {
		return nil, errors.New("eventstore: serializer is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("eventstore: registry is required")
	}
	if deps.Publisher == nil {
		deps.Publisher = NopPublisher{}
	}
	if opts.SnapshotThreshold == 0 {
		opts.SnapshotThreshold = defaultSnapshotThreshold
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = defaultMaxBackoff
		if opts.MaxBackoff < opts.InitialBackoff {
			opts.MaxBackoff = opts.InitialBackoff
		}
	}
	if opts.DefaultLogLimit <= 0 {
		opts.DefaultLogLimit = defaultLogLimit
	}
	if opts.MaxLogLimit <= 0 {
		opts.MaxLogLimit = defaultMaxLogLimit
	}
	if opts.DefaultLogLimit > opts.MaxLogLimit {
		opts.DefaultLogLimit = opts.MaxLogLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Repository{
		backend:    deps.Backend,
		encryptor:  deps.Encryptor,
		serializer: deps.Serializer,
		publisher:  deps.Publisher,
		registry:   deps.Registry,
		opts:       opts,
		logger:     logger,
	}, nil
}

// Load hydrates agg from the latest snapshot and the events after it.
// It returns ErrNotFound when the stream is empty.
func (r *Repository) Load(ctx context.Context, agg Aggregate, aggregateID string) (Stream, error) {
	return r.load(ctx, agg, aggregateID, true)
}

// Replay hydrates agg from the full event history, ignoring snapshots.
func (r *Repository) Replay(ctx context.Context, agg Aggregate, aggregateID string) (Stream, error) {
	return r.load(ctx, agg, aggregateID, false)
}

func (r *Repository) load(ctx context.Context, agg Aggregate, aggregateID string, useSnapshot bool) (Stream, error) {
	aggregateType := agg.AggregateType()
	var st Stream

	if useSnapshot {
		snap, err := r.backend.GetSnapshot(ctx, aggregateType, aggregateID)
		switch {
		case err == nil:
			if err := r.restoreSnapshot(ctx, agg, snap); err != nil {
				return Stream{}, err
			}
			st.Version = snap.Version
			st.SnapshotVersion = snap.Version
		case errors.Is(err, ErrNotFound):
		default:
			return Stream{}, stageErr("get snapshot", err)
		}
	}

	records, err := r.backend.GetEvents(ctx, aggregateType, aggregateID, st.Version)
	if err != nil {
		return Stream{}, stageErr("get events", err)
	}
	if st.Version == 0 && len(records) == 0 {
		return Stream{}, ErrNotFound
	}

	for _, rec := range records {
		if rec.Version != st.Version+1 {
			return Stream{}, stageErr("replay", fmt.Errorf("%w: %s/%s expected version %d, got %d",
				ErrInvalidRecord, aggregateType, aggregateID, st.Version+1, rec.Version))
		}
		evt, err := r.decodeRecord(ctx, rec)
		if err != nil {
			return Stream{}, err
		}
		if err := agg.Apply(evt); err != nil {
			return Stream{}, stageErr("apply", err)
		}
		st.Version = rec.Version
	}

	return st, nil
}

// Append applies events to agg and persists them at st.Version.
//
// On ErrConcurrencyConflict or any other error agg has already absorbed the
// events and must be discarded. Snapshot and publish failures are reported
// through hooks and logs but never fail the append.
func (r *Repository) Append(ctx context.Context, agg Aggregate, aggregateID string, st Stream, events []Event) (Stream, []Event, error) {
	if len(events) == 0 {
		return st, nil, nil
	}

	aggregateType := agg.AggregateType()
	scope := Scope(aggregateType, aggregateID)
	now := r.opts.Now().UTC()

	committed := make([]Event, len(events))
	records := make([]Record, len(events))
	for i, evt := range events {
		evt.AggregateType = aggregateType
		evt.AggregateID = aggregateID
		evt.Version = st.Version + uint64(i) + 1
		evt.OccurredAt = now

		if err := agg.Apply(evt); err != nil {
			return st, nil, stageErr("apply", err)
		}

		plain, err := r.serializer.Marshal(evt.Payload)
		if err != nil {
			return st, nil, stageErr("serialize", err)
		}
		sealed, err := r.encryptor.Encrypt(ctx, plain, scope)
		if err != nil {
			return st, nil, stageErr("encrypt", err)
		}

		committed[i] = evt
		records[i] = Record{
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
			Version:       evt.Version,
			Name:          evt.Name,
			OccurredAt:    now,
			Payload:       sealed,
		}
	}

	if err := r.backend.PutEvents(ctx, aggregateType, aggregateID, st.Version, records); err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			return st, nil, err
		}
		return st, nil, stageErr("put events", err)
	}

	next := Stream{
		Version:         st.Version + uint64(len(events)),
		SnapshotVersion: st.SnapshotVersion,
	}
	if next.Version-next.SnapshotVersion >= r.opts.SnapshotThreshold {
		if err := r.writeSnapshot(ctx, agg, aggregateID, next.Version); err != nil {
			r.logger.Warn("snapshot write failed",
				"aggregate_type", aggregateType, "aggregate_id", aggregateID, "version", next.Version, "error", err)
			if h := r.opts.Hooks.OnSnapshotFailure; h != nil {
				h(aggregateType, aggregateID, err)
			}
		} else {
			next.SnapshotVersion = next.Version
			if h := r.opts.Hooks.OnSnapshot; h != nil {
				h(aggregateType, aggregateID, next.Version)
			}
		}
	}

	for _, evt := range committed {
		r.publish(ctx, evt)
	}

	return next, committed, nil
}

// Decide inspects freshly loaded state and returns the events to append.
// A nil or empty slice commits nothing.
type Decide[A Aggregate] func(agg A, st Stream) ([]Event, error)

// Execute runs load, decide and append, retrying the whole cycle with
// exponential backoff while the append hits ErrConcurrencyConflict.
//
// A missing stream is not an error: decide receives a fresh aggregate with
// a zero Stream, which is how creation commands see "does not exist yet".
// Errors returned by decide are passed through unchanged and never retried.
func Execute[A Aggregate](ctx context.Context, r *Repository, aggregateID string, newAgg func() A, decide Decide[A]) (A, []Event, error) {
	type result struct {
		agg    A
		events []Event
	}

	attempt := 0
	operation := func() (result, error) {
		attempt++
		agg := newAgg()
		st, err := r.Load(ctx, agg, aggregateID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return result{}, backoff.Permanent(err)
		}

		events, err := decide(agg, st)
		if err != nil {
			return result{}, backoff.Permanent(err)
		}
		if len(events) == 0 {
			return result{agg: agg}, nil
		}

		_, committed, err := r.Append(ctx, agg, aggregateID, st, events)
		if err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				r.logger.Debug("append conflict, retrying",
					"aggregate_type", agg.AggregateType(), "aggregate_id", aggregateID, "attempt", attempt)
				if h := r.opts.Hooks.OnConflict; h != nil {
					h(agg.AggregateType(), aggregateID, attempt)
				}
				return result{}, err
			}
			return result{}, backoff.Permanent(err)
		}
		return result{agg: agg, events: committed}, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.opts.InitialBackoff
	policy.MaxInterval = r.opts.MaxBackoff

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(r.opts.MaxAttempts),
	)
	if err != nil {
		var zero A
		if errors.Is(err, ErrConcurrencyConflict) {
			return zero, nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}
		return zero, nil, err
	}
	return res.agg, res.events, nil
}

// Load is the generic form of Repository.Load.
func Load[A Aggregate](ctx context.Context, r *Repository, aggregateID string, newAgg func() A) (A, Stream, error) {
	agg := newAgg()
	st, err := r.Load(ctx, agg, aggregateID)
	if err != nil {
		var zero A
		return zero, Stream{}, err
	}
	return agg, st, nil
}

func (r *Repository) decodeRecord(ctx context.Context, rec Record) (Event, error) {
	plain, err := r.encryptor.Decrypt(ctx, rec.Payload, Scope(rec.AggregateType, rec.AggregateID))
	if err != nil {
		return Event{}, stageErr("decrypt", err)
	}
	payload, err := r.registry.New(rec.Name)
	if err != nil {
		return Event{}, stageErr("decode", err)
	}
	if err := r.serializer.Unmarshal(plain, payload); err != nil {
		return Event{}, stageErr("deserialize", err)
	}
	return Event{
		AggregateType: rec.AggregateType,
		AggregateID:   rec.AggregateID,
		Version:       rec.Version,
		Name:          rec.Name,
		Payload:       payload,
		OccurredAt:    rec.OccurredAt,
	}, nil
}

func (r *Repository) restoreSnapshot(ctx context.Context, agg Aggregate, snap Snapshot) error {
	plain, err := r.encryptor.Decrypt(ctx, snap.Body, Scope(snap.AggregateType, snap.AggregateID))
	if err != nil {
		return stageErr("decrypt snapshot", err)
	}
	if err := r.serializer.Unmarshal(plain, agg); err != nil {
		return stageErr("deserialize snapshot", err)
	}
	return nil
}

func (r *Repository) writeSnapshot(ctx context.Context, agg Aggregate, aggregateID string, version uint64) error {
	aggregateType := agg.AggregateType()
	plain, err := r.serializer.Marshal(agg)
	if err != nil {
		return fmt.Errorf("serialize snapshot: %w", err)
	}
	sealed, err := r.encryptor.Encrypt(ctx, plain, Scope(aggregateType, aggregateID))
	if err != nil {
		return fmt.Errorf("encrypt snapshot: %w", err)
	}
	r.logger.Debug("writing snapshot", "aggregate_type", aggregateType, "aggregate_id", aggregateID, "version", version)
	return r.backend.PutSnapshot(ctx, Snapshot{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Version:       version,
		Body:          sealed,
		CreatedAt:     r.opts.Now().UTC(),
	})
}

func (r *Repository) publish(ctx context.Context, evt Event) {
	if err := r.publisher.Publish(ctx, evt); err != nil {
		r.logger.Warn("event publish failed",
			"aggregate_type", evt.AggregateType, "aggregate_id", evt.AggregateID,
			"event", evt.Name, "version", evt.Version, "error", err)
		if h := r.opts.Hooks.OnPublishFailure; h != nil {
			h(evt, err)
		}
	}
}
