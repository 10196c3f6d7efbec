package eventstore_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/codec"
	"github.com/MrEthical07/goIdentity/eventstore"
	"github.com/MrEthical07/goIdentity/eventstore/memstore"
)

const (
	evtAdded   = "CounterAdded"
	evtRenamed = "CounterRenamed"
)

type added struct {
	N int64 `json:"n"`
}

type renamed struct {
	Label string `json:"label"`
}

type counter struct {
	Total   int64     `json:"total"`
	Label   string    `json:"label"`
	History []string  `json:"history"`
	Updated time.Time `json:"updated"`
}

func (c *counter) AggregateType() string { return "counters" }

func (c *counter) Apply(evt eventstore.Event) error {
	switch p := evt.Payload.(type) {
	case *added:
		c.Total += p.N
	case *renamed:
		c.Label = p.Label
	default:
		return errors.New("unexpected payload")
	}
	c.History = append(c.History, evt.Name)
	c.Updated = evt.OccurredAt
	return nil
}

func newCounter() *counter { return &counter{} }

func testRegistry() *eventstore.Registry {
	r := eventstore.NewRegistry()
	r.Register(evtAdded, func() any { return &added{} })
	r.Register(evtRenamed, func() any { return &renamed{} })
	return r
}

// xorEncryptor keys on scope so a record decrypted under the wrong stream is garbage.
type xorEncryptor struct {
	fail atomic.Bool
}

func (x *xorEncryptor) Encrypt(_ context.Context, plaintext []byte, scope string) ([]byte, error) {
	if x.fail.Load() {
		return nil, errors.New("kms down")
	}
	return xor(plaintext, scope), nil
}

func (x *xorEncryptor) Decrypt(_ context.Context, ciphertext []byte, scope string) ([]byte, error) {
	return xor(ciphertext, scope), nil
}

func xor(in []byte, scope string) []byte {
	out := make([]byte, len(in))
	for i := range in {
		out[i] = in[i] ^ scope[i%len(scope)] ^ 0x5a
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventstore.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt eventstore.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evt)
	return nil
}

// conflictingBackend reports a conflict for the first n appends.
type conflictingBackend struct {
	eventstore.Backend
	remaining atomic.Int32
}

func (b *conflictingBackend) PutEvents(ctx context.Context, aggregateType, aggregateID string, expectedVersion uint64, records []eventstore.Record) error {
	if b.remaining.Add(-1) >= 0 {
		return eventstore.ErrConcurrencyConflict
	}
	return b.Backend.PutEvents(ctx, aggregateType, aggregateID, expectedVersion, records)
}

type fixture struct {
	repo      *eventstore.Repository
	backend   eventstore.Backend
	enc       *xorEncryptor
	pub       *recordingPublisher
	snapshots atomic.Int32
	conflicts atomic.Int32
	pubFails  atomic.Int32
}

func newFixture(t *testing.T, backend eventstore.Backend, threshold uint64) *fixture {
	t.Helper()
	f := &fixture{backend: backend, enc: &xorEncryptor{}, pub: &recordingPublisher{}}
	repo, err := eventstore.NewRepository(eventstore.Deps{
		Backend:    backend,
		Encryptor:  f.enc,
		Serializer: codec.MustCBOR(),
		Publisher:  f.pub,
		Registry:   testRegistry(),
	}, eventstore.Options{
		SnapshotThreshold: threshold,
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        time.Millisecond,
		Hooks: eventstore.Hooks{
			OnSnapshot:       func(string, string, uint64) { f.snapshots.Add(1) },
			OnConflict:       func(string, string, int) { f.conflicts.Add(1) },
			OnPublishFailure: func(eventstore.Event, error) { f.pubFails.Add(1) },
		},
	})
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	f.repo = repo
	return f
}

func add(n int64) eventstore.Decide[*counter] {
	return func(*counter, eventstore.Stream) ([]eventstore.Event, error) {
		return []eventstore.Event{eventstore.NewEvent(evtAdded, &added{N: n})}, nil
	}
}

func TestLoadMissingStream(t *testing.T) {
	f := newFixture(t, memstore.New(), 10)
	if _, err := f.repo.Load(context.Background(), newCounter(), "nope"); !errors.Is(err, eventstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExecuteAppendsAndPublishes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memstore.New(), 10)

	agg, committed, err := eventstore.Execute(ctx, f.repo, "c1", newCounter, add(5))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if agg.Total != 5 || len(committed) != 1 || committed[0].Version != 1 {
		t.Fatalf("unexpected result: total=%d committed=%+v", agg.Total, committed)
	}
	if committed[0].AggregateType != "counters" || committed[0].AggregateID != "c1" || committed[0].OccurredAt.IsZero() {
		t.Fatalf("committed event missing stream metadata: %+v", committed[0])
	}
	if len(f.pub.events) != 1 || f.pub.events[0].Name != evtAdded {
		t.Fatalf("expected one published event, got %+v", f.pub.events)
	}

	loaded, st, err := eventstore.Load(ctx, f.repo, "c1", newCounter)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Total != 5 || st.Version != 1 {
		t.Fatalf("unexpected loaded state total=%d version=%d", loaded.Total, st.Version)
	}
}

func TestPayloadsAreEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	f := newFixture(t, backend, 10)

	if _, _, err := eventstore.Execute(ctx, f.repo, "c1", newCounter, func(*counter, eventstore.Stream) ([]eventstore.Event, error) {
		return []eventstore.Event{eventstore.NewEvent(evtRenamed, &renamed{Label: "plain-label"})}, nil
	}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	records, err := backend.GetEvents(ctx, "counters", "c1", 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if bytes.Contains(records[0].Payload, []byte("plain-label")) {
		t.Fatal("payload stored in plaintext")
	}
}

func TestDecideErrorAppendsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memstore.New(), 10)
	boom := errors.New("rule violated")

	_, _, err := eventstore.Execute(ctx, f.repo, "c1", newCounter, func(*counter, eventstore.Stream) ([]eventstore.Event, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected decide error, got %v", err)
	}
	if _, err := f.repo.Load(ctx, newCounter(), "c1"); !errors.Is(err, eventstore.ErrNotFound) {
		t.Fatalf("expected nothing appended, got %v", err)
	}
}

func TestEncryptFailureAbortsAppend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memstore.New(), 10)
	f.enc.fail.Store(true)

	_, _, err := eventstore.Execute(ctx, f.repo, "c1", newCounter, add(1))
	var stage *eventstore.StageError
	if !errors.As(err, &stage) || stage.Stage != "encrypt" {
		t.Fatalf("expected encrypt stage error, got %v", err)
	}
	f.enc.fail.Store(false)
	if _, err := f.repo.Load(ctx, newCounter(), "c1"); !errors.Is(err, eventstore.ErrNotFound) {
		t.Fatalf("expected no events after failed encryption, got %v", err)
	}
}

func TestExecuteRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	backend := &conflictingBackend{Backend: memstore.New()}
	backend.remaining.Store(2)
	f := newFixture(t, backend, 10)

	agg, _, err := eventstore.Execute(ctx, f.repo, "c1", newCounter, add(1))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if agg.Total != 1 {
		t.Fatalf("expected total 1, got %d", agg.Total)
	}
	if got := f.conflicts.Load(); got != 2 {
		t.Fatalf("expected 2 conflicts, got %d", got)
	}
}

func TestExecuteSurfacesExhaustedRetries(t *testing.T) {
	ctx := context.Background()
	backend := &conflictingBackend{Backend: memstore.New()}
	backend.remaining.Store(100)
	f := newFixture(t, backend, 10)

	_, _, err := eventstore.Execute(ctx, f.repo, "c1", newCounter, add(1))
	if !errors.Is(err, eventstore.ErrRetriesExhausted) || !errors.Is(err, eventstore.ErrConcurrencyConflict) {
		t.Fatalf("expected exhausted conflict, got %v", err)
	}
	if got := f.conflicts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestConcurrentExecuteLosesNoUpdates(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	f := newFixture(t, backend, 4)
	repo, err := eventstore.NewRepository(eventstore.Deps{
		Backend:    backend,
		Encryptor:  f.enc,
		Serializer: codec.MustCBOR(),
		Registry:   testRegistry(),
	}, eventstore.Options{SnapshotThreshold: 4, MaxAttempts: 50, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := eventstore.Execute(ctx, repo, "shared", newCounter, add(1)); err != nil {
				t.Errorf("Execute failed: %v", err)
			}
		}()
	}
	wg.Wait()

	agg, st, err := eventstore.Load(ctx, repo, "shared", newCounter)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if agg.Total != writers || st.Version != writers {
		t.Fatalf("expected %d updates, got total=%d version=%d", writers, agg.Total, st.Version)
	}
}

func TestSnapshotReplayMatchesFullReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memstore.New(), 3)
	cbor := codec.MustCBOR()

	for i := 1; i <= 8; i++ {
		decide := add(int64(i))
		if i%3 == 0 {
			label := string(rune('a' + i))
			decide = func(*counter, eventstore.Stream) ([]eventstore.Event, error) {
				return []eventstore.Event{eventstore.NewEvent(evtRenamed, &renamed{Label: label})}, nil
			}
		}
		if _, _, err := eventstore.Execute(ctx, f.repo, "c1", newCounter, decide); err != nil {
			t.Fatalf("Execute %d failed: %v", i, err)
		}

		viaSnapshot := newCounter()
		st, err := f.repo.Load(ctx, viaSnapshot, "c1")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		full := newCounter()
		fullSt, err := f.repo.Replay(ctx, full, "c1")
		if err != nil {
			t.Fatalf("Replay failed: %v", err)
		}
		if st.Version != fullSt.Version {
			t.Fatalf("version mismatch: %d vs %d", st.Version, fullSt.Version)
		}

		a, _ := cbor.Marshal(viaSnapshot)
		b, _ := cbor.Marshal(full)
		if !bytes.Equal(a, b) {
			t.Fatalf("state diverged at version %d: snapshot=%+v full=%+v", st.Version, viaSnapshot, full)
		}
	}

	if got := f.snapshots.Load(); got != 2 {
		t.Fatalf("expected 2 snapshots for 8 events at threshold 3, got %d", got)
	}
	_, st, err := eventstore.Load(ctx, f.repo, "c1", newCounter)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if st.SnapshotVersion != 6 {
		t.Fatalf("expected latest snapshot at version 6, got %d", st.SnapshotVersion)
	}
}

func TestPublishFailureDoesNotFailAppend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, memstore.New(), 10)
	f.pub.err = errors.New("bus down")

	if _, _, err := eventstore.Execute(ctx, f.repo, "c1", newCounter, add(2)); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := f.pubFails.Load(); got != 1 {
		t.Fatalf("expected 1 publish failure, got %d", got)
	}
	agg, _, err := eventstore.Load(ctx, f.repo, "c1", newCounter)
	if err != nil || agg.Total != 2 {
		t.Fatalf("append not durable after publish failure: total=%v err=%v", agg, err)
	}
}

func TestQueryLogPages(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	var tick atomic.Int64
	repo, err := eventstore.NewRepository(eventstore.Deps{
		Backend:    memstore.New(),
		Encryptor:  &xorEncryptor{},
		Serializer: codec.MustCBOR(),
		Registry:   testRegistry(),
	}, eventstore.Options{
		Now: func() time.Time { return clock.Add(time.Duration(tick.Add(1)) * time.Minute) },
	})
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, _, err := eventstore.Execute(ctx, repo, "c1", newCounter, add(1)); err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
	}

	page, err := repo.QueryLog(ctx, "counters", "c1", eventstore.LogQuery{Limit: 2})
	if err != nil {
		t.Fatalf("QueryLog failed: %v", err)
	}
	if page.Count != 2 || page.Limit != 2 || !page.More || page.NextVersion != 2 {
		t.Fatalf("unexpected first page: %+v", page)
	}
	if p, ok := page.Events[0].Payload.(*added); !ok || p.N != 1 {
		t.Fatalf("payload not decoded: %#v", page.Events[0].Payload)
	}

	next, err := repo.QueryLog(ctx, "counters", "c1", eventstore.LogQuery{AfterVersion: page.NextVersion, Limit: 10})
	if err != nil {
		t.Fatalf("QueryLog failed: %v", err)
	}
	if next.Count != 3 || next.More || next.Events[0].Version != 3 {
		t.Fatalf("unexpected second page: %+v", next)
	}

	from := page.Events[1].OccurredAt.Add(time.Second)
	recent, err := repo.QueryLog(ctx, "counters", "c1", eventstore.LogQuery{From: from})
	if err != nil {
		t.Fatalf("QueryLog failed: %v", err)
	}
	if recent.Count != 3 || recent.Events[0].Version != 3 {
		t.Fatalf("unexpected time-filtered page: %+v", recent)
	}

	if _, err := repo.QueryLog(ctx, "counters", "missing", eventstore.LogQuery{}); !errors.Is(err, eventstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
