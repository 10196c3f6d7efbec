// Package storetest is a conformance suite every eventstore.Backend must pass.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/eventstore"
)

// Backend aliases eventstore.Backend for factory signatures.
type Backend = eventstore.Backend

// Factory returns a fresh, empty backend for one subtest.
type Factory func(t *testing.T) Backend

// Run executes the contract against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Helper()

	t.Run("AppendAndRead", func(t *testing.T) { testAppendAndRead(t, newBackend(t)) })
	t.Run("ReadFromVersion", func(t *testing.T) { testReadFromVersion(t, newBackend(t)) })
	t.Run("StaleVersionConflicts", func(t *testing.T) { testStaleVersion(t, newBackend(t)) })
	t.Run("StreamsAreIsolated", func(t *testing.T) { testIsolation(t, newBackend(t)) })
	t.Run("ConcurrentAppendsSingleWinner", func(t *testing.T) { testConcurrentAppends(t, newBackend(t)) })
	t.Run("Snapshots", func(t *testing.T) { testSnapshots(t, newBackend(t)) })
}

func records(aggregateType, aggregateID string, from uint64, names ...string) []eventstore.Record {
	out := make([]eventstore.Record, len(names))
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, name := range names {
		v := from + uint64(i) + 1
		out[i] = eventstore.Record{
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
			Version:       v,
			Name:          name,
			OccurredAt:    at.Add(time.Duration(v) * time.Second),
			Payload:       []byte(fmt.Sprintf("%s-%d", name, v)),
		}
	}
	return out
}

func testAppendAndRead(t *testing.T, b Backend) {
	ctx := context.Background()
	in := records("users", "u1", 0, "A", "B", "C")
	if err := b.PutEvents(ctx, "users", "u1", 0, in); err != nil {
		t.Fatalf("PutEvents failed: %v", err)
	}

	got, err := b.GetEvents(ctx, "users", "u1", 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("expected %d records, got %d", len(in), len(got))
	}
	for i := range in {
		if got[i].Version != in[i].Version || got[i].Name != in[i].Name {
			t.Fatalf("record %d mismatch: got %+v", i, got[i])
		}
		if !bytes.Equal(got[i].Payload, in[i].Payload) {
			t.Fatalf("record %d payload mismatch", i)
		}
		if !got[i].OccurredAt.Equal(in[i].OccurredAt) {
			t.Fatalf("record %d occurredAt mismatch: %v != %v", i, got[i].OccurredAt, in[i].OccurredAt)
		}
		if got[i].AggregateType != "users" || got[i].AggregateID != "u1" {
			t.Fatalf("record %d stream mismatch: %s/%s", i, got[i].AggregateType, got[i].AggregateID)
		}
	}

	empty, err := b.GetEvents(ctx, "users", "missing", 0)
	if err != nil {
		t.Fatalf("GetEvents on missing stream failed: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no records for missing stream, got %d", len(empty))
	}
}

func testReadFromVersion(t *testing.T, b Backend) {
	ctx := context.Background()
	if err := b.PutEvents(ctx, "groups", "g1", 0, records("groups", "g1", 0, "A", "B")); err != nil {
		t.Fatalf("PutEvents failed: %v", err)
	}
	if err := b.PutEvents(ctx, "groups", "g1", 2, records("groups", "g1", 2, "C", "D")); err != nil {
		t.Fatalf("second PutEvents failed: %v", err)
	}

	got, err := b.GetEvents(ctx, "groups", "g1", 2)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(got) != 2 || got[0].Version != 3 || got[1].Version != 4 || got[0].Name != "C" {
		t.Fatalf("unexpected tail: %+v", got)
	}

	none, err := b.GetEvents(ctx, "groups", "g1", 4)
	if err != nil {
		t.Fatalf("GetEvents past end failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected empty tail, got %d", len(none))
	}
}

func testStaleVersion(t *testing.T, b Backend) {
	ctx := context.Background()
	if err := b.PutEvents(ctx, "agents", "a1", 0, records("agents", "a1", 0, "A")); err != nil {
		t.Fatalf("PutEvents failed: %v", err)
	}
	err := b.PutEvents(ctx, "agents", "a1", 0, records("agents", "a1", 0, "B"))
	if !errors.Is(err, eventstore.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	err = b.PutEvents(ctx, "agents", "a1", 5, records("agents", "a1", 5, "B"))
	if !errors.Is(err, eventstore.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict for future version, got %v", err)
	}

	got, err := b.GetEvents(ctx, "agents", "a1", 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "A" {
		t.Fatalf("conflicting append leaked records: %+v", got)
	}
}

func testIsolation(t *testing.T, b Backend) {
	ctx := context.Background()
	if err := b.PutEvents(ctx, "users", "x", 0, records("users", "x", 0, "A")); err != nil {
		t.Fatalf("PutEvents users failed: %v", err)
	}
	if err := b.PutEvents(ctx, "groups", "x", 0, records("groups", "x", 0, "B", "C")); err != nil {
		t.Fatalf("PutEvents groups failed: %v", err)
	}
	users, err := b.GetEvents(ctx, "users", "x", 0)
	if err != nil {
		t.Fatalf("GetEvents users failed: %v", err)
	}
	groups, err := b.GetEvents(ctx, "groups", "x", 0)
	if err != nil {
		t.Fatalf("GetEvents groups failed: %v", err)
	}
	if len(users) != 1 || len(groups) != 2 {
		t.Fatalf("streams not isolated: users=%d groups=%d", len(users), len(groups))
	}
}

func testConcurrentAppends(t *testing.T, b Backend) {
	ctx := context.Background()
	const writers = 8

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := b.PutEvents(ctx, "users", "race", 0, records("users", "race", 0, fmt.Sprintf("W%d", i)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, eventstore.ErrConcurrencyConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || conflicts != writers-1 {
		t.Fatalf("expected exactly one winner, got wins=%d conflicts=%d", wins, conflicts)
	}
	got, err := b.GetEvents(ctx, "users", "race", 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
}

func testSnapshots(t *testing.T, b Backend) {
	ctx := context.Background()
	if _, err := b.GetSnapshot(ctx, "users", "s1"); !errors.Is(err, eventstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	first := eventstore.Snapshot{AggregateType: "users", AggregateID: "s1", Version: 2, Body: []byte("two"), CreatedAt: at}
	if err := b.PutSnapshot(ctx, first); err != nil {
		t.Fatalf("PutSnapshot failed: %v", err)
	}
	second := eventstore.Snapshot{AggregateType: "users", AggregateID: "s1", Version: 4, Body: []byte("four"), CreatedAt: at}
	if err := b.PutSnapshot(ctx, second); err != nil {
		t.Fatalf("PutSnapshot failed: %v", err)
	}
	stale := eventstore.Snapshot{AggregateType: "users", AggregateID: "s1", Version: 3, Body: []byte("three"), CreatedAt: at}
	if err := b.PutSnapshot(ctx, stale); err != nil {
		t.Fatalf("stale PutSnapshot failed: %v", err)
	}

	got, err := b.GetSnapshot(ctx, "users", "s1")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if got.Version != 4 || string(got.Body) != "four" {
		t.Fatalf("expected latest snapshot, got version=%d body=%q", got.Version, got.Body)
	}
}
