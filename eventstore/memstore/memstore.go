// Package memstore is the in-memory reference eventstore.Backend.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrEthical07/goIdentity/eventstore"
)

type streamKey struct {
	aggregateType string
	aggregateID   string
}

// Store keeps streams and snapshots in process memory.
type Store struct {
	mu        sync.RWMutex
	streams   map[streamKey][]eventstore.Record
	snapshots map[streamKey]eventstore.Snapshot
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		streams:   make(map[streamKey][]eventstore.Record),
		snapshots: make(map[streamKey]eventstore.Snapshot),
	}
}

func (s *Store) GetEvents(ctx context.Context, aggregateType, aggregateID string, fromVersion uint64) ([]eventstore.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[streamKey{aggregateType, aggregateID}]
	if fromVersion >= uint64(len(stream)) {
		return nil, nil
	}
	out := make([]eventstore.Record, 0, uint64(len(stream))-fromVersion)
	for _, rec := range stream[fromVersion:] {
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

func (s *Store) PutEvents(ctx context.Context, aggregateType, aggregateID string, expectedVersion uint64, records []eventstore.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, rec := range records {
		if rec.Version != expectedVersion+uint64(i)+1 {
			return fmt.Errorf("%w: record %d has version %d", eventstore.ErrInvalidRecord, i, rec.Version)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey{aggregateType, aggregateID}
	stream := s.streams[key]
	if uint64(len(stream)) != expectedVersion {
		return eventstore.ErrConcurrencyConflict
	}
	for _, rec := range records {
		stream = append(stream, cloneRecord(rec))
	}
	s.streams[key] = stream
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, aggregateType, aggregateID string) (eventstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return eventstore.Snapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[streamKey{aggregateType, aggregateID}]
	if !ok {
		return eventstore.Snapshot{}, eventstore.ErrNotFound
	}
	snap.Body = append([]byte(nil), snap.Body...)
	return snap, nil
}

func (s *Store) PutSnapshot(ctx context.Context, snapshot eventstore.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey{snapshot.AggregateType, snapshot.AggregateID}
	if current, ok := s.snapshots[key]; ok && current.Version >= snapshot.Version {
		return nil
	}
	snapshot.Body = append([]byte(nil), snapshot.Body...)
	s.snapshots[key] = snapshot
	return nil
}

func cloneRecord(rec eventstore.Record) eventstore.Record {
	rec.Payload = append([]byte(nil), rec.Payload...)
	return rec
}
