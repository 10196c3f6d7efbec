package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goIdentity/eventstore"
)

// Config selects the dialect and connection string.
type Config struct {
	Dialect string
	DSN     string
	// MaxOpenConns is ignored for SQLite, which always uses one writer connection.
	MaxOpenConns int
}

// Store is a database/sql-backed eventstore.Backend.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects, applies migrations and returns a ready Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	d, err := lookupDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("sqlstore: dsn is required")
	}
	if d.name == DialectSQLite && !strings.Contains(dsn, "?") && dsn != ":memory:" {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", d.name, err)
	}
	if d.name == DialectSQLite {
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", d.name, err)
	}
	if err := applyMigrations(ctx, db, d); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}

	return &Store{db: db, dialect: d}, nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) GetEvents(ctx context.Context, aggregateType, aggregateID string, fromVersion uint64) ([]eventstore.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
SELECT version, name, occurred_at, payload
FROM events
WHERE aggregate_type = ? AND aggregate_id = ? AND version > ?
ORDER BY version ASC`), aggregateType, aggregateID, int64(fromVersion))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []eventstore.Record
	for rows.Next() {
		var (
			version    int64
			occurredAt int64
			rec        eventstore.Record
		)
		if err := rows.Scan(&version, &rec.Name, &occurredAt, &rec.Payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.AggregateType = aggregateType
		rec.AggregateID = aggregateID
		rec.Version = uint64(version)
		rec.OccurredAt = time.Unix(0, occurredAt).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func (s *Store) PutEvents(ctx context.Context, aggregateType, aggregateID string, expectedVersion uint64, records []eventstore.Record) error {
	if len(records) == 0 {
		return nil
	}
	for i, rec := range records {
		if rec.Version != expectedVersion+uint64(i)+1 {
			return fmt.Errorf("%w: record %d has version %d", eventstore.ErrInvalidRecord, i, rec.Version)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	if err := tx.QueryRowContext(ctx, s.dialect.rebind(
		"SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_type = ? AND aggregate_id = ?"),
		aggregateType, aggregateID,
	).Scan(&current); err != nil {
		return fmt.Errorf("read stream version: %w", err)
	}
	if uint64(current) != expectedVersion {
		return eventstore.ErrConcurrencyConflict
	}

	insert := s.dialect.rebind(`
INSERT INTO events (aggregate_type, aggregate_id, version, name, occurred_at, payload)
VALUES (?, ?, ?, ?, ?, ?)`)
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, insert,
			aggregateType, aggregateID, int64(rec.Version), rec.Name, rec.OccurredAt.UnixNano(), rec.Payload,
		); err != nil {
			if s.dialect.isConstraint(err) {
				return eventstore.ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if s.dialect.isConstraint(err) {
			return eventstore.ErrConcurrencyConflict
		}
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, aggregateType, aggregateID string) (eventstore.Snapshot, error) {
	var (
		version   int64
		createdAt int64
		snap      eventstore.Snapshot
	)
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		"SELECT version, created_at, body FROM snapshots WHERE aggregate_type = ? AND aggregate_id = ?"),
		aggregateType, aggregateID,
	).Scan(&version, &createdAt, &snap.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return eventstore.Snapshot{}, eventstore.ErrNotFound
	}
	if err != nil {
		return eventstore.Snapshot{}, fmt.Errorf("get snapshot: %w", err)
	}
	snap.AggregateType = aggregateType
	snap.AggregateID = aggregateID
	snap.Version = uint64(version)
	snap.CreatedAt = time.Unix(0, createdAt).UTC()
	return snap, nil
}

func (s *Store) PutSnapshot(ctx context.Context, snapshot eventstore.Snapshot) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
INSERT INTO snapshots (aggregate_type, aggregate_id, version, created_at, body)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (aggregate_type, aggregate_id) DO UPDATE SET
    version = excluded.version,
    created_at = excluded.created_at,
    body = excluded.body
WHERE excluded.version > snapshots.version`),
		snapshot.AggregateType, snapshot.AggregateID, int64(snapshot.Version), snapshot.CreatedAt.UnixNano(), snapshot.Body,
	)
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}
