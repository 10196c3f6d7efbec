// Package sqlstore implements eventstore.Backend on database/sql.
//
// Two dialects are supported: SQLite through modernc.org/sqlite and
// PostgreSQL through github.com/lib/pq. Schema migrations are embedded and
// applied once per file on Open.
package sqlstore
