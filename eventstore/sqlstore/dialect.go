package sqlstore

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect names accepted by Open.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

type dialect struct {
	name          string
	driver        string
	migrationRoot string
	isConstraint  func(error) bool
	// postgres uses $n placeholders
	numbered bool
}

func lookupDialect(name string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case DialectSQLite, "sqlite3":
		return dialect{
			name:          DialectSQLite,
			driver:        "sqlite",
			migrationRoot: "migrations/sqlite",
			isConstraint:  isSQLiteConstraintError,
		}, nil
	case DialectPostgres, "postgresql", "pq":
		return dialect{
			name:          DialectPostgres,
			driver:        "postgres",
			migrationRoot: "migrations/postgres",
			isConstraint:  isPostgresUniqueViolation,
			numbered:      true,
		}, nil
	default:
		return dialect{}, fmt.Errorf("sqlstore: unsupported dialect %q", name)
	}
}

// rebind rewrites ? placeholders for dialects with numbered parameters.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func isSQLiteConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func isPostgresUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505"
}
