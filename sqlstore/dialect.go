// Package sqlstore implements storage.DataStorage over database/sql,
// targeting SQLite (modernc.org/sqlite) and PostgreSQL (github.com/lib/pq)
// via the relational schema in spec §6. It shares the put/remove decision
// logic with memstore through storage.DecidePutValue/DecidePutPeer so the
// monotonicity and ownership rules cannot drift between backends.
package sqlstore

import (
	"strconv"

	"github.com/bosonnetwork/godht/migrate"
)

// Dialect reuses migrate's dialect enum so schema migration and the data
// access layer can never disagree about which database they're talking to.
type Dialect = migrate.Dialect

const (
	DialectSQLite   = migrate.DialectSQLite
	DialectPostgres = migrate.DialectPostgres
)

// DetectDialect maps a database/sql driver name to the Dialect sqlstore
// understands (spec §4.13 step 1, reused here for the data-access layer).
func DetectDialect(driverName string) (Dialect, bool) {
	switch driverName {
	case "sqlite":
		return DialectSQLite, true
	case "postgres", "pgx":
		return DialectPostgres, true
	default:
		return 0, false
	}
}

func placeholder(d Dialect, i int) string {
	if d == DialectPostgres {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}
