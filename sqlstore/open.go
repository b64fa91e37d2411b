package sqlstore

import (
	"context"
	"database/sql"

	"github.com/bosonnetwork/godht/dhterrors"
	"github.com/bosonnetwork/godht/migrate"
)

// Open optionally creates/selects a schema, runs the bundled migrations
// against db, and returns a ready Store. driverName is the database/sql
// driver that opened db (e.g. "sqlite", "postgres"); appliedBy is recorded
// in schema_versions for audit. schemaName is only valid on PostgreSQL
// (spec §4.13 step 2); pass "" to use the default schema.
func Open(ctx context.Context, db *sql.DB, driverName, schemaName, appliedBy string, poolSize int) (*Store, error) {
	dialect, ok := DetectDialect(driverName)
	if !ok {
		return nil, dhterrors.New(dhterrors.KindDataStorageError, "unsupported sql driver: "+driverName)
	}

	if err := migrate.EnsureSchema(ctx, db, dialect, schemaName); err != nil {
		return nil, err
	}

	files, err := migrate.LoadFiles(migrate.Migrations, migrate.MigrationsDir)
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "load bundled migrations")
	}
	if err := migrate.Migrate(ctx, db, dialect, files, appliedBy); err != nil {
		return nil, err
	}

	return New(db, dialect, poolSize), nil
}
