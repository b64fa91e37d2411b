// Package migrate implements the versioned, dialect-neutral schema
// migrator described in spec §4.13: a directory of numbered SQL files is
// applied in order, each inside its own transaction, with a
// schema_versions table recording what has already run.
package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bosonnetwork/godht/dhterrors"
)

// Dialect distinguishes the placeholder style and schema-handling rules of
// the target database product (spec §4.13 step 1).
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// File is one parsed migration file: its version, description, digest,
// and the raw statements the splitter extracted from it.
type File struct {
	Version     int
	Description string
	Hash        string
	Statements  []string
}

var filenamePattern = regexp.MustCompile(`^(\d+)_(.+)\.sql$`)

// LoadFiles reads and parses every *.sql file in dir, sorted by version.
// It does not consult the database; call Migrate to apply them.
func LoadFiles(dirFS fs.FS, dir string) ([]File, error) {
	entries, err := fs.ReadDir(dirFS, dir)
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindBosonError, err, "read migrations directory")
	}

	files := make([]File, 0, len(entries))
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := filenamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			return nil, dhterrors.New(dhterrors.KindBosonError, fmt.Sprintf("malformed migration filename %q", entry.Name()))
		}
		version, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, dhterrors.New(dhterrors.KindBosonError, fmt.Sprintf("malformed migration version in %q", entry.Name()))
		}
		if prior, dup := seen[version]; dup {
			return nil, dhterrors.New(dhterrors.KindBosonError, fmt.Sprintf("duplicate migration version %d (%q and %q)", version, prior, entry.Name()))
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(dirFS, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, dhterrors.Wrap(dhterrors.KindBosonError, err, "read migration file")
		}
		sum := sha256.Sum256(content)

		statements, description := SplitStatements(string(content))
		if description == "" {
			description = m[2]
		}

		files = append(files, File{
			Version:     version,
			Description: description,
			Hash:        hex.EncodeToString(sum[:]),
			Statements:  statements,
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// appliedVersion is one row already recorded in schema_versions.
type appliedVersion struct {
	version int
	hash    string
}

// EnsureSchemaVersionsTable creates schema_versions if it does not yet
// exist, using placeholder-free DDL valid on both dialects.
func EnsureSchemaVersionsTable(ctx context.Context, db *sql.DB) error {
	const ddl = `CREATE TABLE IF NOT EXISTS schema_versions (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		hash TEXT NOT NULL,
		applied_by TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL,
		consumed_time_ms BIGINT NOT NULL,
		success BOOLEAN NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return dhterrors.Wrap(dhterrors.KindDataStorageError, err, "create schema_versions table")
	}
	return nil
}

func loadHistory(ctx context.Context, db *sql.DB) ([]appliedVersion, error) {
	rows, err := db.QueryContext(ctx, `SELECT version, hash FROM schema_versions WHERE success = true ORDER BY version ASC`)
	if err != nil {
		return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "load schema_versions history")
	}
	defer rows.Close()

	var history []appliedVersion
	for rows.Next() {
		var av appliedVersion
		if err := rows.Scan(&av.version, &av.hash); err != nil {
			return nil, dhterrors.Wrap(dhterrors.KindDataStorageError, err, "scan schema_versions row")
		}
		history = append(history, av)
	}
	return history, rows.Err()
}

// Migrate applies every migration beyond the recorded history, each
// inside its own transaction, recording a schema_versions row on success
// (spec §4.13 steps 3-5). appliedBy identifies the actor for the audit
// column (e.g. the node's own id).
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect, files []File, appliedBy string) error {
	if err := EnsureSchemaVersionsTable(ctx, db); err != nil {
		return err
	}

	history, err := loadHistory(ctx, db)
	if err != nil {
		return err
	}
	if len(files) < len(history) {
		return dhterrors.New(dhterrors.KindBosonError, "fewer migration files than recorded schema history")
	}
	for i, av := range history {
		if files[i].Version != av.version || files[i].Hash != av.hash {
			return dhterrors.New(dhterrors.KindBosonError, fmt.Sprintf("schema version mismatch at position %d: history has version=%d hash=%s, file has version=%d hash=%s", i, av.version, av.hash, files[i].Version, files[i].Hash))
		}
	}

	placeholder := placeholderStyle(dialect)
	for _, file := range files[len(history):] {
		if err := applyOne(ctx, db, file, appliedBy, placeholder); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(ctx context.Context, db *sql.DB, file File, appliedBy string, placeholder func(int) string) error {
	start := time.Now()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return dhterrors.Wrap(dhterrors.KindDataStorageError, err, "begin migration transaction")
	}
	defer tx.Rollback()

	for _, stmt := range file.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return dhterrors.Wrap(dhterrors.KindDataStorageError, err, fmt.Sprintf("apply migration %d (%s)", file.Version, file.Description))
		}
	}

	insert := fmt.Sprintf(
		`INSERT INTO schema_versions (version, description, hash, applied_by, applied_at, consumed_time_ms, success) VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		placeholder(1), placeholder(2), placeholder(3), placeholder(4), placeholder(5), placeholder(6), placeholder(7))
	elapsed := time.Since(start).Milliseconds()
	if _, err := tx.ExecContext(ctx, insert, file.Version, file.Description, file.Hash, appliedBy, start, elapsed, true); err != nil {
		return dhterrors.Wrap(dhterrors.KindDataStorageError, err, "record schema_versions row")
	}

	if err := tx.Commit(); err != nil {
		return dhterrors.Wrap(dhterrors.KindDataStorageError, err, "commit migration transaction")
	}
	return nil
}

// EnsureSchema optionally creates and selects a PostgreSQL schema before
// migrations run (spec §4.13 step 2). A non-empty schemaName on any other
// dialect is rejected rather than silently ignored.
func EnsureSchema(ctx context.Context, db *sql.DB, dialect Dialect, schemaName string) error {
	if schemaName == "" {
		return nil
	}
	if dialect != DialectPostgres {
		return dhterrors.New(dhterrors.KindBosonError, "custom schemas are only supported on PostgreSQL")
	}
	ident := quoteIdent(schemaName)
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, ident)); err != nil {
		return dhterrors.Wrap(dhterrors.KindDataStorageError, err, "create schema")
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`SET search_path TO %s`, ident)); err != nil {
		return dhterrors.Wrap(dhterrors.KindDataStorageError, err, "set search_path")
	}
	return nil
}

// quoteIdent double-quotes a Postgres identifier, doubling any embedded
// quote the way the server itself does.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// placeholderStyle returns a function mapping a 1-based parameter index to
// its dialect-specific placeholder token (spec §4.13 step 1).
func placeholderStyle(dialect Dialect) func(int) string {
	switch dialect {
	case DialectPostgres:
		return func(i int) string { return "$" + strconv.Itoa(i) }
	default:
		return func(int) string { return "?" }
	}
}
