package migrate

import "embed"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrations is the compiled-in set of migration files shipped with this
// module. Callers needing to add deployment-specific migrations can merge
// an additional fs.FS ahead of calling LoadFiles against their own
// directory instead.
var Migrations = embeddedMigrations

// MigrationsDir is the directory within Migrations holding the *.sql
// files, for use with LoadFiles(Migrations, MigrationsDir).
const MigrationsDir = "migrations"
