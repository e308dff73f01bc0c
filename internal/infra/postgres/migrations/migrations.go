package migrations

import "github.com/uptrace/bun/migrate"

// Migrations holds every schema change of the checkpoint service, ordered by file name.
var Migrations = migrate.NewMigrations()
