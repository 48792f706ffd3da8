package pg

import "embed"

// SchemaFS carries the SQL migrations and seeds so the CLI can apply them
// without shipping files next to the binary.
//
//go:embed migrations/*.sql seeds/*.sql
var SchemaFS embed.FS

// Directory names inside SchemaFS.
const (
	MigrationsDir = "migrations"
	SeedsDir      = "seeds"
)
