// Package migrations embeds the SQL schema migrations into the binary and
// registers them with the database package on import.
package migrations

import (
	"embed"

	"github.com/nerrad567/plcwatch-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

// FS exposes the embedded migration files.
func FS() embed.FS {
	return migrationsFS
}

func init() {
	database.RegisterMigrations(migrationsFS, ".")
}
