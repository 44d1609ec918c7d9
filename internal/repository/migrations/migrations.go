// Package migrations embeds the schema of both store backends.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// Postgres returns the migration files of the postgres backend
func Postgres() fs.FS {
	sub, _ := fs.Sub(files, "postgres")
	return sub
}

// SQLite returns the migration files of the sqlite backend
func SQLite() fs.FS {
	sub, _ := fs.Sub(files, "sqlite")
	return sub
}
