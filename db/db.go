// Package db embeds the schema migrations so binaries carry their own
// schema and never depend on the migrations directory at runtime.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
