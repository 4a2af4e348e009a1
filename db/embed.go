// Package db embeds the SQL schema migrations.
package db

import "embed"

// MigrationsFS holds migrations/*.sql; golang-migrate reads them through iofs.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
