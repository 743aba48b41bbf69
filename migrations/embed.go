// Package migrations embeds the SQL schema applied by database.RunMigrations.
package migrations

import "embed"

// FS holds every *.sql migration in lexical order of application.
//
//go:embed *.sql
var FS embed.FS
