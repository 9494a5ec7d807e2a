// Package schema embeds the Postgres migrations for the trader state store
// and the execution journal.
package schema

import "embed"

// Migrations holds the NNN_name.up.sql / NNN_name.down.sql files in the
// layout golang-migrate expects.
//
//go:embed *.sql
var Migrations embed.FS
