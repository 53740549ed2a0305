// Package migrations embeds the Postgres schema for the case store and job ledger.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
