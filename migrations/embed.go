// Package migrations embeds the SQL schema applied by ledgerctl.
package migrations

import "embed"

// Files holds the ordered up/down migrations.
//
//go:embed *.sql
var Files embed.FS
