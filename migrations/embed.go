// Package migrations holds the SQL schema of the promotions store.
package migrations

import "embed"

// FS contains the *.up.sql and *.down.sql files of this directory.
//
//go:embed *.sql
var FS embed.FS
