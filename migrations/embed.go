// Package migrations embeds the SQL schema migrations so cmd/migrate
// ships as a single binary.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
