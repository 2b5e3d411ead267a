// Package migrations holds the SQL schema, embedded in the binary.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
