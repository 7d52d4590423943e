// Package migrations embeds the schema so it ships inside the binary.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
