// Package migrations embeds the goose SQL migrations so the cli binary can
// run them without the source tree.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Dir is the directory within FS holding the migrations.
const Dir = "."
