// Package migrations embeds the SQL migrations applied on start-up.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
