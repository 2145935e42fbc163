// Package migrations embeds the user store schema.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
