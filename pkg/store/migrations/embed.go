// Package migrations embeds the sqlite schema for pkg/store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
