// Package migrations embeds the gateway's SQL schema migrations so the
// migrate command ships them inside the binary.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
