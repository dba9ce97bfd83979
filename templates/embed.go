// Package templates embeds the HTML views rendered by the web handlers.
package templates

import "embed"

//go:embed *.html layouts/*.html
var FS embed.FS
