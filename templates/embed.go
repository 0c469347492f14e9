// Package templates embeds the default configuration and sample files
// written by conductor init.
package templates

import "embed"

//go:embed config.yaml submission.sample.yaml
var FS embed.FS
