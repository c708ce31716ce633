// Package api embeds the tool contract served by the gateway.
package api

import _ "embed"

// ToolsContract contains the raw tool catalogue YAML.
//
//go:embed tools.yaml
var ToolsContract []byte
