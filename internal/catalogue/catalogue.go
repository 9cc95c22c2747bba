// Package catalogue renders connected servers' tool schemas into the
// deterministic system-prompt fragment described in spec §4.J: one "Server:
// X" header per server, followed by one "- server.tool — description (args:
// ...)" line per tool.
package catalogue

import (
	"fmt"
	"strings"
)

// Param is one tool argument's prompt-rendering summary. It deliberately
// carries only what rendering needs, not a full JSON-schema node — the
// teacher's GetPromptDefinitions dumps the raw schema text, but spec §4.J
// wants a terser, single-line contract derived from it instead.
type Param struct {
	Name     string
	Type     string // "string", "number", "boolean", "object", or "T[]"
	Required bool
}

// ToolInfo is spec §3's ToolInfo, widened with the Params this package needs
// to render an argument summary.
type ToolInfo struct {
	Name        string
	Description string
	Params      []Param
}

// ConnectedServer is spec §3's ConnectedServer, narrowed to what prompt
// rendering reads.
type ConnectedServer struct {
	Name  string
	Tools []ToolInfo
}

// Render produces the prompt fragment, inserted into the system prompt
// verbatim per spec §4.J.
func Render(servers []ConnectedServer) string {
	var sb strings.Builder
	for _, srv := range servers {
		fmt.Fprintf(&sb, "Server: %s\n", srv.Name)
		for _, t := range srv.Tools {
			fmt.Fprintf(&sb, "- %s.%s — %s (args: %s)\n", srv.Name, t.Name, t.Description, renderParams(t.Params))
		}
	}
	return sb.String()
}

func renderParams(params []Param) string {
	parts := make([]string, len(params))
	for i, p := range params {
		name := p.Name
		if !p.Required {
			name += "?"
		}
		parts[i] = name + ":" + p.Type
	}
	return strings.Join(parts, ", ")
}
