// Package action implements the Action Parser from spec §4.K: extracting a
// single balanced JSON object out of free-form model output and validating
// it against the tagged union final/tool.
package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is returned for any deviation from the final/tool contract.
var ErrInvalid = errors.New("action: invalid")

// Kind discriminates the two action shapes a model turn can emit.
type Kind string

const (
	KindFinal Kind = "final"
	KindTool  Kind = "tool"
)

// Action is the tagged union spec §9 calls for: Final{Text} or
// Tool{Server, Tool, Args}.
type Action struct {
	Kind   Kind
	Text   string
	Server string
	Tool   string
	Args   map[string]any
}

// Parse extracts and validates the first balanced JSON object in raw.
func Parse(raw string) (Action, error) {
	s := stripFence(strings.TrimSpace(raw))

	obj, err := extractBalancedObject(s)
	if err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	kindRaw, ok := fields["type"]
	if !ok {
		return Action{}, fmt.Errorf("%w: missing field %q", ErrInvalid, "type")
	}
	var kind string
	if err := json.Unmarshal(kindRaw, &kind); err != nil {
		return Action{}, fmt.Errorf("%w: field %q is not a string", ErrInvalid, "type")
	}

	switch Kind(kind) {
	case KindFinal:
		textRaw, ok := fields["text"]
		if !ok {
			return Action{}, fmt.Errorf("%w: final action missing %q", ErrInvalid, "text")
		}
		var text string
		if err := json.Unmarshal(textRaw, &text); err != nil {
			return Action{}, fmt.Errorf("%w: field %q is not a string", ErrInvalid, "text")
		}
		return Action{Kind: KindFinal, Text: text}, nil

	case KindTool:
		serverRaw, hasServer := fields["server"]
		toolRaw, hasTool := fields["tool"]
		if !hasServer || !hasTool {
			return Action{}, fmt.Errorf("%w: tool action missing %q or %q", ErrInvalid, "server", "tool")
		}
		var server, toolName string
		if err := json.Unmarshal(serverRaw, &server); err != nil {
			return Action{}, fmt.Errorf("%w: field %q is not a string", ErrInvalid, "server")
		}
		if err := json.Unmarshal(toolRaw, &toolName); err != nil {
			return Action{}, fmt.Errorf("%w: field %q is not a string", ErrInvalid, "tool")
		}

		args := map[string]any{}
		if argsRaw, ok := fields["args"]; ok {
			if err := json.Unmarshal(argsRaw, &args); err != nil {
				return Action{}, fmt.Errorf("%w: field %q is not an object", ErrInvalid, "args")
			}
		}
		return Action{Kind: KindTool, Server: server, Tool: toolName, Args: args}, nil

	default:
		return Action{}, fmt.Errorf("%w: unknown type %q", ErrInvalid, kind)
	}
}

// Render serializes an Action back into the JSON form Parse accepts, used by
// the round-trip tests.
func Render(a Action) (string, error) {
	switch a.Kind {
	case KindFinal:
		data, err := json.Marshal(map[string]any{"type": "final", "text": a.Text})
		return string(data), err
	case KindTool:
		args := a.Args
		if args == nil {
			args = map[string]any{}
		}
		data, err := json.Marshal(map[string]any{"type": "tool", "server": a.Server, "tool": a.Tool, "args": args})
		return string(data), err
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalid, a.Kind)
	}
}

// stripFence removes one leading fenced-code marker (with optional language
// tag) and one trailing ``` close, per spec §4.K step 1. Non-fenced input is
// returned unchanged.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	nl := strings.IndexByte(s, '\n')
	if nl == -1 {
		return s
	}
	rest := strings.TrimSpace(s[nl+1:])
	rest = strings.TrimSuffix(rest, "```")
	return strings.TrimSpace(rest)
}

// extractBalancedObject scans for the first '{' and returns the text through
// its matching '}', tracking quoted-string and backslash-escape state so
// braces inside strings don't confuse the depth count.
func extractBalancedObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", errors.New("no opening brace found")
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}

	return "", errors.New("unbalanced braces")
}
