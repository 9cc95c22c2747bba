// Package server implements the Tool Server from spec §4.I: registration,
// request validation, handler dispatch, and the {content, structuredContent}
// response envelope from spec §6. Grounded on the teacher's
// internal/mcp.Bridge (ListTools/Execute), generalized from a single
// in-process registry bridge to the full envelope the spec requires.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sentineld/termguard/internal/catalogue"
	"github.com/sentineld/termguard/internal/tools"
)

// Handler executes one tool call given its raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (*tools.Result, error)

// ToolDef is everything the server needs to register and describe a tool.
type ToolDef struct {
	Name        string
	Description string
	Params      []catalogue.Param
	Handler     Handler
}

// ContentItem is one entry of a Response's content array, per spec §6.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Response is the {content, structuredContent?} envelope spec §6 mandates.
type Response struct {
	Content           []ContentItem   `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
}

var noConfirmationEnvelope = json.RawMessage(`{"requiresConfirmation":false}`)

// Server registers tools and dispatches requests into their handlers.
type Server struct {
	Name string

	mu    sync.RWMutex
	defs  map[string]ToolDef
	order []string
}

// New returns an empty Server identified by name (used as the "server" field
// a model names in a tool action).
func New(name string) *Server {
	return &Server{Name: name, defs: make(map[string]ToolDef)}
}

// Register adds or replaces a tool definition.
func (s *Server) Register(def ToolDef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.defs[def.Name]; !exists {
		s.order = append(s.order, def.Name)
	}
	s.defs[def.Name] = def
}

// ToolInfo renders this server's tools into the catalogue package's
// prompt-rendering shape, in registration order.
func (s *Server) ToolInfo() []catalogue.ToolInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]catalogue.ToolInfo, 0, len(s.order))
	for _, name := range s.order {
		def := s.defs[name]
		infos = append(infos, catalogue.ToolInfo{Name: def.Name, Description: def.Description, Params: def.Params})
	}
	return infos
}

// Dispatch validates a request's required parameters, invokes the matching
// handler, and builds the response envelope. Uncaught handler errors are
// surfaced as an error-content response rather than propagated, so a single
// bad tool call never tears down the transport, per spec §4.I.
func (s *Server) Dispatch(ctx context.Context, name string, args json.RawMessage) (*Response, error) {
	s.mu.RLock()
	def, ok := s.defs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("server: unknown tool %q", name)
	}

	if err := validateRequired(def.Params, args); err != nil {
		return &Response{
			Content:           []ContentItem{{Type: "text", Text: err.Error()}},
			StructuredContent: noConfirmationEnvelope,
		}, nil
	}

	result, err := def.Handler(ctx, args)
	if err != nil {
		return &Response{
			Content:           []ContentItem{{Type: "text", Text: err.Error()}},
			StructuredContent: noConfirmationEnvelope,
		}, nil
	}

	envelope := noConfirmationEnvelope
	if result.Confirmation != nil {
		data, marshalErr := json.Marshal(result.Confirmation)
		if marshalErr == nil {
			envelope = data
		}
	}

	return &Response{
		Content:           []ContentItem{{Type: "text", Text: result.Text}},
		StructuredContent: envelope,
	}, nil
}

// validateRequired does a presence check of every required parameter
// against the raw request object — a lightweight stand-in for full
// JSON-schema validation, in keeping with how little schema checking the
// teacher's own tool handlers do beyond a typed json.Unmarshal.
func validateRequired(params []catalogue.Param, args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(args, &generic); err != nil {
		return fmt.Errorf("server: request arguments are not a JSON object: %v", err)
	}
	for _, p := range params {
		if p.Required {
			if _, ok := generic[p.Name]; !ok {
				return fmt.Errorf("server: missing required argument %q", p.Name)
			}
		}
	}
	return nil
}
