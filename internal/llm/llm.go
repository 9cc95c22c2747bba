// Package llm implements the bespoke chat-endpoint/completion-fallback
// client from spec §6. This is the one hand-rolled net/http path in the
// module: the corpus's ready-made provider clients each talk to one fixed
// endpoint shape, and none implement "try chat, fall back to completion,
// prepend system turns as a plaintext prompt" — see DESIGN.md for why no
// third-party client could be wired here instead.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrModelUnavailable is returned when both the chat and completion
// endpoints fail, per spec §7.
var ErrModelUnavailable = errors.New("llm: model unavailable")

// Message is one conversation turn, spec §3's ConversationHistory entry
// shape narrowed to what the wire protocol needs.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options mirrors the generation knobs spec §6's wire format names.
type Options struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

// Client talks to a local chat-completion backend over HTTP.
type Client struct {
	baseURL string
	model   string
	opts    Options
	http    *http.Client
}

// New returns a Client targeting baseURL (e.g. "http://localhost:11434")
// with a 120s wall-clock timeout per spec §5.
func New(baseURL, model string, opts Options) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		opts:    opts,
		http:    &http.Client{Timeout: 120 * time.Second},
	}
}

// Generate implements the Model interface the agent loop depends on: POST to
// the chat endpoint, and on any failure fall back to the completion
// endpoint with a plaintext-rendered prompt.
func (c *Client) Generate(ctx context.Context, messages []Message) (string, error) {
	text, err := c.chat(ctx, messages)
	if err == nil {
		return text, nil
	}
	return c.completion(ctx, messages)
}

func (c *Client) chat(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":    c.model,
		"messages": messages,
		"stream":   false,
		"options":  c.opts,
	})
	if err != nil {
		return "", fmt.Errorf("%w: encoding chat request: %v", ErrModelUnavailable, err)
	}

	resp, err := c.post(ctx, "/api/chat", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return mergeNDJSON(resp.Body, func(line []byte) (string, bool) {
		var frag struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}
		if json.Unmarshal(line, &frag) != nil {
			return "", false
		}
		return frag.Message.Content, true
	})
}

func (c *Client) completion(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(map[string]any{
		"model":   c.model,
		"prompt":  renderPlaintextPrompt(messages),
		"stream":  false,
		"options": c.opts,
	})
	if err != nil {
		return "", fmt.Errorf("%w: encoding completion request: %v", ErrModelUnavailable, err)
	}

	resp, err := c.post(ctx, "/api/generate", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return mergeNDJSON(resp.Body, func(line []byte) (string, bool) {
		var frag struct {
			Response string `json:"response"`
		}
		if json.Unmarshal(line, &frag) != nil {
			return "", false
		}
		return frag.Response, true
	})
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrModelUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %s", ErrModelUnavailable, path, resp.Status)
	}
	return resp, nil
}

// renderPlaintextPrompt prepends any system messages as plain text, then
// lists User:/Assistant: turns, ending with "Assistant:" per spec §6. Tool
// turns are folded in as User-labeled lines since the spec's wire format
// only names system/user/assistant for the plaintext fallback.
func renderPlaintextPrompt(messages []Message) string {
	var sb strings.Builder
	for _, m := range messages {
		if m.Role == "system" {
			sb.WriteString(m.Content)
			sb.WriteString("\n\n")
		}
	}
	for _, m := range messages {
		switch m.Role {
		case "system":
			continue
		case "assistant":
			fmt.Fprintf(&sb, "Assistant: %s\n", m.Content)
		default:
			fmt.Fprintf(&sb, "User: %s\n", m.Content)
		}
	}
	sb.WriteString("Assistant:")
	return sb.String()
}

// mergeNDJSON scans body line by line, applying extract to each non-blank
// line and concatenating whatever it returns. A single-object (non-streamed)
// response is just the one-line special case of this.
func mergeNDJSON(body io.Reader, extract func(line []byte) (string, bool)) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var sb strings.Builder
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if frag, ok := extract(line); ok {
			sb.WriteString(frag)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: reading response stream: %v", ErrModelUnavailable, err)
	}
	return sb.String(), nil
}
