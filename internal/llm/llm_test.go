package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateChatSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["model"] != "llama3" {
			t.Errorf("unexpected model %v", body["model"])
		}
		w.Write([]byte(`{"message":{"content":"hello"}}` + "\n"))
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3", Options{Temperature: 0.2, NumPredict: 256})
	out, err := c.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "hello" {
		t.Errorf("got %q, want %q", out, "hello")
	}
}

func TestGenerateMergesNDJSONFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"content":"foo"}}` + "\n" + `{"message":{"content":"bar"}}` + "\n"))
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3", Options{})
	out, err := c.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "foobar" {
		t.Errorf("got %q, want %q", out, "foobar")
	}
}

func TestGenerateFallsBackToCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			w.WriteHeader(http.StatusInternalServerError)
		case "/api/generate":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			prompt, _ := body["prompt"].(string)
			if !strings.HasSuffix(prompt, "Assistant:") {
				t.Errorf("prompt should end with Assistant:, got %q", prompt)
			}
			if !strings.Contains(prompt, "User: hi") {
				t.Errorf("prompt missing user turn, got %q", prompt)
			}
			w.Write([]byte(`{"response":"fallback reply"}` + "\n"))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3", Options{})
	out, err := c.Generate(context.Background(), []Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "fallback reply" {
		t.Errorf("got %q, want %q", out, "fallback reply")
	}
}

func TestGenerateBothEndpointsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "llama3", Options{})
	_, err := c.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error when both endpoints fail")
	}
}

func TestRenderPlaintextPromptOrdering(t *testing.T) {
	prompt := renderPlaintextPrompt([]Message{
		{Role: "system", Content: "sys1"},
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
		{Role: "system", Content: "sys2"},
		{Role: "user", Content: "q2"},
	})
	if !strings.HasPrefix(prompt, "sys1\n\nsys2\n\n") {
		t.Errorf("expected both system messages first, got %q", prompt)
	}
	if !strings.HasSuffix(prompt, "Assistant:") {
		t.Errorf("expected prompt to end with Assistant:, got %q", prompt)
	}
	if !strings.Contains(prompt, "User: q1\nAssistant: a1\nUser: q2\n") {
		t.Errorf("expected turns in order, got %q", prompt)
	}
}
