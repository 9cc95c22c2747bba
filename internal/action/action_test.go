package action

import (
	"errors"
	"testing"
)

func TestParseFinal(t *testing.T) {
	a, err := Parse(`{"type": "final", "text": "done"}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.Kind != KindFinal || a.Text != "done" {
		t.Errorf("got %+v", a)
	}
}

func TestParseTool(t *testing.T) {
	a, err := Parse(`{"type": "tool", "server": "terminal-server", "tool": "run", "args": {"command": "ls"}}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.Kind != KindTool || a.Server != "terminal-server" || a.Tool != "run" || a.Args["command"] != "ls" {
		t.Errorf("got %+v", a)
	}
}

func TestParseToolDefaultArgs(t *testing.T) {
	a, err := Parse(`{"type": "tool", "server": "s", "tool": "t"}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.Args == nil || len(a.Args) != 0 {
		t.Errorf("expected empty args map, got %+v", a.Args)
	}
}

func TestParseStripsFence(t *testing.T) {
	raw := "```json\n{\"type\": \"final\", \"text\": \"hi\"}\n```"
	a, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.Text != "hi" {
		t.Errorf("got %q", a.Text)
	}
}

func TestParseNestedBraces(t *testing.T) {
	raw := `noise before {"type": "tool", "server": "s", "tool": "t", "args": {"nested": {"a": 1}}} noise after`
	a, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.Tool != "t" {
		t.Errorf("got %+v", a)
	}
}

func TestParseBraceInsideString(t *testing.T) {
	raw := `{"type": "final", "text": "contains a literal } inside the string"}`
	a, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if a.Text != "contains a literal } inside the string" {
		t.Errorf("got %q", a.Text)
	}
}

func TestParseMissingType(t *testing.T) {
	if _, err := Parse(`{"text": "hi"}`); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestParseUnknownType(t *testing.T) {
	if _, err := Parse(`{"type": "bogus"}`); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestParseNoBraces(t *testing.T) {
	if _, err := Parse("just some prose"); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestRoundTripFinal(t *testing.T) {
	want := Action{Kind: KindFinal, Text: "all done"}
	rendered, err := Render(want)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	got, err := Parse(rendered)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Kind != want.Kind || got.Text != want.Text {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestRoundTripTool(t *testing.T) {
	want := Action{Kind: KindTool, Server: "terminal-server", Tool: "run", Args: map[string]any{"command": "date"}}
	rendered, err := Render(want)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	got, err := Parse(rendered)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Kind != want.Kind || got.Server != want.Server || got.Tool != want.Tool || got.Args["command"] != "date" {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
