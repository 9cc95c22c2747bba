package agentloop

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/sentineld/termguard/internal/audit"
	"github.com/sentineld/termguard/internal/policy"
	"github.com/sentineld/termguard/internal/sandbox"
	"github.com/sentineld/termguard/internal/server"
	"github.com/sentineld/termguard/internal/tools"
)

// fakeModel returns scripted responses in order, one per Generate call.
type fakeModel struct {
	responses []string
	calls     int
}

func (f *fakeModel) Generate(ctx context.Context, messages []Message) (string, error) {
	if f.calls >= len(f.responses) {
		return `{"type":"final","text":"out of script"}`, nil
	}
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

func newTestLoop(t *testing.T, model Model, allowed []string) *Loop {
	t.Helper()
	root := t.TempDir()

	raw := map[string]any{"sandboxRoot": root, "allowedCommands": allowed}
	data, _ := json.Marshal(raw)
	policyPath := filepath.Join(root, "policy.json")
	if err := os.WriteFile(policyPath, data, 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	pol, err := policy.Load(policyPath, root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sb, err := sandbox.New(pol.SandboxRoot)
	if err != nil {
		t.Fatalf("sandbox.New: %v", err)
	}
	tl := tools.New(pol, sb, audit.New(pol.AuditLogPath), nil)

	s := server.New("terminal-server")
	server.RegisterTerminalTools(s, tl)

	return New(model, s, Config{SystemPrompt: "you are a terse assistant"})
}

func TestHandleMessageFinalAction(t *testing.T) {
	model := &fakeModel{responses: []string{`{"type":"final","text":"hello there"}`}}
	l := newTestLoop(t, model, []string{"ls"})

	out, err := l.HandleMessage(context.Background(), "hi")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if out != "hello there" {
		t.Errorf("got %q, want %q", out, "hello there")
	}
}

func TestHandleMessageDispatchesToolThenFinal(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"type":"tool","server":"terminal-server","tool":"run","args":{"command":"ls"}}`,
		`{"type":"final","text":"done"}`,
	}}
	l := newTestLoop(t, model, []string{"ls"})

	out, err := l.HandleMessage(context.Background(), "list files")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if out != "done" {
		t.Errorf("got %q, want %q", out, "done")
	}
}

// S6 — a repeated identical tool call is deduplicated rather than re-run.
func TestHandleMessageDedupRepeatedCall(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"type":"tool","server":"terminal-server","tool":"sys_info","args":{}}`,
		`{"type":"tool","server":"terminal-server","tool":"sys_info","args":{}}`,
		`{"type":"final","text":"done"}`,
	}}
	l := newTestLoop(t, model, []string{"ls"})

	out, err := l.HandleMessage(context.Background(), "check system twice")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if out != "done" {
		t.Errorf("got %q, want %q", out, "done")
	}

	foundRepeatNotice := false
	for _, m := range l.History() {
		if m.Role == "tool" && strings.Contains(m.Content, "already called") {
			foundRepeatNotice = true
		}
	}
	if !foundRepeatNotice {
		t.Error("expected a deduplication notice in history")
	}
}

func TestHandleMessageForbidsDirectConfirm(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"type":"tool","server":"terminal-server","tool":"confirm","args":{"token":"abc"}}`,
		`{"type":"final","text":"done"}`,
	}}
	l := newTestLoop(t, model, []string{"ls"})

	out, err := l.HandleMessage(context.Background(), "confirm it")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if out != "done" {
		t.Errorf("got %q, want %q", out, "done")
	}

	foundNotice := false
	for _, m := range l.History() {
		if m.Role == "tool" && strings.Contains(m.Content, "must be submitted directly") {
			foundNotice = true
		}
	}
	if !foundNotice {
		t.Error("expected a forbidding notice in history")
	}
}

// Fast-return shortcut: find_files returns its text directly, no final step.
func TestHandleMessageFindFilesFastReturn(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"type":"tool","server":"terminal-server","tool":"find_files","args":{"dir":"."}}`,
	}}
	l := newTestLoop(t, model, []string{"ls"})

	out, err := l.HandleMessage(context.Background(), "find files")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if out == "" {
		t.Error("expected find_files text to be returned directly")
	}
	if model.calls != 1 {
		t.Errorf("expected exactly one model call, got %d", model.calls)
	}
}

// Fast-return shortcut: run(command="date") returns its text directly.
func TestHandleMessageRunDateFastReturn(t *testing.T) {
	model := &fakeModel{responses: []string{
		`{"type":"tool","server":"terminal-server","tool":"run","args":{"command":"date"}}`,
	}}
	l := newTestLoop(t, model, []string{"date"})

	out, err := l.HandleMessage(context.Background(), "what time is it")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if out == "" {
		t.Error("expected run(date) text to be returned directly")
	}
	if model.calls != 1 {
		t.Errorf("expected exactly one model call, got %d", model.calls)
	}
}

func TestHandleMessageBudgetExhausted(t *testing.T) {
	responses := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		responses = append(responses, `{"type":"tool","server":"terminal-server","tool":"sys_info","args":{"n":`+strconv.Itoa(i)+`}}`)
	}
	model := &fakeModel{responses: responses}
	l := newTestLoop(t, model, []string{"ls"})

	out, err := l.HandleMessage(context.Background(), "loop forever")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !strings.Contains(out, "allotted number of steps") {
		t.Errorf("expected budget-exhausted message, got %q", out)
	}
}

func TestHandleMessageParseFailureRetriesOnce(t *testing.T) {
	model := &fakeModel{responses: []string{
		"not json at all",
		"still not json",
	}}
	l := newTestLoop(t, model, []string{"ls"})

	out, err := l.HandleMessage(context.Background(), "garble")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !strings.Contains(out, "valid response") {
		t.Errorf("expected a parse-failure message, got %q", out)
	}
	if model.calls != 2 {
		t.Errorf("expected exactly 2 model calls (one retry), got %d", model.calls)
	}
}

// S5 — SSH wizard defaults to id_ed25519.
func TestHandleMessageSSHWizardDefaults(t *testing.T) {
	model := &fakeModel{}
	l := newTestLoop(t, model, []string{"ssh-keygen"})

	out, err := l.HandleMessage(context.Background(), "I need to generate an ssh key")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !strings.Contains(out, "use defaults") {
		t.Errorf("expected wizard prompt, got %q", out)
	}

	out, err = l.HandleMessage(context.Background(), "use defaults")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !strings.Contains(out, "token") {
		t.Errorf("expected a confirmation token in generate_ssh_key reply, got %q", out)
	}
}

func TestHandleMessageSSHIntentWithExplicitDefaults(t *testing.T) {
	model := &fakeModel{}
	l := newTestLoop(t, model, []string{"ssh-keygen"})

	out, err := l.HandleMessage(context.Background(), "generate an ssh key, use defaults")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if !strings.Contains(out, "token") {
		t.Errorf("expected immediate generate_ssh_key reply, got %q", out)
	}
}

func TestParseWizardFormBareWord(t *testing.T) {
	args := parseWizardForm("my_laptop_key")
	if args["filename"] != "my_laptop_key" {
		t.Errorf("got %v, want filename=my_laptop_key", args)
	}
}

func TestParseWizardFormDefaults(t *testing.T) {
	for _, in := range []string{"use defaults", "defaults", "default"} {
		args := parseWizardForm(in)
		if len(args) != 0 {
			t.Errorf("parseWizardForm(%q) = %v, want empty", in, args)
		}
	}
}

func TestParseWizardFormFields(t *testing.T) {
	args := parseWizardForm(`type: rsa filename: work_key comment: "work laptop" no passphrase overwrite`)
	if args["type"] != "rsa" {
		t.Errorf("type = %v", args["type"])
	}
	if args["filename"] != "work_key" {
		t.Errorf("filename = %v", args["filename"])
	}
	if args["comment"] != "work laptop" {
		t.Errorf("comment = %v", args["comment"])
	}
	if args["passphrase"] != "" {
		t.Errorf("passphrase = %v, want empty", args["passphrase"])
	}
	if args["overwrite"] != true {
		t.Errorf("overwrite = %v, want true", args["overwrite"])
	}
}
