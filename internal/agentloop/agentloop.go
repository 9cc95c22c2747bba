// Package agentloop orchestrates the model/tool dialogue from spec §4.L: an
// SSH wizard intent gate in front of a bounded reasoning loop that renders
// history, calls the model, parses its action, and dispatches at most one
// tool per step. Grounded on the teacher's internal/prompt.ClassifyIntent
// heuristics for the intent gate, and on internal/agent.Engine's
// Config-with-defaults constructor shape for Loop's own defaulting.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sentineld/termguard/internal/action"
	"github.com/sentineld/termguard/internal/server"
	"github.com/sentineld/termguard/internal/tools"
)

const (
	defaultMaxSteps    = 6
	terminalServer     = "terminal-server"
	confirmTool        = "confirm"
	findFilesTool      = "find_files"
	runTool            = "run"
	generateSSHKeyTool = "generate_ssh_key"
)

// Message is one ConversationHistory entry, spec §3's {role, content} pair.
type Message struct {
	Role    string
	Content string
}

// Model is the minimal interface spec §3 implies: render history, get text
// back. internal/llm.Client satisfies this.
type Model interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Config configures a Loop; zero values are replaced with defaults in New.
type Config struct {
	MaxSteps     int
	SystemPrompt string
}

// Loop holds one chat session's state: history and the SSH wizard gate.
// Not safe for concurrent use by more than one goroutine, per spec §5 —
// a session is single-threaded.
type Loop struct {
	model Model
	srv   *server.Server
	cfg   Config

	history                []Message
	awaitingSshWizardInput bool
	seenCalls              map[string]bool
}

// New builds a Loop dispatching tool calls through srv and reasoning via
// model. cfg.MaxSteps defaults to 6 when zero.
func New(model Model, srv *server.Server, cfg Config) *Loop {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	return &Loop{
		model:     model,
		srv:       srv,
		cfg:       cfg,
		seenCalls: make(map[string]bool),
	}
}

// History returns a copy of the accumulated conversation history.
func (l *Loop) History() []Message {
	out := make([]Message, len(l.history))
	copy(out, l.history)
	return out
}

var sshKeyIntentWords = []string{"ssh-key", "sshkey"}

func looksLikeSSHKeyIntent(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "ssh") && strings.Contains(lower, "key") {
		return true
	}
	for _, w := range sshKeyIntentWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func mentionsDefaults(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "use defaults") || strings.Contains(lower, "defaults") || strings.Contains(lower, "default")
}

// HandleMessage runs the full step sequence from spec §4.L for one user
// turn: the SSH wizard gate, then the bounded reasoning loop.
func (l *Loop) HandleMessage(ctx context.Context, userText string) (string, error) {
	l.history = append(l.history, Message{Role: "user", Content: userText})

	if l.awaitingSshWizardInput {
		l.awaitingSshWizardInput = false
		opts := parseWizardForm(userText)
		return l.invokeGenerateSSHKey(ctx, opts)
	}

	if looksLikeSSHKeyIntent(userText) {
		if mentionsDefaults(userText) {
			return l.invokeGenerateSSHKey(ctx, map[string]any{})
		}
		l.awaitingSshWizardInput = true
		reply := "Let's set up your SSH key. Reply with \"use defaults\", or give a type (ed25519/rsa), filename, comment, passphrase, and whether to overwrite."
		l.history = append(l.history, Message{Role: "assistant", Content: reply})
		return reply, nil
	}

	return l.reasoningLoop(ctx)
}

func (l *Loop) invokeGenerateSSHKey(ctx context.Context, args map[string]any) (string, error) {
	reply, err := l.dispatchTool(ctx, generateSSHKeyTool, args)
	if err != nil {
		return "", err
	}
	l.history = append(l.history, Message{Role: "tool", Content: reply})
	return reply, nil
}

func (l *Loop) reasoningLoop(ctx context.Context) (string, error) {
	for step := 0; step < l.cfg.MaxSteps; step++ {
		act, parseErr := l.nextAction(ctx)
		if parseErr != nil {
			msg := "I couldn't produce a valid response. Please rephrase your request."
			l.history = append(l.history, Message{Role: "assistant", Content: msg})
			return msg, nil
		}

		if act.Kind == action.KindFinal {
			return act.Text, nil
		}

		if act.Server == terminalServer && act.Tool == confirmTool {
			msg := "Confirmation tokens must be submitted directly to the confirm tool by the user, not chosen by the assistant."
			l.history = append(l.history, Message{Role: "tool", Content: msg})
			continue
		}

		if act.Tool == generateSSHKeyTool && len(act.Args) == 0 {
			l.awaitingSshWizardInput = true
			reply := "Let's set up your SSH key. Reply with \"use defaults\", or give a type (ed25519/rsa), filename, comment, passphrase, and whether to overwrite."
			l.history = append(l.history, Message{Role: "assistant", Content: reply})
			return reply, nil
		}

		callKey := dedupKey(act.Server, act.Tool, act.Args)
		if l.seenCalls[callKey] {
			l.history = append(l.history, Message{Role: "tool", Content: fmt.Sprintf("You already called %s.%s with these arguments; choose a different action or finish.", act.Server, act.Tool)})
			continue
		}
		l.seenCalls[callKey] = true

		if step >= l.cfg.MaxSteps-2 {
			l.history = append(l.history, Message{Role: "tool", Content: "Step budget is almost exhausted. Respond with a final answer now."})
		}

		resp, dispatchErr := l.dispatch(ctx, act)
		if dispatchErr != nil {
			return "", dispatchErr
		}

		text := ""
		if len(resp.Content) > 0 {
			text = resp.Content[0].Text
		}
		l.history = append(l.history, Message{Role: "tool", Content: text})

		if act.Tool == findFilesTool {
			return text, nil
		}
		if act.Tool == runTool {
			if cmd, _ := act.Args["command"].(string); cmd == "date" {
				return text, nil
			}
		}

		if requiresConfirmation(resp.StructuredContent) {
			return text, nil
		}
	}

	msg := "I wasn't able to finish within the allotted number of steps. Please try narrowing your request."
	l.history = append(l.history, Message{Role: "assistant", Content: msg})
	return msg, nil
}

// nextAction renders history, calls the model, and parses its action,
// retrying once with an extra nudge on parse failure per spec §4.L step 3a.
func (l *Loop) nextAction(ctx context.Context) (action.Action, error) {
	messages := l.renderMessages(false)
	raw, err := l.model.Generate(ctx, messages)
	if err != nil {
		return action.Action{}, err
	}
	l.history = append(l.history, Message{Role: "assistant", Content: raw})

	act, parseErr := action.Parse(raw)
	if parseErr == nil {
		return act, nil
	}

	retryMessages := l.renderMessages(true)
	raw, err = l.model.Generate(ctx, retryMessages)
	if err != nil {
		return action.Action{}, err
	}
	l.history = append(l.history, Message{Role: "assistant", Content: raw})

	return action.Parse(raw)
}

func (l *Loop) renderMessages(nudge bool) []Message {
	system := l.cfg.SystemPrompt
	if nudge {
		system += "\nReturn ONLY a single valid JSON object."
	}
	messages := make([]Message, 0, len(l.history)+1)
	messages = append(messages, Message{Role: "system", Content: system})
	messages = append(messages, l.history...)
	return messages
}

func (l *Loop) dispatch(ctx context.Context, act action.Action) (*server.Response, error) {
	argsJSON, err := json.Marshal(act.Args)
	if err != nil {
		return nil, fmt.Errorf("agentloop: encoding tool arguments: %w", err)
	}
	return l.srv.Dispatch(ctx, act.Tool, argsJSON)
}

func (l *Loop) dispatchTool(ctx context.Context, toolName string, args map[string]any) (string, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("agentloop: encoding tool arguments: %w", err)
	}
	resp, err := l.srv.Dispatch(ctx, toolName, argsJSON)
	if err != nil {
		return "", err
	}
	if len(resp.Content) == 0 {
		return "", nil
	}
	return resp.Content[0].Text, nil
}

func dedupKey(serverName, toolName string, args map[string]any) string {
	data, _ := json.Marshal(args)
	return serverName + "." + toolName + " " + string(data)
}

func requiresConfirmation(raw json.RawMessage) bool {
	var env tools.Confirmation
	if err := json.Unmarshal(raw, &env); err != nil {
		return false
	}
	return env.RequiresConfirmation
}

var wizardTypePattern = regexp.MustCompile(`(?i)\btype[:=]?\s*(ed25519|rsa)\b`)
var wizardFilenamePattern = regexp.MustCompile(`(?i)\bfilename[:=]?\s*([A-Za-z0-9._-]+)\b`)
var wizardCommentQuotedPattern = regexp.MustCompile(`(?i)\bcomment[:=]?\s*"([^"]*)"`)
var wizardCommentTrailingPattern = regexp.MustCompile(`(?i)\bcomment[:=]?\s*(.+)$`)
var wizardPassphraseQuotedPattern = regexp.MustCompile(`(?i)\bpass(?:phrase)?[:=]?\s*"([^"]*)"`)
var bareWordPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// parseWizardForm implements spec §4.L's wizard form parsing rules.
func parseWizardForm(text string) map[string]any {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	if lower == "use defaults" || lower == "defaults" || lower == "default" {
		return map[string]any{}
	}

	if bareWordPattern.MatchString(trimmed) {
		lw := strings.ToLower(trimmed)
		if !strings.Contains(lw, "type") && !strings.Contains(lw, "pass") && !strings.Contains(lw, "comment") {
			return map[string]any{"filename": trimmed}
		}
	}

	args := map[string]any{}

	if m := wizardTypePattern.FindStringSubmatch(trimmed); m != nil {
		args["type"] = strings.ToLower(m[1])
	}
	if m := wizardFilenamePattern.FindStringSubmatch(trimmed); m != nil {
		args["filename"] = m[1]
	}
	if m := wizardCommentQuotedPattern.FindStringSubmatch(trimmed); m != nil {
		args["comment"] = m[1]
	} else if m := wizardCommentTrailingPattern.FindStringSubmatch(trimmed); m != nil {
		args["comment"] = strings.TrimSpace(m[1])
	}
	if strings.Contains(lower, "no passphrase") || strings.Contains(lower, "empty passphrase") {
		args["passphrase"] = ""
	} else if m := wizardPassphraseQuotedPattern.FindStringSubmatch(trimmed); m != nil {
		args["passphrase"] = m[1]
	}
	if strings.Contains(lower, "no overwrite") {
		args["overwrite"] = false
	} else if strings.Contains(lower, "overwrite") {
		args["overwrite"] = true
	}

	return args
}
