// Command termguard-agent launches the agent loop's CLI read-eval-print
// loop. The REPL itself is out of scope per spec §1 (a thin launcher only);
// this wires internal/config, internal/llm, internal/server, and
// internal/agentloop together and drives HandleMessage off stdin.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/spf13/cobra"

	"github.com/sentineld/termguard/internal/agentloop"
	"github.com/sentineld/termguard/internal/audit"
	"github.com/sentineld/termguard/internal/catalogue"
	"github.com/sentineld/termguard/internal/config"
	"github.com/sentineld/termguard/internal/llm"
	"github.com/sentineld/termguard/internal/policy"
	"github.com/sentineld/termguard/internal/sandbox"
	"github.com/sentineld/termguard/internal/server"
	"github.com/sentineld/termguard/internal/tools"
	"github.com/sentineld/termguard/internal/vault"
)

var rootCmd = &cobra.Command{
	Use:   "termguard-agent",
	Short: "termguard-agent - chat REPL driving the agent loop",
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	mgr, err := config.NewManager()
	if err != nil {
		return fmt.Errorf("termguard-agent: loading config: %w", err)
	}
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("termguard-agent: loading config: %w", err)
	}

	reportAvailableModels(cmd.Context(), cfg.Model.Endpoint, logger)

	pol, err := policy.Load(cfg.Policy.Path, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("termguard-agent: loading policy: %w", err)
	}
	sb, err := sandbox.New(pol.SandboxRoot)
	if err != nil {
		return fmt.Errorf("termguard-agent: initializing sandbox: %w", err)
	}
	aud := audit.New(pol.AuditLogPath)

	vlt, err := vault.Open("termguard-agent", cfg.DataDir)
	if err != nil {
		logger.Warn("vault unavailable, ssh passphrase storage disabled", "error", err)
		vlt = nil
	}

	tl := tools.New(pol, sb, aud, vlt)
	s := server.New("terminal-server")
	server.RegisterTerminalTools(s, tl)

	model := llm.New(cfg.Model.Endpoint, cfg.Model.Name, llm.Options{Temperature: 0.2, NumPredict: 512})
	loop := agentloop.New(modelAdapter{model}, s, agentloop.Config{
		MaxSteps:     cfg.Agent.MaxSteps,
		SystemPrompt: systemPrompt(s),
	})

	return repl(cmd.Context(), loop, logger)
}

// modelAdapter bridges internal/llm.Client's Message shape to
// internal/agentloop.Model's, which is an intentionally separate type so
// neither package imports the other's wire types directly.
type modelAdapter struct{ client *llm.Client }

func (m modelAdapter) Generate(ctx context.Context, messages []agentloop.Message) (string, error) {
	llmMessages := make([]llm.Message, len(messages))
	for i, msg := range messages {
		llmMessages[i] = llm.Message{Role: msg.Role, Content: msg.Content}
	}
	return m.client.Generate(ctx, llmMessages)
}

func systemPrompt(s *server.Server) string {
	var sb strings.Builder
	sb.WriteString("You are a terminal assistant. Respond with a single JSON object: ")
	sb.WriteString(`either {"type":"final","text":"..."} or {"type":"tool","server":"...","tool":"...","args":{...}}.`)
	sb.WriteString("\n\n")
	sb.WriteString(catalogue.Render([]catalogue.ConnectedServer{{Name: s.Name, Tools: s.ToolInfo()}}))
	return sb.String()
}

// reportAvailableModels uses ollama's discovery API purely to log what
// models are installed locally; it never participates in the chat path,
// which always goes through internal/llm's bespoke fallback protocol.
func reportAvailableModels(ctx context.Context, endpoint string, logger *slog.Logger) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return
	}
	resp, err := client.List(ctx)
	if err != nil {
		logger.Debug("model discovery unavailable", "endpoint", endpoint, "error", err)
		return
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	logger.Info("discovered local models", "models", names)
}

func repl(ctx context.Context, loop *agentloop.Loop, logger *slog.Logger) error {
	fmt.Println("termguard-agent ready. Type a message, or Ctrl-D to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		reply, err := loop.HandleMessage(ctx, text)
		if err != nil {
			logger.Error("turn failed", "error", err)
			fmt.Println("error:", err)
			continue
		}
		fmt.Println(reply)
	}
	return scanner.Err()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
