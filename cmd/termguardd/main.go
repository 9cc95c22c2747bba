// Command termguardd launches the sandboxed tool server. The stdio framing
// of the client↔server protocol is out of scope per spec §1 (treated as a
// black box); this launcher speaks the line-oriented JSON request/response
// shape §1 does name, one request object per line on stdin, one response
// object per line on stdout.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sentineld/termguard/internal/audit"
	"github.com/sentineld/termguard/internal/config"
	"github.com/sentineld/termguard/internal/policy"
	"github.com/sentineld/termguard/internal/sandbox"
	"github.com/sentineld/termguard/internal/server"
	"github.com/sentineld/termguard/internal/tools"
	"github.com/sentineld/termguard/internal/vault"
)

var policyPathFlag string

var rootCmd = &cobra.Command{
	Use:   "termguardd",
	Short: "termguardd - sandboxed terminal tool server",
	RunE:  runServe,
}

func init() {
	rootCmd.Flags().StringVar(&policyPathFlag, "policy", "", "path to the policy document (defaults to the configured policy.path)")
}

type request struct {
	ID   string          `json:"id"`
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

type response struct {
	ID       string           `json:"id"`
	Response *server.Response `json:"response,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	mgr, err := config.NewManager()
	if err != nil {
		return fmt.Errorf("termguardd: loading config: %w", err)
	}
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("termguardd: loading config: %w", err)
	}

	policyPath := policyPathFlag
	if policyPath == "" {
		policyPath = cfg.Policy.Path
	}

	pol, err := policy.Load(policyPath, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("termguardd: loading policy: %w", err)
	}
	sb, err := sandbox.New(pol.SandboxRoot)
	if err != nil {
		return fmt.Errorf("termguardd: initializing sandbox: %w", err)
	}
	aud := audit.New(pol.AuditLogPath)

	vlt, err := vault.Open("termguardd", cfg.DataDir)
	if err != nil {
		logger.Warn("vault unavailable, ssh passphrase storage disabled", "error", err)
		vlt = nil
	}

	tl := tools.New(pol, sb, aud, vlt)
	s := server.New("terminal-server")
	server.RegisterTerminalTools(s, tl)

	logger.Info("termguardd ready", "sandboxRoot", pol.SandboxRoot, "tools", len(s.ToolInfo()))

	return serveStdio(cmd.Context(), s, logger)
}

func serveStdio(ctx context.Context, s *server.Server, logger *slog.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	enc := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			enc.Encode(response{Error: fmt.Sprintf("invalid request: %v", err)})
			continue
		}

		resp, err := s.Dispatch(ctx, req.Tool, req.Args)
		if err != nil {
			logger.Error("dispatch failed", "tool", req.Tool, "error", err)
			enc.Encode(response{ID: req.ID, Error: err.Error()})
			continue
		}
		enc.Encode(response{ID: req.ID, Response: resp})
	}

	return scanner.Err()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
