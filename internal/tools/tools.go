package tools

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/sentineld/termguard/internal/audit"
	"github.com/sentineld/termguard/internal/confirm"
	"github.com/sentineld/termguard/internal/guard"
	"github.com/sentineld/termguard/internal/policy"
	"github.com/sentineld/termguard/internal/procrunner"
	"github.com/sentineld/termguard/internal/sandbox"
	"github.com/sentineld/termguard/internal/vault"
)

var commandNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Confirmation is the structuredContent envelope from spec §6.
type Confirmation struct {
	RequiresConfirmation bool   `json:"requiresConfirmation"`
	Token                string `json:"token,omitempty"`
	Reason               string `json:"reason,omitempty"`
	ExpiresAt            string `json:"expiresAt,omitempty"`
}

// Result is what a single tool call reports to the server layer: the text
// the model/user sees, plus an optional structured confirmation envelope.
type Result struct {
	Text         string
	Confirmation *Confirmation
}

func textResult(text string) *Result { return &Result{Text: text} }

// Tools holds every collaborator a tool implementation needs. One Tools
// value is constructed per running server and handed to every handler.
type Tools struct {
	pol        *policy.Policy
	sb         *sandbox.Resolver
	aud        *audit.Sink
	grd        *guard.Guard
	classifier *guard.Classifier
	confirms   *confirm.Store
	vault      *vault.Vault // nil disables the ssh-keygen passphrase supplement
}

// New builds the Tools value for a loaded policy. vlt may be nil.
func New(pol *policy.Policy, sb *sandbox.Resolver, aud *audit.Sink, vlt *vault.Vault) *Tools {
	return &Tools{
		pol:        pol,
		sb:         sb,
		aud:        aud,
		grd:        guard.New(pol, sb),
		classifier: guard.NewClassifier(pol),
		confirms:   confirm.New(time.Duration(pol.ConfirmTTLSeconds) * time.Second),
		vault:      vlt,
	}
}

func expiresAtFromMs(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// resolveCwd resolves a (possibly empty) cwd argument against the sandbox
// root, defaulting to the root itself when unset.
func (t *Tools) resolveCwd(cwd string) (string, error) {
	if cwd == "" {
		return t.sb.Root(), nil
	}
	return t.sb.Resolve(cwd)
}

// Run implements spec §4.H's run(command, args?, cwd?).
func (t *Tools) Run(ctx context.Context, command string, args []string, cwd string) (*Result, error) {
	if !commandNamePattern.MatchString(command) || !t.pol.IsAllowed(command) {
		return nil, fmt.Errorf("%w: %q", ErrNotAllowed, command)
	}

	resolvedCwd, err := t.resolveCwd(cwd)
	if err != nil {
		return nil, err
	}

	if err := t.grd.Check(args); err != nil {
		return nil, err
	}

	if reason := t.classifier.Classify(command, args); reason != "" {
		pending := t.confirms.Issue(command, args, resolvedCwd, reason)
		t.aud.Append(audit.EventRunRequiresConfirmationStage1, map[string]any{
			"token": pending.Token, "command": command, "args": args, "cwd": resolvedCwd, "reason": reason,
		})
		return &Result{
			Text: fmt.Sprintf("Confirmation required: %s. Call confirm(token=%q) to proceed.", reason, pending.Token),
			Confirmation: &Confirmation{
				RequiresConfirmation: true,
				Token:                pending.Token,
				Reason:               reason,
				ExpiresAt:            expiresAtFromMs(pending.ExpiresAtMs),
			},
		}, nil
	}

	res, err := procrunner.Run(ctx, command, args, resolvedCwd, t.pol.MaxOutputChars)
	if err != nil {
		return nil, err
	}

	t.aud.Append(audit.EventRunExecuted, map[string]any{
		"command": command, "args": args, "cwd": resolvedCwd, "exitCode": res.ExitCode,
	})
	return textResult(res.Output), nil
}

// Confirm implements spec §4.H's confirm(token): advance a stage-1 token to
// stage-2, or execute a stage-2 token's captured payload.
func (t *Tools) Confirm(ctx context.Context, token string) (*Result, error) {
	advanced, advanceErr := t.confirms.Advance(token)
	if advanceErr == nil {
		t.aud.Append(audit.EventConfirmStage1IssuedStage2, map[string]any{
			"token1": token, "token2": advanced.Token, "command": advanced.Command,
			"args": advanced.Args, "cwd": advanced.Cwd, "reason": advanced.Reason,
		})
		return &Result{
			Text: fmt.Sprintf("Confirmed stage 1. Call confirm(token=%q) again to execute.", advanced.Token),
			Confirmation: &Confirmation{
				RequiresConfirmation: true,
				Token:                advanced.Token,
				Reason:               advanced.Reason,
				ExpiresAt:            expiresAtFromMs(advanced.ExpiresAtMs),
			},
		}, nil
	}
	if advanceErr != confirm.ErrStage {
		return nil, advanceErr
	}

	command, args, cwd, reason, err := t.confirms.Execute(token)
	if err != nil {
		return nil, err
	}

	res, runErr := procrunner.Run(ctx, command, args, cwd, t.pol.MaxOutputChars)
	if runErr != nil {
		return nil, runErr
	}

	postProcessSSHKeygen(command, args)

	if t.vault != nil && command == "ssh-keygen" && res.ExitCode != nil && *res.ExitCode == 0 {
		t.storeSSHPassphrase(command, args)
	}

	var exitCode *int
	if res != nil {
		exitCode = res.ExitCode
	}
	t.aud.Append(audit.EventConfirmExecuted, map[string]any{
		"token": token, "stage": 2, "command": command, "args": args, "cwd": cwd,
		"reason": reason, "exitCode": exitCode,
	})
	return textResult(res.Output), nil
}

// Cancel implements spec §4.H's cancel(token).
func (t *Tools) Cancel(token string) *Result {
	existed := t.confirms.Cancel(token)
	t.aud.Append(audit.EventConfirmCancel, map[string]any{"token": token, "existed": existed})
	if existed {
		return textResult("Cancelled.")
	}
	return textResult("No pending confirmation for that token.")
}
