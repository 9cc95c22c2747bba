package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/sentineld/termguard/internal/audit"
)

var filenamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

const sshWizardDefaultComment = "smartos-mcp"

// SSHKeyOptions collects generate_ssh_key's optional arguments. Empty Type,
// Filename and Comment are filled with the spec §4.H step-1 defaults by
// GenerateSSHKey.
type SSHKeyOptions struct {
	Type       string
	Filename   string
	Comment    string
	Passphrase string
	Overwrite  bool
}

// DefaultSSHKeyOptions returns the spec §4.H step-1 defaults.
func DefaultSSHKeyOptions() SSHKeyOptions {
	return SSHKeyOptions{
		Type:     "ed25519",
		Filename: "id_ed25519",
		Comment:  sshWizardDefaultComment,
	}
}

// GenerateSSHKey implements spec §4.H's generate_ssh_key. It never spawns a
// process directly: every call, regardless of arguments, issues a stage-1
// confirmation token for the curated ssh-keygen invocation, deliberately
// bypassing the allowlist rule for this one command (spec §9.1 weakness 4).
func (t *Tools) GenerateSSHKey(opts SSHKeyOptions) (*Result, error) {
	if opts.Type == "" {
		opts.Type = "ed25519"
	}
	if opts.Filename == "" {
		opts.Filename = "id_ed25519"
	}
	if opts.Comment == "" {
		opts.Comment = sshWizardDefaultComment
	}

	if !filenamePattern.MatchString(opts.Filename) || opts.Filename == "." || opts.Filename == ".." {
		return nil, fmt.Errorf("%w: filename %q", ErrInvalidName, opts.Filename)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("%w: resolving home directory: %v", ErrIOFailure, err)
	}
	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrIOFailure, sshDir, err)
	}

	keyPath := filepath.Join(sshDir, opts.Filename)
	pubPath := keyPath + ".pub"

	if !opts.Overwrite {
		if _, err := os.Stat(keyPath); err == nil {
			return nil, fmt.Errorf("%w: %s already exists", ErrIOFailure, keyPath)
		}
		if _, err := os.Stat(pubPath); err == nil {
			return nil, fmt.Errorf("%w: %s already exists", ErrIOFailure, pubPath)
		}
	}

	args := []string{"-t", opts.Type, "-f", keyPath, "-C", opts.Comment, "-N", opts.Passphrase}
	pending := t.confirms.Issue("ssh-keygen", args, t.sb.Root(), "ssh-keygen requires confirmation before it touches ~/.ssh")

	t.aud.Append(audit.EventSSHKeygenRequiresConfirmation1, map[string]any{
		"token": pending.Token, "keyType": opts.Type, "keyPath": keyPath, "overwrite": opts.Overwrite,
	})

	return &Result{
		Text: fmt.Sprintf("Generating an %s key at %s requires confirmation. Call confirm(token=%q) to proceed.", opts.Type, keyPath, pending.Token),
		Confirmation: &Confirmation{
			RequiresConfirmation: true,
			Token:                pending.Token,
			Reason:               pending.Reason,
			ExpiresAt:            expiresAtFromMs(pending.ExpiresAtMs),
		},
	}, nil
}

// postProcessSSHKeygen applies spec §4.H confirm-step post-processing: if
// command was ssh-keygen writing into $HOME/.ssh, tighten permissions on the
// directory and the generated key pair. Failures are swallowed: a chmod that
// doesn't stick does not undo an already-completed key generation.
func postProcessSSHKeygen(command string, args []string) {
	if command != "ssh-keygen" {
		return
	}

	keyPath := sshKeygenFlagValue(args, "-f")
	if keyPath == "" {
		return
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	sshDir := filepath.Join(home, ".ssh")
	if filepath.Dir(keyPath) != sshDir {
		return
	}

	_ = os.Chmod(sshDir, 0o700)
	_ = os.Chmod(keyPath, 0o600)
	_ = os.Chmod(keyPath+".pub", 0o644)
}

// storeSSHPassphrase is the additive vault supplement described in
// SPEC_FULL.md §9/§12: after a successful ssh-keygen confirm execution, a
// non-empty passphrase is stashed so it can be recovered later. This never
// runs before stage-2 confirm succeeds.
func (t *Tools) storeSSHPassphrase(command string, args []string) {
	passphrase := sshKeygenFlagValue(args, "-N")
	keyPath := sshKeygenFlagValue(args, "-f")
	if passphrase == "" || keyPath == "" {
		return
	}
	_ = t.vault.Set("ssh:"+filepath.Base(keyPath), passphrase)
}

func sshKeygenFlagValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
