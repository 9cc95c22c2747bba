package policy

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writePolicy(t *testing.T, dir string, raw map[string]any) string {
	t.Helper()
	data, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(dir, "policy.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, map[string]any{
		"sandboxRoot":     "sandbox",
		"allowedCommands": []string{"ls", "date"},
	})

	p, err := Load(path, dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if p.ConfirmTTLSeconds != defaultConfirmTTLSeconds {
		t.Errorf("ConfirmTTLSeconds = %d, want %d", p.ConfirmTTLSeconds, defaultConfirmTTLSeconds)
	}
	if p.MaxOutputChars != defaultMaxOutputChars {
		t.Errorf("MaxOutputChars = %d, want %d", p.MaxOutputChars, defaultMaxOutputChars)
	}
	if !p.IsAllowed("ls") || p.IsAllowed("rm") {
		t.Error("allowlist not applied correctly")
	}
	if filepath.Dir(p.AuditLogPath) == "" {
		t.Error("expected non-empty audit log directory")
	}
	if _, err := os.Stat(filepath.Dir(p.AuditLogPath)); err != nil {
		t.Errorf("expected audit log directory to exist: %v", err)
	}
}

func TestLoadEmptyAllowlist(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, map[string]any{
		"sandboxRoot":     "sandbox",
		"allowedCommands": []string{},
	})

	if _, err := Load(path, dir); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestLoadBadCommandName(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, map[string]any{
		"sandboxRoot":     "sandbox",
		"allowedCommands": []string{"ls; rm -rf /"},
	})

	if _, err := Load(path, dir); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestLoadUnknownKeysIgnored(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, map[string]any{
		"sandboxRoot":     "sandbox",
		"allowedCommands": []string{"ls"},
		"somethingFuture": "ignored",
	})

	if _, err := Load(path, dir); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/policy.json", "/"); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}
