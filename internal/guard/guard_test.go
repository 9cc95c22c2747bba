package guard

import (
	"errors"
	"regexp"
	"testing"

	"github.com/sentineld/termguard/internal/policy"
	"github.com/sentineld/termguard/internal/sandbox"
)

func testPolicy() *policy.Policy {
	return &policy.Policy{
		SandboxRoot:       "/tmp/sandboxtest",
		AllowedCommands:   map[string]bool{"ls": true, "rm": true},
		BlockedArgsRegex:  []*regexp.Regexp{regexp.MustCompile(`(?i)--exec`)},
		DangerousCommands: map[string]bool{"rm": true},
		DangerousPatterns: []policy.DangerousPattern{
			{Command: "git", ArgsAnyOf: []string{"push", "--force"}},
		},
	}
}

func TestGuardBlockedRegex(t *testing.T) {
	sb, _ := sandbox.New("/tmp/sandboxtest")
	g := New(testPolicy(), sb)

	if err := g.Check([]string{"--exec=rm"}); !errors.Is(err, ErrBlockedArgument) {
		t.Errorf("expected ErrBlockedArgument, got %v", err)
	}
}

func TestGuardDotDot(t *testing.T) {
	sb, _ := sandbox.New("/tmp/sandboxtest")
	g := New(testPolicy(), sb)

	if err := g.Check([]string{"../etc/passwd"}); !errors.Is(err, ErrBlockedArgument) {
		t.Errorf("expected ErrBlockedArgument, got %v", err)
	}
}

func TestGuardAbsolutePathEscape(t *testing.T) {
	sb, _ := sandbox.New("/tmp/sandboxtest")
	g := New(testPolicy(), sb)

	if err := g.Check([]string{"/etc/passwd"}); !errors.Is(err, sandbox.ErrPathEscape) {
		t.Errorf("expected ErrPathEscape, got %v", err)
	}
}

func TestGuardAllowsSafeArgs(t *testing.T) {
	sb, _ := sandbox.New("/tmp/sandboxtest")
	g := New(testPolicy(), sb)

	if err := g.Check([]string{"-la", "subdir"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestClassifyDangerousCommand(t *testing.T) {
	c := NewClassifier(testPolicy())
	if reason := c.Classify("rm", []string{"-rf", "x"}); reason == "" {
		t.Error("expected danger reason for rm")
	}
}

func TestClassifyDangerousPattern(t *testing.T) {
	c := NewClassifier(testPolicy())
	if reason := c.Classify("git", []string{"push", "--force"}); reason == "" {
		t.Error("expected danger reason for git push --force")
	}
	if reason := c.Classify("git", []string{"status"}); reason != "" {
		t.Errorf("expected no danger for git status, got %q", reason)
	}
}

func TestClassifySafe(t *testing.T) {
	c := NewClassifier(testPolicy())
	if reason := c.Classify("ls", []string{"-la"}); reason != "" {
		t.Errorf("expected no danger, got %q", reason)
	}
}
