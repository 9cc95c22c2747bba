// Package policy loads and validates the declarative security policy that
// governs the tool server: the command allowlist, argument denial rules,
// danger classification rules, and the numeric limits everything else reads.
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// ErrInvalid wraps every reason a policy document fails to load.
var ErrInvalid = errors.New("policy: invalid")

var commandNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

const (
	defaultConfirmTTLSeconds = 90
	defaultMaxOutputChars    = 20_000
	defaultMaxFileReadBytes  = 200_000
)

// DangerousPattern is a {command, argsAnyOf?, argsRegexAnyOf?} rule from
// spec §3/§4.E.
type DangerousPattern struct {
	Command        string   `json:"command"`
	ArgsAnyOf      []string `json:"argsAnyOf,omitempty"`
	ArgsRegexAnyOf []string `json:"argsRegexAnyOf,omitempty"`

	compiledRegex []*regexp.Regexp
}

// rawPolicy mirrors the on-disk JSON shape; unknown keys are ignored for
// forward compatibility, which is exactly what a plain struct + encoding/json
// gives us for free.
type rawPolicy struct {
	SandboxRoot       string             `json:"sandboxRoot"`
	AuditLogPath      string             `json:"auditLogPath"`
	AllowedCommands   []string           `json:"allowedCommands"`
	BlockedArgsRegex  []string           `json:"blockedArgsRegex"`
	DangerousCommands []string           `json:"dangerousCommands"`
	DangerousPatterns []DangerousPattern `json:"dangerousPatterns"`
	ConfirmTTLSeconds int                `json:"confirmTtlSeconds"`
	MaxOutputChars    int                `json:"maxOutputChars"`
	MaxFileReadBytes  int                `json:"maxFileReadBytes"`
}

// Policy is the immutable, validated value returned by Load.
type Policy struct {
	SandboxRoot       string
	AuditLogPath      string
	AllowedCommands   map[string]bool
	BlockedArgsRegex  []*regexp.Regexp
	DangerousCommands map[string]bool
	DangerousPatterns []DangerousPattern
	ConfirmTTLSeconds int
	MaxOutputChars    int
	MaxFileReadBytes  int
}

// Load reads path, a JSON policy document, relative to workDir (used to
// resolve sandboxRoot and a relative auditLogPath), and returns a validated
// Policy. It ensures the audit log's directory exists before returning, so
// that no tool call can fail later for want of a directory.
func Load(path, workDir string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalid, path, err)
	}

	var raw rawPolicy
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalid, path, err)
	}

	if len(raw.AllowedCommands) == 0 {
		return nil, fmt.Errorf("%w: allowedCommands must be non-empty", ErrInvalid)
	}

	allowed := make(map[string]bool, len(raw.AllowedCommands))
	for _, name := range raw.AllowedCommands {
		if !commandNamePattern.MatchString(name) {
			return nil, fmt.Errorf("%w: allowedCommands entry %q does not match %s", ErrInvalid, name, commandNamePattern.String())
		}
		allowed[name] = true
	}

	blocked := make([]*regexp.Regexp, 0, len(raw.BlockedArgsRegex))
	for _, pat := range raw.BlockedArgsRegex {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("%w: blockedArgsRegex %q: %v", ErrInvalid, pat, err)
		}
		blocked = append(blocked, re)
	}

	dangerous := make(map[string]bool, len(raw.DangerousCommands))
	for _, name := range raw.DangerousCommands {
		dangerous[name] = true
	}

	for i := range raw.DangerousPatterns {
		p := &raw.DangerousPatterns[i]
		for _, pat := range p.ArgsRegexAnyOf {
			re, err := regexp.Compile(pat)
			if err != nil {
				return nil, fmt.Errorf("%w: dangerousPatterns[%d].argsRegexAnyOf %q: %v", ErrInvalid, i, pat, err)
			}
			p.compiledRegex = append(p.compiledRegex, re)
		}
	}

	sandboxRoot := raw.SandboxRoot
	if !filepath.IsAbs(sandboxRoot) {
		sandboxRoot = filepath.Join(workDir, sandboxRoot)
	}
	sandboxRoot = filepath.Clean(sandboxRoot)

	auditLogPath := raw.AuditLogPath
	if auditLogPath == "" {
		auditLogPath = filepath.Join(sandboxRoot, ".mcp-audit", "audit.log")
	} else if !filepath.IsAbs(auditLogPath) {
		auditLogPath = filepath.Join(sandboxRoot, auditLogPath)
	}

	if err := os.MkdirAll(filepath.Dir(auditLogPath), 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating audit log directory: %v", ErrInvalid, err)
	}

	p := &Policy{
		SandboxRoot:       sandboxRoot,
		AuditLogPath:      auditLogPath,
		AllowedCommands:   allowed,
		BlockedArgsRegex:  blocked,
		DangerousCommands: dangerous,
		DangerousPatterns: raw.DangerousPatterns,
		ConfirmTTLSeconds: orDefault(raw.ConfirmTTLSeconds, defaultConfirmTTLSeconds),
		MaxOutputChars:    orDefault(raw.MaxOutputChars, defaultMaxOutputChars),
		MaxFileReadBytes:  orDefault(raw.MaxFileReadBytes, defaultMaxFileReadBytes),
	}
	return p, nil
}

// CompiledArgsRegex returns the compiled regular expressions for a pattern's
// argsRegexAnyOf, compiled once at Load time.
func (p DangerousPattern) CompiledArgsRegex() []*regexp.Regexp { return p.compiledRegex }

// IsAllowed reports whether name is on the allowlist.
func (p *Policy) IsAllowed(name string) bool { return p.AllowedCommands[name] }

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
