// Package guard implements the Argument Guard and Danger Classifier: the
// coarse lexical filter applied before any process spawn, and the semantic
// check that decides whether a call needs two-stage confirmation.
package guard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sentineld/termguard/internal/policy"
	"github.com/sentineld/termguard/internal/sandbox"
)

// ErrBlockedArgument is returned when an argument matches a deny pattern or
// contains a path-escape attempt.
var ErrBlockedArgument = errors.New("guard: blocked argument")

// Guard applies policy.BlockedArgsRegex and the sandbox-confinement checks
// from spec §4.D to a (command, args) pair before it may be spawned.
type Guard struct {
	pol *policy.Policy
	sb  *sandbox.Resolver
}

// New builds a Guard from a loaded policy and its matching sandbox resolver.
func New(pol *policy.Policy, sb *sandbox.Resolver) *Guard {
	return &Guard{pol: pol, sb: sb}
}

// Check applies the three ordered rules from spec §4.D, in order, returning
// the first violation found.
func (g *Guard) Check(args []string) error {
	for _, re := range g.pol.BlockedArgsRegex {
		for _, a := range args {
			if re.MatchString(a) {
				return fmt.Errorf("%w: argument %q matches denied pattern %s", ErrBlockedArgument, a, re.String())
			}
		}
	}

	for _, a := range args {
		if strings.Contains(a, "..") {
			return fmt.Errorf("%w: argument %q contains '..'", ErrBlockedArgument, a)
		}
	}

	for _, a := range args {
		if strings.HasPrefix(a, "/") {
			if _, err := g.sb.Resolve(a); err != nil {
				return fmt.Errorf("%w: argument %q: %v", sandbox.ErrPathEscape, a, err)
			}
		}
	}

	return nil
}

// Classifier decides whether a (command, args) pair requires confirmation,
// per spec §4.E.
type Classifier struct {
	pol *policy.Policy
}

// NewClassifier builds a Classifier from a loaded policy.
func NewClassifier(pol *policy.Policy) *Classifier {
	return &Classifier{pol: pol}
}

// Classify returns a non-empty, human-readable reason if (command, args) is
// dangerous, or "" if the call is safe.
func (c *Classifier) Classify(command string, args []string) string {
	if c.pol.DangerousCommands[command] {
		return fmt.Sprintf("%q is an unconditionally dangerous command", command)
	}

	for _, rule := range c.pol.DangerousPatterns {
		if rule.Command != command {
			continue
		}
		for _, want := range rule.ArgsAnyOf {
			for _, a := range args {
				if a == want {
					return fmt.Sprintf("%q called with argument %q", command, want)
				}
			}
		}
		for _, re := range rule.CompiledArgsRegex() {
			for _, a := range args {
				if re.MatchString(a) {
					return fmt.Sprintf("%q called with an argument matching %s", command, re.String())
				}
			}
		}
	}

	return ""
}
