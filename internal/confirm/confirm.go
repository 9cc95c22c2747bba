// Package confirm implements the two-stage confirmation token state machine
// described in spec §4.F: issue, advance, execute, cancel, all guarded by
// lazy expiry instead of a background sweeper.
package confirm

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Errors returned by Store operations, per spec §7.
var (
	ErrMissing = errors.New("confirm: token not found")
	ErrExpired = errors.New("confirm: token expired")
	ErrStage   = errors.New("confirm: wrong stage for operation")
)

// Stage distinguishes a freshly issued token (1) from one advanced toward
// execution (2).
type Stage int

const (
	Stage1 Stage = 1
	Stage2 Stage = 2
)

// Pending is a single tracked confirmation, spec §3's PendingConfirmation.
type Pending struct {
	Token       string
	Stage       Stage
	CreatedAtMs int64
	ExpiresAtMs int64
	Command     string
	Args        []string
	Cwd         string
	Reason      string
}

// Store is the in-process, single-owner mapping from token to Pending.
// It is owned exclusively by the tool server and needs no cross-process
// coordination (spec §5); a mutex merely makes it also safe for a server
// that chooses to dispatch requests concurrently.
type Store struct {
	ttl time.Duration

	mu sync.Mutex
	m  map[string]*Pending
}

// New returns a Store whose tokens live for ttl after issuance or
// advancement.
func New(ttl time.Duration) *Store {
	return &Store{ttl: ttl, m: make(map[string]*Pending)}
}

func nowMs() int64 { return time.Now().UnixMilli() }

// Issue creates a fresh stage-1 token for the given payload.
func (s *Store) Issue(command string, args []string, cwd, reason string) *Pending {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMs()
	p := &Pending{
		Token:       uuid.NewString(),
		Stage:       Stage1,
		CreatedAtMs: now,
		ExpiresAtMs: now + s.ttl.Milliseconds(),
		Command:     command,
		Args:        args,
		Cwd:         cwd,
		Reason:      reason,
	}
	s.m[p.Token] = p
	return p
}

// lookup returns the pending record for token, evicting and reporting
// ErrExpired if it has lazily expired, or ErrMissing if it was never there.
// Callers must hold s.mu.
func (s *Store) lookup(token string) (*Pending, error) {
	p, ok := s.m[token]
	if !ok {
		return nil, ErrMissing
	}
	if nowMs() > p.ExpiresAtMs {
		delete(s.m, token)
		return nil, ErrExpired
	}
	return p, nil
}

// Advance retires a stage-1 token and issues a stage-2 token for the same
// payload, extending the expiry by another full ttl. The stage-1 token is
// single-use: it is deleted whether or not the stage-2 token is later used.
func (s *Store) Advance(token string) (*Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.lookup(token)
	if err != nil {
		return nil, err
	}
	if p.Stage != Stage1 {
		// Leave the token untouched: it belongs to another stage's
		// operation, not this one, and is still theirs to consume.
		return nil, ErrStage
	}
	delete(s.m, token)

	now := nowMs()
	next := &Pending{
		Token:       uuid.NewString(),
		Stage:       Stage2,
		CreatedAtMs: now,
		ExpiresAtMs: now + s.ttl.Milliseconds(),
		Command:     p.Command,
		Args:        p.Args,
		Cwd:         p.Cwd,
		Reason:      p.Reason,
	}
	s.m[next.Token] = next
	return next, nil
}

// Execute retires a stage-2 token and returns its captured payload. The
// token is consumed whether or not the caller goes on to successfully spawn
// the command.
func (s *Store) Execute(token string) (command string, args []string, cwd, reason string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, lookupErr := s.lookup(token)
	if lookupErr != nil {
		return "", nil, "", "", lookupErr
	}
	if p.Stage != Stage2 {
		// Leave the token untouched: it belongs to another stage's
		// operation, not this one, and is still theirs to consume.
		return "", nil, "", "", ErrStage
	}
	delete(s.m, token)
	return p.Command, p.Args, p.Cwd, p.Reason, nil
}

// Cancel idempotently removes a token, reporting whether one existed. It
// does not distinguish expired-but-present from never-issued: both return
// false, since the token is unusable either way.
func (s *Store) Cancel(token string) (existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.lookup(token)
	if err != nil || p == nil {
		return false
	}
	delete(s.m, token)
	return true
}
