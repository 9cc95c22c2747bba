// Package audit implements the append-only JSON-line audit log.
package audit

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Event is an audit log event kind, enumerated in spec §6.
type Event string

const (
	EventRunRequiresConfirmationStage1  Event = "run_requires_confirmation_stage1"
	EventRunExecuted                    Event = "run_executed"
	EventConfirmStage1IssuedStage2      Event = "confirm_stage1_issued_stage2"
	EventConfirmExecuted                Event = "confirm_executed"
	EventConfirmCancel                  Event = "confirm_cancel"
	EventSSHKeygenRequiresConfirmation1 Event = "ssh_keygen_requires_confirmation_stage1"
	EventReadFile                       Event = "read_file"
	EventWriteFile                      Event = "write_file"
	EventDiff                           Event = "diff"
	EventSearch                         Event = "search"
	EventFindFiles                      Event = "find_files"
)

// Sink appends one JSON object per line to a file opened in append mode.
// A single mutex guards every append so that concurrent writers never
// interleave within a line — see spec §9.2, the documented weakness this
// guards against, fixed here rather than left open.
type Sink struct {
	path string
	mu   sync.Mutex
}

// New returns a Sink writing to path. The file is created on first Append,
// not here, so constructing a Sink never fails. The parent directory is not
// created by the Sink; policy.Load creates it for the configured audit path.
func New(path string) *Sink {
	return &Sink{path: path}
}

// Append writes a single JSON-line entry. Fields always gets "ts" set to the
// current time in ISO-8601 UTC, overwriting any caller-supplied value.
//
// Audit failures are not fatal to the calling tool: per spec §4.C/§7, a
// write error is logged and swallowed so that a full disk or unwritable
// path never blocks a tool call that has already succeeded.
func (s *Sink) Append(event Event, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	fields["event"] = string(event)

	line, err := json.Marshal(fields)
	if err != nil {
		slog.Error("audit: marshal entry", "event", event, "error", err)
		return
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		slog.Error("audit: open log", "path", s.path, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		slog.Error("audit: write entry", "path", s.path, "error", err)
	}
}
