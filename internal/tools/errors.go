// Package tools implements the nine sandboxed tool operations from spec
// §4.H (run, confirm, cancel, read_file, write_file, diff, search,
// find_files, generate_ssh_key), plus the sys_info supplement, wiring
// together policy, sandbox, guard, confirm, procrunner, diffutil, walk, and
// vault into the request-handling layer the tool server dispatches into.
package tools

import "errors"

// Error kinds surfaced by this layer, per spec §7. The other kinds keep the
// sentinels of the packages that raise them (sandbox.ErrPathEscape,
// guard.ErrBlockedArgument, confirm.ErrMissing and so on); these three have
// no better home than this layer.
var (
	ErrNotAllowed  = errors.New("tools: command not allowed")
	ErrIOFailure   = errors.New("tools: io failure")
	ErrInvalidName = errors.New("tools: invalid name")
)
