// Package walk implements the recursive directory traversal shared by the
// search and find_files tools. It is commodity functionality per spec §1.
package walk

import (
	"io/fs"
	"os"
	"path/filepath"
)

// SkipDirs names directories search and find_files both skip, per spec §4.H.
var SkipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".mcp-audit":   true,
	"dist":         true,
}

// Entry describes one regular file found during a walk.
type Entry struct {
	AbsPath string
	RelPath string
	Info    fs.FileInfo
}

// Options configures a walk.
type Options struct {
	// FollowSymlinks controls whether symlinked directories are descended
	// into. Cycle protection uses a set of visited symlink targets, keyed by
	// their fully resolved path, when true.
	FollowSymlinks bool
	// MaxSizeBytes, if non-zero, skips regular files larger than this.
	MaxSizeBytes int64
	// Visit is called for every regular file not skipped by the rules
	// above. Returning false stops the walk early (e.g. once a result cap
	// is reached).
	Visit func(Entry) (keepGoing bool)
}

// Walk walks root, applying SkipDirs, MaxSizeBytes, and symlink-following
// policy uniformly, and calling opts.Visit for every qualifying file.
func Walk(root string, opts Options) error {
	visited := map[string]bool{}
	// walkDir reports a Visit-requested stop as fs.SkipAll so that every
	// enclosing directory level stops too, not just the innermost one.
	if err := walkDir(root, root, opts, visited); err != fs.SkipAll {
		return err
	}
	return nil
}

func walkDir(root, dir string, opts Options, visited map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			if SkipDirs[entry.Name()] {
				continue
			}
			if err := walkDir(root, path, opts, visited); err != nil {
				return err
			}
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.Mode()&os.ModeSymlink != 0 {
			if !opts.FollowSymlinks {
				continue
			}
			target, err := filepath.EvalSymlinks(path)
			if err != nil {
				continue
			}
			targetInfo, err := os.Stat(target)
			if err != nil {
				continue
			}
			if targetInfo.IsDir() {
				key := target
				if visited[key] {
					continue // cycle protection
				}
				visited[key] = true
				if err := walkDir(root, target, opts, visited); err != nil {
					return err
				}
				continue
			}
			info = targetInfo
		}

		if !info.Mode().IsRegular() {
			continue
		}
		if opts.MaxSizeBytes > 0 && info.Size() > opts.MaxSizeBytes {
			continue
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}

		if opts.Visit != nil {
			if !opts.Visit(Entry{AbsPath: path, RelPath: rel, Info: info}) {
				return fs.SkipAll
			}
		}
	}
	return nil
}
