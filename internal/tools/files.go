package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sentineld/termguard/internal/audit"
	"github.com/sentineld/termguard/internal/diffutil"
	"github.com/sentineld/termguard/internal/walk"
)

const truncationMarker = "\n...[truncated]"

// ReadFile implements spec §4.H's read_file(path).
func (t *Tools) ReadFile(path string) (*Result, error) {
	abs, err := t.sb.Resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrIOFailure, path)
	}

	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	defer f.Close()

	limit := int64(t.pol.MaxFileReadBytes)
	buf := make([]byte, limit+1)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	content := string(buf[:min(n, int(limit))])
	truncated := int64(n) > limit
	if truncated {
		content += truncationMarker
	}

	t.aud.Append(audit.EventReadFile, map[string]any{"path": abs, "bytes": min(n, int(limit))})
	return textResult(content), nil
}

// WriteFile implements spec §4.H's write_file(path, content, mode).
func (t *Tools) WriteFile(path, content, mode string) (*Result, error) {
	abs, err := t.sb.Resolve(path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating parent directories: %v", ErrIOFailure, err)
	}

	switch mode {
	case "create":
		if _, statErr := os.Stat(abs); statErr == nil {
			return nil, fmt.Errorf("%w: %s already exists", ErrIOFailure, path)
		}
		err = os.WriteFile(abs, []byte(content), 0o644)
	case "append":
		var f *os.File
		f, err = os.OpenFile(abs, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			_, err = f.WriteString(content)
			f.Close()
		}
	default: // overwrite
		err = os.WriteFile(abs, []byte(content), 0o644)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	t.aud.Append(audit.EventWriteFile, map[string]any{"path": abs, "bytes": len(content), "mode": mode})
	return textResult(fmt.Sprintf("Wrote %d bytes to %s.", len(content), path)), nil
}

// Diff implements spec §4.H's diff(path, newContent).
func (t *Tools) Diff(path, newContent string) (*Result, error) {
	abs, err := t.sb.Resolve(path)
	if err != nil {
		return nil, err
	}

	var oldContent string
	if data, readErr := os.ReadFile(abs); readErr == nil {
		oldContent = string(data)
	}

	rel, err := filepath.Rel(t.sb.Root(), abs)
	if err != nil {
		rel = path
	}

	patch, err := diffutil.Unified(rel, oldContent, newContent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	t.aud.Append(audit.EventDiff, map[string]any{"path": abs, "bytes": len(patch)})
	return textResult(patch), nil
}

// Search implements spec §4.H's search(query, maxMatches?).
func (t *Tools) Search(query string, maxMatches int) (*Result, error) {
	if maxMatches <= 0 {
		maxMatches = 50
	}

	var matches []string
	err := walk.Walk(t.sb.Root(), walk.Options{
		MaxSizeBytes: 1 << 20,
		Visit: func(e walk.Entry) bool {
			data, readErr := os.ReadFile(e.AbsPath)
			if readErr == nil && strings.Contains(string(data), query) {
				matches = append(matches, e.RelPath)
			}
			return len(matches) < maxMatches
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	t.aud.Append(audit.EventSearch, map[string]any{"path": t.sb.Root(), "results": len(matches)})

	if len(matches) == 0 {
		return textResult("No matches found."), nil
	}
	return textResult(strings.Join(matches, "\n")), nil
}

// FindFilesOptions collects find_files's optional arguments.
type FindFilesOptions struct {
	Extensions            []string
	NameContains          string
	MaxResults            int
	ModifiedWithinMinutes int
	FollowSymlinks        *bool // nil means default true
}

type foundFile struct {
	rel    string
	modnix int64
}

// FindFiles implements spec §4.H's find_files.
func (t *Tools) FindFiles(dir string, opts FindFilesOptions) (*Result, error) {
	root, err := t.resolveCwd(dir)
	if err != nil {
		return nil, err
	}

	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = 50
	}

	extSet := make(map[string]bool, len(opts.Extensions))
	for _, e := range opts.Extensions {
		extSet[normalizeExt(e)] = true
	}

	var cutoff time.Time
	if opts.ModifiedWithinMinutes > 0 {
		cutoff = time.Now().Add(-time.Duration(opts.ModifiedWithinMinutes) * time.Minute)
	}

	follow := true
	if opts.FollowSymlinks != nil {
		follow = *opts.FollowSymlinks
	}

	var found []foundFile
	err = walk.Walk(root, walk.Options{
		FollowSymlinks: follow,
		Visit: func(e walk.Entry) bool {
			if len(extSet) > 0 && !extSet[normalizeExt(filepath.Ext(e.RelPath))] {
				return true
			}
			if opts.NameContains != "" && !strings.Contains(strings.ToLower(filepath.Base(e.RelPath)), strings.ToLower(opts.NameContains)) {
				return true
			}
			if !cutoff.IsZero() && e.Info.ModTime().Before(cutoff) {
				return true
			}
			found = append(found, foundFile{rel: e.RelPath, modnix: e.Info.ModTime().UnixNano()})
			return true
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].modnix > found[j].modnix })
	if len(found) > maxResults {
		found = found[:maxResults]
	}

	t.aud.Append(audit.EventFindFiles, map[string]any{"path": root, "results": len(found)})

	if len(found) == 0 {
		return textResult("No files found."), nil
	}
	rels := make([]string, len(found))
	for i, f := range found {
		rels[i] = f.rel
	}
	return textResult(strings.Join(rels, "\n")), nil
}

func normalizeExt(e string) string {
	return strings.TrimPrefix(strings.ToLower(e), ".")
}
