// Package diffutil renders unified diffs for the diff tool. It is commodity
// functionality per spec §1; the algorithm is delegated to go-difflib.
package diffutil

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
)

// Unified renders a unified diff between oldContent and newContent, using
// logical names a/<rel> and b/<rel>, with 3 lines of context. An empty
// patch is rendered as "(no diff)" per spec §4.H.
func Unified(rel, oldContent, newContent string) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldContent),
		B:        difflib.SplitLines(newContent),
		FromFile: "a/" + rel,
		ToFile:   "b/" + rel,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("diffutil: rendering diff: %w", err)
	}
	if text == "" {
		return "(no diff)", nil
	}
	return text, nil
}
