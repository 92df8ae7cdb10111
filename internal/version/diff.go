package version

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const diffContext = 3

const noNewline = "\\ No newline at end of file\n"

// Diff returns a unified line diff from a to b, or "" when the contents are
// identical.
func Diff(a, b Version) string {
	if a.Content == b.Content {
		return ""
	}
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        diffLines(a.Content),
		B:        diffLines(b.Content),
		FromFile: fmt.Sprintf("%s v%d", a.Document, a.Sequence),
		ToFile:   fmt.Sprintf("%s v%d", b.Document, b.Sequence),
		Context:  diffContext,
	})
	if err != nil {
		return ""
	}
	return out
}

// diffLines splits s keeping line endings. A final line without one carries
// the no-newline marker, so it differs from the same text with a newline.
func diffLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		return lines[:len(lines)-1]
	}
	lines[len(lines)-1] += "\n" + noNewline
	return lines
}
