package vars

import (
	"regexp"
	"strings"
)

// Entry is one name = value line from a variables block.
type Entry struct {
	Name  string
	Value string
}

var blockOpenRe = regexp.MustCompile("^```\\s*variables\\s*$")

// ExtractBlocks pulls every fenced variables block out of content:
//
//	```variables
//	database = PostgreSQL
//	api_style = REST
//	```
//
// It returns the content with those blocks removed and the entries in order
// of appearance. Lines without '=' and comment lines (#) are skipped. An
// unterminated block is left in the content untouched, and content without
// any block is returned as is.
func ExtractBlocks(content string) (string, []Entry) {
	lines := strings.Split(content, "\n")
	var kept []string
	var entries []Entry
	var pending []string
	var block []Entry
	inBlock := false
	found := false

	for _, line := range lines {
		if inBlock {
			pending = append(pending, line)
			trimmed := strings.TrimSpace(line)
			if trimmed == "```" {
				entries = append(entries, block...)
				found = true
				inBlock = false
				pending = nil
				block = nil
				continue
			}
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			k, v, ok := strings.Cut(trimmed, "=")
			if !ok {
				continue
			}
			k = strings.TrimSpace(k)
			if !ValidName(k) {
				continue
			}
			block = append(block, Entry{Name: k, Value: strings.TrimSpace(v)})
			continue
		}
		if blockOpenRe.MatchString(strings.TrimSpace(line)) {
			inBlock = true
			pending = []string{line}
			continue
		}
		kept = append(kept, line)
	}
	if !found {
		return content, nil
	}
	if inBlock {
		kept = append(kept, pending...)
	}
	return strings.TrimRight(strings.Join(kept, "\n"), "\n"), entries
}
