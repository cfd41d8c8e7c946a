// Package entity provides heuristic entity extraction and a Bleve-backed
// shortlist index over canonical entity names. Extraction is regex-only
// so it works identically with or without an LLM backend.
package entity

import "regexp"

var (
	capitalizedSpan = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)
	techTerm        = regexp.MustCompile(`\b[a-z]+[-_][a-z]+(?:[-_][a-z]+)*\b`)
	quotedSpan      = regexp.MustCompile(`"([^"]+)"`)
)

// Extract pulls candidate entity names from free text: capitalized
// spans, lowercase hyphen/underscore tech terms, then quoted strings.
// First occurrence wins; max caps the result (0 means unlimited).
func Extract(text string, max int) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, 8)
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	for _, m := range capitalizedSpan.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range techTerm.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range quotedSpan.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}

	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
