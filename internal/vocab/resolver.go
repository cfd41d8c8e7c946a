package vocab

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MinNameLength and MaxNameLength bound normalized entity names.
	MinNameLength = 2
	MaxNameLength = 100

	// FuzzyThreshold is the minimum Ratio for an existing canonical
	// name to absorb a new mention.
	FuzzyThreshold = 0.85
)

// entityAliases are known equivalences seeded from a corpus audit.
// Values must normalize to themselves so resolution is idempotent.
var entityAliases = map[string]string{
	"aletheia_runtime": "aletheia",
	"aletheia_system":  "aletheia",
	"aletheia system":  "aletheia",
	"postgres":         "postgresql",
	"postgres db":      "postgresql",
	"pg":               "postgresql",
	"k8s":              "kubernetes",
	"kube":             "kubernetes",
	"qdrant db":        "qdrant",
	"qdrant_db":        "qdrant",
	"neo4j db":         "neo4j",
	"neo4j_db":         "neo4j",
	"js":               "javascript",
	"ts":               "typescript",
	"golang":           "go",
	"py":               "python",
	"anthropic api":    "anthropic",
}

// stopwords never become entity nodes.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "was": true,
	"are": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "could": true,
	"should": true, "may": true, "might": true, "shall": true,
	"can": true, "must": true, "that": true, "this": true,
	"these": true, "those": true, "it": true, "its": true,
	"they": true, "them": true, "their": true, "we": true, "our": true,
	"you": true, "your": true, "he": true, "his": true, "she": true,
	"her": true, "if": true, "then": true, "else": true, "when": true,
	"where": true, "how": true, "what": true, "which": true,
	"who": true, "whom": true, "why": true, "not": true, "no": true,
	"yes": true, "ok": true, "done": true, "true": true, "false": true,
	"null": true, "none": true, "just": true, "also": true,
	"very": true, "too": true, "only": true, "even": true,
	"still": true, "already": true, "system": true, "user": true,
	"agent": true, "tool": true, "command": true, "output": true,
	"input": true, "result": true, "error": true, "warning": true,
	"info": true, "debug": true, "log": true, "data": true,
	"file": true, "path": true, "name": true, "type": true,
	"value": true, "key": true, "id": true, "status": true,
	"ping": true, "pong": true, "convo": true, "conversation": true,
	"session": true, "turn": true, "message": true, "response": true,
	"request": true, "query": true, "search": true,
}

var (
	leadingArticle = regexp.MustCompile(`^(the|a|an)\s+`)
	multiSpace     = regexp.MustCompile(`\s+`)
	pureDigits     = regexp.MustCompile(`^\d+$`)
)

// NormalizeEntityName lowers, strips a leading article, collapses
// whitespace and drops trailing punctuation.
func NormalizeEntityName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = leadingArticle.ReplaceAllString(s, "")
	s = multiSpace.ReplaceAllString(s, " ")
	return strings.TrimRight(s, ".,;:!?")
}

// IsValidEntity reports whether a name should become a node at all.
// Stopwords and bare numbers are rejected.
func IsValidEntity(name string) bool {
	n := NormalizeEntityName(name)
	length := utf8.RuneCountInString(n)
	if length < MinNameLength || length > MaxNameLength {
		return false
	}
	if stopwords[n] {
		return false
	}
	if pureDigits.MatchString(n) {
		return false
	}
	return true
}

// ResolveEntity maps a raw mention to its canonical form. The alias
// table wins over fuzzy matching; otherwise the first existing name
// with Ratio >= FuzzyThreshold absorbs the mention. ok is false when
// the name is not a valid entity and should be skipped.
func ResolveEntity(name string, existing []string) (canonical string, ok bool) {
	if !IsValidEntity(name) {
		return "", false
	}
	n := NormalizeEntityName(name)

	if alias, found := entityAliases[n]; found {
		return alias, true
	}

	for _, e := range existing {
		en := NormalizeEntityName(e)
		if Ratio(n, en) >= FuzzyThreshold {
			return en, true
		}
	}

	return n, true
}

// Ratio is twice the matched character count over the combined length,
// with matches found by recursing around the longest common block.
// 1.0 means identical, 0.0 means nothing in common.
func Ratio(a, b string) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1.0
	}
	return 2.0 * float64(matchLen(a, b)) / float64(total)
}

func matchLen(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ai, bi, size := longestBlock(a, b)
	if size == 0 {
		return 0
	}
	return size + matchLen(a[:ai], b[:bi]) + matchLen(a[ai+size:], b[bi+size:])
}

// longestBlock finds the earliest longest common substring of a and b.
// Names are normalized lowercase so byte-wise comparison is safe.
func longestBlock(a, b string) (ai, bi, size int) {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] != b[j-1] {
				cur[j] = 0
				continue
			}
			cur[j] = prev[j-1] + 1
			if cur[j] > size {
				size = cur[j]
				ai = i - size
				bi = j - size
			}
		}
		prev, cur = cur, prev
		for j := range cur {
			cur[j] = 0
		}
	}
	return ai, bi, size
}
