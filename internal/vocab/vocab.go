// Package vocab holds the controlled relationship vocabulary and the
// entity name resolver. Everything here is pure and deterministic so
// both the sidecar and offline tooling can share it.
package vocab

import "strings"

// Types is the controlled relationship vocabulary. Every relationship
// written to the graph carries one of these types.
var Types = map[string]bool{
	"KNOWS": true, "LIVES_IN": true, "WORKS_AT": true, "OWNS": true,
	"USES": true, "PREFERS": true, "STUDIES": true, "MANAGES": true,
	"MEMBER_OF": true, "INTERESTED_IN": true, "SKILLED_IN": true,
	"CREATED": true, "MAINTAINS": true, "DEPENDS_ON": true,
	"LOCATED_IN": true, "PART_OF": true, "SCHEDULED_FOR": true,
	"DIAGNOSED_WITH": true, "PRESCRIBED": true, "TREATS": true,
	"VEHICLE_IS": true, "INSTALLED_ON": true, "COMPATIBLE_WITH": true,
	"CONNECTED_TO": true, "COMMUNICATES_VIA": true,
	"CONFIGURED_WITH": true, "RUNS_ON": true, "SERVES": true,
	"RELATES_TO": true,
}

// typeAliases maps exact lowercase forms to vocabulary members.
var typeAliases = map[string]string{
	"is":               "RELATES_TO",
	"has":              "OWNS",
	"is_a":             "RELATES_TO",
	"is_part_of":       "PART_OF",
	"part_of":          "PART_OF",
	"works_at":         "WORKS_AT",
	"works_on":         "WORKS_AT",
	"lives_in":         "LIVES_IN",
	"located_in":       "LOCATED_IN",
	"located_at":       "LOCATED_IN",
	"uses":             "USES",
	"used_by":          "USES",
	"used_for":         "USES",
	"runs_on":          "RUNS_ON",
	"runs":             "RUNS_ON",
	"depends_on":       "DEPENDS_ON",
	"requires":         "DEPENDS_ON",
	"knows":            "KNOWS",
	"knows_about":      "KNOWS",
	"knows_of":         "KNOWS",
	"prefers":          "PREFERS",
	"likes":            "PREFERS",
	"interested_in":    "INTERESTED_IN",
	"studies":          "STUDIES",
	"studying":         "STUDIES",
	"created":          "CREATED",
	"created_by":       "CREATED",
	"built":            "CREATED",
	"made":             "CREATED",
	"maintains":        "MAINTAINS",
	"managed_by":       "MANAGES",
	"manages":          "MANAGES",
	"member_of":        "MEMBER_OF",
	"belongs_to":       "MEMBER_OF",
	"skilled_in":       "SKILLED_IN",
	"skilled_at":       "SKILLED_IN",
	"owns":             "OWNS",
	"has_a":            "OWNS",
	"installed_on":     "INSTALLED_ON",
	"installed":        "INSTALLED_ON",
	"compatible_with":  "COMPATIBLE_WITH",
	"connected_to":     "CONNECTED_TO",
	"communicates_via": "COMMUNICATES_VIA",
	"configured_with":  "CONFIGURED_WITH",
	"serves":           "SERVES",
	"diagnosed_with":   "DIAGNOSED_WITH",
	"prescribed":       "PRESCRIBED",
	"treats":           "TREATS",
	"scheduled_for":    "SCHEDULED_FOR",
	"vehicle_is":       "VEHICLE_IS",
	"relates_to":       "RELATES_TO",
}

// keywordRules are substring fallbacks, checked in declaration order.
// Order matters: "part" must not shadow "depend", "run" sits near the
// end so "prune" does not land on RUNS_ON before better matches.
var keywordRules = []struct {
	keyword string
	target  string
}{
	{"know", "KNOWS"},
	{"live", "LIVES_IN"},
	{"work", "WORKS_AT"},
	{"own", "OWNS"},
	{"use", "USES"},
	{"prefer", "PREFERS"},
	{"stud", "STUDIES"},
	{"manag", "MANAGES"},
	{"member", "MEMBER_OF"},
	{"interest", "INTERESTED_IN"},
	{"skill", "SKILLED_IN"},
	{"creat", "CREATED"},
	{"maintain", "MAINTAINS"},
	{"depend", "DEPENDS_ON"},
	{"locat", "LOCATED_IN"},
	{"part", "PART_OF"},
	{"schedul", "SCHEDULED_FOR"},
	{"diagnos", "DIAGNOSED_WITH"},
	{"prescri", "PRESCRIBED"},
	{"treat", "TREATS"},
	{"vehicle", "VEHICLE_IS"},
	{"install", "INSTALLED_ON"},
	{"compat", "COMPATIBLE_WITH"},
	{"connect", "CONNECTED_TO"},
	{"communic", "COMMUNICATES_VIA"},
	{"config", "CONFIGURED_WITH"},
	{"run", "RUNS_ON"},
	{"serv", "SERVES"},
}

// NormalizeType maps an arbitrary relationship label to the controlled
// vocabulary. Unknown labels collapse to RELATES_TO rather than erroring
// so extraction output can never poison the graph with ad-hoc types.
func NormalizeType(relType string) string {
	if Types[relType] {
		return relType
	}

	lower := strings.TrimSpace(strings.ToLower(relType))
	if t, ok := typeAliases[lower]; ok {
		return t
	}

	normalized := strings.NewReplacer(" ", "_", "-", "_").Replace(lower)
	if t, ok := typeAliases[normalized]; ok {
		return t
	}

	for _, rule := range keywordRules {
		if strings.Contains(normalized, rule.keyword) {
			return rule.target
		}
	}

	return "RELATES_TO"
}
