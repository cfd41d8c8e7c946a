package vocab

import "testing"

func TestNormalizeTypeVocabMember(t *testing.T) {
	// Members pass through untouched.
	for _, typ := range []string{"KNOWS", "RUNS_ON", "RELATES_TO", "DIAGNOSED_WITH"} {
		if got := NormalizeType(typ); got != typ {
			t.Errorf("Expected %s to pass through, got %s", typ, got)
		}
	}
}

func TestNormalizeTypeAliases(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"is", "RELATES_TO"},
		{"has", "OWNS"},
		{"works at", "WORKS_AT"},
		{"works-on", "WORKS_AT"},
		{"Lives In", "LIVES_IN"},
		{"requires", "DEPENDS_ON"},
		{"likes", "PREFERS"},
		{"belongs_to", "MEMBER_OF"},
		{"built", "CREATED"},
		{"managed_by", "MANAGES"},
	}
	for _, c := range cases {
		if got := NormalizeType(c.in); got != c.want {
			t.Errorf("NormalizeType(%q): expected %s, got %s", c.in, c.want, got)
		}
	}
}

func TestNormalizeTypeKeywordFallback(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"knowledge_of", "KNOWS"},
		{"lives_near", "LIVES_IN"},
		{"worked_with", "WORKS_AT"},
		{"installed_alongside", "INSTALLED_ON"},
		{"communicates_through", "COMMUNICATES_VIA"},
		{"reconfigured_for", "CONFIGURED_WITH"},
	}
	for _, c := range cases {
		if got := NormalizeType(c.in); got != c.want {
			t.Errorf("NormalizeType(%q): expected %s, got %s", c.in, c.want, got)
		}
	}
}

func TestNormalizeTypeUnknownCollapses(t *testing.T) {
	for _, in := range []string{"zzz", "foo_bar", "", "12345"} {
		if got := NormalizeType(in); got != "RELATES_TO" {
			t.Errorf("NormalizeType(%q): expected RELATES_TO, got %s", in, got)
		}
	}
}

func TestNormalizeTypeAlwaysInVocab(t *testing.T) {
	inputs := []string{
		"KNOWS", "is", "works at", "xyzzy", "depends-on", "unrelated words",
		"STUDYING HARD", "part-of-the-whole", "",
	}
	for _, in := range inputs {
		got := NormalizeType(in)
		if !Types[got] {
			t.Errorf("NormalizeType(%q) produced %s, not in vocabulary", in, got)
		}
	}
}

func TestKeywordOrderStable(t *testing.T) {
	// "part" appears after "depend": a label containing both keywords
	// must land on the earlier rule.
	if got := NormalizeType("dependent_part"); got != "DEPENDS_ON" {
		t.Errorf("Expected DEPENDS_ON from ordered scan, got %s", got)
	}
}
