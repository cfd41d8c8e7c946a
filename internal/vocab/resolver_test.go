package vocab

import "testing"

func TestNormalizeEntityName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  The Aletheia System  ", "aletheia system"},
		{"a   Postgres    Cluster", "postgres cluster"},
		{"An Apple", "apple"},
		{"Kubernetes.", "kubernetes"},
		{"redis!?", "redis"},
		{"Theater", "theater"},
	}
	for _, c := range cases {
		if got := NormalizeEntityName(c.in); got != c.want {
			t.Errorf("NormalizeEntityName(%q): expected %q, got %q", c.in, c.want, got)
		}
	}
}

func TestIsValidEntity(t *testing.T) {
	valid := []string{"qdrant", "Service Mesh", "go", "gpt-4", "route 66"}
	for _, name := range valid {
		if !IsValidEntity(name) {
			t.Errorf("Expected %q to be valid", name)
		}
	}

	invalid := []string{
		"x",       // too short
		"the",     // stopword
		"system",  // stopword
		"12345",   // pure digits
		"session", // stopword
		"",
	}
	for _, name := range invalid {
		if IsValidEntity(name) {
			t.Errorf("Expected %q to be invalid", name)
		}
	}

	long := make([]byte, 101)
	for i := range long {
		long[i] = 'x'
	}
	if IsValidEntity(string(long)) {
		t.Error("Expected 101-char name to be invalid")
	}
}

func TestResolveEntityAlias(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Aletheia_Runtime", "aletheia"},
		{"the aletheia system", "aletheia"},
		{"K8s", "kubernetes"},
		{"Postgres DB", "postgresql"},
		{"golang", "go"},
	}
	for _, c := range cases {
		got, ok := ResolveEntity(c.in, nil)
		if !ok {
			t.Fatalf("ResolveEntity(%q): unexpectedly skipped", c.in)
		}
		if got != c.want {
			t.Errorf("ResolveEntity(%q): expected %q, got %q", c.in, c.want, got)
		}
	}
}

func TestResolveEntityFuzzy(t *testing.T) {
	existing := []string{"qdrant cluster", "memory sidecar"}

	got, ok := ResolveEntity("Qdrant Clusters", existing)
	if !ok || got != "qdrant cluster" {
		t.Errorf("Expected fuzzy match to qdrant cluster, got %q ok=%v", got, ok)
	}

	// Below threshold stays as its own normalized name.
	got, ok = ResolveEntity("grafana dashboard", existing)
	if !ok || got != "grafana dashboard" {
		t.Errorf("Expected new canonical, got %q ok=%v", got, ok)
	}
}

func TestResolveEntitySkipsInvalid(t *testing.T) {
	for _, name := range []string{"the", "42", "x", "output"} {
		if _, ok := ResolveEntity(name, nil); ok {
			t.Errorf("Expected %q to be skipped", name)
		}
	}
}

func TestResolveEntityIdempotent(t *testing.T) {
	inputs := []string{"The Aletheia System", "K8s", "Qdrant DB", "Memory Sidecar", "gpt-4"}
	for _, in := range inputs {
		first, ok := ResolveEntity(in, nil)
		if !ok {
			continue
		}
		second, ok := ResolveEntity(first, nil)
		if !ok {
			t.Fatalf("Resolved form %q became invalid", first)
		}
		if second != first {
			t.Errorf("Resolution not idempotent: %q -> %q -> %q", in, first, second)
		}
	}
}

func TestRatio(t *testing.T) {
	if got := Ratio("abc", "abc"); got != 1.0 {
		t.Errorf("Expected identical ratio 1.0, got %f", got)
	}
	if got := Ratio("abc", "xyz"); got != 0.0 {
		t.Errorf("Expected disjoint ratio 0.0, got %f", got)
	}
	if got := Ratio("", ""); got != 1.0 {
		t.Errorf("Expected empty ratio 1.0, got %f", got)
	}

	// 2*M/T: "abcd" vs "abcx" shares "abc" -> 2*3/8.
	if got := Ratio("abcd", "abcx"); got != 0.75 {
		t.Errorf("Expected 0.75, got %f", got)
	}

	// Matches recurse around the longest block.
	got := Ratio("ab xy", "ab zy")
	want := 2.0 * 4.0 / 10.0
	if got != want {
		t.Errorf("Expected %f, got %f", want, got)
	}
}
