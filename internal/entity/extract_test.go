package entity

import (
	"reflect"
	"testing"
)

func TestExtractCapitalizedSpans(t *testing.T) {
	got := Extract("Alex moved the Memory Sidecar to Austin last week", 0)

	want := map[string]bool{"Alex": true, "Memory Sidecar": true, "Austin": true}
	for name := range want {
		if !contains(got, name) {
			t.Errorf("Expected %q in %v", name, got)
		}
	}
}

func TestExtractTechTerms(t *testing.T) {
	got := Extract("the wake-budget module calls activity_model on every tick", 0)

	for _, name := range []string{"wake-budget", "activity_model"} {
		if !contains(got, name) {
			t.Errorf("Expected %q in %v", name, got)
		}
	}
}

func TestExtractQuoted(t *testing.T) {
	got := Extract(`deployed "qdrant cluster" behind the gateway`, 0)
	if !contains(got, "qdrant cluster") {
		t.Errorf("Expected quoted span in %v", got)
	}
}

func TestExtractOrderAndCap(t *testing.T) {
	text := "Alpha Beta gamma-delta epsilon_zeta " + `"eta theta"`
	got := Extract(text, 2)
	want := []string{"Alpha Beta", "gamma-delta"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestExtractDedup(t *testing.T) {
	got := Extract("Redis talks to Redis through redis-sentinel", 0)
	count := 0
	for _, n := range got {
		if n == "Redis" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected one Redis entry, got %v", got)
	}
}

func TestExtractEmpty(t *testing.T) {
	if got := Extract("", 10); len(got) != 0 {
		t.Errorf("Expected no entities, got %v", got)
	}
	if got := Extract("nothing matches here", 10); len(got) != 0 {
		t.Errorf("Expected no entities from plain lowercase text, got %v", got)
	}
}

func contains(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}
