package entity

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := NewIndex(DefaultIndexConfig(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestShortlistFuzzy(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	names := []string{"qdrant cluster", "memory sidecar", "aletheia", "postgresql"}
	if err := ix.ReplaceAll(ctx, names); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}
	if ix.Count() != len(names) {
		t.Fatalf("Expected %d indexed, got %d", len(names), ix.Count())
	}

	got, err := ix.Shortlist(ctx, "qdrnt", 5)
	if err != nil {
		t.Fatalf("Shortlist: %v", err)
	}
	if !contains(got, "qdrant cluster") {
		t.Errorf("Expected qdrant cluster in shortlist, got %v", got)
	}

	got, err = ix.Shortlist(ctx, "alethia", 5)
	if err != nil {
		t.Fatalf("Shortlist: %v", err)
	}
	if !contains(got, "aletheia") {
		t.Errorf("Expected aletheia in shortlist, got %v", got)
	}
}

func TestShortlistEmptyIndex(t *testing.T) {
	ix := newTestIndex(t)

	got, err := ix.Shortlist(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("Shortlist: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected empty shortlist, got %v", got)
	}
}

func TestReplaceAllSwaps(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	if err := ix.ReplaceAll(ctx, []string{"alpha", "beta"}); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}
	if err := ix.ReplaceAll(ctx, []string{"gamma"}); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}
	if ix.Count() != 1 {
		t.Fatalf("Expected count 1 after swap, got %d", ix.Count())
	}

	got, err := ix.Shortlist(ctx, "alpha", 5)
	if err != nil {
		t.Fatalf("Shortlist: %v", err)
	}
	if contains(got, "alpha") {
		t.Errorf("Old entries should be gone after swap, got %v", got)
	}
}
