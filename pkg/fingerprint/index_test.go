package fingerprint

import (
	"context"
	"testing"
)

// stubEmbedder maps text deterministically onto a small nonzero vector so
// index tests run without any model.
type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, 8)
	v[0] = 1
	for i, r := range text {
		v[i%8] += float32(r%31) / 31
	}
	return v, nil
}

func (stubEmbedder) Dimension() int { return 8 }

func TestIndex_AddAndQuery(t *testing.T) {
	idx, err := NewIndex(stubEmbedder{})
	if err != nil {
		t.Fatalf("NewIndex failed: %v", err)
	}
	ctx := context.Background()

	if err := idx.Add(ctx, "sess-1", "verdict=scam sentiment=7 persona=rajesh", nil); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := idx.Add(ctx, "sess-2", "completely different benign chatter about weather", nil); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	neighbors, err := idx.Query(ctx, "verdict=scam sentiment=7 persona=rajesh", 1)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(neighbors) != 1 {
		t.Fatalf("neighbors = %d, want 1", len(neighbors))
	}
	if neighbors[0].SessionKey != "sess-1" {
		t.Errorf("nearest = %q, want sess-1", neighbors[0].SessionKey)
	}
	if neighbors[0].Distance > 0.01 {
		t.Errorf("identical summary distance = %v, want ~0", neighbors[0].Distance)
	}
}

func TestIndex_EmptyQuery(t *testing.T) {
	idx, err := NewIndex(stubEmbedder{})
	if err != nil {
		t.Fatalf("NewIndex failed: %v", err)
	}

	neighbors, err := idx.Query(context.Background(), "anything", 3)
	if err != nil {
		t.Fatalf("Query on empty index failed: %v", err)
	}
	if neighbors != nil {
		t.Errorf("empty index should return no neighbors, got %v", neighbors)
	}
}

func TestIndex_TopKClamped(t *testing.T) {
	idx, err := NewIndex(stubEmbedder{})
	if err != nil {
		t.Fatalf("NewIndex failed: %v", err)
	}
	ctx := context.Background()

	idx.Add(ctx, "sess-1", "first fingerprint", nil)
	idx.Add(ctx, "sess-2", "second fingerprint", nil)

	neighbors, err := idx.Query(ctx, "first fingerprint", 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(neighbors) != 2 {
		t.Errorf("neighbors = %d, want clamped to collection size", len(neighbors))
	}
}

func TestIndex_MultipleRecordsPerSession(t *testing.T) {
	idx, err := NewIndex(stubEmbedder{})
	if err != nil {
		t.Fatalf("NewIndex failed: %v", err)
	}
	ctx := context.Background()

	// Same session, two turns; both records must land (no upsert).
	if err := idx.Add(ctx, "sess-1", "turn one summary", nil); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := idx.Add(ctx, "sess-1", "turn two summary", nil); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	neighbors, err := idx.Query(ctx, "turn one summary", 2)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(neighbors) != 2 {
		t.Errorf("neighbors = %d, want both records", len(neighbors))
	}
}

func TestNoOpEmbedder(t *testing.T) {
	e := NewNoOpEmbedder(0)
	vec, err := e.Embed(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != e.Dimension() {
		t.Errorf("len = %d, want %d", len(vec), e.Dimension())
	}
	for _, v := range vec {
		if v != 0 {
			t.Fatal("noop embedder must return zero vectors")
		}
	}
}
