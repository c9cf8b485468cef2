package fingerprint

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

// SimilarityIndex is the behavioral fingerprint index contract: append-only
// writes, nearest-neighbor reads returning distances.
type SimilarityIndex interface {
	Add(ctx context.Context, sessionKey, text string, metadata map[string]string) error
	Query(ctx context.Context, text string, topK int) ([]Neighbor, error)
}

// Neighbor is one nearest-neighbor result.
type Neighbor struct {
	SessionKey string
	Distance   float64 // 1 - cosine similarity
}

// Index implements SimilarityIndex over an in-process chromem-go collection.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	mu         sync.RWMutex
}

// NewIndex creates the fingerprint index backed by the given embedder.
func NewIndex(embedder EmbeddingProvider) (*Index, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is nil")
	}

	db := chromem.NewDB()
	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}

	collection, err := db.CreateCollection("scammer_fingerprints", nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	return &Index{db: db, collection: collection}, nil
}

// Add inserts a new fingerprint record. Records are write-after-read, never
// upserted: each turn of a session leaves its own row so future sessions can
// match against the session's whole behavioral history.
func (ix *Index) Add(ctx context.Context, sessionKey, text string, metadata map[string]string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	meta := map[string]string{"session": sessionKey}
	for k, v := range metadata {
		meta[k] = v
	}

	doc := chromem.Document{
		ID:       sessionKey + ":" + uuid.NewString(),
		Content:  text,
		Metadata: meta,
	}
	if err := ix.collection.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("failed to add fingerprint: %w", err)
	}
	return nil
}

// Query returns up to topK nearest fingerprints with their distances.
// An empty index returns no neighbors, not an error.
func (ix *Index) Query(ctx context.Context, text string, topK int) ([]Neighbor, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	count := ix.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	results, err := ix.collection.Query(ctx, text, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	neighbors := make([]Neighbor, 0, len(results))
	for _, r := range results {
		neighbors = append(neighbors, Neighbor{
			SessionKey: r.Metadata["session"],
			Distance:   1 - float64(r.Similarity),
		})
	}
	return neighbors, nil
}
