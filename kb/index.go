package kb

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Index is an in-process vector index over Documents. Search embeds the
// query, scores candidates by cosine similarity, and returns the top k.
type Index struct {
	embedder Embedder

	mu      sync.RWMutex
	entries []entry
}

type entry struct {
	doc    Document
	vector []float32
}

// NewIndex creates an empty index over the given embedder.
func NewIndex(embedder Embedder) *Index {
	return &Index{embedder: embedder}
}

// Add embeds and stores documents.
func (ix *Index) Add(ctx context.Context, docs ...Document) error {
	embedded := make([]entry, 0, len(docs))
	for _, doc := range docs {
		vec, err := ix.embedder.Embed(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("failed to embed document %q: %w", doc.ID, err)
		}
		embedded = append(embedded, entry{doc: doc, vector: vec})
	}

	ix.mu.Lock()
	ix.entries = append(ix.entries, embedded...)
	ix.mu.Unlock()
	return nil
}

// Len returns the number of indexed documents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Search implements Searcher.
func (ix *Index) Search(ctx context.Context, text string, k int, filter map[string]string) ([]Document, error) {
	if k <= 0 {
		return []Document{}, nil
	}

	query, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	type scored struct {
		doc   Document
		score float64
	}
	candidates := make([]scored, 0, len(ix.entries))
	for _, e := range ix.entries {
		if !matches(e.doc.Metadata, filter) {
			continue
		}
		candidates = append(candidates, scored{doc: e.doc, score: cosine(query, e.vector)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]Document, len(candidates))
	for i, c := range candidates {
		out[i] = c.doc
	}
	return out, nil
}

func matches(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
