// Package kb provides a small similarity-search knowledge base used to
// ground SQL generation: few-shot example queries and schema documentation
// retrieved by embedding distance.
package kb

import "context"

// Document is one retrievable knowledge base entry.
type Document struct {
	ID       string            `yaml:"id" json:"id"`
	Content  string            `yaml:"content" json:"content"`
	Metadata map[string]string `yaml:"metadata" json:"metadata"`
}

// Metadata keys and values used by the assistant.
const (
	MetaType    = "type"
	TypeExample = "example"
	TypeSchema  = "schema"
)

// Searcher finds the k documents most similar to a query text. A non-empty
// filter restricts candidates to documents whose metadata contains every
// filter entry.
type Searcher interface {
	Search(ctx context.Context, text string, k int, filter map[string]string) ([]Document, error)
}

// Embedder converts text to a vector. Implementations must return vectors
// of a consistent dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
