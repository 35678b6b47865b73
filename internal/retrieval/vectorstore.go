// Package retrieval provides embedding-backed semantic search over the
// knowledge base, used to surface relevant sources for a draft request.
package retrieval

import "time"

// VectorStore is the interface for vector storage and similarity search.
// The default implementation uses SQLite with brute-force cosine
// similarity, which is plenty for a personal knowledge base.
type VectorStore interface {
	// Insert adds chunk records to the store.
	Insert(records []Record) error

	// Search returns the top-K records most similar to the query vector.
	Search(vector []float32, topK int) ([]ScoredRecord, error)

	// DeleteBySource removes every chunk belonging to a knowledge source.
	DeleteBySource(sourceID string) error

	// Count returns the total number of stored chunks.
	Count() (int, error)
}

// Record is one embedded chunk of a knowledge source.
type Record struct {
	ID        string
	SourceID  string
	TextChunk string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
