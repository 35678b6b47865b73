package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxChunkLen is the target chunk size in characters. Chunks split on
// paragraph boundaries where possible, so actual sizes vary.
const maxChunkLen = 1200

// SourceHit is a matching knowledge source fragment with its similarity score.
type SourceHit struct {
	SourceID string  `json:"sourceId"`
	Text     string  `json:"text"`
	Score    float32 `json:"score"`
}

// Searcher indexes knowledge sources into the vector store and answers
// semantic queries over them.
type Searcher struct {
	embedder *Embedder
	store    VectorStore
}

// NewSearcher creates a Searcher backed by the given Embedder and VectorStore.
func NewSearcher(embedder *Embedder, store VectorStore) *Searcher {
	return &Searcher{embedder: embedder, store: store}
}

// IndexSource chunks and embeds a knowledge source, replacing any chunks
// previously indexed for the same source id.
func (s *Searcher) IndexSource(ctx context.Context, sourceID, content string) (int, error) {
	chunks := chunkText(content, maxChunkLen)
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors, err := s.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embedding source %s: %w", sourceID, err)
	}

	if err := s.store.DeleteBySource(sourceID); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	records := make([]Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = Record{
			ID:        uuid.NewString(),
			SourceID:  sourceID,
			TextChunk: chunk,
			Embedding: vectors[i],
			CreatedAt: now,
		}
	}

	if err := s.store.Insert(records); err != nil {
		return 0, fmt.Errorf("storing chunks for source %s: %w", sourceID, err)
	}
	return len(records), nil
}

// Search embeds the query and returns the top-K most similar source chunks.
func (s *Searcher) Search(ctx context.Context, query string, topK int) ([]SourceHit, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := s.store.Search(vec, topK)
	if err != nil {
		return nil, err
	}

	hits := make([]SourceHit, len(scored))
	for i, sr := range scored {
		hits[i] = SourceHit{SourceID: sr.SourceID, Text: sr.TextChunk, Score: sr.Score}
	}
	return hits, nil
}

// RemoveSource drops all indexed chunks for a knowledge source.
func (s *Searcher) RemoveSource(sourceID string) error {
	return s.store.DeleteBySource(sourceID)
}

// chunkText splits text into chunks of at most maxLen characters,
// preferring paragraph boundaries. Blank-only paragraphs are skipped.
func chunkText(text string, maxLen int) []string {
	paragraphs := strings.Split(text, "\n\n")

	var chunks []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		// Oversized paragraph: hard-split it.
		for len(p) > maxLen {
			flush()
			cut := maxLen
			if idx := strings.LastIndexByte(p[:maxLen], ' '); idx > maxLen/2 {
				cut = idx
			}
			chunks = append(chunks, strings.TrimSpace(p[:cut]))
			p = strings.TrimSpace(p[cut:])
		}

		if current.Len() > 0 && current.Len()+len(p)+2 > maxLen {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	flush()

	return chunks
}
