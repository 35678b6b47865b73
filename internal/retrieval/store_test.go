package retrieval

import (
	"testing"

	"github.com/kalambet/quill/internal/storage"
)

func openTestVectorStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewSQLiteStore(s.DB())
}

func TestInsertAndCount(t *testing.T) {
	vs := openTestVectorStore(t)

	records := []Record{
		{ID: "r1", SourceID: "s1", TextChunk: "alpha", Embedding: []float32{1, 0, 0}},
		{ID: "r2", SourceID: "s1", TextChunk: "beta", Embedding: []float32{0, 1, 0}},
	}
	if err := vs.Insert(records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	n, err := vs.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

// TestSearchRanksByCosineSimilarity inserts orthogonal and aligned vectors
// and verifies the aligned one wins.
func TestSearchRanksByCosineSimilarity(t *testing.T) {
	vs := openTestVectorStore(t)

	records := []Record{
		{ID: "aligned", SourceID: "s1", TextChunk: "aligned", Embedding: []float32{1, 0, 0}},
		{ID: "diagonal", SourceID: "s1", TextChunk: "diagonal", Embedding: []float32{1, 1, 0}},
		{ID: "orthogonal", SourceID: "s1", TextChunk: "orthogonal", Embedding: []float32{0, 0, 1}},
	}
	if err := vs.Insert(records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := vs.Search([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "aligned" {
		t.Errorf("top result = %q, want aligned", results[0].ID)
	}
	if results[1].ID != "diagonal" {
		t.Errorf("second result = %q, want diagonal", results[1].ID)
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending: %v, %v", results[0].Score, results[1].Score)
	}
}

func TestSearchZeroQueryVector(t *testing.T) {
	vs := openTestVectorStore(t)

	if err := vs.Insert([]Record{{ID: "r1", SourceID: "s1", TextChunk: "x", Embedding: []float32{1, 0}}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := vs.Search([]float32{0, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results != nil {
		t.Errorf("got %v, want nil for zero query", results)
	}
}

func TestDeleteBySource(t *testing.T) {
	vs := openTestVectorStore(t)

	records := []Record{
		{ID: "r1", SourceID: "s1", TextChunk: "a", Embedding: []float32{1, 0}},
		{ID: "r2", SourceID: "s1", TextChunk: "b", Embedding: []float32{0, 1}},
		{ID: "r3", SourceID: "s2", TextChunk: "c", Embedding: []float32{1, 1}},
	}
	if err := vs.Insert(records); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := vs.DeleteBySource("s1"); err != nil {
		t.Fatalf("DeleteBySource: %v", err)
	}

	n, err := vs.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count after delete = %d, want 1", n)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3.75, 0}
	out, err := decodeFloat32s(encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decodeFloat32s: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length mismatch: %d vs %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("element %d: %v != %v", i, in[i], out[i])
		}
	}
}

func TestDecodeCorruptBlob(t *testing.T) {
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for blob length not multiple of 4")
	}
}
