package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/ragline/raglined/internal/storage"
)

func openTestChunkStore(t *testing.T) *ChunkStore {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	for _, b := range []storage.Bot{
		{ID: "bot-1", TenantID: "tenant-1", Name: "a", RAGConfig: storage.DefaultRAGConfig()},
		{ID: "bot-2", TenantID: "tenant-2", Name: "b", RAGConfig: storage.DefaultRAGConfig()},
	} {
		if err := s.CreateBot(b); err != nil {
			t.Fatalf("CreateBot(%s): %v", b.ID, err)
		}
	}
	for _, d := range []string{"doc-1", "doc-2"} {
		botID := "bot-1"
		if d == "doc-2" {
			botID = "bot-2"
		}
		err := s.CreateDocument(storage.Document{
			ID:         d,
			BotID:      botID,
			FileName:   d + ".txt",
			MediaType:  "text/plain",
			StorageURL: "https://blobs.example.com/" + d,
		})
		if err != nil {
			t.Fatalf("CreateDocument(%s): %v", d, err)
		}
	}

	return NewChunkStore(s.DB())
}

func testChunk(botID, documentID string, index int, embedding []float32) Chunk {
	return Chunk{
		ID:         fmt.Sprintf("%s-chunk-%d", documentID, index),
		BotID:      botID,
		DocumentID: documentID,
		Text:       fmt.Sprintf("chunk %d of %s", index, documentID),
		Embedding:  embedding,
		Index:      index,
	}
}

func TestReplaceDocumentChunksIdempotent(t *testing.T) {
	cs := openTestChunkStore(t)
	ctx := context.Background()

	chunks := []Chunk{
		testChunk("bot-1", "doc-1", 0, []float32{1, 0}),
		testChunk("bot-1", "doc-1", 1, []float32{0, 1}),
	}
	if err := cs.ReplaceDocumentChunks(ctx, "doc-1", chunks); err != nil {
		t.Fatalf("first ReplaceDocumentChunks: %v", err)
	}
	if err := cs.ReplaceDocumentChunks(ctx, "doc-1", chunks); err != nil {
		t.Fatalf("second ReplaceDocumentChunks: %v", err)
	}

	count, err := cs.CountByDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("CountByDocument: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 chunks after re-run, got %d", count)
	}
}

func TestReplaceDocumentChunksReplacesOldSet(t *testing.T) {
	cs := openTestChunkStore(t)
	ctx := context.Background()

	first := []Chunk{
		testChunk("bot-1", "doc-1", 0, []float32{1, 0}),
		testChunk("bot-1", "doc-1", 1, []float32{0, 1}),
		testChunk("bot-1", "doc-1", 2, []float32{1, 1}),
	}
	if err := cs.ReplaceDocumentChunks(ctx, "doc-1", first); err != nil {
		t.Fatalf("ReplaceDocumentChunks: %v", err)
	}

	second := []Chunk{testChunk("bot-1", "doc-1", 0, []float32{0.5, 0.5})}
	if err := cs.ReplaceDocumentChunks(ctx, "doc-1", second); err != nil {
		t.Fatalf("ReplaceDocumentChunks (replacement): %v", err)
	}

	got, err := cs.ChunksByDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("ChunksByDocument: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 chunk after replacement, got %d", len(got))
	}
	if got[0].Embedding[0] != 0.5 {
		t.Errorf("old chunk set survived the replacement: %+v", got[0])
	}
}

func TestReplaceDocumentChunksLargeBatch(t *testing.T) {
	cs := openTestChunkStore(t)
	ctx := context.Background()

	// More than one insert batch.
	var chunks []Chunk
	for i := 0; i < insertBatchSize*2+17; i++ {
		chunks = append(chunks, testChunk("bot-1", "doc-1", i, []float32{float32(i), 1}))
	}
	if err := cs.ReplaceDocumentChunks(ctx, "doc-1", chunks); err != nil {
		t.Fatalf("ReplaceDocumentChunks: %v", err)
	}

	count, err := cs.CountByDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("CountByDocument: %v", err)
	}
	if count != len(chunks) {
		t.Errorf("count = %d, want %d", count, len(chunks))
	}
}

func TestSearchOrdersByScoreDescending(t *testing.T) {
	cs := openTestChunkStore(t)
	ctx := context.Background()

	chunks := []Chunk{
		testChunk("bot-1", "doc-1", 0, []float32{1, 0}),     // aligned with query
		testChunk("bot-1", "doc-1", 1, []float32{0.7, 0.7}), // diagonal
		testChunk("bot-1", "doc-1", 2, []float32{0, 1}),     // orthogonal
		testChunk("bot-1", "doc-1", 3, []float32{-1, 0}),    // opposite
	}
	if err := cs.ReplaceDocumentChunks(ctx, "doc-1", chunks); err != nil {
		t.Fatalf("ReplaceDocumentChunks: %v", err)
	}

	results, err := cs.Search(ctx, "bot-1", []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted by descending score: %v then %v", results[i-1].Score, results[i].Score)
		}
	}
	if results[0].Index != 0 {
		t.Errorf("best match should be the aligned chunk, got index %d", results[0].Index)
	}
}

func TestSearchTenantIsolation(t *testing.T) {
	cs := openTestChunkStore(t)
	ctx := context.Background()

	mine := []Chunk{testChunk("bot-1", "doc-1", 0, []float32{1, 0})}
	theirs := []Chunk{testChunk("bot-2", "doc-2", 0, []float32{1, 0})}
	if err := cs.ReplaceDocumentChunks(ctx, "doc-1", mine); err != nil {
		t.Fatalf("ReplaceDocumentChunks(doc-1): %v", err)
	}
	if err := cs.ReplaceDocumentChunks(ctx, "doc-2", theirs); err != nil {
		t.Fatalf("ReplaceDocumentChunks(doc-2): %v", err)
	}

	results, err := cs.Search(ctx, "bot-1", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range results {
		if r.BotID != "bot-1" {
			t.Errorf("search leaked a chunk of bot %s", r.BotID)
		}
	}
	if len(results) != 1 {
		t.Errorf("expected exactly the bot's own chunk, got %d results", len(results))
	}
}

func TestSearchFewerRowsThanTopK(t *testing.T) {
	cs := openTestChunkStore(t)
	ctx := context.Background()

	if err := cs.ReplaceDocumentChunks(ctx, "doc-1", []Chunk{
		testChunk("bot-1", "doc-1", 0, []float32{1, 0}),
	}); err != nil {
		t.Fatalf("ReplaceDocumentChunks: %v", err)
	}

	results, err := cs.Search(ctx, "bot-1", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	cs := openTestChunkStore(t)

	results, err := cs.Search(context.Background(), "bot-1", []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestSearchRejectsNonPositiveTopK(t *testing.T) {
	cs := openTestChunkStore(t)

	if _, err := cs.Search(context.Background(), "bot-1", []float32{1, 0}, 0); err == nil {
		t.Error("expected error for topK = 0")
	}
}

func TestDeleteByDocument(t *testing.T) {
	cs := openTestChunkStore(t)
	ctx := context.Background()

	if err := cs.ReplaceDocumentChunks(ctx, "doc-1", []Chunk{
		testChunk("bot-1", "doc-1", 0, []float32{1, 0}),
		testChunk("bot-1", "doc-1", 1, []float32{0, 1}),
	}); err != nil {
		t.Fatalf("ReplaceDocumentChunks: %v", err)
	}
	if err := cs.DeleteByDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("DeleteByDocument: %v", err)
	}
	count, err := cs.CountByDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("CountByDocument: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 chunks after delete, got %d", count)
	}
}
