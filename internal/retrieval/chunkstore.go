package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Chunk is one bounded-length text segment of a document together with its
// embedding vector and zero-based position within the document.
type Chunk struct {
	ID         string
	BotID      string
	DocumentID string
	Text       string
	Embedding  []float32
	Index      int
	CreatedAt  time.Time
}

// ScoredChunk is a Chunk with a cosine similarity score attached.
type ScoredChunk struct {
	Chunk
	Score float32
}

// insertBatchSize bounds the number of rows per INSERT statement so a large
// document never produces one oversized statement.
const insertBatchSize = 100

// ChunkStore persists (text, vector) chunk rows and serves per-bot top-K
// cosine similarity search. Search is a brute-force scan over the requesting
// bot's rows; an ANN index becomes worthwhile only past ~100K vectors per bot.
type ChunkStore struct {
	db *sql.DB
}

// NewChunkStore wraps an existing *sql.DB. The document_chunks table must
// already exist (created via storage migrations).
func NewChunkStore(db *sql.DB) *ChunkStore {
	return &ChunkStore{db: db}
}

// ReplaceDocumentChunks deletes any chunk rows the document already has and
// inserts the given chunks, all in one transaction. Re-running the persist
// step for the same document therefore converges instead of duplicating rows.
func (s *ChunkStore) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning chunk transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("clearing existing chunks for %s: %w", documentID, err)
	}

	for start := 0; start < len(chunks); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		if err := insertChunkBatch(ctx, tx, chunks[start:end]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertChunkBatch(ctx context.Context, tx *sql.Tx, batch []Chunk) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks (id, bot_id, document_id, chunk_text, embedding, chunk_index, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range batch {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		blob := encodeFloat32s(c.Embedding)
		if _, err := stmt.ExecContext(ctx, c.ID, c.BotID, c.DocumentID, c.Text, blob, c.Index, createdAt.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("inserting chunk %d of document %s: %w", c.Index, c.DocumentID, err)
		}
	}
	return nil
}

// Search returns the requesting bot's topK chunks by descending cosine
// similarity to the query vector. Rows of other bots are excluded in the
// query itself: tenant isolation is a WHERE clause, not a post-filter.
func (s *ChunkStore) Search(ctx context.Context, botID string, vector []float32, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding for the bot's rows.
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM document_chunks WHERE bot_id = ?`, botID)
	if err != nil {
		return nil, fmt.Errorf("querying chunk vectors: %w", err)
	}
	defer rows.Close()

	h := &chunkScoreHeap{}
	heap.Init(h)

	// Reusable decode buffer avoids a per-row allocation during the scan.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning vector row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for chunk %s: %w", id, err)
		}

		score := scoreAgainst(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, chunkScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = chunkScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vector rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full rows only for the winners.
	ids := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(ids) - 1; i >= 0; i-- {
		item := heap.Pop(h).(chunkScore)
		ids[i] = item.ID
		scores[item.ID] = item.Score
	}

	full, err := s.chunksByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredChunk, 0, len(full))
	for _, c := range full {
		results = append(results, ScoredChunk{Chunk: c, Score: scores[c.ID]})
	}
	sortByScore(results)
	return results, nil
}

func (s *ChunkStore) chunksByIDs(ctx context.Context, ids []string) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	placeholders := make([]byte, 0, 2*len(ids))
	for i, id := range ids {
		args[i] = id
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bot_id, document_id, chunk_text, embedding, chunk_index, created_at
		FROM document_chunks WHERE id IN (`+string(placeholders)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching chunks by id: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ChunksByDocument returns a document's chunks ordered by position.
func (s *ChunkStore) ChunksByDocument(ctx context.Context, documentID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bot_id, document_id, chunk_text, embedding, chunk_index, created_at
		FROM document_chunks WHERE document_id = ? ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying document chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountByDocument returns the number of chunk rows for a document.
func (s *ChunkStore) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks WHERE document_id = ?`, documentID).Scan(&count)
	return count, err
}

// DeleteByDocument removes all chunk rows for a document.
func (s *ChunkStore) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = ?`, documentID)
	return err
}

func scanChunk(rows *sql.Rows) (Chunk, error) {
	var c Chunk
	var blob []byte
	var createdAt string
	if err := rows.Scan(&c.ID, &c.BotID, &c.DocumentID, &c.Text, &blob, &c.Index, &createdAt); err != nil {
		return Chunk{}, fmt.Errorf("scanning chunk row: %w", err)
	}
	embedding, err := decodeFloat32s(blob)
	if err != nil {
		return Chunk{}, fmt.Errorf("decoding embedding for chunk %s: %w", c.ID, err)
	}
	c.Embedding = embedding
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Chunk{}, fmt.Errorf("parsing created_at for chunk %s: %w", c.ID, err)
	}
	return c, nil
}

// sortByScore sorts ScoredChunks by Score descending. Insertion sort is fine
// for topK-sized slices.
func sortByScore(results []ScoredChunk) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// chunkScore holds only the ID and score during the scan phase of Search.
type chunkScore struct {
	ID    string
	Score float32
}

// chunkScoreHeap is a min-heap of chunkScore ordered by Score.
type chunkScoreHeap []chunkScore

func (h chunkScoreHeap) Len() int           { return len(h) }
func (h chunkScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h chunkScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *chunkScoreHeap) Push(x any)        { *h = append(*h, x.(chunkScore)) }
func (h *chunkScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
