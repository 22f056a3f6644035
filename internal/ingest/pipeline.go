// Package ingest turns an uploaded document into searchable chunks: it
// downloads the stored bytes, extracts plain text, splits it into
// overlapping segments, embeds them, and persists the (text, vector) rows,
// advancing the document's lifecycle status as it goes. Runs are driven by
// the durable job queue and are safe to redeliver at any step boundary.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ragline/raglined/internal/chunker"
	"github.com/ragline/raglined/internal/extract"
	"github.com/ragline/raglined/internal/retrieval"
	"github.com/ragline/raglined/internal/storage"
)

// DocumentStore is the slice of storage the pipeline reads and mutates.
type DocumentStore interface {
	GetDocument(id string) (storage.Document, error)
	GetBot(id string) (storage.Bot, error)
	MarkDocumentProcessing(id string) error
	MarkDocumentProcessed(id string, chunkCount int, processedAt time.Time) error
	MarkDocumentFailed(id, message string) error
}

// ChunkWriter persists a document's chunk set. Implementations must converge
// when the same set is written twice (the retried-step property).
type ChunkWriter interface {
	ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []retrieval.Chunk) error
}

// ChunkEmbedder turns ordered chunk texts into same-order vectors.
type ChunkEmbedder interface {
	EmbedChunks(ctx context.Context, texts []string) ([][]float32, error)
}

// BlobFetcher retrieves a document's raw bytes from the blob store.
type BlobFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Notifier receives best-effort completion events.
type Notifier interface {
	DocumentCompleted(documentID, status string)
}

// Pipeline executes the ingestion steps for one document.
type Pipeline struct {
	docs     DocumentStore
	chunks   ChunkWriter
	embedder ChunkEmbedder
	fetcher  BlobFetcher
	notifier Notifier
	logger   *slog.Logger
}

// NewPipeline creates a Pipeline with the given collaborators.
func NewPipeline(docs DocumentStore, chunks ChunkWriter, embedder ChunkEmbedder, fetcher BlobFetcher, notifier Notifier) *Pipeline {
	return &Pipeline{
		docs:     docs,
		chunks:   chunks,
		embedder: embedder,
		fetcher:  fetcher,
		notifier: notifier,
		logger:   slog.Default().With("component", "ingest"),
	}
}

// docInfo is the resolved inputs for a run, memoized as the first step so a
// redelivered run sees the same document and config it started with.
type docInfo struct {
	BotID      string            `json:"botId"`
	MediaType  string            `json:"mediaType"`
	StorageURL string            `json:"storageUrl"`
	Config     storage.RAGConfig `json:"config"`
}

// Process runs the pipeline for one document, resuming from cp. Terminal
// failures come back wrapped so the worker can distinguish them from
// transient ones. Process itself does not mutate the document on failure;
// the job-level failure handler owns that, and it must run exactly once per
// terminal failure.
func (p *Pipeline) Process(ctx context.Context, documentID string, cp *Checkpoint) error {
	info, err := step(cp, "load-document", func() (docInfo, error) {
		doc, err := p.docs.GetDocument(documentID)
		if errors.Is(err, storage.ErrNotFound) {
			return docInfo{}, Terminal(fmt.Errorf("document %s not found", documentID))
		}
		if err != nil {
			return docInfo{}, fmt.Errorf("loading document %s: %w", documentID, err)
		}

		bot, err := p.docs.GetBot(doc.BotID)
		if errors.Is(err, storage.ErrNotFound) {
			return docInfo{}, Terminal(fmt.Errorf("bot %s for document %s not found", doc.BotID, documentID))
		}
		if err != nil {
			return docInfo{}, fmt.Errorf("loading bot %s: %w", doc.BotID, err)
		}
		if err := bot.RAGConfig.Validate(); err != nil {
			return docInfo{}, Terminal(fmt.Errorf("bot %s has invalid rag config: %w", bot.ID, err))
		}

		return docInfo{
			BotID:      doc.BotID,
			MediaType:  doc.MediaType,
			StorageURL: doc.StorageURL,
			Config:     bot.RAGConfig,
		}, nil
	})
	if err != nil {
		return err
	}

	if err := stepDone(cp, "mark-processing", func() error {
		if err := p.docs.MarkDocumentProcessing(documentID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return Terminal(err)
			}
			return err
		}
		return nil
	}); err != nil {
		return err
	}

	data, err := step(cp, "fetch-content", func() ([]byte, error) {
		return p.fetcher.Fetch(ctx, info.StorageURL)
	})
	if err != nil {
		return err
	}

	text, err := step(cp, "extract-text", func() (string, error) {
		t, err := extract.Text(data, info.MediaType)
		if err != nil {
			// Unsupported and unparseable content does not improve with
			// retries.
			return "", Terminal(err)
		}
		return t, nil
	})
	if err != nil {
		return err
	}

	texts, err := step(cp, "chunk-text", func() ([]string, error) {
		segs, err := chunker.Split(text, chunker.Config{
			ChunkSize: info.Config.ChunkSize,
			Overlap:   info.Config.Overlap,
		})
		if err != nil {
			return nil, Terminal(fmt.Errorf("chunking document %s: %w", documentID, err))
		}
		return segs, nil
	})
	if err != nil {
		return err
	}

	vectors, err := step(cp, "embed-chunks", func() ([][]float32, error) {
		if len(texts) == 0 {
			return nil, nil
		}
		vecs, err := p.embedder.EmbedChunks(ctx, texts)
		if err != nil {
			if errors.Is(err, retrieval.ErrDimensionMismatch) {
				return nil, Terminal(err)
			}
			return nil, err
		}
		return vecs, nil
	})
	if err != nil {
		return err
	}
	if len(vectors) != len(texts) {
		return Terminal(fmt.Errorf("embedding returned %d vectors for %d chunks", len(vectors), len(texts)))
	}

	if err := stepDone(cp, "persist-chunks", func() error {
		rows := make([]retrieval.Chunk, len(texts))
		for i := range texts {
			rows[i] = retrieval.Chunk{
				ID:         uuid.New().String(),
				BotID:      info.BotID,
				DocumentID: documentID,
				Text:       texts[i],
				Embedding:  vectors[i],
				Index:      i,
			}
		}
		return p.chunks.ReplaceDocumentChunks(ctx, documentID, rows)
	}); err != nil {
		return err
	}

	if err := stepDone(cp, "mark-processed", func() error {
		// An empty document is valid: it completes with zero chunks.
		return p.docs.MarkDocumentProcessed(documentID, len(texts), time.Now().UTC())
	}); err != nil {
		return err
	}

	p.logger.Info("document processed", "document_id", documentID, "chunks", len(texts))
	if p.notifier != nil {
		p.notifier.DocumentCompleted(documentID, storage.StatusProcessed)
	}
	return nil
}
