package retrieval

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ErrDimensionMismatch is returned when the embedding service produces
// vectors of a different dimension than the deployment is configured for.
// Retrying cannot fix a model/configuration mismatch.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// EmbedClient is the transport that turns texts into vectors. The response
// must contain one vector per input, in input order.
type EmbedClient interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// requestBatchSize caps the number of texts per upstream embed call so one
// large document never produces a single oversized request.
const requestBatchSize = 64

// Embedder wraps an EmbedClient with the deployment's embedding model and
// expected output dimension. Both ingestion and query embedding go through
// it, which is what keeps the two sides of similarity search comparable.
type Embedder struct {
	client    EmbedClient
	model     string
	dimension int
}

// NewEmbedder creates an Embedder for the given model and vector dimension.
func NewEmbedder(client EmbedClient, model string, dimension int) *Embedder {
	return &Embedder{client: client, model: model, dimension: dimension}
}

// EmbedQuery returns the embedding vector for a single query text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.client.Embed(ctx, e.model, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors for 1 input", len(vecs))
	}
	if err := e.checkDimension(vecs[0]); err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedChunks returns one vector per input text, in input order. Inputs are
// split into bounded batches embedded concurrently; concurrency is capped to
// avoid overwhelming the embedding service.
func (e *Embedder) EmbedChunks(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for start := 0; start < len(texts); start += requestBatchSize {
		end := start + requestBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		start, end := start, end
		g.Go(func() error {
			vecs, err := e.client.Embed(gCtx, e.model, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding chunks %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedding chunks %d-%d: got %d vectors for %d inputs", start, end-1, len(vecs), end-start)
			}
			for i, v := range vecs {
				if err := e.checkDimension(v); err != nil {
					return fmt.Errorf("chunk %d: %w", start+i, err)
				}
				results[start+i] = v
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Dimension returns the configured vector dimension.
func (e *Embedder) Dimension() int {
	return e.dimension
}

func (e *Embedder) checkDimension(v []float32) error {
	if e.dimension > 0 && len(v) != e.dimension {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(v), e.dimension)
	}
	return nil
}
