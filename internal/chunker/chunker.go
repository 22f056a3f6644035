// Package chunker splits plain text into overlapping fixed-size segments.
package chunker

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Config controls segment sizing. Both values are measured in characters.
type Config struct {
	ChunkSize int
	Overlap   int
}

// Validate checks that chunking can make forward progress.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunkSize must be positive, got %d", c.ChunkSize)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("overlap must be non-negative, got %d", c.Overlap)
	}
	if c.Overlap >= c.ChunkSize {
		return fmt.Errorf("overlap %d must be smaller than chunkSize %d", c.Overlap, c.ChunkSize)
	}
	return nil
}

// Split produces an ordered sequence of segments, each at most ChunkSize
// characters, with consecutive segments sharing roughly Overlap characters.
// Splitting prefers semantic boundaries (paragraph, then sentence-ish line,
// then word, then character). Empty or whitespace-only text yields an empty
// sequence, which the pipeline treats as a valid trivial document.
func Split(text string, cfg Config) ([]string, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(cfg.ChunkSize),
		textsplitter.WithChunkOverlap(cfg.Overlap),
	)
	segments, err := splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("splitting text: %w", err)
	}

	// The splitter can emit empty fragments around separator runs; drop them
	// so chunk indices stay contiguous over real content.
	out := segments[:0]
	for _, s := range segments {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
