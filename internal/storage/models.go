package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateStorageURL is returned when a document registration reuses a
// storage URL another document already claims.
var ErrDuplicateStorageURL = errors.New("storage url already registered")

// Document ingestion lifecycle statuses. Transitions move forward only:
// UPLOADED -> PROCESSING -> PROCESSED | FAILED. A replacement upload is a
// new Document, never a reset of an existing one.
const (
	StatusPending    = "PENDING"
	StatusUploaded   = "UPLOADED"
	StatusProcessing = "PROCESSING"
	StatusProcessed  = "PROCESSED"
	StatusFailed     = "FAILED"
)

// Document is one uploaded file owned by a bot.
type Document struct {
	ID           string
	BotID        string
	FileName     string
	MediaType    string
	FileSize     int64 // 0 until known
	StorageURL   string
	Status       string
	ErrorMessage string
	ChunkCount   int
	ProcessedAt  time.Time // zero until the document reaches PROCESSED
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RAGConfig governs chunking and retrieval for all of a bot's documents.
// ChunkSize and Overlap are measured in characters.
type RAGConfig struct {
	ChunkSize int `json:"chunkSize"`
	Overlap   int `json:"overlap"`
	TopK      int `json:"topK"`
}

// DefaultRAGConfig returns the configuration applied to new bots.
func DefaultRAGConfig() RAGConfig {
	return RAGConfig{ChunkSize: 500, Overlap: 50, TopK: 3}
}

// Validate checks the invariants chunking and retrieval depend on.
// Overlap must be strictly smaller than ChunkSize or chunking never advances.
func (c RAGConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunkSize must be positive, got %d", c.ChunkSize)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("overlap must be non-negative, got %d", c.Overlap)
	}
	if c.Overlap >= c.ChunkSize {
		return fmt.Errorf("overlap %d must be smaller than chunkSize %d", c.Overlap, c.ChunkSize)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("topK must be positive, got %d", c.TopK)
	}
	return nil
}

func (c RAGConfig) marshal() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshalling rag config: %w", err)
	}
	return string(b), nil
}

// Bot is a chatbot over a set of ingested documents, owned by one tenant.
type Bot struct {
	ID          string
	TenantID    string
	Name        string
	Description string
	RAGConfig   RAGConfig
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TenantSettings holds a tenant's generation credentials. Ingestion-time
// embedding uses the deployment-level model and needs no per-tenant key.
type TenantSettings struct {
	TenantID         string
	GenerationAPIKey string
	UpdatedAt        time.Time
}

// Job is one durable unit of background work.
type Job struct {
	ID             string
	Type           string
	PayloadJSON    string
	Status         string // "pending", "running", "completed", "failed"
	Attempts       int
	MaxAttempts    int
	RunAfter       time.Time
	CheckpointJSON string
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
