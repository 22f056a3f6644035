// Package answer serves retrieval-augmented responses: given a bot and a
// conversation, it embeds the latest question, retrieves the bot's most
// similar chunks, and streams a generated answer grounded in them.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ragline/raglined/internal/composer"
	"github.com/ragline/raglined/internal/ollama"
	"github.com/ragline/raglined/internal/retrieval"
	"github.com/ragline/raglined/internal/storage"
)

// Failure causes surfaced before streaming begins. The API layer maps them
// to status codes.
var (
	ErrBotNotFound        = errors.New("bot not found")
	ErrCredentialsMissing = errors.New("generation credentials not configured")
	ErrNoQuestion         = errors.New("conversation has no user question")
)

// BotResolver looks up bots and their tenants' credentials.
type BotResolver interface {
	GetBot(id string) (storage.Bot, error)
	GetTenantSettings(tenantID string) (storage.TenantSettings, error)
}

// QueryEmbedder embeds a question with the same model and dimension used at
// ingestion time.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ChunkSearcher returns the bot's topK chunks nearest to the query vector.
type ChunkSearcher interface {
	Search(ctx context.Context, botID string, vector []float32, topK int) ([]retrieval.ScoredChunk, error)
}

// Generator streams a completion for the composed messages. The apiKey is
// the resolved tenant credential.
type Generator interface {
	ChatStream(ctx context.Context, model string, apiKey string, messages []ollama.Message, onDelta func(string) error) error
}

// Service answers questions for bots.
type Service struct {
	bots      BotResolver
	embedder  QueryEmbedder
	chunks    ChunkSearcher
	generator Generator
	model     string
	composer  *composer.Composer
	logger    *slog.Logger
}

// NewService wires an answering Service.
func NewService(bots BotResolver, embedder QueryEmbedder, chunks ChunkSearcher, generator Generator, model string) *Service {
	return &Service{
		bots:      bots,
		embedder:  embedder,
		chunks:    chunks,
		generator: generator,
		model:     model,
		composer:  composer.New(0),
		logger:    slog.Default().With("component", "answer"),
	}
}

// Answer runs the retrieval-then-generation path for one question and
// invokes onDelta with each generated text fragment. All failure paths
// before the first delta return typed errors; once generation has started,
// errors come back from the generator and the caller decides how to end the
// partially written stream.
func (s *Service) Answer(ctx context.Context, botID string, conversation []ollama.Message, onDelta func(string) error) error {
	bot, err := s.bots.GetBot(botID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrBotNotFound
	}
	if err != nil {
		return fmt.Errorf("resolving bot %s: %w", botID, err)
	}

	settings, err := s.bots.GetTenantSettings(bot.TenantID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && settings.GenerationAPIKey == "") {
		return ErrCredentialsMissing
	}
	if err != nil {
		return fmt.Errorf("resolving credentials for tenant %s: %w", bot.TenantID, err)
	}

	question, history, err := splitConversation(conversation)
	if err != nil {
		return err
	}

	vector, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return fmt.Errorf("embedding question: %w", err)
	}

	// Tenant isolation lives inside Search: only this bot's chunks are
	// candidates, whatever other tenants have stored.
	scored, err := s.chunks.Search(ctx, bot.ID, vector, bot.RAGConfig.TopK)
	if err != nil {
		return fmt.Errorf("searching chunks: %w", err)
	}
	s.logger.Debug("retrieved context", "bot_id", bot.ID, "chunks", len(scored))

	messages := s.composer.Compose(bot.Name, scored, history, question)
	return s.generator.ChatStream(ctx, s.model, settings.GenerationAPIKey, messages, onDelta)
}

// AnswerText collects a full answer into a string. Used by the MCP surface,
// where there is no incremental transport.
func (s *Service) AnswerText(ctx context.Context, botID string, conversation []ollama.Message) (string, error) {
	var sb strings.Builder
	if err := s.Answer(ctx, botID, conversation, func(delta string) error {
		sb.WriteString(delta)
		return nil
	}); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// splitConversation validates that the conversation ends with a user message
// and separates that question from the prior history.
func splitConversation(conversation []ollama.Message) (question string, history []ollama.Message, err error) {
	if len(conversation) == 0 {
		return "", nil, ErrNoQuestion
	}
	last := conversation[len(conversation)-1]
	if last.Role != "user" || strings.TrimSpace(last.Content) == "" {
		return "", nil, ErrNoQuestion
	}
	return last.Content, conversation[:len(conversation)-1], nil
}
