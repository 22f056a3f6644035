package answer

import (
	"context"

	"github.com/ragline/raglined/internal/ollama"
)

// OllamaGenerator adapts an ollama.Client to the Generator interface,
// binding the resolved tenant credential per call.
type OllamaGenerator struct {
	Client *ollama.Client
}

func (g *OllamaGenerator) ChatStream(ctx context.Context, model string, apiKey string, messages []ollama.Message, onDelta func(string) error) error {
	return g.Client.WithAPIKey(apiKey).ChatStream(ctx, model, messages, onDelta)
}
