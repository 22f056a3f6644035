package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ragline/raglined/internal/answer"
	"github.com/ragline/raglined/internal/ollama"
	"github.com/ragline/raglined/internal/retrieval"
)

// MCPSearcher abstracts per-bot semantic search for the MCP layer.
type MCPSearcher interface {
	Search(ctx context.Context, botID string, vector []float32, topK int) ([]retrieval.ScoredChunk, error)
}

// MCPEmbedder turns a query into a vector for search.
type MCPEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Answerer *answer.Service
	Searcher MCPSearcher
	Embedder MCPEmbedder
}

// NewMCPServer creates an MCP server exposing the answering and search
// surfaces to local agent hosts.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"raglined",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("raglined serves grounded answers from a bot's ingested documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a bot a question and get an answer grounded in its ingested documents."),
			mcp.WithString("bot_id", mcp.Description("Bot to ask"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("search_chunks",
			mcp.WithDescription("Semantically search a bot's document chunks and return the best matches with scores."),
			mcp.WithString("bot_id", mcp.Description("Bot whose documents to search"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchChunks(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		botID, err := req.RequireString("bot_id")
		if err != nil {
			return mcpError("bot_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		text, err := deps.Answerer.AnswerText(ctx, botID, []ollama.Message{
			{Role: "user", Content: question},
		})
		if err != nil {
			return mcpError(fmt.Sprintf("answering failed: %v", err)), nil
		}
		return mcpText(text), nil
	}
}

func mcpSearchChunks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		botID, err := req.RequireString("bot_id")
		if err != nil {
			return mcpError("bot_id is required"), nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		vector, err := deps.Embedder.EmbedQuery(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("embedding query failed: %v", err)), nil
		}

		chunks, err := deps.Searcher.Search(ctx, botID, vector, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		type chunkResult struct {
			ID         string  `json:"id"`
			DocumentID string  `json:"document_id"`
			Index      int     `json:"index"`
			Text       string  `json:"text"`
			Score      float32 `json:"score"`
		}
		results := make([]chunkResult, len(chunks))
		for i, c := range chunks {
			results[i] = chunkResult{
				ID:         c.ID,
				DocumentID: c.DocumentID,
				Index:      c.Index,
				Text:       c.Text,
				Score:      c.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
