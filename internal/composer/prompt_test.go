package composer

import (
	"strings"
	"testing"

	"github.com/ragline/raglined/internal/ollama"
	"github.com/ragline/raglined/internal/retrieval"
)

func scored(text string, score float32) retrieval.ScoredChunk {
	return retrieval.ScoredChunk{Chunk: retrieval.Chunk{Text: text}, Score: score}
}

func TestComposeMessageOrder(t *testing.T) {
	c := New(0)
	history := []ollama.Message{
		{Role: "user", Content: "what are your hours?"},
		{Role: "assistant", Content: "We are open 9-5."},
	}

	msgs := c.Compose("support-bot", []retrieval.ScoredChunk{scored("hours: 9-5", 0.9)}, history, "and on weekends?")

	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Errorf("first message role = %s, want system", msgs[0].Role)
	}
	if msgs[1] != history[0] || msgs[2] != history[1] {
		t.Error("history not preserved in order")
	}
	last := msgs[len(msgs)-1]
	if last.Role != "user" || last.Content != "and on weekends?" {
		t.Errorf("last message = %+v, want the current question", last)
	}
}

func TestComposeSystemPromptContent(t *testing.T) {
	c := New(0)
	msgs := c.Compose("support-bot", []retrieval.ScoredChunk{scored("refunds within 30 days", 0.8)}, nil, "refund policy?")

	sys := msgs[0].Content
	if !strings.Contains(sys, "support-bot") {
		t.Error("system prompt missing bot name")
	}
	if !strings.Contains(sys, "ONLY") {
		t.Error("system prompt missing grounding instruction")
	}
	if !strings.Contains(sys, "refunds within 30 days") {
		t.Error("system prompt missing retrieved context")
	}
}

func TestComposeNoContext(t *testing.T) {
	c := New(0)
	msgs := c.Compose("support-bot", nil, nil, "anything?")

	if !strings.Contains(msgs[0].Content, "no relevant context") {
		t.Errorf("system prompt = %q", msgs[0].Content)
	}
}

func TestComposeOrdersContextByScore(t *testing.T) {
	c := New(0)
	chunks := []retrieval.ScoredChunk{
		scored("low relevance", 0.2),
		scored("high relevance", 0.9),
		scored("medium relevance", 0.5),
	}
	sys := c.Compose("bot", chunks, nil, "q")[0].Content

	hi := strings.Index(sys, "high relevance")
	mid := strings.Index(sys, "medium relevance")
	lo := strings.Index(sys, "low relevance")
	if hi == -1 || mid == -1 || lo == -1 {
		t.Fatalf("missing chunks in prompt: %q", sys)
	}
	if !(hi < mid && mid < lo) {
		t.Errorf("context not ordered by descending score: hi=%d mid=%d lo=%d", hi, mid, lo)
	}
}

func TestComposeTrimsToContextBudget(t *testing.T) {
	c := New(100)
	chunks := []retrieval.ScoredChunk{
		scored(strings.Repeat("a", 80), 0.9),
		scored(strings.Repeat("b", 80), 0.5),
	}
	sys := c.Compose("bot", chunks, nil, "q")[0].Content

	if !strings.Contains(sys, "aaa") {
		t.Error("highest-scoring chunk dropped")
	}
	if strings.Contains(sys, "bbb") {
		t.Error("budget exceeded: low-scoring chunk included")
	}
}

func TestComposeKeepsAtLeastOneChunk(t *testing.T) {
	// A single chunk larger than the budget is still included.
	c := New(10)
	sys := c.Compose("bot", []retrieval.ScoredChunk{scored(strings.Repeat("x", 50), 0.9)}, nil, "q")[0].Content

	if !strings.Contains(sys, "xxx") {
		t.Error("oversized single chunk should still be included")
	}
}

func TestNewDefaultsBudget(t *testing.T) {
	if c := New(0); c.MaxContextChars != defaultMaxContextChars {
		t.Errorf("MaxContextChars = %d", c.MaxContextChars)
	}
	if c := New(500); c.MaxContextChars != 500 {
		t.Errorf("MaxContextChars = %d", c.MaxContextChars)
	}
}
