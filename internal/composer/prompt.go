// Package composer assembles the grounding prompt for retrieval-augmented
// answering: the bot's identity, the retrieved context chunks, and the prior
// conversation, with an instruction to answer only from the given context.
package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ragline/raglined/internal/ollama"
	"github.com/ragline/raglined/internal/retrieval"
)

const defaultMaxContextChars = 12000

// Composer builds chat message lists for the generator. MaxContextChars
// bounds the total size of injected chunk text; when the retrieved set
// exceeds it, the lowest-scoring chunks are dropped first.
type Composer struct {
	MaxContextChars int
}

// New creates a Composer with the given context budget.
// If maxContextChars <= 0, the default (12000) is used.
func New(maxContextChars int) *Composer {
	if maxContextChars <= 0 {
		maxContextChars = defaultMaxContextChars
	}
	return &Composer{MaxContextChars: maxContextChars}
}

// Compose returns the full message list for a generation call: a system
// message carrying the bot identity and retrieved context, the prior
// conversation unchanged, and the current question last.
func (c *Composer) Compose(botName string, chunks []retrieval.ScoredChunk, history []ollama.Message, question string) []ollama.Message {
	msgs := make([]ollama.Message, 0, len(history)+2)
	msgs = append(msgs, ollama.Message{Role: "system", Content: c.systemPrompt(botName, chunks)})
	msgs = append(msgs, history...)
	msgs = append(msgs, ollama.Message{Role: "user", Content: question})
	return msgs
}

func (c *Composer) systemPrompt(botName string, chunks []retrieval.ScoredChunk) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a helpful assistant named %s. ", botName)
	sb.WriteString("Answer the user's question based ONLY on the following context. ")
	sb.WriteString("If the context does not contain the answer, say you do not know.\n\n")
	sb.WriteString("Context:\n")

	if len(chunks) == 0 {
		sb.WriteString("(no relevant context found)\n")
		return sb.String()
	}

	ordered := make([]retrieval.ScoredChunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})

	used := 0
	for _, chunk := range ordered {
		if used+len(chunk.Text) > c.MaxContextChars && used > 0 {
			break
		}
		sb.WriteString("---\n")
		sb.WriteString(strings.TrimSpace(chunk.Text))
		sb.WriteString("\n")
		used += len(chunk.Text)
	}
	return sb.String()
}
