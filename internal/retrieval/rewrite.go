package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/quillhq/quill/internal/thread"
)

// rewriteSystemPrompt instructs the model to restate, never answer.
const rewriteSystemPrompt = `You rewrite the user's latest question into a standalone search query.
Use the conversation so far only to resolve pronouns and references.
Do NOT answer the question. Do NOT add information. If the question is
already standalone, return it unchanged. Reply with the query text only.`

// historyWindow caps how many trailing turns feed the rewrite prompt.
const historyWindow = 6

// ModelRewriter rewrites queries with a single non-streaming generation
// call. It satisfies Rewriter.
type ModelRewriter struct {
	g         *genkit.Genkit
	modelName string
}

// NewModelRewriter creates a ModelRewriter bound to a model name such as
// "googleai/gemini-2.0-flash".
func NewModelRewriter(g *genkit.Genkit, modelName string) (*ModelRewriter, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if modelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	return &ModelRewriter{g: g, modelName: modelName}, nil
}

// Rewrite produces a standalone search query for the latest user question.
// A single-turn history skips the model call, the question is already
// standalone by construction.
func (r *ModelRewriter) Rewrite(ctx context.Context, history []thread.Turn, query string) (string, error) {
	if len(trailingWindow(history)) <= 1 {
		return query, nil
	}

	prompt := fmt.Sprintf("Conversation so far:\n%s\n\nLatest question: %s",
		renderHistory(trailingWindow(history)), query)

	resp, err := genkit.Generate(ctx, r.g,
		ai.WithModelName(r.modelName),
		ai.WithSystem(rewriteSystemPrompt),
		ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(prompt))),
	)
	if err != nil {
		return "", fmt.Errorf("rewriting query: %w", err)
	}

	out := strings.TrimSpace(resp.Text())
	if out == "" {
		return query, nil
	}
	return out, nil
}

// trailingWindow returns the last historyWindow turns.
func trailingWindow(history []thread.Turn) []thread.Turn {
	if len(history) > historyWindow {
		return history[len(history)-historyWindow:]
	}
	return history
}

// renderHistory flattens turns into a plain transcript.
func renderHistory(turns []thread.Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
	}
	return sb.String()
}
