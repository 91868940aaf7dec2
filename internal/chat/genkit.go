package chat

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/quillhq/quill/internal/thread"
)

// GenkitGenerator runs streaming generation through a Genkit model. It
// satisfies Generator.
type GenkitGenerator struct {
	g         *genkit.Genkit
	modelName string
}

// NewGenkitGenerator creates a GenkitGenerator bound to a model name such
// as "googleai/gemini-2.0-flash".
func NewGenkitGenerator(g *genkit.Genkit, modelName string) (*GenkitGenerator, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if modelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	return &GenkitGenerator{g: g, modelName: modelName}, nil
}

// Generate streams a completion over [system, ...history]. Text fragments
// reach onChunk in production order; an onChunk error aborts generation.
func (gg *GenkitGenerator) Generate(ctx context.Context, system string, history []thread.Turn, onChunk func(string) error) (Result, error) {
	msgs := toMessages(history)
	if len(msgs) == 0 {
		return Result{}, fmt.Errorf("history contains no usable messages")
	}

	resp, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.modelName),
		ai.WithSystem(system),
		ai.WithMessages(msgs...),
		ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			for _, part := range chunk.Content {
				if part.Text == "" {
					continue
				}
				if err := onChunk(part.Text); err != nil {
					return err
				}
			}
			return nil
		}),
	)
	if err != nil {
		return Result{}, fmt.Errorf("generating: %w", err)
	}

	result := Result{Text: resp.Text()}
	if resp.Usage != nil {
		result.Usage = Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// toMessages maps turns to Genkit messages. System turns are dropped: the
// executor owns the system prompt and history must not smuggle one in.
func toMessages(turns []thread.Turn) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case thread.RoleUser:
			msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(t.Content)))
		case thread.RoleAssistant:
			msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(t.Content)))
		}
	}
	return msgs
}
