package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// StubModel is a deterministic Genkit model for tests. It streams a fixed
// script of chunks, returns their concatenation as the final text, and
// records every request it receives.
//
// Safe for concurrent use.
type StubModel struct {
	mu       sync.Mutex
	chunks   []string
	usage    *ai.GenerationUsage
	err      error
	requests []*ai.ModelRequest
}

// NewStubModel creates a stub that streams the given chunks in order.
func NewStubModel(chunks ...string) *StubModel {
	return &StubModel{chunks: chunks}
}

// SetUsage sets the token usage reported in the final response.
func (m *StubModel) SetUsage(input, output int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = &ai.GenerationUsage{
		InputTokens:  input,
		OutputTokens: output,
		TotalTokens:  input + output,
	}
}

// SetError makes every generate call fail with err.
func (m *StubModel) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Requests returns a copy of all recorded model requests.
func (m *StubModel) Requests() []*ai.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*ai.ModelRequest, len(m.requests))
	copy(cp, m.requests)
	return cp
}

// Register registers the stub as a Genkit model named "stub/chat".
func (m *StubModel) Register(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, "stub/chat", &ai.ModelOptions{
		Label: "Stub Chat Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			SystemRole: true,
		},
	}, m.generate)
}

func (m *StubModel) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	chunks := m.chunks
	usage := m.usage
	err := m.err
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}

	for _, c := range chunks {
		if cb != nil {
			if cbErr := cb(ctx, &ai.ModelResponseChunk{
				Content: []*ai.Part{ai.NewTextPart(c)},
			}); cbErr != nil {
				return nil, cbErr
			}
		}
	}

	resp := &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewTextPart(strings.Join(chunks, ""))},
		},
	}
	if usage != nil {
		resp.Usage = usage
	}
	return resp, nil
}

// StubEmbedder is a deterministic Genkit embedder for tests. Unknown text
// hashes to a stable unit vector; explicit vectors can be pinned per text
// to control similarity exactly.
//
// Safe for concurrent use.
type StubEmbedder struct {
	mu      sync.Mutex
	pinned  map[string][]float32
	dim     int
	queries []string
}

// NewStubEmbedder creates a stub embedder emitting vectors of the given width.
func NewStubEmbedder(dim int) *StubEmbedder {
	return &StubEmbedder{pinned: make(map[string][]float32), dim: dim}
}

// Pin fixes the vector returned for an exact text.
func (e *StubEmbedder) Pin(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pinned[text] = vec
}

// Queries returns a copy of every text embedded so far.
func (e *StubEmbedder) Queries() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]string, len(e.queries))
	copy(cp, e.queries)
	return cp
}

// Register registers the stub as a Genkit embedder named "stub/embedder".
func (e *StubEmbedder) Register(g *genkit.Genkit) ai.Embedder {
	return genkit.DefineEmbedder(g, "stub/embedder", &ai.EmbedderOptions{
		Label:      "Stub Embedder",
		Dimensions: e.dim,
	}, e.embed)
}

func (e *StubEmbedder) embed(_ context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	embeddings := make([]*ai.Embedding, len(req.Input))
	for i, doc := range req.Input {
		text := documentText(doc)

		e.mu.Lock()
		e.queries = append(e.queries, text)
		vec, ok := e.pinned[text]
		e.mu.Unlock()

		if !ok {
			vec = hashVector(text, e.dim)
		}
		embeddings[i] = &ai.Embedding{Embedding: vec}
	}
	return &ai.EmbedResponse{Embeddings: embeddings}, nil
}

// documentText concatenates the text parts of a document.
func documentText(doc *ai.Document) string {
	var sb strings.Builder
	for _, p := range doc.Content {
		if p.Kind == ai.PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// hashVector derives a stable unit vector from text via SHA-256.
func hashVector(text string, dim int) []float32 {
	hash := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	for i := range vec {
		idx := (i * 4) % len(hash)
		bits := binary.LittleEndian.Uint32([]byte{
			hash[idx%32], hash[(idx+1)%32], hash[(idx+2)%32], hash[(idx+3)%32],
		})
		vec[i] = (float32(bits)/float32(math.MaxUint32))*2 - 1
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}
