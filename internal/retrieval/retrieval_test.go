package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/quillhq/quill/internal/knowledge"
	"github.com/quillhq/quill/internal/log"
	"github.com/quillhq/quill/internal/thread"
)

type fakeRewriter struct {
	out   string
	err   error
	calls int
}

func (f *fakeRewriter) Rewrite(_ context.Context, _ []thread.Turn, query string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.out == "" {
		return query, nil
	}
	return f.out, nil
}

type fakeIndex struct {
	embedVec  []float32
	embedErr  error
	hits      []knowledge.Hit
	searchErr error
	articles  map[string]*knowledge.Article
	getErr    map[string]error

	embeddedText  string
	searchVec     []float32
	searchTenant  string
	searchLimit   int
	searchCutoff  float64
	searchCalls   int
	hydratedIDs   []string
}

func (f *fakeIndex) Embed(_ context.Context, text string) ([]float32, error) {
	f.embeddedText = text
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	if f.embedVec == nil {
		return []float32{1, 0, 0}, nil
	}
	return f.embedVec, nil
}

func (f *fakeIndex) Search(_ context.Context, vec []float32, tenantID string, limit int, threshold float64) ([]knowledge.Hit, error) {
	f.searchCalls++
	f.searchVec = vec
	f.searchTenant = tenantID
	f.searchLimit = limit
	f.searchCutoff = threshold
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.hits, nil
}

func (f *fakeIndex) GetByID(_ context.Context, _, id string) (*knowledge.Article, error) {
	f.hydratedIDs = append(f.hydratedIDs, id)
	if err := f.getErr[id]; err != nil {
		return nil, err
	}
	if a, ok := f.articles[id]; ok {
		return a, nil
	}
	return nil, knowledge.ErrNotFound
}

func userTurn(content string) []thread.Turn {
	return []thread.Turn{{Role: thread.RoleUser, Content: content}}
}

func newBuilder(t *testing.T, rw Rewriter, idx Index) *Builder {
	t.Helper()
	b, err := NewBuilder(rw, idx, Config{}, log.NewNop())
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	return b
}

func TestBuild_NoUserTurn(t *testing.T) {
	b := newBuilder(t, &fakeRewriter{}, &fakeIndex{})

	history := []thread.Turn{{Role: thread.RoleAssistant, Content: "hi"}}
	if _, err := b.Build(context.Background(), "acme", history); err == nil {
		t.Error("Build() with no user turn = nil error, want error")
	}
}

func TestBuild_RewriteFailureFallsBackToRawQuery(t *testing.T) {
	idx := &fakeIndex{}
	b := newBuilder(t, &fakeRewriter{err: errors.New("model down")}, idx)

	if _, err := b.Build(context.Background(), "acme", userTurn("what about pricing?")); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if idx.embeddedText != "what about pricing?" {
		t.Errorf("embedded %q, want raw query", idx.embeddedText)
	}
}

func TestBuild_UsesRewrittenQuery(t *testing.T) {
	idx := &fakeIndex{}
	b := newBuilder(t, &fakeRewriter{out: "acme pricing tiers"}, idx)

	if _, err := b.Build(context.Background(), "acme", userTurn("what about it?")); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if idx.embeddedText != "acme pricing tiers" {
		t.Errorf("embedded %q, want rewritten query", idx.embeddedText)
	}
}

func TestBuild_EmbedFailureDegradesToEmpty(t *testing.T) {
	idx := &fakeIndex{embedErr: errors.New("embedder down")}
	b := newBuilder(t, &fakeRewriter{}, idx)

	rc, err := b.Build(context.Background(), "acme", userTurn("q"))
	if err != nil {
		t.Fatalf("Build() error = %v, want graceful degrade", err)
	}
	if len(rc.Citations) != 0 || rc.Text != "" {
		t.Errorf("Build() = %+v, want empty context", rc)
	}
	if idx.searchCalls != 0 {
		t.Errorf("search called %d times after embed failure, want 0", idx.searchCalls)
	}
}

func TestBuild_SearchFailureDegradesToEmpty(t *testing.T) {
	idx := &fakeIndex{searchErr: errors.New("index down")}
	b := newBuilder(t, &fakeRewriter{}, idx)

	rc, err := b.Build(context.Background(), "acme", userTurn("q"))
	if err != nil {
		t.Fatalf("Build() error = %v, want graceful degrade", err)
	}
	if len(rc.Citations) != 0 || rc.Text != "" {
		t.Errorf("Build() = %+v, want empty context", rc)
	}
}

func TestBuild_NormalizesQueryVector(t *testing.T) {
	idx := &fakeIndex{embedVec: []float32{3, 4}}
	b := newBuilder(t, &fakeRewriter{}, idx)

	if _, err := b.Build(context.Background(), "acme", userTurn("q")); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := []float32{0.6, 0.8}
	for i := range want {
		if math.Abs(float64(idx.searchVec[i]-want[i])) > 1e-6 {
			t.Errorf("search vector[%d] = %v, want %v", i, idx.searchVec[i], want[i])
		}
	}
}

func TestBuild_PassesTenantAndSearchParams(t *testing.T) {
	idx := &fakeIndex{}
	b, err := NewBuilder(&fakeRewriter{}, idx, Config{SearchLimit: 7, ScoreThreshold: 0.42}, log.NewNop())
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}

	if _, err := b.Build(context.Background(), "acme", userTurn("q")); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if idx.searchTenant != "acme" {
		t.Errorf("search tenant = %q, want acme", idx.searchTenant)
	}
	if idx.searchLimit != 7 || idx.searchCutoff != 0.42 {
		t.Errorf("search params = (%d, %v), want (7, 0.42)", idx.searchLimit, idx.searchCutoff)
	}
}

func TestBuild_DedupsAndCapsCitations(t *testing.T) {
	// 13 hits, two of which repeat an earlier label. After first-wins
	// dedup there are 11, capped to MaxCitations.
	var hits []knowledge.Hit
	for i := 0; i < 13; i++ {
		label := fmt.Sprintf("Doc %d", i)
		if i == 5 {
			label = "Doc 0"
		}
		if i == 9 {
			label = "Doc 1"
		}
		hits = append(hits, knowledge.Hit{
			ID:    fmt.Sprintf("kb-%d", i),
			Title: label,
			Score: 1 - float64(i)*0.01,
		})
	}

	idx := &fakeIndex{hits: hits, articles: map[string]*knowledge.Article{}}
	b := newBuilder(t, &fakeRewriter{}, idx)

	rc, err := b.Build(context.Background(), "acme", userTurn("q"))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(rc.Citations) != MaxCitations {
		t.Fatalf("citations = %d, want %d", len(rc.Citations), MaxCitations)
	}
	if rc.Citations[0].Label != "Doc 0" || rc.Citations[0].ID != "kb-0" {
		t.Errorf("first citation = %+v, want the first occurrence of Doc 0", rc.Citations[0])
	}
	seen := make(map[string]bool)
	for _, c := range rc.Citations {
		if seen[c.Label] {
			t.Errorf("duplicate label %q survived dedup", c.Label)
		}
		seen[c.Label] = true
	}
}

func TestBuild_HydratesOnlyTopThree(t *testing.T) {
	hits := []knowledge.Hit{
		{ID: "a", Title: "A", Snippet: "snip a", Score: 0.9},
		{ID: "b", Title: "B", Snippet: "snip b", Score: 0.8},
		{ID: "c", Title: "C", Snippet: "snip c", Score: 0.7},
		{ID: "d", Title: "D", Snippet: "snip d", Score: 0.6},
	}
	idx := &fakeIndex{
		hits: hits,
		articles: map[string]*knowledge.Article{
			"a": {ID: "a", Content: "full a"},
			"b": {ID: "b", Content: "full b"},
			"c": {ID: "c", Content: "full c"},
			"d": {ID: "d", Content: "full d"},
		},
	}
	b := newBuilder(t, &fakeRewriter{}, idx)

	rc, err := b.Build(context.Background(), "acme", userTurn("q"))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(idx.hydratedIDs) != HydrateCount {
		t.Errorf("hydrated %v, want exactly the top %d", idx.hydratedIDs, HydrateCount)
	}
	if len(rc.Citations) != 4 {
		t.Errorf("citations = %d, want all 4", len(rc.Citations))
	}
	for _, want := range []string{"full a", "full b", "full c", "snip a"} {
		if !strings.Contains(rc.Text, want) {
			t.Errorf("context text missing %q", want)
		}
	}
	if strings.Contains(rc.Text, "full d") {
		t.Error("context text contains the fourth hit's content")
	}
}

func TestBuild_HydrationFailureFallsBackToSnippet(t *testing.T) {
	hits := []knowledge.Hit{
		{ID: "a", Title: "A", Snippet: "snip a", Score: 0.9},
		{ID: "b", Title: "B", Snippet: "snip b", Score: 0.8},
	}
	idx := &fakeIndex{
		hits:     hits,
		articles: map[string]*knowledge.Article{"b": {ID: "b", Content: "full b"}},
		getErr:   map[string]error{"a": errors.New("db down")},
	}
	b := newBuilder(t, &fakeRewriter{}, idx)

	rc, err := b.Build(context.Background(), "acme", userTurn("q"))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !strings.Contains(rc.Text, "snip a") || !strings.Contains(rc.Text, "full b") {
		t.Errorf("context text = %q, want snippet for a and full content for b", rc.Text)
	}
}

func TestBuild_NoHits(t *testing.T) {
	b := newBuilder(t, &fakeRewriter{}, &fakeIndex{})

	rc, err := b.Build(context.Background(), "acme", userTurn("q"))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(rc.Citations) != 0 || rc.Text != "" {
		t.Errorf("Build() with no hits = %+v, want empty context", rc)
	}
}
