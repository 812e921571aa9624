package search

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cooperage/internal/ai"
	"github.com/cooperage/pkg/models"
)

type mockChat struct {
	completeFn func(ctx context.Context, req ai.ChatRequest) (string, error)
}

func (m *mockChat) Complete(ctx context.Context, req ai.ChatRequest) (string, error) {
	return m.completeFn(ctx, req)
}

type mockChatSource struct {
	chat *mockChat
	err  error
}

func (m *mockChatSource) Chat(ctx context.Context) (ai.ChatProvider, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.chat, nil
}

type mockEmbedder struct {
	vector []float32
}

func (m *mockEmbedder) EmbedOne(ctx context.Context, text string) []float32 {
	return m.vector
}

type mockVectors struct {
	matches []models.SimilarMatch
	err     error

	gotTopK      int
	gotThreshold float64
}

func (m *mockVectors) SearchCasked(ctx context.Context, embedding []float32, topK int, threshold float64) ([]models.SimilarMatch, error) {
	m.gotTopK = topK
	m.gotThreshold = threshold
	return m.matches, m.err
}

type mockGraph struct {
	expandFn   func(ids []string) ([]models.KnowledgeNode, []models.GraphEdgeResult, error)
	keywordFn  func(query string, limit int) ([]models.KnowledgeNode, []models.GraphEdgeResult, error)
	readFn     func(cypher string) ([]models.KnowledgeNode, []models.GraphEdgeResult, error)
	keywordHit int
}

func (m *mockGraph) ExpandNeighbors(ctx context.Context, ids []string) ([]models.KnowledgeNode, []models.GraphEdgeResult, error) {
	if m.expandFn != nil {
		return m.expandFn(ids)
	}
	return nil, nil, nil
}

func (m *mockGraph) KeywordSearch(ctx context.Context, query string, limit int) ([]models.KnowledgeNode, []models.GraphEdgeResult, error) {
	m.keywordHit++
	if m.keywordFn != nil {
		return m.keywordFn(query, limit)
	}
	return []models.KnowledgeNode{{ID: "kw", Summary: "keyword hit"}}, nil, nil
}

func (m *mockGraph) RunReadQuery(ctx context.Context, cypher string) ([]models.KnowledgeNode, []models.GraphEdgeResult, error) {
	if m.readFn != nil {
		return m.readFn(cypher)
	}
	return nil, nil, nil
}

func classification(queryType models.QueryType) string {
	out, _ := json.Marshal(map[string]string{"type": string(queryType)})
	return string(out)
}

func TestSearch_ChatFailureFallsBackToKeyword(t *testing.T) {
	graph := &mockGraph{}
	r := NewRouter(&mockChatSource{err: errors.New("no provider")}, &mockEmbedder{}, &mockVectors{}, graph)

	res, err := r.Search(context.Background(), "서로 충돌하는 노트", Options{})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if res.QueryType != models.QueryExploratory {
		t.Errorf("keyword fallback must be tagged exploratory, got %s", res.QueryType)
	}
	if graph.keywordHit != 1 {
		t.Errorf("expected 1 keyword search, got %d", graph.keywordHit)
	}
	if len(res.Nodes) != 1 || res.Nodes[0].ID != "kw" {
		t.Errorf("expected keyword results, got %+v", res.Nodes)
	}
}

func TestSearch_StructuralRunsGeneratedCypher(t *testing.T) {
	calls := 0
	chat := &mockChat{completeFn: func(ctx context.Context, req ai.ChatRequest) (string, error) {
		calls++
		if calls == 1 {
			return classification(models.QueryStructural), nil
		}
		return "```cypher\nMATCH (n:Knowledge) RETURN n.id AS id LIMIT 20\n```", nil
	}}

	var executed string
	graph := &mockGraph{readFn: func(cypher string) ([]models.KnowledgeNode, []models.GraphEdgeResult, error) {
		executed = cypher
		return []models.KnowledgeNode{{ID: "n1"}}, []models.GraphEdgeResult{{SourceID: "n1", TargetID: "n2", RelType: "SUPPORTS"}}, nil
	}}

	r := NewRouter(&mockChatSource{chat: chat}, &mockEmbedder{}, &mockVectors{}, graph)

	res, err := r.Search(context.Background(), "A와 B의 관계", Options{})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if res.QueryType != models.QueryStructural {
		t.Errorf("expected structural result, got %s", res.QueryType)
	}
	if executed != "MATCH (n:Knowledge) RETURN n.id AS id LIMIT 20" {
		t.Errorf("expected fences stripped, got %q", executed)
	}
	if len(res.Edges) != 1 || res.Edges[0].RelType != "SUPPORTS" {
		t.Errorf("unexpected edges: %+v", res.Edges)
	}
}

func TestSearch_CypherGenerationFailureFallsBack(t *testing.T) {
	calls := 0
	chat := &mockChat{completeFn: func(ctx context.Context, req ai.ChatRequest) (string, error) {
		calls++
		if calls == 1 {
			return classification(models.QueryStructural), nil
		}
		return "", errors.New("model unavailable")
	}}
	graph := &mockGraph{}

	r := NewRouter(&mockChatSource{chat: chat}, &mockEmbedder{}, &mockVectors{}, graph)

	res, err := r.Search(context.Background(), "X를 뒷받침하는 근거", Options{})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if res.QueryType != models.QueryExploratory {
		t.Errorf("fallback must be tagged exploratory, got %s", res.QueryType)
	}
	if graph.keywordHit != 1 {
		t.Errorf("expected keyword fallback, got %d hits", graph.keywordHit)
	}
}

func TestSearch_CypherExecutionFailureFallsBack(t *testing.T) {
	calls := 0
	chat := &mockChat{completeFn: func(ctx context.Context, req ai.ChatRequest) (string, error) {
		calls++
		if calls == 1 {
			return classification(models.QueryStructural), nil
		}
		return "MATCH (n) RETURN invalid syntax", nil
	}}
	graph := &mockGraph{readFn: func(cypher string) ([]models.KnowledgeNode, []models.GraphEdgeResult, error) {
		return nil, nil, errors.New("syntax error")
	}}

	r := NewRouter(&mockChatSource{chat: chat}, &mockEmbedder{}, &mockVectors{}, graph)

	res, err := r.Search(context.Background(), "related notes", Options{})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if res.QueryType != models.QueryExploratory || graph.keywordHit != 1 {
		t.Errorf("expected keyword fallback, got type %s with %d keyword hits", res.QueryType, graph.keywordHit)
	}
}

func TestSearch_ExploratoryExpandsNeighbors(t *testing.T) {
	chat := &mockChat{completeFn: func(ctx context.Context, req ai.ChatRequest) (string, error) {
		return classification(models.QueryExploratory), nil
	}}
	vectors := &mockVectors{matches: []models.SimilarMatch{{ID: "s1", Similarity: 0.9}, {ID: "s2", Similarity: 0.8}}}

	var expanded []string
	graph := &mockGraph{expandFn: func(ids []string) ([]models.KnowledgeNode, []models.GraphEdgeResult, error) {
		expanded = ids
		return []models.KnowledgeNode{{ID: "s1"}, {ID: "s2"}, {ID: "neighbor"}}, nil, nil
	}}

	r := NewRouter(&mockChatSource{chat: chat}, &mockEmbedder{vector: []float32{0.1, 0.2}}, vectors, graph)

	res, err := r.Search(context.Background(), "React 성능 최적화", Options{})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if res.QueryType != models.QueryExploratory {
		t.Errorf("expected exploratory, got %s", res.QueryType)
	}
	if len(expanded) != 2 || expanded[0] != "s1" || expanded[1] != "s2" {
		t.Errorf("expected expansion of seed ids, got %v", expanded)
	}
	if vectors.gotTopK != defaultTopK || vectors.gotThreshold != defaultThreshold {
		t.Errorf("expected default topK %d and threshold %v, got %d and %v",
			defaultTopK, defaultThreshold, vectors.gotTopK, vectors.gotThreshold)
	}
	if len(res.Nodes) != 3 {
		t.Errorf("expected 3 nodes, got %d", len(res.Nodes))
	}
}

func TestSearch_ExploratoryOptionsOverrideDefaults(t *testing.T) {
	chat := &mockChat{completeFn: func(ctx context.Context, req ai.ChatRequest) (string, error) {
		return classification(models.QueryExploratory), nil
	}}
	vectors := &mockVectors{matches: []models.SimilarMatch{{ID: "s1"}}}
	graph := &mockGraph{}

	r := NewRouter(&mockChatSource{chat: chat}, &mockEmbedder{vector: []float32{1}}, vectors, graph)

	_, err := r.Search(context.Background(), "notes", Options{TopK: 12, Threshold: 0.5})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if vectors.gotTopK != 12 || vectors.gotThreshold != 0.5 {
		t.Errorf("expected overridden topK 12 and threshold 0.5, got %d and %v",
			vectors.gotTopK, vectors.gotThreshold)
	}
}

func TestSearch_ExploratoryWithoutEmbeddingFallsBack(t *testing.T) {
	chat := &mockChat{completeFn: func(ctx context.Context, req ai.ChatRequest) (string, error) {
		return classification(models.QueryExploratory), nil
	}}
	graph := &mockGraph{}

	r := NewRouter(&mockChatSource{chat: chat}, &mockEmbedder{vector: nil}, &mockVectors{}, graph)

	res, err := r.Search(context.Background(), "notes", Options{})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if res.QueryType != models.QueryExploratory || graph.keywordHit != 1 {
		t.Errorf("expected keyword fallback on nil embedding")
	}
}

func TestSearch_ExploratoryZeroHitsFallsBack(t *testing.T) {
	chat := &mockChat{completeFn: func(ctx context.Context, req ai.ChatRequest) (string, error) {
		return classification(models.QueryExploratory), nil
	}}
	graph := &mockGraph{}

	r := NewRouter(&mockChatSource{chat: chat}, &mockEmbedder{vector: []float32{1}}, &mockVectors{matches: nil}, graph)

	res, err := r.Search(context.Background(), "obscure topic", Options{})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if graph.keywordHit != 1 {
		t.Error("expected keyword fallback on zero vector hits")
	}
	if res.QueryType != models.QueryExploratory {
		t.Errorf("expected exploratory tag, got %s", res.QueryType)
	}
}

func TestSearch_UnparseableClassificationDefaultsToExploratory(t *testing.T) {
	chat := &mockChat{completeFn: func(ctx context.Context, req ai.ChatRequest) (string, error) {
		return "not json at all", nil
	}}
	graph := &mockGraph{}

	// Nil embedding forces the exploratory path into keyword fallback, which
	// proves the query was not treated as structural.
	r := NewRouter(&mockChatSource{chat: chat}, &mockEmbedder{vector: nil}, &mockVectors{}, graph)

	res, err := r.Search(context.Background(), "whatever", Options{})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if res.QueryType != models.QueryExploratory {
		t.Errorf("expected exploratory default, got %s", res.QueryType)
	}
}

func TestKeyword_DefaultLimit(t *testing.T) {
	var gotLimit int
	graph := &mockGraph{keywordFn: func(query string, limit int) ([]models.KnowledgeNode, []models.GraphEdgeResult, error) {
		gotLimit = limit
		return nil, nil, nil
	}}

	r := NewRouter(&mockChatSource{err: errors.New("unused")}, &mockEmbedder{}, &mockVectors{}, graph)

	res, err := r.Keyword(context.Background(), "notes", 0)
	if err != nil {
		t.Fatalf("Keyword() error: %v", err)
	}
	if gotLimit != keywordLimit {
		t.Errorf("expected default limit %d, got %d", keywordLimit, gotLimit)
	}
	if res.Nodes == nil || res.Edges == nil {
		t.Error("result slices must be non-nil for serialization")
	}
}

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "MATCH (n) RETURN n", "MATCH (n) RETURN n"},
		{"cypher fence", "```cypher\nMATCH (n) RETURN n\n```", "MATCH (n) RETURN n"},
		{"bare fence", "```\nMATCH (n) RETURN n\n```", "MATCH (n) RETURN n"},
		{"uppercase tag", "```CYPHER\nMATCH (n) RETURN n\n```", "MATCH (n) RETURN n"},
		{"surrounding whitespace", "  MATCH (n) RETURN n\n", "MATCH (n) RETURN n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripCodeFences(tt.input); got != tt.want {
				t.Errorf("stripCodeFences(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
