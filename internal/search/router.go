package search

import (
	"context"
	"fmt"
	"log"

	"github.com/cooperage/internal/ai"
	"github.com/cooperage/pkg/models"
)

const (
	defaultTopK      = 5
	defaultThreshold = 0.75
	keywordLimit     = 10
)

// ChatSource resolves the currently configured chat provider
type ChatSource interface {
	Chat(ctx context.Context) (ai.ChatProvider, error)
}

// QueryEmbedder embeds a single query text; returns nil on failure
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) []float32
}

// VectorSearcher finds casked malts near a query embedding
type VectorSearcher interface {
	SearchCasked(ctx context.Context, embedding []float32, topK int, threshold float64) ([]models.SimilarMatch, error)
}

// GraphReader is the read-only slice of the graph store search uses
type GraphReader interface {
	ExpandNeighbors(ctx context.Context, ids []string) ([]models.KnowledgeNode, []models.GraphEdgeResult, error)
	KeywordSearch(ctx context.Context, query string, limit int) ([]models.KnowledgeNode, []models.GraphEdgeResult, error)
	RunReadQuery(ctx context.Context, cypher string) ([]models.KnowledgeNode, []models.GraphEdgeResult, error)
}

// Options tunes exploratory search; zero values select the defaults
type Options struct {
	TopK      int     `json:"top_k,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

// Router routes a natural-language query through classification to the
// structural or exploratory strategy. Every failure along the way degrades
// to keyword search, so a query always gets an answer while any AI provider
// is down. Keyword results are reported as exploratory.
type Router struct {
	chat     ChatSource
	embedder QueryEmbedder
	vectors  VectorSearcher
	graph    GraphReader
}

// NewRouter wires the search router
func NewRouter(chat ChatSource, embedder QueryEmbedder, vectors VectorSearcher, graph GraphReader) *Router {
	return &Router{
		chat:     chat,
		embedder: embedder,
		vectors:  vectors,
		graph:    graph,
	}
}

// Search classifies the query and dispatches to the matching strategy
func (r *Router) Search(ctx context.Context, query string, opts Options) (models.SearchResult, error) {
	chat, err := r.chat.Chat(ctx)
	if err != nil {
		log.Printf("Failed to resolve chat provider, falling back to keyword search: %v", err)
		return r.keywordFallback(ctx, query)
	}

	queryType, err := classifyQuery(ctx, chat, query)
	if err != nil {
		log.Printf("Query classification failed, falling back to keyword search: %v", err)
		return r.keywordFallback(ctx, query)
	}

	if queryType == models.QueryStructural {
		return r.structural(ctx, chat, query)
	}
	return r.exploratory(ctx, query, opts)
}

// Keyword runs full-text search directly, without classification
func (r *Router) Keyword(ctx context.Context, query string, limit int) (models.SearchResult, error) {
	if limit <= 0 {
		limit = keywordLimit
	}
	nodes, edges, err := r.graph.KeywordSearch(ctx, query, limit)
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("keyword search failed: %w", err)
	}
	return result(models.QueryExploratory, nodes, edges), nil
}

// structural translates the query to Cypher and runs it read-only
func (r *Router) structural(ctx context.Context, chat ai.ChatProvider, query string) (models.SearchResult, error) {
	cypher, err := generateCypher(ctx, chat, query)
	if err != nil {
		log.Printf("Cypher generation failed, falling back to keyword search: %v", err)
		return r.keywordFallback(ctx, query)
	}

	nodes, edges, err := r.graph.RunReadQuery(ctx, cypher)
	if err != nil {
		log.Printf("Cypher execution failed, falling back to keyword search: %v", err)
		return r.keywordFallback(ctx, query)
	}

	return result(models.QueryStructural, nodes, edges), nil
}

// exploratory embeds the query, finds nearby casked malts and expands their
// 1-hop neighborhood
func (r *Router) exploratory(ctx context.Context, query string, opts Options) (models.SearchResult, error) {
	embedding := r.embedder.EmbedOne(ctx, query)
	if embedding == nil {
		log.Printf("Query embedding unavailable, falling back to keyword search")
		return r.keywordFallback(ctx, query)
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}

	matches, err := r.vectors.SearchCasked(ctx, embedding, topK, threshold)
	if err != nil {
		log.Printf("Vector search failed, falling back to keyword search: %v", err)
		return r.keywordFallback(ctx, query)
	}
	if len(matches) == 0 {
		return r.keywordFallback(ctx, query)
	}

	seedIDs := make([]string, len(matches))
	for i, m := range matches {
		seedIDs[i] = m.ID
	}

	nodes, edges, err := r.graph.ExpandNeighbors(ctx, seedIDs)
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("neighbor expansion failed: %w", err)
	}

	return result(models.QueryExploratory, nodes, edges), nil
}

func (r *Router) keywordFallback(ctx context.Context, query string) (models.SearchResult, error) {
	return r.Keyword(ctx, query, keywordLimit)
}

// result normalizes nil slices so every response serializes with arrays
func result(queryType models.QueryType, nodes []models.KnowledgeNode, edges []models.GraphEdgeResult) models.SearchResult {
	if nodes == nil {
		nodes = []models.KnowledgeNode{}
	}
	if edges == nil {
		edges = []models.GraphEdgeResult{}
	}
	return models.SearchResult{QueryType: queryType, Nodes: nodes, Edges: edges}
}
