package models

// QueryType classifies search intent
type QueryType string

const (
	// QueryStructural asks about relationships or structure between knowledge items
	QueryStructural QueryType = "structural"
	// QueryExploratory is a general topic search
	QueryExploratory QueryType = "exploratory"
)

// GraphEdgeResult is an edge as returned by search and graph reads.
// Confidence may be absent and provenance is only populated by queries that
// project it.
type GraphEdgeResult struct {
	SourceID   string   `json:"source_id"`
	TargetID   string   `json:"target_id"`
	RelType    string   `json:"rel_type"`
	Provenance string   `json:"provenance,omitempty"`
	Confidence *float64 `json:"confidence"`
}

// SimilarMatch is a vector-search hit for a free-form query embedding
type SimilarMatch struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

// SearchResult is the uniform response shape of every search path
type SearchResult struct {
	QueryType QueryType         `json:"query_type"`
	Nodes     []KnowledgeNode   `json:"nodes"`
	Edges     []GraphEdgeResult `json:"edges"`
}
