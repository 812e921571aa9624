package models

// RelationType represents the type of relationship between knowledge nodes
type RelationType string

const (
	// RelationRelatedTo is a general topical relationship, semantically undirected
	RelationRelatedTo RelationType = "RELATED_TO"
	// RelationSupports means the source reinforces or provides evidence for the target
	RelationSupports RelationType = "SUPPORTS"
	// RelationConflictsWith means the source contradicts the target
	RelationConflictsWith RelationType = "CONFLICTS_WITH"
)

// ValidRelationType reports whether s names a known relation type
func ValidRelationType(s string) bool {
	switch RelationType(s) {
	case RelationRelatedTo, RelationSupports, RelationConflictsWith:
		return true
	}
	return false
}

// Provenance records whether an edge was asserted by a human or inferred by AI
type Provenance string

const (
	ProvenanceAI    Provenance = "ai"
	ProvenanceHuman Provenance = "human"
)

// KnowledgeNode mirrors a casked malt inside the graph store
type KnowledgeNode struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Summary string `json:"summary"`
	Context string `json:"context"`
	Memo    string `json:"memo"`
}

// Edge represents a typed directed relationship between two knowledge nodes.
// At most one edge exists per ordered (SourceID, TargetID) pair.
type Edge struct {
	SourceID   string       `json:"source_id"`
	TargetID   string       `json:"target_id"`
	Relation   RelationType `json:"relation"`
	Provenance Provenance   `json:"provenance"`
	Confidence float64      `json:"confidence"` // 0.0-1.0, meaningful for ai provenance
}

// NodeUpdate is a partial edit of a knowledge node's text fields; nil fields
// are left unchanged
type NodeUpdate struct {
	Summary *string `json:"summary,omitempty"`
	Context *string `json:"context,omitempty"`
	Memo    *string `json:"memo,omitempty"`
}

// Empty reports whether the update changes nothing
func (u NodeUpdate) Empty() bool {
	return u.Summary == nil && u.Context == nil && u.Memo == nil
}

// SimilarPair is an ephemeral similarity match produced during casking.
// Never persisted.
type SimilarPair struct {
	SourceID   string  `json:"source_id"`
	TargetID   string  `json:"target_id"`
	Similarity float64 `json:"similarity"`
}
