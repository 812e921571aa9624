package models

import (
	"time"

	"github.com/google/uuid"
)

// MaltStatus represents the pipeline state of a malt
type MaltStatus string

const (
	// StatusDistilledReady marks a malt queued for embedding
	StatusDistilledReady MaltStatus = "DISTILLED_READY"
	// StatusDistilled marks a malt that has been embedded
	StatusDistilled MaltStatus = "DISTILLED"
	// StatusCasked marks a malt promoted into the knowledge graph
	StatusCasked MaltStatus = "CASKED"
)

// Malt represents a user-submitted knowledge note
type Malt struct {
	ID         string     `json:"id"`
	MaltsterID string     `json:"maltster_id"`
	LocalID    string     `json:"local_id"` // unique per maltster
	Type       string     `json:"type"`
	Status     MaltStatus `json:"status"`
	Summary    string     `json:"summary"`
	Context    string     `json:"context"`
	Memo       string     `json:"memo"`
	Embedding  []float32  `json:"-"` // nil until distilled, nil on embedding failure
	SyncedAt   *int64     `json:"synced_at,omitempty"`
	CreatedAt  int64      `json:"created_at"`
	UpdatedAt  int64      `json:"updated_at"`
}

// EmbeddingDimensions is the fixed dimensionality of malt embeddings
const EmbeddingDimensions = 1536

// NewMalt creates a new malt in the pre-distillation state
func NewMalt(maltsterID, localID, maltType, summary string) Malt {
	now := time.Now().UnixMilli()
	return Malt{
		ID:         uuid.New().String(),
		MaltsterID: maltsterID,
		LocalID:    localID,
		Type:       maltType,
		Status:     StatusDistilledReady,
		Summary:    summary,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// HasEmbedding reports whether the malt carries an embedding vector
func (m *Malt) HasEmbedding() bool {
	return len(m.Embedding) > 0
}
