package store

import (
	"context"

	"github.com/cooperage/pkg/models"
)

// EmbeddingUpdate pairs a malt id with its new embedding; a nil vector is
// stored as NULL
type EmbeddingUpdate struct {
	ID        string
	Embedding []float32
}

// MaltStore defines the relational store operations used by the pipeline
// and search
type MaltStore interface {
	// CreateMalt inserts a malt, or refreshes the text fields of an
	// existing one keyed by (maltster_id, local_id) and re-queues it for
	// distillation
	CreateMalt(ctx context.Context, malt models.Malt) error

	// ListByStatus returns malts in the given pipeline state, including
	// their embeddings
	ListByStatus(ctx context.Context, status models.MaltStatus) ([]models.Malt, error)

	// MarkDistilled sets each malt's status to DISTILLED and stores its
	// embedding (possibly NULL) inside one transaction
	MarkDistilled(ctx context.Context, updates []EmbeddingUpdate) (int, error)

	// PromoteToCasked sets every listed malt's status to CASKED inside one
	// transaction
	PromoteToCasked(ctx context.Context, ids []string) (int, error)

	// GetSummaries resolves summaries for the given malt ids
	GetSummaries(ctx context.Context, ids []string) (map[string]string, error)

	// GetByIDs returns id, summary and embedding for the given malt ids
	GetByIDs(ctx context.Context, ids []string) ([]models.Malt, error)

	// FindSimilarCasked runs a cosine-distance search against casked malts,
	// excluding the source itself, returning up to topK pairs with
	// similarity >= threshold ordered by descending similarity
	FindSimilarCasked(ctx context.Context, sourceID string, embedding []float32, topK int, threshold float64) ([]models.SimilarPair, error)

	// SearchCasked runs a cosine-distance search for a free-form query
	// embedding against casked malts
	SearchCasked(ctx context.Context, embedding []float32, topK int, threshold float64) ([]models.SimilarMatch, error)

	// ResetForReEmbed moves every casked malt back to the pre-distillation
	// state and clears its embedding
	ResetForReEmbed(ctx context.Context) (int, error)

	// ResetForReExtract moves every casked malt back to DISTILLED, keeping
	// embeddings
	ResetForReExtract(ctx context.Context) (int, error)

	Ping(ctx context.Context) error
	Close() error
}
