package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/cooperage/internal/store"
	"github.com/cooperage/pkg/models"
)

// distill embeds every queued malt's summary and promotes it to DISTILLED.
// Embeddings are requested in one batched call; a provider failure degrades
// to nil vectors rather than failing the phase, so malts flow downstream and
// simply lack similarity candidates.
func (s *Service) distill(ctx context.Context) (int, error) {
	ready, err := s.malts.ListByStatus(ctx, models.StatusDistilledReady)
	if err != nil {
		return 0, fmt.Errorf("failed to list queued malts: %w", err)
	}

	if len(ready) == 0 {
		log.Printf("No malts to distill")
		return 0, nil
	}

	log.Printf("Distilling %d malts", len(ready))

	summaries := make([]string, len(ready))
	for i, m := range ready {
		summaries[i] = m.Summary
	}

	embeddings := s.embedder.EmbedAll(ctx, summaries)

	updates := make([]store.EmbeddingUpdate, len(ready))
	for i, m := range ready {
		updates[i] = store.EmbeddingUpdate{ID: m.ID, Embedding: embeddings[i]}
	}

	distilled, err := s.malts.MarkDistilled(ctx, updates)
	if err != nil {
		return 0, fmt.Errorf("failed to store embeddings: %w", err)
	}

	log.Printf("Distillation complete: %d malts", distilled)
	return distilled, nil
}
