package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/cooperage/internal/extraction"
	"github.com/cooperage/internal/similarity"
	"github.com/cooperage/pkg/models"
)

// cask promotes distilled malts into the knowledge graph through five
// sequential phases: node creation, similarity matching, relation
// extraction, edge creation and status promotion. Each phase tolerates
// per-item failure; a malt whose node creation fails stays DISTILLED and is
// retried on the next run, so the whole phase is re-entrant.
func (s *Service) cask(ctx context.Context) (int, error) {
	distilled, err := s.malts.ListByStatus(ctx, models.StatusDistilled)
	if err != nil {
		return 0, fmt.Errorf("failed to list distilled malts: %w", err)
	}

	if len(distilled) == 0 {
		log.Printf("No malts to cask")
		return 0, nil
	}

	log.Printf("Casking %d malts", len(distilled))

	// Phase 1: knowledge node creation
	created := s.createKnowledgeNodes(ctx, distilled)
	if len(created) == 0 {
		log.Printf("No knowledge nodes created, aborting cask")
		return 0, nil
	}

	// Phase 2: similarity matching
	pairs := s.findSimilarPairs(ctx, created)

	// Phase 3: relation extraction
	relations := s.extractRelations(ctx, pairs, created)

	// Phase 4: edge creation
	edges := s.createRelationEdges(ctx, relations)

	// Phase 5: status promotion
	ids := make([]string, len(created))
	for i, m := range created {
		ids[i] = m.ID
	}
	casked, err := s.malts.PromoteToCasked(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to promote malts to casked: %w", err)
	}

	log.Printf("Casking complete: %d casked, %d edges", casked, edges)
	return casked, nil
}

func (s *Service) createKnowledgeNodes(ctx context.Context, malts []models.Malt) []models.Malt {
	var created []models.Malt
	for _, m := range malts {
		err := s.graph.UpsertNode(ctx, models.KnowledgeNode{
			ID:      m.ID,
			Type:    m.Type,
			Summary: m.Summary,
			Context: m.Context,
			Memo:    m.Memo,
		})
		if err != nil {
			log.Printf("Failed to create knowledge node for malt %s, skipping: %v", m.ID, err)
			continue
		}
		created = append(created, m)
	}

	log.Printf("Phase 1: %d/%d knowledge nodes created", len(created), len(malts))
	return created
}

func (s *Service) findSimilarPairs(ctx context.Context, malts []models.Malt) []models.SimilarPair {
	var withEmbedding []models.Malt
	for _, m := range malts {
		if m.HasEmbedding() {
			withEmbedding = append(withEmbedding, m)
		}
	}

	if len(withEmbedding) == 0 {
		log.Printf("Phase 2: no embeddings available, skipping similarity search")
		return nil
	}

	ps := s.currentSettings(ctx)

	// Persistent search against the already-casked corpus.
	var caskedPairs []models.SimilarPair
	for _, m := range withEmbedding {
		similar, err := s.malts.FindSimilarCasked(ctx, m.ID, m.Embedding, ps.TopK, ps.SimilarityThreshold)
		if err != nil {
			log.Printf("Similarity search failed for malt %s: %v", m.ID, err)
			continue
		}
		caskedPairs = append(caskedPairs, similar...)
	}

	// Exhaustive comparison within the batch.
	items := make([]similarity.BatchItem, len(withEmbedding))
	for i, m := range withEmbedding {
		items[i] = similarity.BatchItem{ID: m.ID, Embedding: m.Embedding}
	}
	batchPairs := similarity.PairsInBatch(items, ps.SimilarityThreshold)

	pairs := similarity.DedupePairs(caskedPairs, batchPairs)
	log.Printf("Phase 2: similarity search complete, %d casked + %d batch, %d unique",
		len(caskedPairs), len(batchPairs), len(pairs))
	return pairs
}

func (s *Service) extractRelations(ctx context.Context, pairs []models.SimilarPair, malts []models.Malt) []extraction.Relation {
	if len(pairs) == 0 {
		log.Printf("Phase 3: no similar pairs, skipping relation extraction")
		return nil
	}

	summaries := make(map[string]string, len(malts))
	for _, m := range malts {
		summaries[m.ID] = m.Summary
	}

	// Pairs against the casked corpus reference malts outside this batch;
	// resolve their summaries from the store.
	var missing []string
	seen := make(map[string]bool)
	for _, p := range pairs {
		for _, id := range []string{p.SourceID, p.TargetID} {
			if _, ok := summaries[id]; !ok && !seen[id] {
				seen[id] = true
				missing = append(missing, id)
			}
		}
	}
	if len(missing) > 0 {
		resolved, err := s.malts.GetSummaries(ctx, missing)
		if err != nil {
			log.Printf("Failed to resolve summaries for %d casked malts: %v", len(missing), err)
		} else {
			for id, summary := range resolved {
				summaries[id] = summary
			}
		}
	}

	var candidates []extraction.Candidate
	for _, p := range pairs {
		sourceSummary, okSource := summaries[p.SourceID]
		targetSummary, okTarget := summaries[p.TargetID]
		if !okSource || !okTarget {
			continue
		}
		candidates = append(candidates, extraction.Candidate{
			SourceID:      p.SourceID,
			SourceSummary: sourceSummary,
			TargetID:      p.TargetID,
			TargetSummary: targetSummary,
		})
	}

	relations := s.extractor.Extract(ctx, candidates)
	log.Printf("Phase 3: relation extraction complete, %d candidates, %d extracted",
		len(candidates), len(relations))
	return relations
}

func (s *Service) createRelationEdges(ctx context.Context, relations []extraction.Relation) int {
	if len(relations) == 0 {
		log.Printf("Phase 4: no relations to create")
		return 0
	}

	created := 0
	for _, rel := range relations {
		err := s.graph.UpsertEdge(ctx, models.Edge{
			SourceID:   rel.SourceID,
			TargetID:   rel.TargetID,
			Relation:   rel.Relation,
			Provenance: models.ProvenanceAI,
			Confidence: rel.Confidence,
		})
		if err != nil {
			log.Printf("Failed to create %s edge %s->%s: %v", rel.Relation, rel.SourceID, rel.TargetID, err)
			continue
		}
		created++
	}

	log.Printf("Phase 4: %d/%d relation edges created", created, len(relations))
	return created
}
