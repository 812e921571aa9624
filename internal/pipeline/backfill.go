package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/cooperage/internal/extraction"
	"github.com/cooperage/pkg/models"
)

// BackfillResult reports how many isolated nodes were re-evaluated and how
// many edges the pass produced
type BackfillResult struct {
	Evaluated int `json:"evaluated"`
	Edges     int `json:"edges"`
}

// Backfill re-evaluates knowledge nodes that casked without any edges.
// Candidates are matched only against the already-casked corpus; malt
// status is not touched. Runs on a long cycle, independent of the pipeline.
func (s *Service) Backfill(ctx context.Context) (BackfillResult, error) {
	isolatedIDs, err := s.graph.FindIsolatedNodeIDs(ctx)
	if err != nil {
		return BackfillResult{}, fmt.Errorf("failed to find isolated nodes: %w", err)
	}

	if len(isolatedIDs) == 0 {
		log.Printf("Backfill: no isolated nodes")
		return BackfillResult{}, nil
	}

	log.Printf("Backfill: found %d isolated nodes", len(isolatedIDs))

	isolated, err := s.malts.GetByIDs(ctx, isolatedIDs)
	if err != nil {
		return BackfillResult{}, fmt.Errorf("failed to load isolated malts: %w", err)
	}

	var withEmbedding []models.Malt
	for _, m := range isolated {
		if m.HasEmbedding() {
			withEmbedding = append(withEmbedding, m)
		}
	}

	if len(withEmbedding) == 0 {
		log.Printf("Backfill: no isolated nodes with embeddings")
		return BackfillResult{}, nil
	}

	ps := s.currentSettings(ctx)

	var pairs []models.SimilarPair
	for _, m := range withEmbedding {
		similar, err := s.malts.FindSimilarCasked(ctx, m.ID, m.Embedding, ps.TopK, ps.SimilarityThreshold)
		if err != nil {
			log.Printf("Backfill: similarity search failed for malt %s: %v", m.ID, err)
			continue
		}
		pairs = append(pairs, similar...)
	}

	if len(pairs) == 0 {
		log.Printf("Backfill: no similar pairs found")
		return BackfillResult{Evaluated: len(withEmbedding)}, nil
	}

	summaries := make(map[string]string, len(isolated))
	for _, m := range isolated {
		summaries[m.ID] = m.Summary
	}

	var missing []string
	seen := make(map[string]bool)
	for _, p := range pairs {
		if _, ok := summaries[p.TargetID]; !ok && !seen[p.TargetID] {
			seen[p.TargetID] = true
			missing = append(missing, p.TargetID)
		}
	}
	if len(missing) > 0 {
		resolved, err := s.malts.GetSummaries(ctx, missing)
		if err != nil {
			log.Printf("Backfill: failed to resolve summaries: %v", err)
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

	edges := 0
	for _, rel := range relations {
		err := s.graph.UpsertEdge(ctx, models.Edge{
			SourceID:   rel.SourceID,
			TargetID:   rel.TargetID,
			Relation:   rel.Relation,
			Provenance: models.ProvenanceAI,
			Confidence: rel.Confidence,
		})
		if err != nil {
			log.Printf("Backfill: failed to create edge %s->%s: %v", rel.SourceID, rel.TargetID, err)
			continue
		}
		edges++
	}

	result := BackfillResult{Evaluated: len(withEmbedding), Edges: edges}
	log.Printf("Backfill complete: %d evaluated, %d candidates, %d edges",
		result.Evaluated, len(candidates), result.Edges)

	s.publish(ctx, models.EventTypeBackfillCompleted, map[string]int{
		"evaluated": result.Evaluated,
		"edges":     result.Edges,
	}, nil)

	return result, nil
}
