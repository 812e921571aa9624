package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/cooperage/internal/ai"
	"github.com/cooperage/pkg/models"
)

// batchSize bounds prompt size; candidates are classified 5 pairs at a time
const batchSize = 5

// classifierPrompt is the relation classification policy. Weak matches are
// dropped rather than recorded as RELATED_TO.
const classifierPrompt = `You classify relationships between knowledge items.

For each pair, determine the relationship type:
- "RELATED_TO": general topical relationship
- "SUPPORTS": source reinforces/extends/provides evidence for target
- "CONFLICTS_WITH": source contradicts or tensions with target
- null: no meaningful relationship

Return JSON: { "relations": [{ "sourceId": string, "targetId": string, "relation": string | null, "confidence": number (0.0-1.0) }] }

Be conservative - only assign a relation when clearly justified. Prefer null over weak RELATED_TO.`

// Candidate is a similar pair with both summaries resolved, ready for
// classification
type Candidate struct {
	SourceID      string `json:"sourceId"`
	SourceSummary string `json:"sourceSummary"`
	TargetID      string `json:"targetId"`
	TargetSummary string `json:"targetSummary"`
}

// Relation is an accepted classification result
type Relation struct {
	SourceID   string
	TargetID   string
	Relation   models.RelationType
	Confidence float64
}

// ChatSource resolves the chat provider used for classification
type ChatSource interface {
	Chat(ctx context.Context) (ai.ChatProvider, error)
}

// Extractor classifies candidate pairs into typed relations using the chat
// capability
type Extractor struct {
	chat ChatSource
}

// NewExtractor creates a relation extractor
func NewExtractor(chat ChatSource) *Extractor {
	return &Extractor{chat: chat}
}

// Extract classifies all candidates in fixed-size batches. A failed batch is
// logged and dropped rather than retried, so extraction degrades instead of
// blocking the pipeline.
func (e *Extractor) Extract(ctx context.Context, candidates []Candidate) []Relation {
	if len(candidates) == 0 {
		return nil
	}

	var relations []Relation
	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		extracted, err := e.extractBatch(ctx, batch)
		if err != nil {
			log.Printf("Relation extraction batch of %d failed, skipping: %v", len(batch), err)
			continue
		}
		relations = append(relations, extracted...)
	}

	return relations
}

type aiRelation struct {
	SourceID   string  `json:"sourceId"`
	TargetID   string  `json:"targetId"`
	Relation   *string `json:"relation"`
	Confidence float64 `json:"confidence"`
}

type aiResponse struct {
	Relations []aiRelation `json:"relations"`
}

func (e *Extractor) extractBatch(ctx context.Context, batch []Candidate) ([]Relation, error) {
	provider, err := e.chat.Chat(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve chat provider: %w", err)
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal candidates: %w", err)
	}

	content, err := provider.Complete(ctx, ai.ChatRequest{
		Temperature:  0.1,
		JSONResponse: true,
		Messages: []ai.ChatMessage{
			{Role: "system", Content: classifierPrompt},
			{Role: "user", Content: string(payload)},
		},
	})
	if err != nil {
		return nil, err
	}
	if content == "" {
		return nil, nil
	}

	var parsed aiResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse classification response: %w", err)
	}

	var relations []Relation
	for _, r := range parsed.Relations {
		if r.Relation == nil || !models.ValidRelationType(*r.Relation) {
			continue
		}
		if r.Confidence <= 0 {
			continue
		}
		relations = append(relations, Relation{
			SourceID:   r.SourceID,
			TargetID:   r.TargetID,
			Relation:   models.RelationType(*r.Relation),
			Confidence: r.Confidence,
		})
	}
	return relations, nil
}
