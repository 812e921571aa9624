package search

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cooperage/internal/ai"
	"github.com/cooperage/pkg/models"
)

const classificationPrompt = `You classify user search queries into one of two types:

- "structural": The query asks about relationships, connections, contradictions, or structure between knowledge items. Examples: "서로 충돌하는 노트", "A와 B의 관계", "X를 뒷받침하는 근거"
- "exploratory": The query is a general topic search, looking for similar or relevant knowledge. Examples: "보안 관련 노트", "최근 배운 디자인 패턴", "React 성능 최적화"

Return JSON: { "type": "structural" | "exploratory" }`

const graphSchema = `
Node label: Knowledge
Properties: id (UUID string), type (string), summary (string), context (string), memo (string)

Relationship types:
- RELATED_TO (bidirectional, properties: source, confidence)
- SUPPORTS (directional: A supports B, properties: source, confidence)
- CONFLICTS_WITH (directional: A conflicts with B, properties: source, confidence)

Full-text index "knowledge_text" on [summary, context, memo]
`

const cypherGenerationPrompt = `You are a Neo4j Cypher query generator. Given a user's natural language query, generate a valid Cypher query.

Graph schema:
` + graphSchema + `
Rules:
- Return ONLY the Cypher query string, no explanation or markdown
- Always RETURN node IDs, types, summaries, and relationship info
- Use LIMIT to avoid excessive results (default 20)
- For full-text search, use: CALL db.index.fulltext.queryNodes("knowledge_text", $searchTerm) YIELD node, score
- When returning relationships, include relationship type and properties
- Return nodes as: node.id AS id, node.type AS type, node.summary AS summary, node.context AS context, node.memo AS memo
- Return relationships as: type(r) AS relType, r.confidence AS confidence, startNode(r).id AS sourceId, endNode(r).id AS targetId`

// classifyQuery asks the chat provider whether the query is structural or
// exploratory. Unparseable responses classify as exploratory, the safer path.
func classifyQuery(ctx context.Context, chat ai.ChatProvider, query string) (models.QueryType, error) {
	content, err := chat.Complete(ctx, ai.ChatRequest{
		Messages: []ai.ChatMessage{
			{Role: "system", Content: classificationPrompt},
			{Role: "user", Content: query},
		},
		Temperature:  0,
		JSONResponse: true,
	})
	if err != nil {
		return "", fmt.Errorf("query classification failed: %w", err)
	}

	var parsed struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err == nil {
		switch models.QueryType(parsed.Type) {
		case models.QueryStructural, models.QueryExploratory:
			return models.QueryType(parsed.Type), nil
		}
	}

	return models.QueryExploratory, nil
}

// generateCypher asks the chat provider to translate the query into Cypher
func generateCypher(ctx context.Context, chat ai.ChatProvider, query string) (string, error) {
	content, err := chat.Complete(ctx, ai.ChatRequest{
		Messages: []ai.ChatMessage{
			{Role: "system", Content: cypherGenerationPrompt},
			{Role: "user", Content: query},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("cypher generation failed: %w", err)
	}

	cypher := stripCodeFences(content)
	if cypher == "" {
		return "", fmt.Errorf("empty cypher response")
	}
	return cypher, nil
}

var (
	openingFence = regexp.MustCompile("(?i)^```(?:cypher)?\n?")
	closingFence = regexp.MustCompile("\n?```$")
)

// stripCodeFences removes a surrounding markdown code block that models emit
// despite instructions
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = openingFence.ReplaceAllString(s, "")
	s = closingFence.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
