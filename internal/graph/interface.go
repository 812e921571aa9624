package graph

import (
	"context"

	"github.com/cooperage/pkg/models"
)

// GraphStore interface defines operations against the knowledge graph
type GraphStore interface {
	// Mutations. Each call is atomic; callers decide whether a failed
	// sibling call aborts their batch.
	UpsertNode(ctx context.Context, node models.KnowledgeNode) error
	UpsertEdge(ctx context.Context, edge models.Edge) error
	UpsertHumanEdge(ctx context.Context, sourceID, targetID string, relation models.RelationType) (bool, error)
	DeleteEdge(ctx context.Context, sourceID, targetID string) (bool, error)
	DeleteEdgesByProvenance(ctx context.Context, provenance models.Provenance) (int, error)
	UpdateNodeFields(ctx context.Context, id string, update models.NodeUpdate) (*models.KnowledgeNode, error)

	// Reads
	GraphView(ctx context.Context, relationType, provenance string, limit int) ([]models.KnowledgeNode, []models.GraphEdgeResult, error)
	ExpandSubgraph(ctx context.Context, id string, depth int) ([]models.KnowledgeNode, []models.GraphEdgeResult, error)
	FindIsolatedNodeIDs(ctx context.Context) ([]string, error)
	ExpandNeighbors(ctx context.Context, ids []string) ([]models.KnowledgeNode, []models.GraphEdgeResult, error)
	KeywordSearch(ctx context.Context, query string, limit int) ([]models.KnowledgeNode, []models.GraphEdgeResult, error)
	RunReadQuery(ctx context.Context, cypher string) ([]models.KnowledgeNode, []models.GraphEdgeResult, error)

	// Health and maintenance
	Ping(ctx context.Context) error
	Close() error
}
