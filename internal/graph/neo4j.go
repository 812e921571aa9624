package graph

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/cooperage/internal/config"
	"github.com/cooperage/pkg/models"
)

// Neo4jStore implements GraphStore using Neo4j
type Neo4jStore struct {
	driver neo4j.DriverWithContext
	config config.GraphConfig
}

// NewNeo4jStore creates a new Neo4j graph store and initializes the schema
func NewNeo4jStore(cfg config.GraphConfig) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.MaxConnectionPoolSize = cfg.MaxPoolSize
			c.MaxConnectionLifetime = time.Hour
			c.ConnectionAcquisitionTimeout = cfg.ConnTimeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	store := &Neo4jStore{
		driver: driver,
		config: cfg,
	}

	if err := store.initializeSchema(ctx); err != nil {
		log.Printf("Warning: failed to initialize graph schema: %v", err)
	}

	return store, nil
}

// initializeSchema creates the Knowledge node constraint and full-text index
func (s *Neo4jStore) initializeSchema(ctx context.Context) error {
	session := s.newSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	statements := []string{
		"CREATE CONSTRAINT knowledge_id_unique IF NOT EXISTS FOR (k:Knowledge) REQUIRE k.id IS UNIQUE",
		"CREATE FULLTEXT INDEX knowledge_text IF NOT EXISTS FOR (k:Knowledge) ON EACH [k.summary, k.context, k.memo]",
	}

	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to run schema statement: %w", err)
		}
	}

	return nil
}

func (s *Neo4jStore) newSession(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.config.Database,
	})
}

// UpsertNode creates or overwrites a knowledge node, keyed by id
func (s *Neo4jStore) UpsertNode(ctx context.Context, node models.KnowledgeNode) error {
	session := s.newSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := `
		MERGE (k:Knowledge { id: $id })
		ON CREATE SET k.created_at = datetime()
		SET k.type = $type, k.summary = $summary, k.context = $context,
		    k.memo = $memo, k.updated_at = datetime()
	`

	params := map[string]interface{}{
		"id":      node.ID,
		"type":    node.Type,
		"summary": node.Summary,
		"context": node.Context,
		"memo":    node.Memo,
	}

	_, err := session.Run(ctx, query, params)
	return err
}

// UpsertEdge creates or updates the edge between an ordered node pair. A
// relation type change removes the previous typed edge and merges the new
// one inside the same statement, so at most one edge exists per ordered pair.
func (s *Neo4jStore) UpsertEdge(ctx context.Context, edge models.Edge) error {
	_, err := s.upsertTypedEdge(ctx, edge)
	return err
}

// UpsertHumanEdge asserts a human edge between two nodes with confidence 1.0.
// Returns false when either endpoint node does not exist.
func (s *Neo4jStore) UpsertHumanEdge(ctx context.Context, sourceID, targetID string, relation models.RelationType) (bool, error) {
	return s.upsertTypedEdge(ctx, models.Edge{
		SourceID:   sourceID,
		TargetID:   targetID,
		Relation:   relation,
		Provenance: models.ProvenanceHuman,
		Confidence: 1.0,
	})
}

func (s *Neo4jStore) upsertTypedEdge(ctx context.Context, edge models.Edge) (bool, error) {
	if !models.ValidRelationType(string(edge.Relation)) {
		return false, fmt.Errorf("invalid relation type: %s", edge.Relation)
	}

	session := s.newSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	// Relationship types cannot be parameterized in Cypher; the type is
	// validated above before interpolation.
	query := fmt.Sprintf(`
		MATCH (a:Knowledge { id: $sourceId })
		MATCH (b:Knowledge { id: $targetId })
		OPTIONAL MATCH (a)-[old]->(b)
		WHERE type(old) <> '%[1]s'
		DELETE old
		MERGE (a)-[r:%[1]s]->(b)
		ON CREATE SET r.created_at = datetime()
		SET r.source = $provenance, r.confidence = $confidence, r.updated_at = datetime()
		RETURN count(r) AS merged
	`, edge.Relation)

	params := map[string]interface{}{
		"sourceId":   edge.SourceID,
		"targetId":   edge.TargetID,
		"provenance": string(edge.Provenance),
		"confidence": edge.Confidence,
	}

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return false, err
	}
	if !result.Next(ctx) {
		return false, result.Err()
	}

	merged, _ := result.Record().AsMap()["merged"].(int64)
	return merged > 0, nil
}

// DeleteEdge removes the edge between an ordered node pair, whatever its
// type. Returns false when no edge existed.
func (s *Neo4jStore) DeleteEdge(ctx context.Context, sourceID, targetID string) (bool, error) {
	session := s.newSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := `
		MATCH (a:Knowledge { id: $sourceId })-[r]->(b:Knowledge { id: $targetId })
		DELETE r
		RETURN count(r) AS deleted
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"sourceId": sourceID,
		"targetId": targetID,
	})
	if err != nil {
		return false, err
	}

	record, err := result.Single(ctx)
	if err != nil {
		return false, err
	}

	deleted, _ := record.AsMap()["deleted"].(int64)
	return deleted > 0, nil
}

// UpdateNodeFields applies a partial edit to a node's text fields and returns
// the updated node, or nil when the node does not exist.
func (s *Neo4jStore) UpdateNodeFields(ctx context.Context, id string, update models.NodeUpdate) (*models.KnowledgeNode, error) {
	session := s.newSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	setClauses := []string{"k.updated_at = datetime()"}
	params := map[string]interface{}{"id": id}
	if update.Summary != nil {
		setClauses = append(setClauses, "k.summary = $summary")
		params["summary"] = *update.Summary
	}
	if update.Context != nil {
		setClauses = append(setClauses, "k.context = $context")
		params["context"] = *update.Context
	}
	if update.Memo != nil {
		setClauses = append(setClauses, "k.memo = $memo")
		params["memo"] = *update.Memo
	}

	query := fmt.Sprintf(`
		MATCH (k:Knowledge { id: $id })
		SET %s
		RETURN k.id AS id, k.type AS type, k.summary AS summary,
		       k.context AS context, k.memo AS memo
	`, strings.Join(setClauses, ", "))

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if !result.Next(ctx) {
		return nil, result.Err()
	}

	values := result.Record().AsMap()
	node := models.KnowledgeNode{
		ID:      stringValue(values["id"]),
		Type:    stringValue(values["type"]),
		Summary: stringValue(values["summary"]),
		Context: stringValue(values["context"]),
		Memo:    stringValue(values["memo"]),
	}
	return &node, nil
}

// DeleteEdgesByProvenance removes every edge asserted by the given source
// and returns the number removed. Used by pipeline reset operations.
func (s *Neo4jStore) DeleteEdgesByProvenance(ctx context.Context, provenance models.Provenance) (int, error) {
	session := s.newSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := `
		MATCH ()-[r]->()
		WHERE r.source = $source
		DELETE r
		RETURN count(r) AS deleted
	`

	result, err := session.Run(ctx, query, map[string]interface{}{"source": string(provenance)})
	if err != nil {
		return 0, err
	}

	record, err := result.Single(ctx)
	if err != nil {
		return 0, err
	}

	deleted, _ := record.AsMap()["deleted"].(int64)
	return int(deleted), nil
}

// GraphView returns a browsable snapshot of the graph. Nodes and edges are
// queried separately so isolated nodes appear even when edge filters are set;
// relationType and provenance filter edges only. Empty filter strings match
// everything.
func (s *Neo4jStore) GraphView(ctx context.Context, relationType, provenance string, limit int) ([]models.KnowledgeNode, []models.GraphEdgeResult, error) {
	session := s.newSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	nodeQuery := `
		MATCH (k:Knowledge)
		RETURN k.id AS id, k.type AS type, k.summary AS summary,
		       k.context AS context, k.memo AS memo
		LIMIT $limit
	`

	result, err := session.Run(ctx, nodeQuery, map[string]interface{}{"limit": limit})
	if err != nil {
		return nil, nil, err
	}
	nodes, _, err := collectGraphRecords(ctx, result)
	if err != nil {
		return nil, nil, err
	}

	conditions := []string{}
	params := map[string]interface{}{}
	if relationType != "" {
		conditions = append(conditions, "type(r) = $relationType")
		params["relationType"] = relationType
	}
	if provenance != "" {
		conditions = append(conditions, "r.source = $provenance")
		params["provenance"] = provenance
	}

	edgeQuery := `
		MATCH (a:Knowledge)-[r]->(b:Knowledge)
	`
	if len(conditions) > 0 {
		edgeQuery += "WHERE " + strings.Join(conditions, " AND ") + "\n"
	}
	edgeQuery += `
		RETURN a.id AS sourceId, b.id AS targetId, type(r) AS relType,
		       r.source AS provenance, r.confidence AS confidence
	`

	result, err = session.Run(ctx, edgeQuery, params)
	if err != nil {
		return nil, nil, err
	}
	_, edges, err := collectGraphRecords(ctx, result)
	if err != nil {
		return nil, nil, err
	}

	return nodes, edges, nil
}

// ExpandSubgraph returns the named node, every node reachable within depth
// hops, and the edges among that set. Depth must already be clamped by the
// caller to 1..3. An empty node slice means the node does not exist.
func (s *Neo4jStore) ExpandSubgraph(ctx context.Context, id string, depth int) ([]models.KnowledgeNode, []models.GraphEdgeResult, error) {
	session := s.newSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	rootQuery := `
		MATCH (k:Knowledge { id: $id })
		RETURN k.id AS id, k.type AS type, k.summary AS summary,
		       k.context AS context, k.memo AS memo
	`
	result, err := session.Run(ctx, rootQuery, map[string]interface{}{"id": id})
	if err != nil {
		return nil, nil, err
	}
	nodes, _, err := collectGraphRecords(ctx, result)
	if err != nil {
		return nil, nil, err
	}
	if len(nodes) == 0 {
		return nil, nil, nil
	}

	// Variable-length bounds cannot be parameterized; depth is an int the
	// caller has clamped.
	reachQuery := fmt.Sprintf(`
		MATCH (k:Knowledge { id: $id })-[*1..%d]-(n:Knowledge)
		RETURN DISTINCT n.id AS id, n.type AS type, n.summary AS summary,
		       n.context AS context, n.memo AS memo
	`, depth)
	result, err = session.Run(ctx, reachQuery, map[string]interface{}{"id": id})
	if err != nil {
		return nil, nil, err
	}
	reached, _, err := collectGraphRecords(ctx, result)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]string, 0, len(nodes)+len(reached))
	seen := make(map[string]bool)
	for _, n := range append(nodes, reached...) {
		if !seen[n.ID] {
			seen[n.ID] = true
			ids = append(ids, n.ID)
		}
	}

	edgeQuery := `
		MATCH (a:Knowledge)-[r]-(b:Knowledge)
		WHERE a.id IN $ids AND b.id IN $ids
		RETURN DISTINCT startNode(r).id AS sourceId, endNode(r).id AS targetId,
		       type(r) AS relType, r.source AS provenance, r.confidence AS confidence
	`
	result, err = session.Run(ctx, edgeQuery, map[string]interface{}{"ids": ids})
	if err != nil {
		return nil, nil, err
	}
	_, edges, err := collectGraphRecords(ctx, result)
	if err != nil {
		return nil, nil, err
	}

	merged := make([]models.KnowledgeNode, 0, len(ids))
	byID := make(map[string]models.KnowledgeNode, len(ids))
	for _, n := range append(nodes, reached...) {
		if _, ok := byID[n.ID]; !ok {
			byID[n.ID] = n
		}
	}
	for _, nodeID := range ids {
		merged = append(merged, byID[nodeID])
	}

	return merged, edges, nil
}

// FindIsolatedNodeIDs returns ids of knowledge nodes with zero incident edges
func (s *Neo4jStore) FindIsolatedNodeIDs(ctx context.Context) ([]string, error) {
	session := s.newSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		MATCH (k:Knowledge)
		WHERE NOT (k)-[]-()
		RETURN k.id AS id
	`

	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return nil, err
	}

	var ids []string
	for result.Next(ctx) {
		if id, ok := result.Record().AsMap()["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, result.Err()
}

const neighborExpansionQuery = `
	MATCH (n:Knowledge)
	WHERE n.id IN $ids
	OPTIONAL MATCH (n)-[r]-(m:Knowledge)
	RETURN n.id AS id, n.type AS type, n.summary AS summary,
	       n.context AS context, n.memo AS memo,
	       type(r) AS relType, r.confidence AS confidence,
	       startNode(r).id AS sourceId, endNode(r).id AS targetId,
	       m.id AS neighborId, m.type AS neighborType,
	       m.summary AS neighborSummary, m.context AS neighborContext,
	       m.memo AS neighborMemo
`

// ExpandNeighbors returns the given nodes plus their 1-hop neighbors and
// the edges between them
func (s *Neo4jStore) ExpandNeighbors(ctx context.Context, ids []string) ([]models.KnowledgeNode, []models.GraphEdgeResult, error) {
	session := s.newSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, neighborExpansionQuery, map[string]interface{}{"ids": ids})
	if err != nil {
		return nil, nil, err
	}

	return collectGraphRecords(ctx, result)
}

// KeywordSearch runs full-text search over summary/context/memo and returns
// matches plus their 1-hop neighbors
func (s *Neo4jStore) KeywordSearch(ctx context.Context, query string, limit int) ([]models.KnowledgeNode, []models.GraphEdgeResult, error) {
	session := s.newSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	cypher := `
		CALL db.index.fulltext.queryNodes("knowledge_text", $query)
		YIELD node, score
		WITH node, score
		LIMIT $limit
		OPTIONAL MATCH (node)-[r]-(m:Knowledge)
		RETURN node.id AS id, node.type AS type, node.summary AS summary,
		       node.context AS context, node.memo AS memo,
		       type(r) AS relType, r.confidence AS confidence,
		       startNode(r).id AS sourceId, endNode(r).id AS targetId,
		       m.id AS neighborId, m.type AS neighborType,
		       m.summary AS neighborSummary, m.context AS neighborContext,
		       m.memo AS neighborMemo
	`

	result, err := session.Run(ctx, cypher, map[string]interface{}{
		"query": query,
		"limit": limit,
	})
	if err != nil {
		return nil, nil, err
	}

	return collectGraphRecords(ctx, result)
}

// RunReadQuery executes an ad-hoc Cypher query in a read-only session and
// collects any node/edge shaped columns from the result
func (s *Neo4jStore) RunReadQuery(ctx context.Context, cypher string) ([]models.KnowledgeNode, []models.GraphEdgeResult, error) {
	session := s.newSession(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, nil)
	if err != nil {
		return nil, nil, err
	}

	return collectGraphRecords(ctx, result)
}

// Ping checks database connectivity
func (s *Neo4jStore) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Close closes the database connection
func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

// collectGraphRecords turns result rows into deduplicated nodes and edges.
// Rows carry an optional seed node (id), an optional neighbor (neighborId)
// and an optional edge (relType/sourceId/targetId).
func collectGraphRecords(ctx context.Context, result neo4j.ResultWithContext) ([]models.KnowledgeNode, []models.GraphEdgeResult, error) {
	nodesByID := make(map[string]models.KnowledgeNode)
	var order []string
	var edges []models.GraphEdgeResult

	addNode := func(values map[string]interface{}, idKey, typeKey, summaryKey, contextKey, memoKey string) {
		id, ok := values[idKey].(string)
		if !ok || id == "" {
			return
		}
		if _, exists := nodesByID[id]; exists {
			return
		}
		nodesByID[id] = models.KnowledgeNode{
			ID:      id,
			Type:    stringValue(values[typeKey]),
			Summary: stringValue(values[summaryKey]),
			Context: stringValue(values[contextKey]),
			Memo:    stringValue(values[memoKey]),
		}
		order = append(order, id)
	}

	for result.Next(ctx) {
		values := result.Record().AsMap()

		addNode(values, "id", "type", "summary", "context", "memo")
		addNode(values, "neighborId", "neighborType", "neighborSummary", "neighborContext", "neighborMemo")

		relType, _ := values["relType"].(string)
		sourceID, _ := values["sourceId"].(string)
		targetID, _ := values["targetId"].(string)
		if relType != "" && sourceID != "" && targetID != "" {
			edges = append(edges, models.GraphEdgeResult{
				SourceID:   sourceID,
				TargetID:   targetID,
				RelType:    relType,
				Provenance: stringValue(values["provenance"]),
				Confidence: floatValue(values["confidence"]),
			})
		}
	}
	if err := result.Err(); err != nil {
		return nil, nil, err
	}

	nodes := make([]models.KnowledgeNode, 0, len(order))
	for _, id := range order {
		nodes = append(nodes, nodesByID[id])
	}
	return nodes, edges, nil
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

func floatValue(v interface{}) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case int64:
		f := float64(n)
		return &f
	}
	return nil
}
