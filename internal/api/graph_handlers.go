package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/cooperage/pkg/models"
)

const (
	defaultGraphViewLimit = 100
	maxGraphViewLimit     = 500
	maxExpandDepth        = 3
)

// GraphViewResponse is the node/edge payload of every graph read
type GraphViewResponse struct {
	Nodes []models.KnowledgeNode   `json:"nodes"`
	Edges []models.GraphEdgeResult `json:"edges"`
}

func graphResponse(nodes []models.KnowledgeNode, edges []models.GraphEdgeResult) GraphViewResponse {
	if nodes == nil {
		nodes = []models.KnowledgeNode{}
	}
	if edges == nil {
		edges = []models.GraphEdgeResult{}
	}
	return GraphViewResponse{Nodes: nodes, Edges: edges}
}

// handleGraphView returns a snapshot of the graph. relation_type and source
// filter edges only; isolated nodes always appear.
func (g *Gateway) handleGraphView(w http.ResponseWriter, r *http.Request) {
	relationType := r.URL.Query().Get("relation_type")
	if relationType != "" && !models.ValidRelationType(relationType) {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown relation_type", relationType)
		return
	}

	source := r.URL.Query().Get("source")
	if source != "" && source != string(models.ProvenanceAI) && source != string(models.ProvenanceHuman) {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "source must be ai or human", source)
		return
	}

	limit := defaultGraphViewLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxGraphViewLimit {
			writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 500", raw)
			return
		}
		limit = parsed
	}

	nodes, edges, err := g.graphStore.GraphView(r.Context(), relationType, source, limit)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "GRAPH_FAILED", "Failed to load graph", err.Error())
		return
	}

	writeSuccessResponse(w, graphResponse(nodes, edges))
}

// handleGetNode returns one node with its direct neighbors and the edges
// among them
func (g *Gateway) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	nodes, edges, err := g.graphStore.ExpandSubgraph(r.Context(), id, 1)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "GRAPH_FAILED", "Failed to load node", err.Error())
		return
	}
	if len(nodes) == 0 {
		writeErrorResponse(w, http.StatusNotFound, "NODE_NOT_FOUND", "Node not found", id)
		return
	}

	writeSuccessResponse(w, graphResponse(nodes, edges))
}

// handleExpandNode returns the subgraph reachable from a node within depth
// hops. Depth is clamped to 1..3.
func (g *Gateway) handleExpandNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	depth := 1
	if raw := r.URL.Query().Get("depth"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			depth = parsed
		}
	}
	if depth < 1 {
		depth = 1
	}
	if depth > maxExpandDepth {
		depth = maxExpandDepth
	}

	nodes, edges, err := g.graphStore.ExpandSubgraph(r.Context(), id, depth)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "GRAPH_FAILED", "Failed to expand node", err.Error())
		return
	}
	if len(nodes) == 0 {
		writeErrorResponse(w, http.StatusNotFound, "NODE_NOT_FOUND", "Node not found", id)
		return
	}

	writeSuccessResponse(w, graphResponse(nodes, edges))
}

// Edge curation handlers

type EdgeRequest struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Relation string `json:"relation"`
}

func (g *Gateway) parseEdgeRequest(w http.ResponseWriter, r *http.Request) (EdgeRequest, bool) {
	var req EdgeRequest
	if err := parseRequestBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse request body", err.Error())
		return req, false
	}
	if req.SourceID == "" || req.TargetID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "source_id and target_id are required", "")
		return req, false
	}
	if !models.ValidRelationType(req.Relation) {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown relation type", req.Relation)
		return req, false
	}
	return req, true
}

// handleCreateEdge asserts a human edge between two existing nodes
func (g *Gateway) handleCreateEdge(w http.ResponseWriter, r *http.Request) {
	req, ok := g.parseEdgeRequest(w, r)
	if !ok {
		return
	}

	found, err := g.graphStore.UpsertHumanEdge(r.Context(), req.SourceID, req.TargetID, models.RelationType(req.Relation))
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "GRAPH_FAILED", "Failed to create edge", err.Error())
		return
	}
	if !found {
		writeErrorResponse(w, http.StatusNotFound, "NODE_NOT_FOUND", "Source or target node not found", "")
		return
	}

	writeJSONResponse(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    humanEdgeResult(req),
	})
}

// handleUpdateEdge retypes an existing edge between two nodes as a human
// assertion. 404 when no edge exists for the pair.
func (g *Gateway) handleUpdateEdge(w http.ResponseWriter, r *http.Request) {
	req, ok := g.parseEdgeRequest(w, r)
	if !ok {
		return
	}

	existed, err := g.graphStore.DeleteEdge(r.Context(), req.SourceID, req.TargetID)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "GRAPH_FAILED", "Failed to update edge", err.Error())
		return
	}
	if !existed {
		writeErrorResponse(w, http.StatusNotFound, "EDGE_NOT_FOUND", "Edge not found", "")
		return
	}

	if _, err := g.graphStore.UpsertHumanEdge(r.Context(), req.SourceID, req.TargetID, models.RelationType(req.Relation)); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "GRAPH_FAILED", "Failed to update edge", err.Error())
		return
	}

	writeSuccessResponse(w, humanEdgeResult(req))
}

// handleDeleteEdge removes the edge between an ordered node pair
func (g *Gateway) handleDeleteEdge(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source_id")
	targetID := r.URL.Query().Get("target_id")
	if sourceID == "" || targetID == "" {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "source_id and target_id are required", "")
		return
	}

	existed, err := g.graphStore.DeleteEdge(r.Context(), sourceID, targetID)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "GRAPH_FAILED", "Failed to delete edge", err.Error())
		return
	}
	if !existed {
		writeErrorResponse(w, http.StatusNotFound, "EDGE_NOT_FOUND", "Edge not found", "")
		return
	}

	writeSuccessResponse(w, map[string]bool{"deleted": true})
}

func humanEdgeResult(req EdgeRequest) models.Edge {
	return models.Edge{
		SourceID:   req.SourceID,
		TargetID:   req.TargetID,
		Relation:   models.RelationType(req.Relation),
		Provenance: models.ProvenanceHuman,
		Confidence: 1.0,
	}
}

// handleUpdateNode applies a partial edit to a node's text fields
func (g *Gateway) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var update models.NodeUpdate
	if err := parseRequestBody(r, &update); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse request body", err.Error())
		return
	}
	if update.Empty() {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "at least one of summary, context, memo is required", "")
		return
	}

	node, err := g.graphStore.UpdateNodeFields(r.Context(), id, update)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "GRAPH_FAILED", "Failed to update node", err.Error())
		return
	}
	if node == nil {
		writeErrorResponse(w, http.StatusNotFound, "NODE_NOT_FOUND", "Node not found", id)
		return
	}

	writeSuccessResponse(w, node)
}
