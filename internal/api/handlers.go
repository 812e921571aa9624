package api

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/cooperage/internal/search"
	"github.com/cooperage/internal/settings"
	"github.com/cooperage/pkg/models"
)

// Search handlers

type SearchRequest struct {
	Query     string  `json:"query"`
	TopK      int     `json:"top_k,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

func (g *Gateway) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := parseRequestBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse request body", err.Error())
		return
	}
	if req.Query == "" {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "query is required", "")
		return
	}

	result, err := g.searcher.Search(r.Context(), req.Query, search.Options{
		TopK:      req.TopK,
		Threshold: req.Threshold,
	})
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "SEARCH_FAILED", "Search failed", err.Error())
		return
	}

	writeSuccessResponse(w, result)
}

func (g *Gateway) handleKeywordSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "q is required", "")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	result, err := g.searcher.Keyword(r.Context(), query, limit)
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "SEARCH_FAILED", "Keyword search failed", err.Error())
		return
	}

	writeSuccessResponse(w, result)
}

// Malt ingest handler

type CreateMaltRequest struct {
	MaltsterID string `json:"maltster_id"`
	LocalID    string `json:"local_id"`
	Type       string `json:"type"`
	Summary    string `json:"summary"`
	Context    string `json:"context,omitempty"`
	Memo       string `json:"memo,omitempty"`
}

func (g *Gateway) handleCreateMalt(w http.ResponseWriter, r *http.Request) {
	var req CreateMaltRequest
	if err := parseRequestBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse request body", err.Error())
		return
	}
	if req.MaltsterID == "" || req.LocalID == "" || req.Type == "" || req.Summary == "" {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "maltster_id, local_id, type and summary are required", "")
		return
	}

	malt := models.NewMalt(req.MaltsterID, req.LocalID, req.Type, req.Summary)
	malt.Context = req.Context
	malt.Memo = req.Memo

	if err := g.maltStore.CreateMalt(r.Context(), malt); err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "INGEST_FAILED", "Failed to store malt", err.Error())
		return
	}

	writeJSONResponse(w, http.StatusCreated, APIResponse{Success: true, Data: malt})
}

// Pipeline handlers

func (g *Gateway) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	writeSuccessResponse(w, g.pipeline.Progress().Snapshot())
}

func (g *Gateway) handleTriggerPipeline(w http.ResponseWriter, r *http.Request) {
	snap := g.pipeline.Progress().Snapshot()
	if snap.Status == "running" {
		writeSuccessResponse(w, map[string]bool{"skipped": true})
		return
	}

	// A run may outlive the request; it is detached from the request context.
	go func() {
		if _, err := g.pipeline.Run(context.Background()); err != nil {
			log.Printf("Triggered pipeline run failed: %v", err)
		}
	}()

	writeJSONResponse(w, http.StatusAccepted, APIResponse{
		Success: true,
		Data:    map[string]bool{"started": true},
	})
}

func (g *Gateway) handleTriggerBackfill(w http.ResponseWriter, r *http.Request) {
	result, err := g.pipeline.Backfill(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "BACKFILL_FAILED", "Backfill failed", err.Error())
		return
	}
	writeSuccessResponse(w, result)
}

func (g *Gateway) handleReEmbed(w http.ResponseWriter, r *http.Request) {
	affected, err := g.pipeline.ReEmbed(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "RESET_FAILED", "Re-embed reset failed", err.Error())
		return
	}
	writeSuccessResponse(w, map[string]int{"affected": affected})
}

func (g *Gateway) handleReExtract(w http.ResponseWriter, r *http.Request) {
	affected, edgesDeleted, err := g.pipeline.ReExtract(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "RESET_FAILED", "Re-extract reset failed", err.Error())
		return
	}
	writeSuccessResponse(w, map[string]int{
		"affected":      affected,
		"edges_deleted": edgesDeleted,
	})
}

// Settings handlers

func (g *Gateway) handleGetPipelineSettings(w http.ResponseWriter, r *http.Request) {
	ps, err := g.pipelineSettings.Get(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "SETTINGS_FAILED", "Failed to load pipeline settings", err.Error())
		return
	}
	writeSuccessResponse(w, ps)
}

func (g *Gateway) handleUpdatePipelineSettings(w http.ResponseWriter, r *http.Request) {
	var update settings.PipelineSettingsUpdate
	if err := parseRequestBody(r, &update); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse request body", err.Error())
		return
	}

	updated, err := g.pipelineSettings.Update(r.Context(), update)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_SETTINGS", "Pipeline settings update rejected", err.Error())
		return
	}

	// A changed interval takes effect immediately, not at the next firing.
	if g.scheduler != nil {
		g.scheduler.Reschedule(r.Context())
	}
	g.publishSettingsUpdated(r.Context())

	writeSuccessResponse(w, updated)
}

func (g *Gateway) handleGetAISettings(w http.ResponseWriter, r *http.Request) {
	as, err := g.aiSettings.Get(r.Context())
	if err != nil {
		writeErrorResponse(w, http.StatusInternalServerError, "SETTINGS_FAILED", "Failed to load AI settings", err.Error())
		return
	}
	writeSuccessResponse(w, as)
}

func (g *Gateway) handleUpdateAISettings(w http.ResponseWriter, r *http.Request) {
	var update settings.AISettingsUpdate
	if err := parseRequestBody(r, &update); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse request body", err.Error())
		return
	}

	updated, err := g.aiSettings.Update(r.Context(), update)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "INVALID_SETTINGS", "AI settings update rejected", err.Error())
		return
	}
	g.publishSettingsUpdated(r.Context())

	writeSuccessResponse(w, updated)
}

func (g *Gateway) publishSettingsUpdated(ctx context.Context) {
	if g.events == nil {
		return
	}
	event := models.NewPipelineEvent(models.EventTypeSettingsUpdated, nil)
	if err := g.events.Publish(ctx, event); err != nil {
		log.Printf("Failed to publish settings event: %v", err)
	}
}

// Health handler

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{
		"postgres": "ok",
		"neo4j":    "ok",
	}
	healthy := true

	if err := g.maltStore.Ping(r.Context()); err != nil {
		status["postgres"] = err.Error()
		healthy = false
	}
	if err := g.graphStore.Ping(r.Context()); err != nil {
		status["neo4j"] = err.Error()
		healthy = false
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, code, APIResponse{Success: healthy, Data: status})
}
