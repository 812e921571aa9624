package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/cooperage/internal/config"
	"github.com/cooperage/internal/pipeline"
	"github.com/cooperage/internal/search"
	"github.com/cooperage/internal/settings"
	"github.com/cooperage/pkg/models"
)

// Pipeline is the pipeline surface the API exposes
type Pipeline interface {
	Run(ctx context.Context) (pipeline.RunResult, error)
	Backfill(ctx context.Context) (pipeline.BackfillResult, error)
	ReEmbed(ctx context.Context) (int, error)
	ReExtract(ctx context.Context) (affected, edgesDeleted int, err error)
	Progress() *pipeline.Progress
}

// Searcher answers natural-language and keyword queries
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) (models.SearchResult, error)
	Keyword(ctx context.Context, query string, limit int) (models.SearchResult, error)
}

// Rescheduler re-arms the pipeline timer after a settings change
type Rescheduler interface {
	Reschedule(ctx context.Context)
}

// EventPublisher publishes settings lifecycle events, best effort
type EventPublisher interface {
	Publish(ctx context.Context, event models.PipelineEvent) error
}

// Pinger reports backing-store connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// MaltIngestor accepts malts into the relational store for distillation
type MaltIngestor interface {
	CreateMalt(ctx context.Context, malt models.Malt) error
	Pinger
}

// GraphBrowser exposes the knowledge graph for browsing and human curation
type GraphBrowser interface {
	GraphView(ctx context.Context, relationType, provenance string, limit int) ([]models.KnowledgeNode, []models.GraphEdgeResult, error)
	ExpandSubgraph(ctx context.Context, id string, depth int) ([]models.KnowledgeNode, []models.GraphEdgeResult, error)
	UpsertHumanEdge(ctx context.Context, sourceID, targetID string, relation models.RelationType) (bool, error)
	DeleteEdge(ctx context.Context, sourceID, targetID string) (bool, error)
	UpdateNodeFields(ctx context.Context, id string, update models.NodeUpdate) (*models.KnowledgeNode, error)
	Pinger
}

// Gateway is the HTTP surface of the service
type Gateway struct {
	server *http.Server
	router *mux.Router
	config config.APIConfig

	pipeline         Pipeline
	searcher         Searcher
	scheduler        Rescheduler
	pipelineSettings *settings.PipelineService
	aiSettings       *settings.AIService
	events           EventPublisher
	maltStore        MaltIngestor
	graphStore       GraphBrowser
}

// NewGateway wires the HTTP gateway
func NewGateway(cfg config.APIConfig, pipe Pipeline, searcher Searcher, scheduler Rescheduler,
	pipelineSettings *settings.PipelineService, aiSettings *settings.AIService,
	events EventPublisher, maltStore MaltIngestor, graphStore GraphBrowser) *Gateway {

	router := mux.NewRouter()

	g := &Gateway{
		router:           router,
		config:           cfg,
		pipeline:         pipe,
		searcher:         searcher,
		scheduler:        scheduler,
		pipelineSettings: pipelineSettings,
		aiSettings:       aiSettings,
		events:           events,
		maltStore:        maltStore,
		graphStore:       graphStore,
	}

	g.setupRoutes()
	router.Use(loggingMiddleware)

	handler := http.Handler(router)
	if cfg.EnableCORS {
		c := cors.New(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		})
		handler = c.Handler(router)
	}

	g.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return g
}

func (g *Gateway) setupRoutes() {
	api := g.router.PathPrefix("/api/v1").Subrouter()

	// Search routes
	api.HandleFunc("/search", g.handleSearch).Methods("POST")
	api.HandleFunc("/search/keyword", g.handleKeywordSearch).Methods("GET")

	// Malt ingest
	api.HandleFunc("/malts", g.handleCreateMalt).Methods("POST")

	// Graph browse and curation routes
	gr := api.PathPrefix("/graph").Subrouter()
	gr.HandleFunc("", g.handleGraphView).Methods("GET")
	gr.HandleFunc("/node/{id}", g.handleGetNode).Methods("GET")
	gr.HandleFunc("/node/{id}", g.handleUpdateNode).Methods("PUT")
	gr.HandleFunc("/node/{id}/expand", g.handleExpandNode).Methods("GET")
	gr.HandleFunc("/edge", g.handleCreateEdge).Methods("POST")
	gr.HandleFunc("/edge", g.handleUpdateEdge).Methods("PUT")
	gr.HandleFunc("/edge", g.handleDeleteEdge).Methods("DELETE")

	// Pipeline routes
	pipe := api.PathPrefix("/pipeline").Subrouter()
	pipe.HandleFunc("/status", g.handlePipelineStatus).Methods("GET")
	pipe.HandleFunc("/trigger", g.handleTriggerPipeline).Methods("POST")
	pipe.HandleFunc("/backfill", g.handleTriggerBackfill).Methods("POST")
	pipe.HandleFunc("/re-embed", g.handleReEmbed).Methods("POST")
	pipe.HandleFunc("/re-extract", g.handleReExtract).Methods("POST")

	// Settings routes
	st := api.PathPrefix("/settings").Subrouter()
	st.HandleFunc("/pipeline", g.handleGetPipelineSettings).Methods("GET")
	st.HandleFunc("/pipeline", g.handleUpdatePipelineSettings).Methods("PATCH")
	st.HandleFunc("/ai", g.handleGetAISettings).Methods("GET")
	st.HandleFunc("/ai", g.handleUpdateAISettings).Methods("PATCH")

	api.HandleFunc("/health", g.handleHealth).Methods("GET")
}

// Start starts the HTTP server
func (g *Gateway) Start() error {
	log.Printf("Starting API gateway on %s", g.server.Addr)
	return g.server.ListenAndServe()
}

// Stop shuts the HTTP server down gracefully
func (g *Gateway) Stop(ctx context.Context) error {
	log.Printf("Stopping API gateway")
	return g.server.Shutdown(ctx)
}

// Handler exposes the router for tests
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Response envelope

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func writeJSONResponse(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, code, message, details string) {
	writeJSONResponse(w, status, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func writeSuccessResponse(w http.ResponseWriter, data interface{}) {
	writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

func parseRequestBody(r *http.Request, target interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

// Middleware

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		log.Printf("%s %s %d %s", r.Method, r.URL.Path, recorder.status, time.Since(start))
	})
}
