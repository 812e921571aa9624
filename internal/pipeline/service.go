package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/cooperage/internal/extraction"
	"github.com/cooperage/internal/settings"
	"github.com/cooperage/internal/store"
	"github.com/cooperage/pkg/models"
)

// GraphMutator is the slice of the graph store the pipeline mutates
type GraphMutator interface {
	UpsertNode(ctx context.Context, node models.KnowledgeNode) error
	UpsertEdge(ctx context.Context, edge models.Edge) error
	DeleteEdgesByProvenance(ctx context.Context, provenance models.Provenance) (int, error)
	FindIsolatedNodeIDs(ctx context.Context) ([]string, error)
}

// Embedder produces embedding vectors, degrading to nil entries on provider
// failure
type Embedder interface {
	EmbedAll(ctx context.Context, texts []string) [][]float32
}

// RelationExtractor classifies candidate pairs into typed relations
type RelationExtractor interface {
	Extract(ctx context.Context, candidates []extraction.Candidate) []extraction.Relation
}

// EventPublisher publishes pipeline lifecycle events, best effort
type EventPublisher interface {
	Publish(ctx context.Context, event models.PipelineEvent) error
}

// Service runs the distillation pipeline: distill queued malts, cask
// distilled malts into the knowledge graph, backfill isolated nodes.
type Service struct {
	malts     store.MaltStore
	graph     GraphMutator
	embedder  Embedder
	extractor RelationExtractor
	settings  *settings.PipelineService
	progress  *Progress
	events    EventPublisher
}

// NewService wires the pipeline service
func NewService(malts store.MaltStore, graph GraphMutator, embedder Embedder,
	extractor RelationExtractor, pipelineSettings *settings.PipelineService,
	events EventPublisher) *Service {
	return &Service{
		malts:     malts,
		graph:     graph,
		embedder:  embedder,
		extractor: extractor,
		settings:  pipelineSettings,
		progress:  NewProgress(),
		events:    events,
	}
}

// Progress exposes the in-process progress tracker
func (s *Service) Progress() *Progress {
	return s.progress
}

// RunResult reports the outcome of a pipeline run
type RunResult struct {
	Skipped   bool `json:"skipped"`
	Distilled int  `json:"distilled"`
	Casked    int  `json:"casked"`
}

// Run executes the distill and cask phases sequentially. A run triggered
// while another is in flight is skipped. The progress state always returns
// to idle, even when a phase fails; the error is still returned to the
// caller after recording an empty result.
func (s *Service) Run(ctx context.Context) (RunResult, error) {
	if !s.progress.TryStart() {
		log.Printf("Pipeline already running, skipping")
		return RunResult{Skipped: true}, nil
	}

	distilled, err := s.distill(ctx)
	if err != nil {
		s.progress.Finish(0, 0)
		s.publish(ctx, models.EventTypePipelineFailed, nil, err)
		return RunResult{}, fmt.Errorf("distill phase failed: %w", err)
	}

	s.progress.EnterPhase(PhaseCask)
	casked, err := s.cask(ctx)
	if err != nil {
		s.progress.Finish(0, 0)
		s.publish(ctx, models.EventTypePipelineFailed, nil, err)
		return RunResult{}, fmt.Errorf("cask phase failed: %w", err)
	}

	s.progress.Finish(distilled, casked)
	s.publish(ctx, models.EventTypePipelineCompleted, map[string]int{
		"distilled": distilled,
		"casked":    casked,
	}, nil)

	return RunResult{Distilled: distilled, Casked: casked}, nil
}

// ReEmbed resets every casked malt for a full re-embedding pass: back to the
// pre-distillation state with the embedding cleared. Graph edges are kept.
func (s *Service) ReEmbed(ctx context.Context) (int, error) {
	affected, err := s.malts.ResetForReEmbed(ctx)
	if err != nil {
		return 0, err
	}
	log.Printf("Re-embed reset complete: %d malts affected", affected)
	return affected, nil
}

// ReExtract resets every casked malt for relation re-extraction: back to
// DISTILLED with embeddings kept, and all AI-inferred edges removed.
func (s *Service) ReExtract(ctx context.Context) (affected, edgesDeleted int, err error) {
	affected, err = s.malts.ResetForReExtract(ctx)
	if err != nil {
		return 0, 0, err
	}

	edgesDeleted, err = s.graph.DeleteEdgesByProvenance(ctx, models.ProvenanceAI)
	if err != nil {
		return affected, 0, err
	}

	log.Printf("Re-extract reset complete: %d malts affected, %d ai edges deleted", affected, edgesDeleted)
	return affected, edgesDeleted, nil
}

// currentSettings reads cached pipeline settings, falling back to defaults
// so a settings store outage never stalls a run already in flight
func (s *Service) currentSettings(ctx context.Context) settings.PipelineSettings {
	ps, err := s.settings.Get(ctx)
	if err != nil {
		log.Printf("Failed to read pipeline settings, using defaults: %v", err)
		return settings.DefaultPipelineSettings()
	}
	return ps
}

func (s *Service) publish(ctx context.Context, eventType models.EventType, counts map[string]int, runErr error) {
	if s.events == nil {
		return
	}

	event := models.NewPipelineEvent(eventType, counts)
	if runErr != nil {
		event.Error = runErr.Error()
	}
	if err := s.events.Publish(ctx, event); err != nil {
		log.Printf("Failed to publish pipeline event %s: %v", eventType, err)
	}
}
