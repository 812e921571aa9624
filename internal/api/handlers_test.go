package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cooperage/internal/config"
	"github.com/cooperage/internal/pipeline"
	"github.com/cooperage/internal/search"
	"github.com/cooperage/internal/settings"
	"github.com/cooperage/pkg/models"
)

type mockPipeline struct {
	progress  *pipeline.Progress
	runFn     func(ctx context.Context) (pipeline.RunResult, error)
	backfill  pipeline.BackfillResult
	reEmbed   int
	reExtract [2]int
}

func (m *mockPipeline) Run(ctx context.Context) (pipeline.RunResult, error) {
	if m.runFn != nil {
		return m.runFn(ctx)
	}
	return pipeline.RunResult{}, nil
}

func (m *mockPipeline) Backfill(ctx context.Context) (pipeline.BackfillResult, error) {
	return m.backfill, nil
}

func (m *mockPipeline) ReEmbed(ctx context.Context) (int, error) {
	return m.reEmbed, nil
}

func (m *mockPipeline) ReExtract(ctx context.Context) (int, int, error) {
	return m.reExtract[0], m.reExtract[1], nil
}

func (m *mockPipeline) Progress() *pipeline.Progress {
	return m.progress
}

type mockSearcher struct {
	searchFn  func(query string, opts search.Options) (models.SearchResult, error)
	keywordFn func(query string, limit int) (models.SearchResult, error)
}

func (m *mockSearcher) Search(ctx context.Context, query string, opts search.Options) (models.SearchResult, error) {
	if m.searchFn != nil {
		return m.searchFn(query, opts)
	}
	return models.SearchResult{QueryType: models.QueryExploratory}, nil
}

func (m *mockSearcher) Keyword(ctx context.Context, query string, limit int) (models.SearchResult, error) {
	if m.keywordFn != nil {
		return m.keywordFn(query, limit)
	}
	return models.SearchResult{QueryType: models.QueryExploratory}, nil
}

type mockRescheduler struct {
	calls int
}

func (m *mockRescheduler) Reschedule(ctx context.Context) { m.calls++ }

type mockMaltStore struct {
	pingErr   error
	createErr error
	created   []models.Malt
}

func (m *mockMaltStore) CreateMalt(ctx context.Context, malt models.Malt) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, malt)
	return nil
}

func (m *mockMaltStore) Ping(ctx context.Context) error { return m.pingErr }

type mockGraphBrowser struct {
	pingErr      error
	viewFn       func(relationType, provenance string, limit int) ([]models.KnowledgeNode, []models.GraphEdgeResult, error)
	expandFn     func(id string, depth int) ([]models.KnowledgeNode, []models.GraphEdgeResult, error)
	upsertFn     func(sourceID, targetID string, relation models.RelationType) (bool, error)
	deleteFn     func(sourceID, targetID string) (bool, error)
	updateNodeFn func(id string, update models.NodeUpdate) (*models.KnowledgeNode, error)
}

func (m *mockGraphBrowser) GraphView(ctx context.Context, relationType, provenance string, limit int) ([]models.KnowledgeNode, []models.GraphEdgeResult, error) {
	if m.viewFn != nil {
		return m.viewFn(relationType, provenance, limit)
	}
	return nil, nil, nil
}

func (m *mockGraphBrowser) ExpandSubgraph(ctx context.Context, id string, depth int) ([]models.KnowledgeNode, []models.GraphEdgeResult, error) {
	if m.expandFn != nil {
		return m.expandFn(id, depth)
	}
	return nil, nil, nil
}

func (m *mockGraphBrowser) UpsertHumanEdge(ctx context.Context, sourceID, targetID string, relation models.RelationType) (bool, error) {
	if m.upsertFn != nil {
		return m.upsertFn(sourceID, targetID, relation)
	}
	return true, nil
}

func (m *mockGraphBrowser) DeleteEdge(ctx context.Context, sourceID, targetID string) (bool, error) {
	if m.deleteFn != nil {
		return m.deleteFn(sourceID, targetID)
	}
	return true, nil
}

func (m *mockGraphBrowser) UpdateNodeFields(ctx context.Context, id string, update models.NodeUpdate) (*models.KnowledgeNode, error) {
	if m.updateNodeFn != nil {
		return m.updateNodeFn(id, update)
	}
	return &models.KnowledgeNode{ID: id}, nil
}

func (m *mockGraphBrowser) Ping(ctx context.Context) error { return m.pingErr }

type memPipelineSettingsStore struct {
	current settings.PipelineSettings
}

func (s *memPipelineSettingsStore) GetPipelineSettings(ctx context.Context) (settings.PipelineSettings, error) {
	return s.current, nil
}

func (s *memPipelineSettingsStore) UpdatePipelineSettings(ctx context.Context, u settings.PipelineSettingsUpdate) (settings.PipelineSettings, error) {
	if u.IntervalMinutes != nil {
		s.current.IntervalMinutes = *u.IntervalMinutes
	}
	if u.SimilarityThreshold != nil {
		s.current.SimilarityThreshold = *u.SimilarityThreshold
	}
	if u.TopK != nil {
		s.current.TopK = *u.TopK
	}
	return s.current, nil
}

type memAISettingsStore struct {
	current settings.AISettings
}

func (s *memAISettingsStore) GetAISettings(ctx context.Context) (settings.AISettings, error) {
	return s.current, nil
}

func (s *memAISettingsStore) UpdateAISettings(ctx context.Context, u settings.AISettingsUpdate) (settings.AISettings, error) {
	if u.EmbeddingModel != nil {
		s.current.EmbeddingModel = *u.EmbeddingModel
	}
	if u.ChatProvider != nil {
		s.current.ChatProvider = *u.ChatProvider
	}
	if u.ChatModel != nil {
		s.current.ChatModel = *u.ChatModel
	}
	return s.current, nil
}

type testGateway struct {
	gateway   *Gateway
	pipeline  *mockPipeline
	searcher  *mockSearcher
	scheduler *mockRescheduler
	postgres  *mockMaltStore
	neo4j     *mockGraphBrowser
}

func newTestGateway() *testGateway {
	pipe := &mockPipeline{progress: pipeline.NewProgress()}
	searcher := &mockSearcher{}
	scheduler := &mockRescheduler{}
	postgres := &mockMaltStore{}
	neo4j := &mockGraphBrowser{}

	pipelineSettings := settings.NewPipelineService(&memPipelineSettingsStore{current: settings.DefaultPipelineSettings()})
	aiSettings := settings.NewAIService(&memAISettingsStore{current: settings.DefaultAISettings()})

	cfg := config.APIConfig{Host: "127.0.0.1", Port: 0}
	g := NewGateway(cfg, pipe, searcher, scheduler, pipelineSettings, aiSettings, nil, postgres, neo4j)

	return &testGateway{
		gateway:   g,
		pipeline:  pipe,
		searcher:  searcher,
		scheduler: scheduler,
		postgres:  postgres,
		neo4j:     neo4j,
	}
}

func (tg *testGateway) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	tg.gateway.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestHandleSearch(t *testing.T) {
	tg := newTestGateway()
	tg.searcher.searchFn = func(query string, opts search.Options) (models.SearchResult, error) {
		if query != "conflicting notes" {
			t.Errorf("unexpected query %q", query)
		}
		if opts.TopK != 7 {
			t.Errorf("expected topK 7, got %d", opts.TopK)
		}
		return models.SearchResult{
			QueryType: models.QueryStructural,
			Nodes:     []models.KnowledgeNode{{ID: "n1"}},
			Edges:     []models.GraphEdgeResult{},
		}, nil
	}

	rec := tg.do(t, "POST", "/api/v1/search", `{"query":"conflicting notes","top_k":7}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if !resp.Success {
		t.Errorf("expected success, got %+v", resp)
	}
}

func TestHandleSearch_MissingQuery(t *testing.T) {
	tg := newTestGateway()

	rec := tg.do(t, "POST", "/api/v1/search", `{}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandleKeywordSearch(t *testing.T) {
	tg := newTestGateway()
	var gotLimit int
	tg.searcher.keywordFn = func(query string, limit int) (models.SearchResult, error) {
		gotLimit = limit
		return models.SearchResult{QueryType: models.QueryExploratory}, nil
	}

	rec := tg.do(t, "GET", "/api/v1/search/keyword?q=react&limit=3", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotLimit != 3 {
		t.Errorf("expected limit 3, got %d", gotLimit)
	}
}

func TestHandleKeywordSearch_MissingQuery(t *testing.T) {
	tg := newTestGateway()

	rec := tg.do(t, "GET", "/api/v1/search/keyword", "")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandlePipelineStatus(t *testing.T) {
	tg := newTestGateway()
	tg.pipeline.progress.TryStart()

	rec := tg.do(t, "GET", "/api/v1/pipeline/status", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "running") {
		t.Errorf("expected running status in %s", rec.Body.String())
	}
}

func TestHandleTriggerPipeline_SkippedWhileRunning(t *testing.T) {
	tg := newTestGateway()
	tg.pipeline.progress.TryStart()

	rec := tg.do(t, "POST", "/api/v1/pipeline/trigger", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"skipped":true`) {
		t.Errorf("expected skipped response, got %s", rec.Body.String())
	}
}

func TestHandleTriggerPipeline_StartsWhenIdle(t *testing.T) {
	tg := newTestGateway()
	started := make(chan struct{})
	tg.pipeline.runFn = func(ctx context.Context) (pipeline.RunResult, error) {
		close(started)
		return pipeline.RunResult{}, nil
	}

	rec := tg.do(t, "POST", "/api/v1/pipeline/trigger", "")

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	<-started
}

func TestHandleReExtract(t *testing.T) {
	tg := newTestGateway()
	tg.pipeline.reExtract = [2]int{12, 34}

	rec := tg.do(t, "POST", "/api/v1/pipeline/re-extract", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"affected":12`) || !strings.Contains(body, `"edges_deleted":34`) {
		t.Errorf("unexpected body %s", body)
	}
}

func TestHandleUpdatePipelineSettings(t *testing.T) {
	tg := newTestGateway()

	rec := tg.do(t, "PATCH", "/api/v1/settings/pipeline", `{"interval_minutes":10}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if tg.scheduler.calls != 1 {
		t.Errorf("expected scheduler rescheduled once, got %d", tg.scheduler.calls)
	}
	if !strings.Contains(rec.Body.String(), `"interval_minutes":10`) {
		t.Errorf("expected updated settings in %s", rec.Body.String())
	}
}

func TestHandleUpdatePipelineSettings_RejectsOutOfRange(t *testing.T) {
	tg := newTestGateway()

	rec := tg.do(t, "PATCH", "/api/v1/settings/pipeline", `{"interval_minutes":120}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if tg.scheduler.calls != 0 {
		t.Errorf("rejected update must not reschedule, got %d calls", tg.scheduler.calls)
	}
}

func TestHandleUpdateAISettings_RejectsUnknownModel(t *testing.T) {
	tg := newTestGateway()

	rec := tg.do(t, "PATCH", "/api/v1/settings/ai", `{"chat_model":"made-up-model"}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandleHealth_Degraded(t *testing.T) {
	tg := newTestGateway()
	tg.neo4j.pingErr = errors.New("connection refused")

	rec := tg.do(t, "GET", "/api/v1/health", "")

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "connection refused") {
		t.Errorf("expected failure detail in %s", rec.Body.String())
	}
}

func TestHandleHealth_OK(t *testing.T) {
	tg := newTestGateway()

	rec := tg.do(t, "GET", "/api/v1/health", "")

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandleCreateMalt(t *testing.T) {
	tg := newTestGateway()

	rec := tg.do(t, "POST", "/api/v1/malts",
		`{"maltster_id":"m1","local_id":"note-7","type":"note","summary":"Raft leader election","memo":"from reading group"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(tg.postgres.created) != 1 {
		t.Fatalf("expected 1 stored malt, got %d", len(tg.postgres.created))
	}
	malt := tg.postgres.created[0]
	if malt.ID == "" {
		t.Error("expected a generated malt id")
	}
	if malt.Status != models.StatusDistilledReady {
		t.Errorf("expected new malt queued for distillation, got status %s", malt.Status)
	}
	if malt.Memo != "from reading group" {
		t.Errorf("expected memo carried over, got %q", malt.Memo)
	}
}

func TestHandleCreateMalt_MissingFields(t *testing.T) {
	tg := newTestGateway()

	rec := tg.do(t, "POST", "/api/v1/malts", `{"maltster_id":"m1","summary":"no local id"}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if len(tg.postgres.created) != 0 {
		t.Errorf("rejected request must not store a malt")
	}
}

func TestHandleGraphView_PassesFilters(t *testing.T) {
	tg := newTestGateway()
	var gotRelation, gotSource string
	var gotLimit int
	tg.neo4j.viewFn = func(relationType, provenance string, limit int) ([]models.KnowledgeNode, []models.GraphEdgeResult, error) {
		gotRelation, gotSource, gotLimit = relationType, provenance, limit
		return []models.KnowledgeNode{{ID: "n1"}}, nil, nil
	}

	rec := tg.do(t, "GET", "/api/v1/graph?relation_type=SUPPORTS&source=human&limit=50", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotRelation != "SUPPORTS" || gotSource != "human" || gotLimit != 50 {
		t.Errorf("unexpected filters %q %q %d", gotRelation, gotSource, gotLimit)
	}
	if !strings.Contains(rec.Body.String(), `"edges":[]`) {
		t.Errorf("expected empty edge list normalized in %s", rec.Body.String())
	}
}

func TestHandleGraphView_RejectsBadFilters(t *testing.T) {
	tg := newTestGateway()

	tests := []struct {
		name string
		path string
	}{
		{"unknown relation type", "/api/v1/graph?relation_type=CAUSES"},
		{"unknown source", "/api/v1/graph?source=robot"},
		{"limit out of range", "/api/v1/graph?limit=1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tg.do(t, "GET", tt.path, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestHandleGetNode_NotFound(t *testing.T) {
	tg := newTestGateway()
	tg.neo4j.expandFn = func(id string, depth int) ([]models.KnowledgeNode, []models.GraphEdgeResult, error) {
		return nil, nil, nil
	}

	rec := tg.do(t, "GET", "/api/v1/graph/node/missing", "")

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandleExpandNode_ClampsDepth(t *testing.T) {
	tg := newTestGateway()
	var gotDepth int
	tg.neo4j.expandFn = func(id string, depth int) ([]models.KnowledgeNode, []models.GraphEdgeResult, error) {
		gotDepth = depth
		return []models.KnowledgeNode{{ID: id}}, nil, nil
	}

	rec := tg.do(t, "GET", "/api/v1/graph/node/n1/expand?depth=9", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotDepth != 3 {
		t.Errorf("expected depth clamped to 3, got %d", gotDepth)
	}
}

func TestHandleCreateEdge(t *testing.T) {
	tg := newTestGateway()
	var gotSource, gotTarget string
	var gotRelation models.RelationType
	tg.neo4j.upsertFn = func(sourceID, targetID string, relation models.RelationType) (bool, error) {
		gotSource, gotTarget, gotRelation = sourceID, targetID, relation
		return true, nil
	}

	rec := tg.do(t, "POST", "/api/v1/graph/edge",
		`{"source_id":"n1","target_id":"n2","relation":"CONFLICTS_WITH"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotSource != "n1" || gotTarget != "n2" || gotRelation != models.RelationConflictsWith {
		t.Errorf("unexpected edge %s -> %s (%s)", gotSource, gotTarget, gotRelation)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"provenance":"human"`) || !strings.Contains(body, `"confidence":1`) {
		t.Errorf("expected human edge with confidence 1 in %s", body)
	}
}

func TestHandleCreateEdge_UnknownNode(t *testing.T) {
	tg := newTestGateway()
	tg.neo4j.upsertFn = func(sourceID, targetID string, relation models.RelationType) (bool, error) {
		return false, nil
	}

	rec := tg.do(t, "POST", "/api/v1/graph/edge",
		`{"source_id":"n1","target_id":"ghost","relation":"SUPPORTS"}`)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandleCreateEdge_InvalidRelation(t *testing.T) {
	tg := newTestGateway()

	rec := tg.do(t, "POST", "/api/v1/graph/edge",
		`{"source_id":"n1","target_id":"n2","relation":"CAUSES"}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandleUpdateEdge_NotFound(t *testing.T) {
	tg := newTestGateway()
	tg.neo4j.deleteFn = func(sourceID, targetID string) (bool, error) {
		return false, nil
	}

	rec := tg.do(t, "PUT", "/api/v1/graph/edge",
		`{"source_id":"n1","target_id":"n2","relation":"SUPPORTS"}`)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandleUpdateEdge_RetypesAsHuman(t *testing.T) {
	tg := newTestGateway()
	var upserts int
	tg.neo4j.upsertFn = func(sourceID, targetID string, relation models.RelationType) (bool, error) {
		upserts++
		return true, nil
	}

	rec := tg.do(t, "PUT", "/api/v1/graph/edge",
		`{"source_id":"n1","target_id":"n2","relation":"RELATED_TO"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if upserts != 1 {
		t.Errorf("expected 1 human edge upsert, got %d", upserts)
	}
	if !strings.Contains(rec.Body.String(), `"provenance":"human"`) {
		t.Errorf("expected human provenance in %s", rec.Body.String())
	}
}

func TestHandleDeleteEdge(t *testing.T) {
	tg := newTestGateway()
	var gotSource, gotTarget string
	tg.neo4j.deleteFn = func(sourceID, targetID string) (bool, error) {
		gotSource, gotTarget = sourceID, targetID
		return true, nil
	}

	rec := tg.do(t, "DELETE", "/api/v1/graph/edge?source_id=n1&target_id=n2", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotSource != "n1" || gotTarget != "n2" {
		t.Errorf("unexpected pair %s -> %s", gotSource, gotTarget)
	}
}

func TestHandleDeleteEdge_NotFound(t *testing.T) {
	tg := newTestGateway()
	tg.neo4j.deleteFn = func(sourceID, targetID string) (bool, error) {
		return false, nil
	}

	rec := tg.do(t, "DELETE", "/api/v1/graph/edge?source_id=n1&target_id=ghost", "")

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandleUpdateNode(t *testing.T) {
	tg := newTestGateway()
	tg.neo4j.updateNodeFn = func(id string, update models.NodeUpdate) (*models.KnowledgeNode, error) {
		if update.Summary == nil || *update.Summary != "rewritten" {
			t.Errorf("expected summary update, got %+v", update)
		}
		if update.Memo != nil {
			t.Error("memo must stay untouched when omitted")
		}
		return &models.KnowledgeNode{ID: id, Summary: *update.Summary}, nil
	}

	rec := tg.do(t, "PUT", "/api/v1/graph/node/n1", `{"summary":"rewritten"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "rewritten") {
		t.Errorf("expected updated node in %s", rec.Body.String())
	}
}

func TestHandleUpdateNode_EmptyUpdate(t *testing.T) {
	tg := newTestGateway()

	rec := tg.do(t, "PUT", "/api/v1/graph/node/n1", `{}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandleUpdateNode_NotFound(t *testing.T) {
	tg := newTestGateway()
	tg.neo4j.updateNodeFn = func(id string, update models.NodeUpdate) (*models.KnowledgeNode, error) {
		return nil, nil
	}

	rec := tg.do(t, "PUT", "/api/v1/graph/node/ghost", `{"memo":"x"}`)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
