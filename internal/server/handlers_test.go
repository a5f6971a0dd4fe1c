package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thisal-thulnith/agent-flow-sub001/internal/answer"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/builder"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/ingestion"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/schema"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/store"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeBuilder is a test double for the builder engine.
type fakeBuilder struct {
	turn *builder.Turn
	err  error
}

func (f *fakeBuilder) Step(_ context.Context, record schema.ExtractionRecord, transcript schema.Transcript, message string) (*builder.Turn, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.turn != nil {
		return f.turn, nil
	}
	return &builder.Turn{
		Record:     record,
		Reply:      "What products do you sell?",
		Transcript: transcript.Append(schema.RoleUser, message).Append(schema.RoleAssistant, "What products do you sell?"),
	}, nil
}

// fakeAnswerer is a test double for the chat engine. It records the request
// it was called with.
type fakeAnswerer struct {
	resp   *answer.Response
	err    error
	called bool
	gotReq answer.Request
}

func (f *fakeAnswerer) Chat(_ context.Context, req answer.Request) (*answer.Response, error) {
	f.called = true
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &answer.Response{Reply: "We ship worldwide.", Grounded: true, Intent: answer.IntentProductInquiry}, nil
}

// fakeIngestor is a test double for the ingestion pipeline.
type fakeIngestor struct {
	result     *ingestion.Result
	err        error
	gotAgentID string
	gotSrc     ingestion.Source
}

func (f *fakeIngestor) Ingest(_ context.Context, agentID string, src ingestion.Source) (*ingestion.Result, error) {
	f.gotAgentID = agentID
	f.gotSrc = src
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &ingestion.Result{SourceID: "src-1", ChunkCount: 4}, nil
}

// fakeKnowledge is a test double for the vector-store slice the knowledge
// endpoints use.
type fakeKnowledge struct {
	count          uint64
	err            error
	deletedSources []string
	deletedAgents  []string
}

func (f *fakeKnowledge) Count(_ context.Context, _ string) (uint64, error) {
	return f.count, f.err
}

func (f *fakeKnowledge) DeleteSource(_ context.Context, _, sourceID string) error {
	if f.err != nil {
		return f.err
	}
	f.deletedSources = append(f.deletedSources, sourceID)
	return nil
}

func (f *fakeKnowledge) DeleteAgent(_ context.Context, agentID string) error {
	if f.err != nil {
		return f.err
	}
	f.deletedAgents = append(f.deletedAgents, agentID)
	return nil
}

// fakeDB is an in-memory agentStore.
type fakeDB struct {
	agents  map[string]schema.ExtractionRecord
	turns   []string
	sources map[string]store.SourceRecord
	stats   map[string]int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		agents:  make(map[string]schema.ExtractionRecord),
		sources: make(map[string]store.SourceRecord),
		stats:   make(map[string]int),
	}
}

func (f *fakeDB) SaveAgent(_ context.Context, id string, profile schema.ExtractionRecord) error {
	f.agents[id] = profile
	return nil
}

func (f *fakeDB) GetAgent(_ context.Context, id string) (schema.ExtractionRecord, error) {
	p, ok := f.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %q: %w", id, store.ErrNotFound)
	}
	return p, nil
}

func (f *fakeDB) AppendTurn(_ context.Context, agentID, sessionID string, role schema.Role, content string) error {
	f.turns = append(f.turns, fmt.Sprintf("%s/%s/%s: %s", agentID, sessionID, role, content))
	return nil
}

func (f *fakeDB) RecentTurns(_ context.Context, _, _ string, _ int) (schema.Transcript, error) {
	return nil, nil
}

func (f *fakeDB) UpsertSource(_ context.Context, agentID, sourceID, kind, name string, chunkCount int) error {
	f.sources[agentID+"/"+sourceID] = store.SourceRecord{
		SourceID: sourceID, Kind: kind, Name: name, ChunkCount: chunkCount, IngestedAt: time.Now(),
	}
	return nil
}

func (f *fakeDB) DeleteSource(_ context.Context, agentID, sourceID string) error {
	delete(f.sources, agentID+"/"+sourceID)
	return nil
}

func (f *fakeDB) Sources(_ context.Context, agentID string) ([]store.SourceRecord, error) {
	var out []store.SourceRecord
	for key, rec := range f.sources {
		if strings.HasPrefix(key, agentID+"/") {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeDB) IncrementStat(_ context.Context, agentID, metric string) error {
	f.stats[agentID+"/"+metric]++
	return nil
}

// newTestServer builds a *Server with fake collaborators and an isolated
// metrics registry.
func newTestServer() *Server {
	return &Server{
		deps: Deps{
			Builder:  &fakeBuilder{},
			Answerer: &fakeAnswerer{},
			Ingestor: &fakeIngestor{},
		},
		cfg:     &Config{ChatTimeout: time.Minute},
		log:     slog.Default(),
		metrics: newServerMetrics(prometheus.NewRegistry()),
	}
}

// ---------------------------------------------------------------------------
// POST /api/builder/turn
// ---------------------------------------------------------------------------

func TestHandleBuilderTurn_AdvancesInterview(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/builder/turn",
		strings.NewReader(`{"message":"We sell espresso machines"}`))
	w := httptest.NewRecorder()

	s.handleBuilderTurn(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp builderTurnResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Complete {
		t.Error("expected complete:false mid-interview")
	}
	if resp.AgentID != "" {
		t.Errorf("expected no agent id mid-interview, got %q", resp.AgentID)
	}
	if resp.Reply == "" {
		t.Error("expected a non-empty reply")
	}
	if len(resp.History) != 2 {
		t.Errorf("expected transcript of 2 turns, got %d", len(resp.History))
	}
}

func TestHandleBuilderTurn_CompletionPersistsAgent(t *testing.T) {
	t.Parallel()

	profile := schema.NewExtractionRecord()
	profile[schema.FieldCompanyName] = "Bean Dreams"

	db := newFakeDB()
	s := newTestServer()
	s.deps.DB = db
	s.deps.Builder = &fakeBuilder{turn: &builder.Turn{
		Record:   profile,
		Reply:    "Your agent is ready.",
		Complete: true,
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/builder/turn",
		strings.NewReader(`{"message":"yes, create it"}`))
	w := httptest.NewRecorder()

	s.handleBuilderTurn(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp builderTurnResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Complete {
		t.Error("expected complete:true")
	}
	if resp.AgentID == "" {
		t.Fatal("expected an assigned agent id")
	}
	saved, ok := db.agents[resp.AgentID]
	if !ok {
		t.Fatalf("agent %q not persisted", resp.AgentID)
	}
	if saved[schema.FieldCompanyName] != "Bean Dreams" {
		t.Errorf("persisted profile missing company name: %v", saved)
	}
}

func TestHandleBuilderTurn_KeepsExplicitAgentID(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	s := newTestServer()
	s.deps.DB = db
	s.deps.Builder = &fakeBuilder{turn: &builder.Turn{
		Record:   schema.NewExtractionRecord(),
		Complete: true,
	}}

	req := httptest.NewRequest(http.MethodPost, "/api/builder/turn",
		strings.NewReader(`{"agent_id":"agent-7","message":"yes"}`))
	w := httptest.NewRecorder()

	s.handleBuilderTurn(w, req)

	var resp builderTurnResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AgentID != "agent-7" {
		t.Errorf("expected agent id to be preserved, got %q", resp.AgentID)
	}
	if _, ok := db.agents["agent-7"]; !ok {
		t.Error("expected agent-7 to be persisted")
	}
}

func TestHandleBuilderTurn_InvalidJSON(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/builder/turn", strings.NewReader(`not-json`))
	w := httptest.NewRecorder()

	s.handleBuilderTurn(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleBuilderTurn_EmptyMessage(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.deps.Builder = &fakeBuilder{err: &schema.ValidationError{Field: "message", Reason: "must not be empty"}}
	req := httptest.NewRequest(http.MethodPost, "/api/builder/turn", strings.NewReader(`{"message":""}`))
	w := httptest.NewRecorder()

	s.handleBuilderTurn(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /api/agents/{id}/ingest
// ---------------------------------------------------------------------------

func ingestRequest(agentID, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/agents/"+agentID+"/ingest", strings.NewReader(body))
	req.SetPathValue("id", agentID)
	return req
}

func TestHandleIngest_Document(t *testing.T) {
	t.Parallel()

	ing := &fakeIngestor{}
	db := newFakeDB()
	s := newTestServer()
	s.deps.Ingestor = ing
	s.deps.DB = db

	w := httptest.NewRecorder()
	s.handleIngest(w, ingestRequest("agent-1", `{"name":"pricing.txt","text":"Our plans start at $29/mo."}`))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	if ing.gotAgentID != "agent-1" {
		t.Errorf("agent id: expected agent-1, got %q", ing.gotAgentID)
	}
	if ing.gotSrc.Kind != ingestion.KindDocument {
		t.Errorf("expected inferred kind document, got %q", ing.gotSrc.Kind)
	}
	if _, ok := db.sources["agent-1/src-1"]; !ok {
		t.Error("expected source ledger entry after ingest")
	}
}

func TestHandleIngest_InfersURLKind(t *testing.T) {
	t.Parallel()

	ing := &fakeIngestor{}
	s := newTestServer()
	s.deps.Ingestor = ing

	w := httptest.NewRecorder()
	s.handleIngest(w, ingestRequest("agent-1", `{"name":"homepage","url":"https://example.com"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ing.gotSrc.Kind != ingestion.KindURL {
		t.Errorf("expected inferred kind url, got %q", ing.gotSrc.Kind)
	}
}

func TestHandleIngest_ValidationError(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.deps.Ingestor = &fakeIngestor{err: &schema.ValidationError{Field: "text", Reason: "must not be empty"}}

	w := httptest.NewRecorder()
	s.handleIngest(w, ingestRequest("agent-1", `{"name":"empty.txt"}`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestHandleIngest_PipelineFailure(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.deps.Ingestor = &fakeIngestor{err: errors.New("qdrant unreachable")}

	w := httptest.NewRecorder()
	s.handleIngest(w, ingestRequest("agent-1", `{"name":"doc","text":"content"}`))

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestHandleIngest_BadAgentID(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/agents/%20/ingest", strings.NewReader(`{}`))
	req.SetPathValue("id", "   ")
	w := httptest.NewRecorder()

	s.handleIngest(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /api/agents/{id}/chat
// ---------------------------------------------------------------------------

func chatRequest(agentID, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/agents/"+agentID+"/chat", strings.NewReader(body))
	req.SetPathValue("id", agentID)
	return req
}

func TestHandleAgentChat_Success(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	profile := schema.NewExtractionRecord()
	profile[schema.FieldCompanyName] = "Bean Dreams"
	db.agents["agent-1"] = profile

	ans := &fakeAnswerer{}
	s := newTestServer()
	s.deps.Answerer = ans
	s.deps.DB = db

	w := httptest.NewRecorder()
	s.handleAgentChat(w, chatRequest("agent-1", `{"session_id":"sess-1","message":"Do you ship to Canada?"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp answer.Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Reply == "" {
		t.Error("expected a non-empty reply")
	}
	if ans.gotReq.AgentID != "agent-1" {
		t.Errorf("engine got agent id %q", ans.gotReq.AgentID)
	}
	if ans.gotReq.Profile[schema.FieldCompanyName] != "Bean Dreams" {
		t.Error("expected the stored profile to reach the engine")
	}
	// Both sides of the exchange must be persisted.
	if len(db.turns) != 2 {
		t.Fatalf("expected 2 persisted turns, got %d: %v", len(db.turns), db.turns)
	}
	if !strings.Contains(db.turns[0], "user: Do you ship to Canada?") {
		t.Errorf("first persisted turn: %q", db.turns[0])
	}
	if db.stats["agent-1/conversations"] != 1 {
		t.Errorf("expected conversations stat = 1, got %d", db.stats["agent-1/conversations"])
	}
}

func TestHandleAgentChat_AgentNotFound(t *testing.T) {
	t.Parallel()

	s := newTestServer()
	s.deps.DB = newFakeDB()

	w := httptest.NewRecorder()
	s.handleAgentChat(w, chatRequest("ghost", `{"session_id":"s","message":"hi there"}`))

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleAgentChat_EngineError(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	db.agents["agent-1"] = schema.NewExtractionRecord()

	s := newTestServer()
	s.deps.DB = db
	s.deps.Answerer = &fakeAnswerer{err: errors.New("model unavailable")}

	w := httptest.NewRecorder()
	s.handleAgentChat(w, chatRequest("agent-1", `{"session_id":"s","message":"question"}`))

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
	if len(db.turns) != 0 {
		t.Errorf("expected no persisted turns on failure, got %v", db.turns)
	}
}

func TestHandleAgentChat_EmptyMessage(t *testing.T) {
	t.Parallel()

	s := newTestServer()

	w := httptest.NewRecorder()
	s.handleAgentChat(w, chatRequest("agent-1", `{"session_id":"s","message":"  "}`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// GET + DELETE /api/agents/{id}/knowledge
// ---------------------------------------------------------------------------

func knowledgeRequest(method, agentID, query string) *http.Request {
	req := httptest.NewRequest(method, "/api/agents/"+agentID+"/knowledge"+query, nil)
	req.SetPathValue("id", agentID)
	return req
}

func TestHandleKnowledgeList(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	_ = db.UpsertSource(context.Background(), "agent-1", "src-1", "document", "pricing.txt", 4)

	s := newTestServer()
	s.deps.Knowledge = &fakeKnowledge{count: 4}
	s.deps.DB = db

	w := httptest.NewRecorder()
	s.handleKnowledgeList(w, knowledgeRequest(http.MethodGet, "agent-1", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}

	var resp knowledgeResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ChunkCount != 4 {
		t.Errorf("chunk count: expected 4, got %d", resp.ChunkCount)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].SourceID != "src-1" {
		t.Errorf("sources: %+v", resp.Sources)
	}
}

func TestHandleKnowledgeDelete_SingleSource(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	_ = db.UpsertSource(context.Background(), "agent-1", "src-1", "document", "a", 2)
	_ = db.UpsertSource(context.Background(), "agent-1", "src-2", "document", "b", 3)

	kn := &fakeKnowledge{}
	s := newTestServer()
	s.deps.Knowledge = kn
	s.deps.DB = db

	w := httptest.NewRecorder()
	s.handleKnowledgeDelete(w, knowledgeRequest(http.MethodDelete, "agent-1", "?source=src-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	if len(kn.deletedSources) != 1 || kn.deletedSources[0] != "src-1" {
		t.Errorf("deleted sources: %v", kn.deletedSources)
	}
	if len(kn.deletedAgents) != 0 {
		t.Error("expected no agent-wide delete")
	}
	if _, ok := db.sources["agent-1/src-1"]; ok {
		t.Error("expected ledger entry for src-1 to be removed")
	}
	if _, ok := db.sources["agent-1/src-2"]; !ok {
		t.Error("expected ledger entry for src-2 to survive")
	}
}

func TestHandleKnowledgeDelete_WholeAgent(t *testing.T) {
	t.Parallel()

	db := newFakeDB()
	_ = db.UpsertSource(context.Background(), "agent-1", "src-1", "document", "a", 2)
	_ = db.UpsertSource(context.Background(), "agent-1", "src-2", "url", "b", 3)

	kn := &fakeKnowledge{}
	s := newTestServer()
	s.deps.Knowledge = kn
	s.deps.DB = db

	w := httptest.NewRecorder()
	s.handleKnowledgeDelete(w, knowledgeRequest(http.MethodDelete, "agent-1", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d — body: %s", w.Code, w.Body.String())
	}
	if len(kn.deletedAgents) != 1 || kn.deletedAgents[0] != "agent-1" {
		t.Errorf("deleted agents: %v", kn.deletedAgents)
	}
	if len(db.sources) != 0 {
		t.Errorf("expected empty ledger, got %v", db.sources)
	}
}

func TestHandleKnowledge_StoreNotConfigured(t *testing.T) {
	t.Parallel()

	s := newTestServer()

	w := httptest.NewRecorder()
	s.handleKnowledgeList(w, knowledgeRequest(http.MethodGet, "agent-1", ""))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}
