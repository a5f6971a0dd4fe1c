package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thisal-thulnith/agent-flow-sub001/internal/answer"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/builder"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/ingestion"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/schema"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single builder or chat turn, model call included.
	ChatTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's Prometheus metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// builderEngine is the interface handleBuilderTurn calls to advance a profile
// interview. *builder.Engine satisfies it; tests inject a fake.
type builderEngine interface {
	Step(ctx context.Context, record schema.ExtractionRecord, transcript schema.Transcript, message string) (*builder.Turn, error)
}

// chatEngine is the interface handleAgentChat calls to answer a customer turn.
// *answer.Engine satisfies it; tests inject a fake.
type chatEngine interface {
	Chat(ctx context.Context, req answer.Request) (*answer.Response, error)
}

// ingestor is the interface handleIngest calls to run the knowledge pipeline.
// *ingestion.Pipeline satisfies it; tests inject a fake.
type ingestor interface {
	Ingest(ctx context.Context, agentID string, src ingestion.Source) (*ingestion.Result, error)
}

// knowledgeStore is the slice of the vector store the knowledge endpoints
// need. *rag.QdrantStore satisfies it.
type knowledgeStore interface {
	Count(ctx context.Context, agentID string) (uint64, error)
	DeleteSource(ctx context.Context, agentID, sourceID string) error
	DeleteAgent(ctx context.Context, agentID string) error
}

// agentStore is the slice of the relational store the handlers need.
// *store.SQLiteStore satisfies it.
type agentStore interface {
	SaveAgent(ctx context.Context, id string, profile schema.ExtractionRecord) error
	GetAgent(ctx context.Context, id string) (schema.ExtractionRecord, error)
	AppendTurn(ctx context.Context, agentID, sessionID string, role schema.Role, content string) error
	RecentTurns(ctx context.Context, agentID, sessionID string, n int) (schema.Transcript, error)
	UpsertSource(ctx context.Context, agentID, sourceID, kind, name string, chunkCount int) error
	DeleteSource(ctx context.Context, agentID, sourceID string) error
	Sources(ctx context.Context, agentID string) ([]store.SourceRecord, error)
	IncrementStat(ctx context.Context, agentID, metric string) error
}

// Deps bundles the collaborators the server routes requests to.
type Deps struct {
	// Builder advances agent-profile interviews (POST /api/builder/turn).
	Builder builderEngine
	// Answerer answers customer chat turns (POST /api/agents/{id}/chat).
	Answerer chatEngine
	// Ingestor runs the knowledge pipeline (POST /api/agents/{id}/ingest).
	Ingestor ingestor
	// Knowledge is the vector store behind the knowledge endpoints.
	Knowledge knowledgeStore
	// DB persists agents, conversations, leads, and the source ledger.
	DB agentStore
}

// Server is the HTTP server that exposes the agent platform API.
type Server struct {
	// deps holds the engines and stores the handlers delegate to.
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// builderTurnRequest is the JSON body for POST /api/builder/turn.
type builderTurnRequest struct {
	// AgentID is the agent being built. Empty on the first turn; assigned by
	// the server when the interview completes.
	AgentID string `json:"agent_id,omitempty"`
	// Profile is the extraction record accumulated so far.
	Profile schema.ExtractionRecord `json:"profile,omitempty"`
	// History is the interview transcript so far.
	History schema.Transcript `json:"history,omitempty"`
	// Message is the operator's latest message.
	Message string `json:"message"`
}

// builderTurnResponse is the JSON response for POST /api/builder/turn.
type builderTurnResponse struct {
	// AgentID is set once the interview completes and the agent is persisted.
	AgentID string `json:"agent_id,omitempty"`
	// Profile is the updated extraction record.
	Profile schema.ExtractionRecord `json:"profile"`
	// Reply is the assistant's next message to the operator.
	Reply string `json:"reply"`
	// History is the transcript including this turn.
	History schema.Transcript `json:"history"`
	// Complete is true when the profile is finished and the agent was saved.
	Complete bool `json:"complete"`
}

// agentChatRequest is the JSON body for POST /api/agents/{id}/chat.
type agentChatRequest struct {
	// SessionID groups turns of one customer conversation.
	SessionID string `json:"session_id"`
	// Message is the customer's message.
	Message string `json:"message"`
}

// knowledgeResponse is the JSON response for GET /api/agents/{id}/knowledge.
type knowledgeResponse struct {
	// AgentID is the agent whose knowledge base was inspected.
	AgentID string `json:"agent_id"`
	// ChunkCount is the total number of chunks stored for the agent.
	ChunkCount uint64 `json:"chunk_count"`
	// Sources is the ingestion ledger for the agent.
	Sources []store.SourceRecord `json:"sources"`
}

// deleteResponse is the JSON response for DELETE /api/agents/{id}/knowledge.
type deleteResponse struct {
	// AgentID is the agent whose knowledge was deleted.
	AgentID string `json:"agent_id"`
	// SourceID is the single source removed, or empty when the whole
	// knowledge base was cleared.
	SourceID string `json:"source_id,omitempty"`
	// Deleted is always true on success.
	Deleted bool `json:"deleted"`
}

// errorResponse is the JSON body for all non-2xx API responses.
type errorResponse struct {
	// Error is the human-readable failure reason.
	Error string `json:"error"`
}
