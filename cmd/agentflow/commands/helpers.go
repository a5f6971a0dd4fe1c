package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/cloudwego/eino/components/model"

	"github.com/thisal-thulnith/agent-flow-sub001/internal/embedder"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/ingestion"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/llm"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/provider"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/rag"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/store"
)

// defaultCollection is the Qdrant collection used when QDRANT_COLLECTION is
// unset.
const defaultCollection = "agentflow-knowledge"

// completionTimeout bounds a single model call made from the CLI.
const completionTimeout = 90 * time.Second

// newCompleter constructs the chat model from the environment and wraps it in
// the completion client used by the builder and answering engines. The raw
// model is returned as well for readiness probes.
func newCompleter(ctx context.Context) (*llm.ChatCompleter, model.ToolCallingChatModel, error) {
	chatModel, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	completer, err := llm.NewChatCompleter(chatModel, completionTimeout)
	if err != nil {
		return nil, nil, err
	}
	return completer, chatModel, nil
}

// newVectorStore connects to Qdrant using the environment configuration and
// ensures the knowledge collection exists. The vector size follows the
// configured embedding backend.
func newVectorStore(ctx context.Context, log *slog.Logger) (*rag.QdrantStore, error) {
	host := getEnvOrDefault("QDRANT_HOST", "localhost")
	port := getEnvInt("QDRANT_PORT", 6334)
	collection := getEnvOrDefault("QDRANT_COLLECTION", defaultCollection)
	embBackend := getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))
	vectorSize := uint64(embedder.DefaultDimensions(embBackend)) //nolint:gosec // dimensions are bounded

	qstore, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       host,
		Port:       port,
		Collection: collection,
		VectorSize: vectorSize,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
	}
	log.Info("qdrant store ready",
		slog.String("host", host),
		slog.Int("port", port),
		slog.String("collection", collection),
	)
	return qstore, nil
}

// knowledgeConfigFromEnv builds the ingestion pipeline configuration from the
// CHUNK_* environment variables. Zero values select the pipeline defaults.
func knowledgeConfigFromEnv() *ingestion.Config {
	return &ingestion.Config{
		ChunkSize:    getEnvInt("CHUNK_SIZE", 0),
		ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 0),
		MinChunkLen:  getEnvInt("MIN_CHUNK_LENGTH", 0),
	}
}

// retrievalTopK returns the configured retrieval depth (default 3).
func retrievalTopK() int {
	return getEnvInt("RETRIEVAL_TOP_K", 3)
}

// similarityThreshold returns the configured minimum similarity score
// (default 0.7).
func similarityThreshold() float32 {
	return getEnvFloat32("SIMILARITY_THRESHOLD", 0.7)
}

// openDatabase opens the SQLite store at AGENTFLOW_DB (default
// ~/.agentflow/agentflow.db). Returns nil without error when persistence is
// disabled via AGENTFLOW_DB=disabled or the path cannot be resolved.
func openDatabase(log *slog.Logger) *store.SQLiteStore {
	dbPath := os.Getenv("AGENTFLOW_DB")
	if dbPath == "disabled" {
		log.Info("database: disabled via AGENTFLOW_DB=disabled")
		return nil
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("database: could not resolve default path, disabling", slog.Any("error", err))
			return nil
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		log.Warn("database: failed to open, disabling", slog.Any("error", err))
		return nil
	}
	log.Info("database: store opened", slog.String("path", dbPath))
	return db
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat32 returns the float32 value of the named environment variable,
// or fallback if the variable is unset, empty, or not parseable.
func getEnvFloat32(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}
