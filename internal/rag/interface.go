// Package rag defines the retrieval contracts shared by the ingestion
// pipeline and the answering engine: the knowledge chunk record, the
// tenant-partitioned vector store, embedding, and threshold-gated retrieval.
// Concrete implementations (Qdrant, in-memory fakes in tests) satisfy these
// interfaces so the engines never depend on a specific backend.
package rag

import (
	"context"
	"errors"
)

// Chunk is one bounded span of source text prepared for embedding and
// retrieval. Chunks are immutable after creation and are destroyed only by
// a cascading delete on their agent or source.
type Chunk struct {
	// ID is the stable point identifier in the vector store.
	ID string

	// AgentID is the owning tenant. Every store operation is scoped by it;
	// a chunk is never visible outside its agent's partition.
	AgentID string

	// SourceID identifies the originating document, URL, or FAQ set.
	SourceID string

	// Seq is the chunk's position within its source.
	Seq int

	// Text is the chunk content.
	Text string
}

// Match pairs a retrieved chunk with its similarity score (0.0–1.0 for
// cosine similarity over normalized embeddings).
type Match struct {
	Chunk Chunk
	Score float32
}

// ErrNoRelevantKnowledge is returned by Retriever.Retrieve when no stored
// chunk clears the similarity threshold. It is a routing signal, not a
// failure: callers switch to the profile-only answering path.
var ErrNoRelevantKnowledge = errors.New("rag: no relevant knowledge above threshold")

// VectorStore is the tenant-partitioned chunk store. The agent id is a
// mandatory argument on every read and delete — partitioning is structural,
// not a convention callers may forget. Implementations must be safe for
// concurrent use.
type VectorStore interface {
	// Upsert writes chunks with their pre-computed embeddings.
	// embeddings[i] is the vector for chunks[i].
	Upsert(ctx context.Context, chunks []Chunk, embeddings [][]float32) error

	// Query returns the topK nearest chunks owned by agentID, descending by
	// similarity. Chunks of other agents are never returned.
	Query(ctx context.Context, agentID string, embedding []float32, topK int) ([]Match, error)

	// DeleteSource removes every chunk of one (agent, source) pair.
	DeleteSource(ctx context.Context, agentID, sourceID string) error

	// DeleteAgent removes every chunk owned by agentID.
	DeleteAgent(ctx context.Context, agentID string) error

	// Count returns the number of chunks stored for agentID.
	Count(ctx context.Context, agentID string) (uint64, error)

	// Close releases any resources held by the store.
	Close() error
}

// Embedder converts text into dense vector embeddings. The returned slice
// is parallel to the input. Implementations must be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever is the high-level read path used by the answering engine:
// embed the query, search the caller's tenant partition, and gate the
// results on a minimum similarity score.
type Retriever interface {
	// Retrieve returns the topK most relevant matches for query within
	// agentID's partition. Returns ErrNoRelevantKnowledge when nothing
	// clears the configured threshold.
	Retrieve(ctx context.Context, agentID, query string, topK int) ([]Match, error)
}
