package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// Payload keys stored with every point.
const (
	payloadText     = "text"
	payloadAgentID  = "agent_id"
	payloadSourceID = "source_id"
	payloadSeq      = "seq"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance. All chunks
// of all agents share one collection; tenant isolation is enforced by a
// mandatory agent_id payload filter on every query and delete.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// and its tenant payload indexes exist, and returns a ready-to-use VectorStore.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the collection and the keyword indexes backing the
// tenant filter if they do not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	// Keyword indexes make the mandatory agent/source filters cheap; without
	// them Qdrant rejects filtered deletes on large collections.
	for _, field := range []string{payloadAgentID, payloadSourceID} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.cfg.Collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("qdrant: failed to index payload field %q: %w", field, err)
		}
	}

	return nil
}

// tenantFilter builds the mandatory agent_id filter, optionally narrowed to
// one source. Every read and delete goes through it.
func tenantFilter(agentID, sourceID string) *qdrant.Filter {
	must := []*qdrant.Condition{
		qdrant.NewMatch(payloadAgentID, agentID),
	}
	if sourceID != "" {
		must = append(must, qdrant.NewMatch(payloadSourceID, sourceID))
	}
	return &qdrant.Filter{Must: must}
}

// Upsert stores chunks with their pre-computed embeddings.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("qdrant: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, c := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(map[string]interface{}{
				payloadText:     c.Text,
				payloadAgentID:  c.AgentID,
				payloadSourceID: c.SourceID,
				payloadSeq:      int64(c.Seq),
			}),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// Query performs a cosine similarity search restricted to agentID's partition
// and returns the top-k matches, descending by score.
func (s *QdrantStore) Query(ctx context.Context, agentID string, embedding []float32, topK int) ([]Match, error) {
	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit,
		Filter:         tenantFilter(agentID, ""),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query failed: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		m := Match{
			Score: r.Score,
			Chunk: Chunk{ID: r.Id.GetUuid()},
		}
		if p := r.Payload; p != nil {
			if v, ok := p[payloadText]; ok {
				m.Chunk.Text = v.GetStringValue()
			}
			if v, ok := p[payloadAgentID]; ok {
				m.Chunk.AgentID = v.GetStringValue()
			}
			if v, ok := p[payloadSourceID]; ok {
				m.Chunk.SourceID = v.GetStringValue()
			}
			if v, ok := p[payloadSeq]; ok {
				m.Chunk.Seq = int(v.GetIntegerValue())
			}
		}
		matches = append(matches, m)
	}

	return matches, nil
}

// DeleteSource removes every chunk of the (agent, source) pair.
func (s *QdrantStore) DeleteSource(ctx context.Context, agentID, sourceID string) error {
	return s.deleteByFilter(ctx, tenantFilter(agentID, sourceID))
}

// DeleteAgent removes every chunk owned by agentID (cascading delete).
func (s *QdrantStore) DeleteAgent(ctx context.Context, agentID string) error {
	return s.deleteByFilter(ctx, tenantFilter(agentID, ""))
}

// deleteByFilter issues a filtered point delete.
func (s *QdrantStore) deleteByFilter(ctx context.Context, filter *qdrant.Filter) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return fmt.Errorf("qdrant: filtered delete failed: %w", err)
	}
	return nil
}

// Count returns the number of chunks stored for agentID.
func (s *QdrantStore) Count(ctx context.Context, agentID string) (uint64, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Filter:         tenantFilter(agentID, ""),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}
	return n, nil
}

// Ping reports whether the Qdrant instance is reachable. Used by readiness
// probes.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
