// Package ingestion implements the knowledge ingestion pipeline.
// It normalizes heterogeneous sources (raw documents, web pages, FAQ lists)
// into uniform text chunks, embeds each chunk, and upserts the results into
// the vector store tagged with the owning agent's identity. The pipeline is
// invoked by the `agentflow ingest` CLI command and the ingest HTTP endpoint.
package ingestion

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"

	"github.com/thisal-thulnith/agent-flow-sub001/internal/rag"
	"github.com/thisal-thulnith/agent-flow-sub001/internal/schema"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters shared between consecutive
	// chunks. Defaults to 200 if zero.
	ChunkOverlap int

	// MinChunkLen is the minimum chunk length; shorter fragments are dropped.
	// Defaults to 50 if zero.
	MinChunkLen int

	// EmbedBatchSize is the number of chunks embedded per backend call.
	// Defaults to 32 if zero.
	EmbedBatchSize int

	// EmbedAttempts bounds retries for a failed embedding call.
	// Defaults to 3 if zero.
	EmbedAttempts uint

	// HTTPTimeout is the timeout for each URL-source fetch.
	// Defaults to 30s if zero.
	HTTPTimeout time.Duration
}

// Result reports the outcome of ingesting one source. A non-empty Warnings
// slice means some chunks were skipped; everything counted in ChunkCount was
// written and is retrievable.
type Result struct {
	// SourceID is the effective source identifier the chunks were tagged with.
	SourceID string `json:"source_id"`

	// ChunkCount is the number of chunks successfully embedded and stored.
	ChunkCount int `json:"chunk_count"`

	// Warnings describes chunks or batches that were skipped after retries.
	Warnings []string `json:"warnings,omitempty"`
}

// Pipeline orchestrates the normalize → chunk → embed → upsert flow.
// It is safe for concurrent use; ingests targeting the same (agent, source)
// pair are serialized internally so delete-then-write stays atomic per source.
type Pipeline struct {
	// embedder converts text chunks into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.VectorStore

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	// httpClient fetches URL sources.
	httpClient *http.Client

	// locks serializes ingests per (agent, source) key.
	locks keyedMutex
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, store rag.VectorStore, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = 200
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 5
	}
	if cfg.MinChunkLen <= 0 {
		cfg.MinChunkLen = 50
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 32
	}
	if cfg.EmbedAttempts == 0 {
		cfg.EmbedAttempts = 3
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}

	return &Pipeline{
		embedder:   embedder,
		store:      store,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
	}, nil
}

// Ingest normalizes, chunks, embeds, and stores one source for the given
// agent. Re-ingesting the same (agent, source id) replaces the previous
// chunks. Chunks that fail to embed after retries are skipped and reported
// in Result.Warnings; successfully written chunks are never rolled back.
func (p *Pipeline) Ingest(ctx context.Context, agentID string, src Source) (*Result, error) {
	if err := schema.ValidateAgentID(agentID); err != nil {
		return nil, err
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}

	sourceID := src.EffectiveID()

	unlock := p.locks.lock(agentID + "/" + sourceID)
	defer unlock()

	text, err := p.normalize(ctx, src)
	if err != nil {
		return nil, err
	}

	pieces := splitText(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap, p.cfg.MinChunkLen)
	if len(pieces) == 0 {
		return nil, &schema.ValidationError{
			Field:  "text",
			Reason: fmt.Sprintf("source %q yielded no chunks of at least %d characters", src.Name, p.cfg.MinChunkLen),
		}
	}

	chunks := make([]rag.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = rag.Chunk{
			ID:       chunkID(agentID, sourceID, i),
			AgentID:  agentID,
			SourceID: sourceID,
			Seq:      i,
			Text:     piece,
		}
	}

	// Replace-not-append: drop the previous generation of this source before
	// writing the new one. If the delete fails we stop here — writing on top
	// of stale chunks would break the duplicate-free invariant.
	if err := p.store.DeleteSource(ctx, agentID, sourceID); err != nil {
		return nil, fmt.Errorf("ingestion: clearing previous chunks of source %q: %w", sourceID, err)
	}

	result := &Result{SourceID: sourceID}
	for start := 0; start < len(chunks); start += p.cfg.EmbedBatchSize {
		end := start + p.cfg.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		written, warnings := p.embedAndStore(ctx, batch)
		result.ChunkCount += written
		result.Warnings = append(result.Warnings, warnings...)

		if ctx.Err() != nil {
			return nil, fmt.Errorf("ingestion: canceled after %d chunks: %w", result.ChunkCount, ctx.Err())
		}
	}

	if result.ChunkCount == 0 {
		return nil, fmt.Errorf("ingestion: all %d chunks of source %q failed to embed", len(chunks), sourceID)
	}

	return result, nil
}

// embedAndStore embeds a batch with retry/backoff and upserts it. On batch
// failure it falls back to embedding chunks one at a time so a single bad
// chunk cannot sink its whole batch; chunks that still fail are skipped and
// returned as warnings.
func (p *Pipeline) embedAndStore(ctx context.Context, batch []rag.Chunk) (int, []string) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	embeddings, err := p.embedWithRetry(ctx, texts)
	if err == nil {
		if err := p.store.Upsert(ctx, batch, embeddings); err != nil {
			return 0, []string{fmt.Sprintf("upsert of chunks %d-%d failed: %v", batch[0].Seq, batch[len(batch)-1].Seq, err)}
		}
		return len(batch), nil
	}

	// Per-chunk salvage pass.
	var warnings []string
	written := 0
	for i, c := range batch {
		emb, err := p.embedWithRetry(ctx, texts[i:i+1])
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("chunk %d skipped: %v", c.Seq, err))
			continue
		}
		if err := p.store.Upsert(ctx, batch[i:i+1], emb); err != nil {
			warnings = append(warnings, fmt.Sprintf("chunk %d skipped: %v", c.Seq, err))
			continue
		}
		written++
	}
	return written, warnings
}

// embedWithRetry calls the embedder with bounded exponential backoff.
func (p *Pipeline) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32
	err := retry.Do(
		func() error {
			var err error
			embeddings, err = p.embedder.Embed(ctx, texts)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(p.cfg.EmbedAttempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return embeddings, nil
}

// normalize resolves a source to plain text according to its kind.
func (p *Pipeline) normalize(ctx context.Context, src Source) (string, error) {
	switch src.Kind {
	case KindDocument:
		return src.Text, nil
	case KindURL:
		text, err := scrapeURL(ctx, p.httpClient, src.URL)
		if err != nil {
			return "", fmt.Errorf("ingestion: fetching %s: %w", src.URL, err)
		}
		return text, nil
	case KindFAQ:
		return normalizeFAQs(src.FAQs), nil
	default:
		return "", &schema.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown source kind %q", src.Kind)}
	}
}

// chunkID derives a deterministic UUID for a chunk so re-ingestion of the
// same source overwrites points in place.
func chunkID(agentID, sourceID string, seq int) string {
	seed := fmt.Sprintf("%s/%s#%d", agentID, sourceID, seq)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

// keyedMutex serializes work per string key. Entries are reference-counted
// and removed when the last holder releases, so the map stays bounded by the
// number of in-flight ingests.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the mutex for key and returns its release func.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = make(map[string]*lockEntry)
	}
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
