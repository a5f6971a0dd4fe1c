package rag

import (
	"context"
	"fmt"
)

// DefaultRetriever implements the Retriever interface by combining an
// Embedder and a VectorStore. It embeds the query at retrieval time,
// delegates the tenant-scoped search to the store, and drops matches below
// the configured similarity threshold.
type DefaultRetriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store VectorStore

	// defaultTopK is the number of results to return when the caller passes 0.
	defaultTopK int

	// threshold is the minimum similarity score a match must clear. Matches
	// below it are discarded; if none survive, Retrieve returns
	// ErrNoRelevantKnowledge. Tunable per deployment, never hardcoded by
	// callers.
	threshold float32
}

// NewRetriever constructs a DefaultRetriever. defaultTopK falls back to 3
// when zero; threshold of 0 disables the relevance gate.
func NewRetriever(embedder Embedder, store VectorStore, defaultTopK int, threshold float32) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = 3
	}
	return &DefaultRetriever{
		embedder:    embedder,
		store:       store,
		defaultTopK: defaultTopK,
		threshold:   threshold,
	}, nil
}

// Retrieve embeds the query and returns the top-k matches in agentID's
// partition that clear the similarity threshold. If topK is 0 the configured
// default is used.
func (r *DefaultRetriever) Retrieve(ctx context.Context, agentID, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}

	matches, err := r.store.Query(ctx, agentID, embeddings[0], topK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	kept := matches[:0]
	for _, m := range matches {
		if m.Score >= r.threshold {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		return nil, ErrNoRelevantKnowledge
	}

	return kept, nil
}
