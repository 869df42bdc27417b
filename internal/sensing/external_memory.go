package sensing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"noema/internal/llm"
	"noema/internal/persistence/databases"
)

// VectorExternalMemory is the semantic-memory adapter over a pluggable
// vector store (Qdrant in production, in-memory in development): ingested
// chunks are embedded and upserted by Forward, and the Belief Engine pulls
// top-K evidence snippets back out through Retrieve. Gated behind
// COGNEE_ENABLED at construction time in cmd/crcd.
type VectorExternalMemory struct {
	store       databases.VectorStore
	embedHost   string
	embedModel  string
	embedAPIKey string
}

// NewVectorExternalMemory builds a semantic memory over vs, embedding text
// through the configured embeddings host.
func NewVectorExternalMemory(vs databases.VectorStore, embedHost, embedModel, embedAPIKey string) *VectorExternalMemory {
	return &VectorExternalMemory{
		store:       vs,
		embedHost:   embedHost,
		embedModel:  embedModel,
		embedAPIKey: embedAPIKey,
	}
}

// Forward embeds and upserts each chunk, tagged with runID for later
// filtered retrieval. A failed embedding or upsert is returned to the
// caller, who logs and swallows it; forwarding is best-effort.
func (m *VectorExternalMemory) Forward(ctx context.Context, runID string, chunks []string) error {
	if len(chunks) == 0 {
		return nil
	}
	vectors, err := llm.FetchEmbeddings(m.embedHost, llm.EmbeddingRequest{
		Input:          chunks,
		Model:          m.embedModel,
		EncodingFormat: "float",
	}, m.embedAPIKey)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	for i, vec := range vectors {
		id := uuid.NewString()
		if err := m.store.Upsert(ctx, id, vec, map[string]string{"run_id": runID, "text": chunks[i]}); err != nil {
			return fmt.Errorf("upsert chunk %d: %w", i, err)
		}
	}
	return nil
}

// Retrieve embeds query and returns the text of its k nearest stored chunks.
func (m *VectorExternalMemory) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}
	vectors, err := llm.FetchEmbeddings(m.embedHost, llm.EmbeddingRequest{
		Input:          []string{query},
		Model:          m.embedModel,
		EncodingFormat: "float",
	}, m.embedAPIKey)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	results, err := m.store.SimilaritySearch(ctx, vectors[0], k, nil)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	out := make([]string, 0, len(results))
	for _, r := range results {
		if text := r.Metadata["text"]; text != "" {
			out = append(out, text)
		}
	}
	return out, nil
}
