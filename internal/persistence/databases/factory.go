package databases

import (
	"context"
	"fmt"
)

// VectorConfig selects and configures the optional external vector backend
// used by Sensing's external-memory forwarder and the Belief Engine's
// top-K evidence retrieval.
type VectorConfig struct {
	// Backend is one of "memory" (default), "qdrant", or "none".
	Backend    string
	DSN        string
	Collection string
	Dimensions int
	Metric     string
}

// NewManager constructs database backends from configuration. Graph always
// resolves to its in-memory implementation: GraphEdge storage is owned by
// the Typed Store, and the in-memory GraphDB only receives the edges the
// Belief Engine mirrors into it.
func NewManager(ctx context.Context, vectorCfg VectorConfig) (Manager, error) {
	m := Manager{
		Graph: NewMemoryGraph(),
	}
	switch vectorCfg.Backend {
	case "", "memory":
		m.Vector = NewMemoryVector()
	case "qdrant":
		vs, err := NewQdrantVector(vectorCfg.DSN, vectorCfg.Collection, vectorCfg.Dimensions, vectorCfg.Metric)
		if err != nil {
			return Manager{}, fmt.Errorf("connect qdrant: %w", err)
		}
		m.Vector = vs
	case "none", "disabled":
		m.Vector = noopVector{}
	default:
		return Manager{}, fmt.Errorf("unsupported vector backend: %s", vectorCfg.Backend)
	}
	return m, nil
}

type noopVector struct{}

func (noopVector) Upsert(context.Context, string, []float32, map[string]string) error { return nil }
func (noopVector) Delete(context.Context, string) error                               { return nil }
func (noopVector) SimilaritySearch(context.Context, []float32, int, map[string]string) ([]VectorResult, error) {
	return nil, nil
}
