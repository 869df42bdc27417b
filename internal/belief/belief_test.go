package belief_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"noema/internal/belief"
	"noema/internal/domain"
	"noema/internal/llm"
	"noema/internal/narration"
	"noema/internal/store"
)

type fakeProvider struct {
	response string
	err      error
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, model string) (llm.Message, error) {
	if f.err != nil {
		return llm.Message{}, f.err
	}
	return llm.Message{Role: "assistant", Content: f.response}, nil
}

func newPlanJSON(t *testing.T, plan domain.ModelUpdatePlan) string {
	t.Helper()
	data, err := json.Marshal(plan)
	require.NoError(t, err)
	return string(data)
}

func TestEngine_ProcessObservation_BelowThresholdIsNoOp(t *testing.T) {
	collections := store.NewCollections(t.TempDir())
	provider := &fakeProvider{response: "{}"}
	engine := belief.New(collections, provider, narration.New(0), nil)

	obs := domain.Observation{ID: "obs-1", Salience: 0.1, Type: domain.ObservationText, CreatedAt: time.Now().UTC()}
	plan, err := engine.ProcessObservation(context.Background(), obs)
	require.NoError(t, err)
	require.Nil(t, plan)
}

func TestEngine_ProcessObservation_CreatesModel(t *testing.T) {
	collections := store.NewCollections(t.TempDir())
	planJSON := newPlanJSON(t, domain.ModelUpdatePlan{
		CreateModels: []domain.ModelCreation{{
			Title:             "Login requires valid session cookie",
			Domain:            domain.DomainSoftwareQA,
			Tags:              []string{"auth", "login"},
			Summary:           "Observed that login fails without a session cookie.",
			InitialConfidence: 0.4,
		}},
	})
	provider := &fakeProvider{response: planJSON}
	bus := narration.New(0)
	var narrated []string
	bus.OnAll(func(ev narration.Event) { narrated = append(narrated, ev.Message) })
	engine := belief.New(collections, provider, bus, nil)

	obs := domain.Observation{
		ID:        "obs-2",
		Type:      domain.ObservationText,
		Salience:  0.9,
		Summary:   "Login attempt failed: no session cookie found",
		Entities:  []string{"login"},
		CreatedAt: time.Now().UTC(),
		Source:    domain.ObservationSource{RunID: "run-1"},
	}
	plan, err := engine.ProcessObservation(context.Background(), obs)
	require.NoError(t, err)
	require.Len(t, plan.CreateModels, 1)

	models := collections.MentalModels.List(nil)
	require.Len(t, models, 1)
	require.Equal(t, domain.ModelCandidate, models[0].Status)
	require.InDelta(t, 0.4, models[0].Confidence, 0.0001)
	require.Len(t, models[0].UpdateHistory, 1)
	require.NotEmpty(t, narrated)
}

func TestEngine_ProcessObservation_ContradictionNotApplied(t *testing.T) {
	collections := store.NewCollections(t.TempDir())
	planJSON := newPlanJSON(t, domain.ModelUpdatePlan{
		Contradictions: []string{"new evidence conflicts with model X"},
	})
	provider := &fakeProvider{response: planJSON}
	engine := belief.New(collections, provider, narration.New(0), nil)

	obs := domain.Observation{ID: "obs-3", Type: domain.ObservationText, Salience: 0.8, CreatedAt: time.Now().UTC()}
	_, err := engine.ProcessObservation(context.Background(), obs)
	require.NoError(t, err)
	require.Empty(t, collections.MentalModels.List(nil))
}

func TestEngine_UpsertEdge_StrengthensExisting(t *testing.T) {
	collections := store.NewCollections(t.TempDir())
	edge := domain.GraphEdge{
		ID:        "edge-1",
		From:      "model-a",
		To:        "model-b",
		Relation:  domain.RelationExplains,
		Weight:    0.3,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	_, err := collections.GraphEdges.Create(edge)
	require.NoError(t, err)

	planJSON := newPlanJSON(t, domain.ModelUpdatePlan{
		GraphUpdates: []domain.GraphEdgeUpdate{{From: "model-a", To: "model-b", Relation: domain.RelationExplains, Weight: 0.2}},
	})
	provider := &fakeProvider{response: planJSON}
	engine := belief.New(collections, provider, narration.New(0), nil)

	obs := domain.Observation{ID: "obs-4", Type: domain.ObservationText, Salience: 0.8, CreatedAt: time.Now().UTC()}
	_, err = engine.ProcessObservation(context.Background(), obs)
	require.NoError(t, err)

	edges := collections.GraphEdges.List(nil)
	require.Len(t, edges, 1)
	require.InDelta(t, 0.5, edges[0].Weight, 0.0001)
}
