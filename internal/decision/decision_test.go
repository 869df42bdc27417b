package decision_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"noema/internal/config"
	"noema/internal/decision"
	"noema/internal/domain"
	"noema/internal/llm"
	"noema/internal/narration"
	"noema/internal/sensing"
	"noema/internal/store"
)

func testCredentials(username, password string) config.CredentialsConfig {
	return config.CredentialsConfig{Username: username, Password: password}
}

type fakeProvider struct {
	response string
	err      error
	calls    int
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, model string) (llm.Message, error) {
	f.calls++
	if f.err != nil {
		return llm.Message{}, f.err
	}
	return llm.Message{Role: "assistant", Content: f.response}, nil
}

func TestIsStuckInLoop(t *testing.T) {
	click := func(sel string) domain.Action {
		return domain.Action{Type: domain.ActionClickElement, Selector: sel}
	}
	require.False(t, decision.IsStuckInLoop(nil))
	require.False(t, decision.IsStuckInLoop([]domain.Action{click("#a"), click("#a")}))
	require.True(t, decision.IsStuckInLoop([]domain.Action{click("#a"), click("#a"), click("#a")}))
	require.False(t, decision.IsStuckInLoop([]domain.Action{click("#a"), click("#b"), click("#a")}))
	// Only the trailing window counts.
	require.True(t, decision.IsStuckInLoop([]domain.Action{click("#b"), click("#a"), click("#a"), click("#a")}))
}

func TestDecide_LLMFailureDegradesToNoOp(t *testing.T) {
	collections := store.NewCollections(t.TempDir())
	provider := &fakeProvider{err: errors.New("503 service unavailable")}
	engine := decision.New(collections, provider, nil, narration.New(0))

	res, err := engine.Decide(context.Background(), decision.Input{RunID: "run-1", StepTitle: "login"})
	require.NoError(t, err)
	require.Equal(t, domain.ActionNoOp, res.Action.Type)
	require.Contains(t, res.Action.Rationale, "decision llm unavailable")
	require.Contains(t, res.Action.Rationale, "503")

	// The degraded action is still persisted with its outcome.
	actions := collections.Actions.List(nil)
	require.Len(t, actions, 1)
	outcomes := collections.ActionOutcomes.List(nil)
	require.Len(t, outcomes, 1)
	require.Equal(t, actions[0].ID, outcomes[0].ActionID)
}

func TestDecide_ParsesActionAndPersistsIt(t *testing.T) {
	collections := store.NewCollections(t.TempDir())
	provider := &fakeProvider{response: `{"type":"no_op","rationale":"page already in desired state"}`}
	engine := decision.New(collections, provider, nil, narration.New(0))

	res, err := engine.Decide(context.Background(), decision.Input{RunID: "run-1", StepTitle: "verify"})
	require.NoError(t, err)
	require.Equal(t, domain.ActionNoOp, res.Action.Type)
	require.True(t, res.Outcome.Success)
	require.Equal(t, 1, provider.calls)
	require.Len(t, collections.Actions.List(nil), 1)
}

func TestDecide_NonNoOpWithoutSessionFails(t *testing.T) {
	collections := store.NewCollections(t.TempDir())
	provider := &fakeProvider{response: `{"type":"click_element","rationale":"press login","selector":"#login"}`}
	engine := decision.New(collections, provider, nil, narration.New(0))

	res, err := engine.Decide(context.Background(), decision.Input{RunID: "run-1", StepTitle: "login"})
	require.NoError(t, err)
	require.False(t, res.Outcome.Success)
	require.Contains(t, res.Outcome.ErrorMessage, "no browser session")
}

func TestDecide_ActionEventsArePaired(t *testing.T) {
	collections := store.NewCollections(t.TempDir())
	provider := &fakeProvider{response: `{"type":"no_op","rationale":"nothing to do"}`}
	bus := narration.New(0)
	var started, completed int
	bus.OnAll(func(ev narration.Event) {
		switch ev.Type {
		case narration.EventActionStarted:
			started++
		case narration.EventActionCompleted:
			completed++
		}
	})
	engine := decision.New(collections, provider, nil, bus)

	for i := 0; i < 3; i++ {
		_, err := engine.Decide(context.Background(), decision.Input{RunID: "run-1"})
		require.NoError(t, err)
	}
	require.Equal(t, 3, started)
	require.Equal(t, started, completed)
}

func TestDecide_CredentialValueIsMaskedOnPersistedAction(t *testing.T) {
	collections := store.NewCollections(t.TempDir())
	provider := &fakeProvider{response: `{"type":"fill_input","rationale":"enter password","selector":"#pass","value":"hunter2"}`}
	engine := decision.New(collections, provider, nil, narration.New(0))

	res, err := engine.Decide(context.Background(), decision.Input{
		RunID:       "run-1",
		Credentials: testCredentials("alice", "hunter2"),
	})
	require.NoError(t, err)
	require.Equal(t, "hunter2", res.Action.Value.Raw)
	require.Equal(t, domain.MaskedPlaceholder, res.Action.Value.Masked)
}

func TestDecide_OrdinaryValueStaysTransparent(t *testing.T) {
	collections := store.NewCollections(t.TempDir())
	provider := &fakeProvider{response: `{"type":"fill_input","rationale":"search","selector":"#q","value":"blue widgets"}`}
	engine := decision.New(collections, provider, nil, narration.New(0))

	res, err := engine.Decide(context.Background(), decision.Input{
		RunID:       "run-1",
		Credentials: testCredentials("alice", "hunter2"),
	})
	require.NoError(t, err)
	require.Equal(t, "blue widgets", res.Action.Value.Masked)
}

func TestDecide_SkipSensingCreatesNoObservations(t *testing.T) {
	collections := store.NewCollections(t.TempDir())
	sensor := sensing.New(collections, sensing.NewObservationBus(0), nil)
	provider := &fakeProvider{response: `{"type":"no_op","rationale":"probe"}`}
	engine := decision.New(collections, provider, sensor, narration.New(0))

	_, err := engine.Decide(context.Background(), decision.Input{RunID: "run-1", SkipSensing: true})
	require.NoError(t, err)
	require.Zero(t, collections.Observations.Count(nil))

	_, err = engine.Decide(context.Background(), decision.Input{RunID: "run-1"})
	require.NoError(t, err)
	require.NotZero(t, collections.Observations.Count(nil))
}

func TestBuildContext_BoundsBeliefsExperiencesAndActions(t *testing.T) {
	collections := store.NewCollections(t.TempDir())
	for i := 0; i < 8; i++ {
		m := domain.MentalModel{
			ID:         uuid.NewString(),
			Title:      fmt.Sprintf("belief %d", i),
			Domain:     domain.DomainSoftwareQA,
			Status:     domain.ModelActive,
			Confidence: 0.6 + float64(i)*0.01,
			UpdateHistory: []domain.ModelHistoryEntry{{
				ChangeSummary:   "seed",
				DeltaConfidence: 0.6 + float64(i)*0.01,
			}},
		}
		_, err := collections.MentalModels.Create(m)
		require.NoError(t, err)
	}
	for i := 0; i < 7; i++ {
		_, err := collections.Experiences.Create(domain.Experience{
			ID:         uuid.NewString(),
			Statement:  "prefer submitting forms over clicking buttons",
			Confidence: 0.5,
		})
		require.NoError(t, err)
	}

	var recent []domain.Action
	for i := 0; i < 12; i++ {
		recent = append(recent, domain.Action{Type: domain.ActionClickElement, Selector: "#x"})
	}

	engine := decision.New(collections, &fakeProvider{response: "{}"}, nil, narration.New(0))
	c := engine.BuildContext(context.Background(), decision.Input{RunID: "run-1", RecentActions: recent})
	require.Len(t, c.Beliefs, 5)
	require.Len(t, c.Experiences, 5)
	require.Len(t, c.RecentActions, 8)
}
