package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"noema/internal/browser"
	"noema/internal/config"
	"noema/internal/crc"
	"noema/internal/decision"
	"noema/internal/httpapi"
	"noema/internal/identity"
	"noema/internal/llm/mock"
	"noema/internal/narration"
	"noema/internal/plangen"
	"noema/internal/sensing"
	"noema/internal/sequencecache"
	"noema/internal/store"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func newTestServer(t *testing.T) (*httpapi.Server, *store.Collections, *narration.Bus) {
	t.Helper()
	dir := t.TempDir()
	collections := store.NewCollections(dir)
	narrate := narration.New(0)
	obsBus := sensing.NewObservationBus(0)
	sensor := sensing.New(collections, obsBus, nil)
	sessions := browser.NewManager(dir)
	ids := identity.New(collections)
	provider := mock.New()
	decisionEngine := decision.New(collections, provider, sensor, narrate)
	sequences := sequencecache.New(collections.ActionSequences, nil, 0)
	plans := plangen.New(provider, "", 40, 6)
	controller := crc.New(collections, narrate, sessions, decisionEngine, sequences, plans, nil, ids,
		config.BudgetConfig{MaxTotalActions: 40, MaxCyclesPerStep: 6}, config.CredentialsConfig{}, 0.7)
	return httpapi.NewServer(controller, collections, narrate, ids, sensor, dir), collections, narrate
}

func doRequest(t *testing.T, s *httpapi.Server, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec, env := doRequest(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
	require.JSONEq(t, `{"status":"ok"}`, string(env.Data))
}

func TestCORSHeadersAndPreflight(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec, _ := doRequest(t, s, http.MethodGet, "/health", "")
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec2, _ := doRequest(t, s, http.MethodOptions, "/health", "")
	require.Equal(t, http.StatusNoContent, rec2.Code)
}

func TestStartRun_ConcatenatedURLRejectedWithoutSideEffects(t *testing.T) {
	s, collections, _ := newTestServer(t)
	rec, env := doRequest(t, s, http.MethodPost, "/qa/run",
		`{"task":"test login","url":"https://a.comhttps://b.com"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, env.Success)
	require.Contains(t, env.Error, "multiple URLs concatenated")
	require.Empty(t, collections.Runs.List(nil))
}

func TestRunState_UnknownRunIs404(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec, env := doRequest(t, s, http.MethodGet, "/run/nope/state", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.False(t, env.Success)
}

func TestRunEvents_SinceFiltersBySequence(t *testing.T) {
	s, _, narrate := newTestServer(t)
	first := narrate.Emit(narration.EventNarration, "run-1", "first", nil)
	narrate.Emit(narration.EventNarration, "run-1", "second", nil)
	narrate.Emit(narration.EventNarration, "run-2", "other run", nil)

	rec, env := doRequest(t, s, http.MethodGet, "/run/run-1/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []narration.Event
	require.NoError(t, json.Unmarshal(env.Data, &events))
	require.Len(t, events, 2)

	rec2, env2 := doRequest(t, s, http.MethodGet, "/run/run-1/events?since="+itoa(first.Seq), "")
	require.Equal(t, http.StatusOK, rec2.Code)
	var after []narration.Event
	require.NoError(t, json.Unmarshal(env2.Data, &after))
	require.Len(t, after, 1)
	require.Equal(t, "second", after[0].Message)
}

func TestIngest_TextCreatesObservations(t *testing.T) {
	s, collections, _ := newTestServer(t)
	rec, env := doRequest(t, s, http.MethodPost, "/ingest",
		`{"kind":"text","text":"fatal error: connection refused on checkout","run_id":"run-9"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, env.Success)

	var result sensing.IngestResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.NotEmpty(t, result.ObservationIDs)
	require.Equal(t, len(result.ObservationIDs), collections.Observations.Count(nil))
}

func TestEvidence_MissingRunSegmentRejected(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec, env := doRequest(t, s, http.MethodGet, "/evidence/screenshots/justonefile.png", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.False(t, env.Success)
}

func TestTokenMetrics_BadWindowRejected(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec, _ := doRequest(t, s, http.MethodGet, "/metrics/tokens?window=banana", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec2, env2 := doRequest(t, s, http.MethodGet, "/metrics/tokens", "")
	require.Equal(t, http.StatusOK, rec2.Code)
	require.True(t, env2.Success)
}

func TestListEndpointsReturnEnvelopes(t *testing.T) {
	s, _, _ := newTestServer(t)
	for _, path := range []string{"/runs", "/metrics", "/models", "/experiences", "/improvement"} {
		rec, env := doRequest(t, s, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		require.True(t, env.Success, path)
	}
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
