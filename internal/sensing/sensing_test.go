package sensing_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"noema/internal/domain"
	"noema/internal/sensing"
	"noema/internal/store"
)

func newTestCollections(t *testing.T) *store.Collections {
	t.Helper()
	return store.NewCollections(t.TempDir())
}

func TestSensor_IngestText_ChunksAndPublishes(t *testing.T) {
	collections := newTestCollections(t)
	bus := sensing.NewObservationBus(0)
	var publishedCount int
	bus.Subscribe(func(domain.Observation) { publishedCount++ })

	sensor := sensing.New(collections, bus, nil)
	result, err := sensor.Ingest(context.Background(), sensing.Input{
		Kind:      sensing.InputText,
		Text:      "The page loaded successfully.\nNo fatal error occurred.",
		SessionID: "sess-1",
		RunID:     "run-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.ObservationIDs)
	require.Equal(t, len(result.ObservationIDs), result.ChunkCount)
	require.Equal(t, len(result.ObservationIDs), publishedCount)

	for _, id := range result.ObservationIDs {
		obs, err := collections.Observations.Get(id)
		require.NoError(t, err)
		require.Equal(t, "run-1", obs.Source.RunID)
	}
}

func TestSensor_IngestLog_HighSalienceOnFatal(t *testing.T) {
	collections := newTestCollections(t)
	bus := sensing.NewObservationBus(0)
	sensor := sensing.New(collections, bus, nil)

	result, err := sensor.Ingest(context.Background(), sensing.Input{
		Kind:       sensing.InputLog,
		LogEntries: []string{"fatal: connection refused", "debug: retrying"},
		RunID:      "run-2",
	})
	require.NoError(t, err)
	require.Len(t, result.ObservationIDs, 2)

	first, err := collections.Observations.Get(result.ObservationIDs[0])
	require.NoError(t, err)
	require.Greater(t, first.Salience, 0.8)

	second, err := collections.Observations.Get(result.ObservationIDs[1])
	require.NoError(t, err)
	require.Less(t, second.Salience, 0.3)
}

func TestSensor_IngestText_RepeatedTextFlaggedNotDeduplicated(t *testing.T) {
	collections := newTestCollections(t)
	bus := sensing.NewObservationBus(0)
	sensor := sensing.New(collections, bus, nil)

	text := "error: connection refused while dialing upstream service at port 8080"
	first, err := sensor.Ingest(context.Background(), sensing.Input{
		Kind: sensing.InputText, Text: text, RunID: "run-4",
	})
	require.NoError(t, err)
	second, err := sensor.Ingest(context.Background(), sensing.Input{
		Kind: sensing.InputText, Text: text, RunID: "run-4",
	})
	require.NoError(t, err)

	require.NotEqual(t, first.ObservationIDs[0], second.ObservationIDs[0])

	obs, err := collections.Observations.Get(second.ObservationIDs[0])
	require.NoError(t, err)
	require.Equal(t, first.ObservationIDs[0], obs.NearDuplicateOf)
}

func TestSensor_IngestScreenshot_SingleObservation(t *testing.T) {
	collections := newTestCollections(t)
	bus := sensing.NewObservationBus(0)
	sensor := sensing.New(collections, bus, nil)

	result, err := sensor.Ingest(context.Background(), sensing.Input{
		Kind:           sensing.InputScreenshot,
		ScreenshotPath: filepath.Join("evidence", "shot-0001.png"),
		Summary:        "Login form rendered",
		RunID:          "run-3",
	})
	require.NoError(t, err)
	require.Len(t, result.ObservationIDs, 1)
	require.Equal(t, 1, result.ChunkCount)
}
