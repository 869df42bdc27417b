package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"noema/internal/domain"
	"noema/internal/store"
)

func TestRepository_CreateGetReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "observations.json")

	repo := store.NewRepository(path, func(domain.Observation) error { return nil })
	obs := domain.Observation{
		ID:        uuid.NewString(),
		Type:      domain.ObservationLog,
		Summary:   "error in checkout",
		Salience:  0.8,
		CreatedAt: time.Now().UTC(),
	}
	created, err := repo.Create(obs)
	require.NoError(t, err)
	require.Equal(t, obs.ID, created.ID)

	// Reload: a fresh repository over the same file must read back the entity.
	reloaded := store.NewRepository(path, func(domain.Observation) error { return nil })
	got, err := reloaded.Get(obs.ID)
	require.NoError(t, err)
	require.Equal(t, obs.Summary, got.Summary)
}

func TestRepository_NotFound(t *testing.T) {
	dir := t.TempDir()
	repo := store.NewRepository[domain.Observation](filepath.Join(dir, "observations.json"), nil)
	_, err := repo.Get("missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCollections_AppendModelHistory(t *testing.T) {
	dir := t.TempDir()
	c := store.NewCollections(dir)

	m := domain.MentalModel{
		ID:         uuid.NewString(),
		Title:      "login requires valid credentials",
		Domain:     domain.DomainSoftwareQA,
		Confidence: 0.5,
		Status:     domain.ModelCandidate,
		CreatedAt:  time.Now().UTC(),
		UpdateHistory: []domain.ModelHistoryEntry{
			{Timestamp: time.Now().UTC(), ChangeSummary: "initial", DeltaConfidence: 0.5},
		},
	}
	_, err := c.MentalModels.Create(m)
	require.NoError(t, err)

	updated, err := c.AppendModelHistory(m.ID, domain.ModelHistoryEntry{
		Timestamp:       time.Now().UTC(),
		ChangeSummary:   "observed successful login",
		DeltaConfidence: 0.2,
	}, nil)
	require.NoError(t, err)
	require.InDelta(t, 0.7, updated.Confidence, 1e-9)
	require.Equal(t, domain.ModelActive, updated.Status)
	require.Len(t, updated.UpdateHistory, 2)

	// Attempting to rewrite a past history entry through AppendModelHistory's
	// patch hook must fail.
	_, err = c.AppendModelHistory(m.ID, domain.ModelHistoryEntry{
		Timestamp:     time.Now().UTC(),
		ChangeSummary: "another change",
	}, func(mm domain.MentalModel) domain.MentalModel {
		mm.UpdateHistory[0].ChangeSummary = "tampered"
		return mm
	})
	require.Error(t, err)
}

func TestCollections_AppendModelHistory_RejectsCreatedAtRewrite(t *testing.T) {
	dir := t.TempDir()
	c := store.NewCollections(dir)

	m := domain.MentalModel{
		ID:         uuid.NewString(),
		Title:      "cart totals update on add",
		Domain:     domain.DomainSoftwareQA,
		Confidence: 0.4,
		Status:     domain.ModelCandidate,
		CreatedAt:  time.Now().UTC(),
		UpdateHistory: []domain.ModelHistoryEntry{
			{Timestamp: time.Now().UTC(), ChangeSummary: "initial", DeltaConfidence: 0.4},
		},
	}
	_, err := c.MentalModels.Create(m)
	require.NoError(t, err)

	_, err = c.AppendModelHistory(m.ID, domain.ModelHistoryEntry{
		Timestamp:     time.Now().UTC(),
		ChangeSummary: "change",
	}, func(mm domain.MentalModel) domain.MentalModel {
		mm.CreatedAt = mm.CreatedAt.Add(time.Hour)
		return mm
	})
	require.ErrorIs(t, err, store.ErrInvalidMutation)
}

func TestCollections_SoftDeleteObservation(t *testing.T) {
	dir := t.TempDir()
	c := store.NewCollections(dir)

	obs := domain.Observation{
		ID:        uuid.NewString(),
		Type:      domain.ObservationText,
		Summary:   "stale observation",
		Salience:  0.2,
		CreatedAt: time.Now().UTC(),
	}
	_, err := c.Observations.Create(obs)
	require.NoError(t, err)

	deleted, err := c.SoftDeleteObservation(obs.ID)
	require.NoError(t, err)
	require.NotNil(t, deleted.DeletedAt)

	// The record is retained, not removed.
	got, err := c.Observations.Get(obs.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)

	// Soft delete is idempotent on the timestamp.
	again, err := c.SoftDeleteObservation(obs.ID)
	require.NoError(t, err)
	require.True(t, deleted.DeletedAt.Equal(*again.DeletedAt))
}
