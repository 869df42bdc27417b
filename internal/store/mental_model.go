package store

import (
	"fmt"
	"time"

	"noema/internal/domain"
)

func historyEntryEqual(a, b domain.ModelHistoryEntry) bool {
	if !a.Timestamp.Equal(b.Timestamp) || a.ChangeSummary != b.ChangeSummary || a.DeltaConfidence != b.DeltaConfidence {
		return false
	}
	if len(a.EvidenceIDs) != len(b.EvidenceIDs) {
		return false
	}
	for i := range a.EvidenceIDs {
		if a.EvidenceIDs[i] != b.EvidenceIDs[i] {
			return false
		}
	}
	return true
}

// AppendModelHistory appends an audited history entry to a MentalModel and
// recomputes confidence as clip(sum(deltas), 0, 1), promoting the model from
// candidate to active when confidence crosses 0.6. It rejects any attempt to
// rewrite CreatedAt or a past history entry.
func (c *Collections) AppendModelHistory(id string, entry domain.ModelHistoryEntry, patch func(domain.MentalModel) domain.MentalModel) (domain.MentalModel, error) {
	return c.MentalModels.Update(id, Mutation[domain.MentalModel]{
		ChangeSummary: entry.ChangeSummary,
		EvidenceIDs:   entry.EvidenceIDs,
		Apply: func(current domain.MentalModel) (domain.MentalModel, error) {
			// Deep-copy the history slice so the patch hook cannot mutate the
			// stored record's backing array in place (slices alias by default).
			current.UpdateHistory = append([]domain.ModelHistoryEntry(nil), current.UpdateHistory...)
			original := current
			original.UpdateHistory = append([]domain.ModelHistoryEntry(nil), current.UpdateHistory...)
			if patch != nil {
				current = patch(current)
			}
			if !current.CreatedAt.Equal(original.CreatedAt) {
				return domain.MentalModel{}, fmt.Errorf("%w: mental model %s attempted to rewrite created_at", ErrInvalidMutation, id)
			}
			if len(current.UpdateHistory) < len(original.UpdateHistory) {
				return domain.MentalModel{}, fmt.Errorf("%w: mental model %s attempted to drop history entries", ErrInvalidMutation, id)
			}
			for i := range original.UpdateHistory {
				if !historyEntryEqual(current.UpdateHistory[i], original.UpdateHistory[i]) {
					return domain.MentalModel{}, fmt.Errorf("%w: mental model %s attempted to rewrite past history entry %d", ErrInvalidMutation, id, i)
				}
			}
			current.UpdateHistory = append(current.UpdateHistory[:len(original.UpdateHistory):len(original.UpdateHistory)], entry)

			var sum float64
			for _, h := range current.UpdateHistory {
				sum += h.DeltaConfidence
			}
			current.Confidence = clip(sum, 0, 1)
			if current.Status == domain.ModelCandidate && current.Confidence >= 0.6 {
				current.Status = domain.ModelActive
			}
			current.LastUpdated = time.Now().UTC()
			return current, nil
		},
	})
}
