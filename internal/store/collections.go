package store

import (
	"fmt"
	"path/filepath"
	"time"

	"noema/internal/domain"
)

// Collections bundles every repository the Cognitive Run Controller needs,
// one JSON file per collection under dataDir, per the persisted-state
// layout: observations.json, mental_models.json, experiences.json,
// graph.json, actions.json, action_outcomes.json, runs.json,
// action_sequences.json, run_metrics.json, identity.json.
type Collections struct {
	Observations    *Repository[domain.Observation]
	MentalModels    *Repository[domain.MentalModel]
	Experiences     *Repository[domain.Experience]
	GraphEdges      *Repository[domain.GraphEdge]
	Actions         *Repository[domain.Action]
	ActionOutcomes  *Repository[domain.ActionOutcome]
	Runs            *Repository[domain.RunRecord]
	ActionSequences *Repository[domain.ActionSequence]
	RunMetrics      *Repository[domain.RunMetrics]
	Identity        *Repository[domain.Identity]
}

// NewCollections constructs every repository rooted at dataDir.
func NewCollections(dataDir string) *Collections {
	p := func(name string) string { return filepath.Join(dataDir, name) }
	return &Collections{
		Observations:    NewRepository(p("observations.json"), validateObservation),
		MentalModels:    NewRepository(p("mental_models.json"), validateMentalModel),
		Experiences:     NewRepository(p("experiences.json"), validateExperience),
		GraphEdges:      NewRepository(p("graph.json"), validateGraphEdge),
		Actions:         NewRepository[domain.Action](p("actions.json"), nil),
		ActionOutcomes:  NewRepository[domain.ActionOutcome](p("action_outcomes.json"), nil),
		Runs:            NewRepository[domain.RunRecord](p("runs.json"), nil),
		ActionSequences: NewRepository(p("action_sequences.json"), validateActionSequence),
		RunMetrics:      NewRepository[domain.RunMetrics](p("run_metrics.json"), nil),
		Identity:        NewRepository[domain.Identity](p("identity.json"), nil),
	}
}

// SoftDeleteObservation marks an Observation deleted without removing the
// record. Observations are immutable after creation, so this is the only
// legal mutation; every other collection hard-deletes.
func (c *Collections) SoftDeleteObservation(id string) (domain.Observation, error) {
	now := time.Now().UTC()
	return c.Observations.Update(id, Mutation[domain.Observation]{
		ChangeSummary: "soft delete",
		Apply: func(o domain.Observation) (domain.Observation, error) {
			if o.DeletedAt == nil {
				o.DeletedAt = &now
			}
			return o, nil
		},
	})
}

func validateObservation(o domain.Observation) error {
	if o.ID == "" {
		return fmt.Errorf("%w: observation missing id", ErrInvalidMutation)
	}
	switch o.Type {
	case domain.ObservationLog, domain.ObservationText, domain.ObservationScreenshot,
		domain.ObservationVideoFrame, domain.ObservationAudioTranscript,
		domain.ObservationHuman, domain.ObservationTestResult:
	default:
		return fmt.Errorf("%w: observation %s has unknown type %q", ErrInvalidMutation, o.ID, o.Type)
	}
	if o.Salience < 0 || o.Salience > 1 {
		return fmt.Errorf("%w: observation %s salience %f out of [0,1]", ErrInvalidMutation, o.ID, o.Salience)
	}
	return nil
}

func validateMentalModel(m domain.MentalModel) error {
	if m.ID == "" {
		return fmt.Errorf("%w: mental model missing id", ErrInvalidMutation)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("%w: mental model %s confidence %f out of [0,1]", ErrInvalidMutation, m.ID, m.Confidence)
	}
	if len(m.UpdateHistory) < 1 {
		return fmt.Errorf("%w: mental model %s has empty update history", ErrInvalidMutation, m.ID)
	}
	var sum float64
	for _, h := range m.UpdateHistory {
		sum += h.DeltaConfidence
	}
	// The first history entry's delta is taken as the initial confidence
	// contribution; sum of all deltas clipped to [0,1] must equal confidence.
	clipped := clip(sum, 0, 1)
	if abs(clipped-m.Confidence) > 1e-9 {
		return fmt.Errorf("%w: mental model %s confidence %f does not match history sum %f", ErrInvalidMutation, m.ID, m.Confidence, clipped)
	}
	return nil
}

func validateExperience(e domain.Experience) error {
	if e.ID == "" {
		return fmt.Errorf("%w: experience missing id", ErrInvalidMutation)
	}
	if wordCount(e.Statement) > 32 {
		return fmt.Errorf("%w: experience %s statement exceeds 32 words", ErrInvalidMutation, e.ID)
	}
	return nil
}

func validateGraphEdge(g domain.GraphEdge) error {
	if g.ID == "" {
		return fmt.Errorf("%w: graph edge missing id", ErrInvalidMutation)
	}
	switch g.Relation {
	case domain.RelationDependsOn, domain.RelationExplains, domain.RelationExtends, domain.RelationContradicts:
	default:
		return fmt.Errorf("%w: graph edge %s has unknown relation %q", ErrInvalidMutation, g.ID, g.Relation)
	}
	if g.Weight < 0 || g.Weight > 1 {
		return fmt.Errorf("%w: graph edge %s weight %f out of [0,1]", ErrInvalidMutation, g.ID, g.Weight)
	}
	return nil
}

func validateActionSequence(s domain.ActionSequence) error {
	if s.ID == "" {
		return fmt.Errorf("%w: action sequence missing id", ErrInvalidMutation)
	}
	if s.Confidence < 0.1 || s.Confidence > 1.0 {
		return fmt.Errorf("%w: action sequence %s confidence %f out of [0.1,1.0]", ErrInvalidMutation, s.ID, s.Confidence)
	}
	return nil
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func wordCount(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		isSpace := r == ' ' || r == '\t' || r == '\n'
		if !isSpace && !inWord {
			n++
			inWord = true
		} else if isSpace {
			inWord = false
		}
	}
	return n
}
