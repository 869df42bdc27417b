// Package belief implements the Belief Engine: it subscribes to the
// Observation Bus, gates on salience, selects candidate MentalModels by
// tag/entity overlap, invokes an LLM, and applies the result atomically
// against the Typed Store. Edges touching the candidates are read from the
// Typed Store's GraphEdges repository; each upserted edge is also mirrored
// into the in-process graph index in internal/persistence/databases.
package belief

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"noema/internal/domain"
	"noema/internal/llm"
	"noema/internal/narration"
	"noema/internal/persistence/databases"
	"noema/internal/sensing"
	"noema/internal/store"
)

const (
	defaultSalienceThreshold = 0.5
	maxCandidateModels       = 5
	defaultEvidenceTopK      = 5
	defaultLLMModel          = "gemini-2.0-flash"
)

// Engine consumes Observations and maintains the MentalModel/GraphEdge
// collections.
type Engine struct {
	collections       *store.Collections
	graph             databases.GraphDB
	provider          llm.Provider
	narrate           *narration.Bus
	evidence          sensing.ExternalMemory
	evidenceTopK      int
	salienceThreshold float64
	model             string
}

// Option configures an Engine.
type Option func(*Engine)

// WithSalienceThreshold overrides the default 0.5 salience gate.
func WithSalienceThreshold(t float64) Option {
	return func(e *Engine) { e.salienceThreshold = t }
}

// WithModel overrides the default belief-formation model name.
func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

// WithEvidenceRetrieval enables top-K evidence-snippet retrieval from mem
// ahead of each LLM invocation. topK <= 0 keeps the default of 5.
func WithEvidenceRetrieval(mem sensing.ExternalMemory, topK int) Option {
	return func(e *Engine) {
		e.evidence = mem
		if topK > 0 {
			e.evidenceTopK = topK
		}
	}
}

// New constructs a Belief Engine. graph may be nil, in which case an
// in-memory index is created.
func New(collections *store.Collections, provider llm.Provider, narrate *narration.Bus, graph databases.GraphDB, opts ...Option) *Engine {
	if graph == nil {
		graph = databases.NewMemoryGraph()
	}
	e := &Engine{
		collections:       collections,
		graph:             graph,
		provider:          provider,
		narrate:           narrate,
		evidenceTopK:      defaultEvidenceTopK,
		salienceThreshold: defaultSalienceThreshold,
		model:             defaultLLMModel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AttachTo subscribes the Engine to bus; every future Observation above the
// salience threshold triggers ProcessObservation on the calling goroutine
// (the bus dispatches synchronously, same as Narration Bus semantics).
func (e *Engine) AttachTo(bus *sensing.ObservationBus) func() {
	return bus.Subscribe(func(obs domain.Observation) {
		if _, err := e.ProcessObservation(context.Background(), obs); err != nil {
			log.Error().Err(err).Str("observation_id", obs.ID).Msg("belief engine: failed to process observation")
		}
	})
}

// ProcessObservation is the documented no-op below the salience threshold,
// and otherwise runs the full retrieve -> prompt -> LLM -> atomic-apply
// pipeline.
func (e *Engine) ProcessObservation(ctx context.Context, obs domain.Observation) (*domain.ModelUpdatePlan, error) {
	if obs.Salience < e.salienceThreshold {
		return nil, nil
	}

	snippets := e.retrieveEvidence(ctx, obs)
	candidates := e.selectCandidates(obs)
	edges := e.edgesTouching(candidates)

	plan, err := e.invokeLLM(ctx, obs, snippets, candidates, edges)
	if err != nil {
		return nil, fmt.Errorf("belief engine: llm invocation failed: %w", err)
	}

	if err := e.applyPlan(ctx, obs, plan); err != nil {
		return nil, fmt.Errorf("belief engine: apply plan: %w", err)
	}
	return plan, nil
}

// retrieveEvidence pulls top-K semantic-memory snippets related to the
// Observation. Retrieval failure degrades to no snippets rather than
// blocking belief formation.
func (e *Engine) retrieveEvidence(ctx context.Context, obs domain.Observation) []string {
	if e.evidence == nil {
		return nil
	}
	snippets, err := e.evidence.Retrieve(ctx, obs.Summary, e.evidenceTopK)
	if err != nil {
		log.Warn().Err(err).Str("observation_id", obs.ID).Msg("belief engine: evidence retrieval failed, continuing without snippets")
		return nil
	}
	return snippets
}

// selectCandidates scores every active/candidate MentalModel by tag/entity
// overlap with the Observation and returns the top maxCandidateModels.
func (e *Engine) selectCandidates(obs domain.Observation) []domain.MentalModel {
	all := e.collections.MentalModels.List(func(m domain.MentalModel) bool {
		return m.Status != domain.ModelDeprecated
	})
	scoredModels := make([]scoredModel, 0, len(all))
	for _, m := range all {
		s := overlapScore(m.Tags, obs.Entities) + overlapScore(m.Tags, obs.KeyPoints)
		if s > 0 {
			scoredModels = append(scoredModels, scoredModel{m, s})
		}
	}
	sortByScoreDesc(scoredModels)
	out := make([]domain.MentalModel, 0, maxCandidateModels)
	for i, sm := range scoredModels {
		if i >= maxCandidateModels {
			break
		}
		out = append(out, sm.model)
	}
	return out
}

func overlapScore(a, b []string) int {
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[normalize(v)] = true
	}
	score := 0
	for _, v := range b {
		if set[normalize(v)] {
			score++
		}
	}
	return score
}

type scoredModel struct {
	model domain.MentalModel
	score int
}

func sortByScoreDesc(items []scoredModel) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })
}

// edgesTouching returns graph edges whose From or To is one of candidates.
func (e *Engine) edgesTouching(candidates []domain.MentalModel) []domain.GraphEdge {
	if len(candidates) == 0 {
		return nil
	}
	ids := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		ids[c.ID] = true
	}
	return e.collections.GraphEdges.List(func(edge domain.GraphEdge) bool {
		return ids[edge.From] || ids[edge.To]
	})
}

// applyPlan performs the atomic-apply step: create_models, update_models,
// graph_updates, and contradictions (logged, never applied).
func (e *Engine) applyPlan(ctx context.Context, obs domain.Observation, plan *domain.ModelUpdatePlan) error {
	touchedModels := make([]string, 0)

	for _, create := range plan.CreateModels {
		model := domain.MentalModel{
			ID:             uuid.NewString(),
			Title:          create.Title,
			Domain:         create.Domain,
			Tags:           create.Tags,
			Summary:        create.Summary,
			CorePrinciples: create.CorePrinciples,
			Assumptions:    create.Assumptions,
			Procedures:     create.Procedures,
			FailureModes:   create.FailureModes,
			Diagnostics:    create.Diagnostics,
			Examples:       create.Examples,
			Confidence:     clip(create.InitialConfidence, 0, 1),
			Status:         domain.ModelCandidate,
			EvidenceIDs:    []string{obs.ID},
			CreatedAt:      time.Now().UTC(),
			LastUpdated:    time.Now().UTC(),
			UpdateHistory: []domain.ModelHistoryEntry{{
				Timestamp:       time.Now().UTC(),
				ChangeSummary:   "initial formation from observation",
				DeltaConfidence: create.InitialConfidence,
				EvidenceIDs:     []string{obs.ID},
			}},
		}
		created, err := e.collections.MentalModels.Create(model)
		if err != nil {
			return fmt.Errorf("create model: %w", err)
		}
		touchedModels = append(touchedModels, created.ID)
		e.narrateEvent(obs.Source.RunID, fmt.Sprintf("formed a new belief: %s", created.Title))
	}

	for _, update := range plan.UpdateModels {
		entry := domain.ModelHistoryEntry{
			Timestamp:       time.Now().UTC(),
			ChangeSummary:   update.ChangeSummary,
			DeltaConfidence: update.DeltaConfidence,
			EvidenceIDs:     []string{obs.ID},
		}
		updated, err := e.collections.AppendModelHistory(update.ModelID, entry, func(m domain.MentalModel) domain.MentalModel {
			m.Tags = mergeDedup(m.Tags, update.AddTags)
			m.Assumptions = mergeDedup(m.Assumptions, update.AddAssumptions)
			m.FailureModes = mergeDedup(m.FailureModes, update.AddFailureModes)
			m.Diagnostics = mergeDedup(m.Diagnostics, update.AddDiagnostics)
			m.EvidenceIDs = mergeDedup(m.EvidenceIDs, []string{obs.ID})
			return m
		})
		if err != nil {
			return fmt.Errorf("update model %s: %w", update.ModelID, err)
		}
		touchedModels = append(touchedModels, updated.ID)
		e.narrateEvent(obs.Source.RunID, fmt.Sprintf("revised belief: %s", updated.Title))
	}

	for _, ge := range plan.GraphUpdates {
		if err := e.upsertEdge(ctx, ge, obs.ID); err != nil {
			return fmt.Errorf("graph update: %w", err)
		}
	}

	for _, c := range plan.Contradictions {
		log.Warn().Str("observation_id", obs.ID).Str("detail", c).Msg("belief engine: contradiction surfaced, not applied")
		e.narrateEvent(obs.Source.RunID, fmt.Sprintf("noticed a contradiction, leaving it for review: %s", c))
	}

	return nil
}

// upsertEdge creates an edge or strengthens the existing edge for the same
// ordered (from,to) pair, enforcing the at-most-one-edge invariant.
func (e *Engine) upsertEdge(ctx context.Context, ge domain.GraphEdgeUpdate, evidenceID string) error {
	existing := e.collections.GraphEdges.List(func(edge domain.GraphEdge) bool {
		return edge.From == ge.From && edge.To == ge.To
	})
	now := time.Now().UTC()
	if len(existing) == 0 {
		edge := domain.GraphEdge{
			ID:          uuid.NewString(),
			From:        ge.From,
			To:          ge.To,
			Relation:    ge.Relation,
			Weight:      clip(ge.Weight, 0, 1),
			EvidenceIDs: []string{evidenceID},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if _, err := e.collections.GraphEdges.Create(edge); err != nil {
			return err
		}
		_ = e.graph.UpsertEdge(ctx, ge.From, string(ge.Relation), ge.To, map[string]any{"weight": edge.Weight})
		return nil
	}

	edge := existing[0]
	_, err := e.collections.GraphEdges.Update(edge.ID, store.Mutation[domain.GraphEdge]{
		ChangeSummary: "strengthened by new evidence",
		EvidenceIDs:   []string{evidenceID},
		Apply: func(current domain.GraphEdge) (domain.GraphEdge, error) {
			current.Weight = clip(current.Weight+ge.Weight, 0, 1)
			current.EvidenceIDs = mergeDedup(current.EvidenceIDs, []string{evidenceID})
			current.UpdatedAt = time.Now().UTC()
			return current, nil
		},
	})
	if err != nil {
		return err
	}
	_ = e.graph.UpsertEdge(ctx, ge.From, string(ge.Relation), ge.To, map[string]any{"weight": edge.Weight})
	return nil
}

func (e *Engine) narrateEvent(runID, message string) {
	if e.narrate == nil {
		return
	}
	e.narrate.Emit(narration.EventBeliefFormed, runID, message, nil)
}

func mergeDedup(base []string, add []string) []string {
	seen := make(map[string]bool, len(base))
	out := append([]string(nil), base...)
	for _, v := range base {
		seen[v] = true
	}
	for _, v := range add {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
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
