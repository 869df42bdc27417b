// Package optimizer implements the Experience Optimizer: training-free
// K-rollout learning invoked after a run. It never touches MentalModels;
// this package only imports internal/store for the Experience repository,
// enforcing the cross-contamination guard structurally: Phase 4 (belief)
// learns what is true, this learns what works.
//
// K rollouts run sequentially inside an errgroup.Group configured with
// SetLimit(1) for cancellation propagation; behaviourally this is a plain
// sequential loop. Rollouts are never parallel.
package optimizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"noema/internal/browser"
	"noema/internal/config"
	"noema/internal/decision"
	"noema/internal/domain"
	"noema/internal/llm"
	"noema/internal/narration"
	"noema/internal/store"
)

const maxStatementWords = 32

// Weights for the five outcome-scoring criteria.
const (
	weightSuccess            = 0.30
	weightEvidenceClarity    = 0.20
	weightErrorSpecificity   = 0.20
	weightAmbiguityReduction = 0.15
	weightSignalStrength     = 0.15
)

var errorPatterns = []string{
	"timeout", "not found", "element not visible", "navigation failed",
	"selector invalid", "connection refused", "net::err",
}

// ScoreBreakdown exposes each weighted criterion independently for testing.
type ScoreBreakdown struct {
	Success            float64 `json:"success"`
	EvidenceClarity    float64 `json:"evidence_clarity"`
	ErrorSpecificity   float64 `json:"error_specificity"`
	AmbiguityReduction float64 `json:"ambiguity_reduction"`
	SignalStrength     float64 `json:"signal_strength"`
	Overall            float64 `json:"overall"`
}

// Score evaluates one ActionOutcome against the weighted criteria table,
// observationCount being the number of Observations Sensing produced while
// handling it. A pure function, independently testable.
func Score(outcome domain.ActionOutcome, observationCount int) ScoreBreakdown {
	b := ScoreBreakdown{}

	if outcome.Success {
		b.Success = 1
	}

	if len(outcome.Artifacts.Screenshots) > 0 {
		b.EvidenceClarity += 0.4
	}
	logLen := 0
	for _, l := range outcome.Artifacts.Logs {
		logLen += len(l)
	}
	if logLen > 0 {
		b.EvidenceClarity += 0.3
	}
	if logLen > 200 {
		b.EvidenceClarity += 0.2
	}
	if len(outcome.Artifacts.NetworkErrors) > 0 {
		b.EvidenceClarity += 0.1
	}
	b.EvidenceClarity = clip(b.EvidenceClarity, 0, 1)

	if outcome.Success {
		b.ErrorSpecificity = 0.8
	} else {
		b.ErrorSpecificity = 0.3
		lower := strings.ToLower(outcome.ErrorMessage)
		for _, p := range errorPatterns {
			if strings.Contains(lower, p) {
				b.ErrorSpecificity += 0.15
			}
		}
		if len(outcome.ErrorMessage) > 40 {
			b.ErrorSpecificity += 0.05
		}
		b.ErrorSpecificity = clip(b.ErrorSpecificity, 0, 1)
	}

	b.AmbiguityReduction = 0.3
	b.AmbiguityReduction += clip(float64(observationCount)*0.05, 0, 0.3)
	if outcome.Success {
		b.AmbiguityReduction += 0.3
	} else if outcome.ErrorMessage != "" {
		b.AmbiguityReduction += 0.2
	}
	b.AmbiguityReduction = clip(b.AmbiguityReduction, 0, 1)

	b.SignalStrength = 0.3
	if outcome.Success {
		b.SignalStrength += 0.4
	}
	if outcome.DurationMS > 0 && outcome.DurationMS < 2000 {
		b.SignalStrength += 0.1
	}
	artifactCount := len(outcome.Artifacts.Screenshots) + len(outcome.Artifacts.Logs) + len(outcome.Artifacts.NetworkErrors)
	if artifactCount > 0 {
		b.SignalStrength += 0.1
	}
	b.SignalStrength = clip(b.SignalStrength, 0, 1)

	b.Overall = weightSuccess*b.Success + weightEvidenceClarity*b.EvidenceClarity +
		weightErrorSpecificity*b.ErrorSpecificity + weightAmbiguityReduction*b.AmbiguityReduction +
		weightSignalStrength*b.SignalStrength
	return b
}

// Rollout is one end-to-end action attempt within a comparison, sharing a
// belief context with its siblings but varying the task prompt.
type Rollout struct {
	Hint    string               `json:"hint"`
	Action  domain.Action        `json:"action"`
	Outcome domain.ActionOutcome `json:"outcome"`
	Score   ScoreBreakdown       `json:"score"`
}

// Result is the Experience Optimizer's output for one invocation.
type Result struct {
	RunID            string              `json:"run_id"`
	Rollouts         []Rollout           `json:"rollouts"`
	WinnerIndex      int                 `json:"winner_index"`
	WinMargin        float64             `json:"win_margin"`
	HasClearWinner   bool                `json:"has_clear_winner"`
	ExperiencesAdded []domain.Experience `json:"experiences_added"`
}

// Optimizer runs K-rollout training-free learning after a run. It holds a
// Decision Engine (for belief/experience context assembly and action
// execution) and an Experience repository, nothing that can touch
// MentalModels.
type Optimizer struct {
	decisionEngine *decision.Engine
	sessions       *browser.Manager
	experiences    *store.Repository[domain.Experience]
	provider       llm.Provider
	model          string
	narrate        *narration.Bus

	rollouts     int
	minWinMargin float64
}

// New constructs an Optimizer.
func New(decisionEngine *decision.Engine, sessions *browser.Manager, experiences *store.Repository[domain.Experience], provider llm.Provider, model string, narrate *narration.Bus, cfg config.OptimizerConfig) *Optimizer {
	rollouts := cfg.Rollouts
	if rollouts < 1 {
		rollouts = 1
	}
	margin := cfg.MinWinMargin
	if margin <= 0 {
		margin = 0.15
	}
	return &Optimizer{
		decisionEngine: decisionEngine,
		sessions:       sessions,
		experiences:    experiences,
		provider:       provider,
		model:          model,
		narrate:        narrate,
		rollouts:       rollouts,
		minWinMargin:   margin,
	}
}

// deterministicHints vary the task prompt across rollouts. The hint is the
// only thing that differs between rollouts; belief state is never varied.
var deterministicHints = []string{
	"Attempt this step directly via the most obvious control on the page.",
	"Attempt this step by first checking for validation or error text already present.",
	"Attempt this step conservatively, verifying each precondition before acting.",
	"Attempt this step by preferring keyboard-accessible controls over pointer clicks.",
}

// Run performs K sequential rollouts against a fresh browser.Session each,
// scores every outcome, determines whether a clear winner exists, and
// extracts 0..N new Experiences from the winner. It never modifies
// MentalModels or consults the Belief Engine.
func (o *Optimizer) Run(ctx context.Context, runID, task, stepTitle, actionHint string, credentials config.CredentialsConfig) (Result, error) {
	result := Result{RunID: runID}

	// SetLimit(1) lets Go() block the caller until the single slot is free,
	// so each rollout's session is fully torn down before the next starts;
	// behaviourally a plain sequential loop.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(1)
	rollouts := make([]Rollout, o.rollouts)

	for i := 0; i < o.rollouts; i++ {
		i := i
		g.Go(func() error {
			hint := deterministicHints[i%len(deterministicHints)]
			rollout, err := o.runRollout(gctx, runID, i, task, stepTitle, actionHint, hint, credentials)
			if err != nil {
				log.Warn().Err(err).Str("run_id", runID).Int("rollout", i).Msg("optimizer: rollout failed, scoring as a failure")
				rollout = Rollout{
					Hint:    hint,
					Outcome: domain.ActionOutcome{Success: false, ErrorMessage: err.Error(), CreatedAt: time.Now().UTC()},
				}
				rollout.Score = Score(rollout.Outcome, 0)
			}
			rollouts[i] = rollout
			return nil
		})
	}
	_ = g.Wait()
	result.Rollouts = rollouts

	o.rank(&result)

	if result.HasClearWinner {
		added, err := o.extractExperiences(ctx, runID, task, result.Rollouts[result.WinnerIndex])
		if err != nil {
			log.Warn().Err(err).Str("run_id", runID).Msg("optimizer: experience extraction failed")
		} else {
			result.ExperiencesAdded = added
		}
	}

	if o.narrate != nil {
		o.narrate.Emit(narration.EventExperienceLearned, runID,
			fmt.Sprintf("ran %d rollouts, clear_winner=%v, learned %d new experiences", len(result.Rollouts), result.HasClearWinner, len(result.ExperiencesAdded)), nil)
	}
	return result, nil
}

func (o *Optimizer) runRollout(ctx context.Context, runID string, index int, task, stepTitle, actionHint, hint string, credentials config.CredentialsConfig) (Rollout, error) {
	sessionID := fmt.Sprintf("%s-optimizer-%d", runID, index)
	session, err := o.sessions.Initialize(ctx, sessionID)
	if err != nil {
		return Rollout{}, fmt.Errorf("initialize rollout session: %w", err)
	}
	defer o.sessions.Close(sessionID)

	res, err := o.decisionEngine.Decide(ctx, decision.Input{
		RunID:           runID,
		StepTitle:       stepTitle,
		ActionHint:      actionHint + " " + hint,
		ExpectedOutcome: task,
		Credentials:     credentials,
		Session:         session,
		// Rollout probes never feed Sensing: optimization learns what
		// works and must not generate Observations or belief updates.
		SkipSensing: true,
	})
	if err != nil {
		return Rollout{}, err
	}

	return Rollout{
		Hint:    hint,
		Action:  res.Action,
		Outcome: res.Outcome,
		Score:   Score(res.Outcome, 0),
	}, nil
}

// rank orders rollouts by overall score (stable, descending; ties keep
// rollout order) and determines whether a clear winner exists. K=1 always
// yields hasClearWinner=true with winMargin=1.0.
func (o *Optimizer) rank(result *Result) {
	n := len(result.Rollouts)
	if n == 0 {
		return
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for i := 1; i < n; i++ {
		for j := i; j > 0 && result.Rollouts[order[j]].Score.Overall > result.Rollouts[order[j-1]].Score.Overall; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	result.WinnerIndex = order[0]

	if n == 1 {
		result.WinMargin = 1.0
		result.HasClearWinner = true
		return
	}
	top := result.Rollouts[order[0]].Score.Overall
	second := result.Rollouts[order[1]].Score.Overall
	result.WinMargin = top - second
	result.HasClearWinner = result.WinMargin >= o.minWinMargin
}

const extractionSystemPrompt = `You distill advisory heuristics from one successful QA-agent action attempt. Given the
task, the action taken, and its outcome, respond with exactly one JSON object and nothing else:

{"experiences": [{"statement": "...", "scope": ["..."]}]}

Each statement must be a short, advisory sentence of at most 32 words describing what action
or approach worked well, suitable for a future run facing a similar step. Return zero entries
if nothing generalisable was learned. Never state anything about what is true of the system
under test, only what action worked.`

// extractExperiences asks the LLM to distill 0..N short heuristics from the
// winning rollout, deduplicates against already-stored Experiences by
// normalised statement, skips any statement over 32 words, and persists the
// rest.
func (o *Optimizer) extractExperiences(ctx context.Context, runID, task string, winner Rollout) ([]domain.Experience, error) {
	if o.provider == nil {
		return nil, nil
	}
	prompt := fmt.Sprintf("Task: %s\nAction: %s on %q\nRationale: %s\nOutcome success=%v error=%q\n",
		task, winner.Action.Type, winner.Action.Selector, winner.Action.Rationale, winner.Outcome.Success, winner.Outcome.ErrorMessage)

	resp, err := o.provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: prompt},
	}, o.model)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}

	var parsed struct {
		Experiences []struct {
			Statement string   `json:"statement"`
			Scope     []string `json:"scope"`
		} `json:"experiences"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Content)), &parsed); err != nil {
		return nil, fmt.Errorf("parse experiences: %w", err)
	}

	existing := o.experiences.List(nil)
	seen := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		seen[normalizeStatement(e.Statement)] = struct{}{}
	}

	var added []domain.Experience
	now := time.Now().UTC()
	for _, raw := range parsed.Experiences {
		statement := strings.TrimSpace(raw.Statement)
		if statement == "" || wordCount(statement) > maxStatementWords {
			continue
		}
		key := normalizeStatement(statement)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		exp := domain.Experience{
			ID:          uuid.NewString(),
			Statement:   statement,
			Scope:       raw.Scope,
			Confidence:  0.5,
			SourceRuns:  []string{runID},
			CreatedAt:   now,
			LastUpdated: now,
		}
		created, err := o.experiences.Create(exp)
		if err != nil {
			log.Warn().Err(err).Str("run_id", runID).Msg("optimizer: failed to persist experience")
			continue
		}
		added = append(added, created)
	}
	return added, nil
}

func normalizeStatement(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func wordCount(s string) int {
	return len(strings.Fields(s))
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
