// Package decision implements the Decision Engine: single-shot, single-action
// context assembly, one LLM call, one atomic browser action, one outcome.
// Exactly one action per invocation; there is no inner tool loop.
package decision

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"noema/internal/browser"
	"noema/internal/config"
	"noema/internal/domain"
	"noema/internal/llm"
	"noema/internal/narration"
	"noema/internal/sensing"
	"noema/internal/store"
)

const (
	maxBeliefs         = 5
	maxExperiences     = 5
	maxRecentActions   = 8
	stuckLoopThreshold = 3
	defaultModel       = "gemini-2.0-flash"
	defaultBeliefFloor = 0.5
)

// Engine builds context, invokes the Decision LLM, and dispatches exactly
// one atomic action per Decide call.
type Engine struct {
	collections *store.Collections
	provider    llm.Provider
	model       string

	visionProvider llm.Provider
	visionModel    string
	lastVision     atomic.Pointer[VisionResult]

	sensor      *sensing.Sensor
	narrate     *narration.Bus
	registry    *Registry
	beliefFloor float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithModel overrides the default decision-making model name.
func WithModel(model string) Option { return func(e *Engine) { e.model = model } }

// WithVision attaches a provider/model used for fire-and-forget screenshot
// analysis. If unset, vision analysis is skipped entirely.
func WithVision(provider llm.Provider, model string) Option {
	return func(e *Engine) { e.visionProvider = provider; e.visionModel = model }
}

// WithBeliefFloor overrides the minimum MentalModel confidence considered in
// context assembly (default 0.5).
func WithBeliefFloor(floor float64) Option { return func(e *Engine) { e.beliefFloor = floor } }

// WithRegistry overrides the default action registry (used by tests to stub
// individual executors).
func WithRegistry(r *Registry) Option { return func(e *Engine) { e.registry = r } }

// New constructs a Decision Engine.
func New(collections *store.Collections, provider llm.Provider, sensor *sensing.Sensor, narrate *narration.Bus, opts ...Option) *Engine {
	e := &Engine{
		collections: collections,
		provider:    provider,
		model:       defaultModel,
		sensor:      sensor,
		narrate:     narrate,
		registry:    DefaultRegistry(),
		beliefFloor: defaultBeliefFloor,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Context is the assembled input to one Decide call.
type Context struct {
	ctx context.Context

	RunID                 string
	StepTitle             string
	ActionHint            string
	ExpectedOutcome       string
	Beliefs               []domain.MentalModel
	Experiences           []domain.Experience
	RecentActions         []domain.Action
	LastDOM               *domain.DOMSnapshot
	LastVisionDescription string
	Credentials           Credentials
}

// Credentials carries test credentials in tokenised form: Raw for execution
// and prompt construction, Masked for narration and logging.
type Credentials struct {
	Username domain.TokenisedString
	Password domain.TokenisedString
}

// Input is what the caller (the Cognitive Run Controller) supplies to Decide.
type Input struct {
	RunID           string
	StepTitle       string
	ActionHint      string
	ExpectedOutcome string
	RecentActions   []domain.Action // already scoped to this step; Decide keeps the last 8
	LastDOM         *domain.DOMSnapshot
	Credentials     config.CredentialsConfig
	Session         *browser.Session
	// SkipSensing suppresses the outcome-to-Observation feedback. The
	// Experience Optimizer sets it for rollout probes so optimization can
	// never generate Observations and, through them, belief updates.
	SkipSensing bool
}

// Result is what Decide produced: the persisted Action, its outcome, and a
// fresh DOM snapshot for the next call.
type Result struct {
	Action  domain.Action
	Outcome domain.ActionOutcome
	DOM     *domain.DOMSnapshot
}

// IsStuckInLoop returns true iff the last threshold action records share
// (type, selector, value). A pure function over Action history.
func IsStuckInLoop(actions []domain.Action) bool {
	if len(actions) < stuckLoopThreshold {
		return false
	}
	tail := actions[len(actions)-stuckLoopThreshold:]
	first := tail[0]
	for _, a := range tail[1:] {
		if a.Type != first.Type || a.Selector != first.Selector || a.Value.Raw != first.Value.Raw {
			return false
		}
	}
	return true
}

// BuildContext assembles the bounded context for one Decide call.
func (e *Engine) BuildContext(ctx context.Context, in Input) Context {
	beliefs := e.collections.MentalModels.List(func(m domain.MentalModel) bool {
		return m.Status == domain.ModelActive && m.Confidence >= e.beliefFloor
	})
	sortModelsByConfidenceDesc(beliefs)
	if len(beliefs) > maxBeliefs {
		beliefs = beliefs[:maxBeliefs]
	}

	experiences := e.collections.Experiences.List(nil)
	sortExperiencesByConfidenceDesc(experiences)
	if len(experiences) > maxExperiences {
		experiences = experiences[:maxExperiences]
	}

	recent := in.RecentActions
	if len(recent) > maxRecentActions {
		recent = recent[len(recent)-maxRecentActions:]
	}

	return Context{
		ctx:                   ctx,
		RunID:                 in.RunID,
		StepTitle:             in.StepTitle,
		ActionHint:            in.ActionHint,
		ExpectedOutcome:       in.ExpectedOutcome,
		Beliefs:               beliefs,
		Experiences:           experiences,
		RecentActions:         recent,
		LastDOM:               in.LastDOM,
		LastVisionDescription: loadVision(&e.lastVision),
		Credentials: Credentials{
			Username: domain.NewSecret(in.Credentials.Username),
			Password: domain.NewSecret(in.Credentials.Password),
		},
	}
}

// Decide builds context, invokes the Decision LLM, executes exactly one
// action, captures its outcome, and feeds the outcome back through Sensing.
// LLM failures degrade to no_op with a rationale naming the failure; Decide
// itself never returns an error for that reason.
func (e *Engine) Decide(ctx context.Context, in Input) (Result, error) {
	c := e.BuildContext(ctx, in)

	act, err := e.invokeLLM(c)
	if err != nil {
		act = llmAction{Type: domain.ActionNoOp, Rationale: fmt.Sprintf("decision llm unavailable: %v", err)}
	}

	action := domain.Action{
		ID:              uuid.NewString(),
		RunID:           in.RunID,
		Type:            act.Type,
		Rationale:       act.Rationale,
		Selector:        act.Selector,
		Value:           tokeniseValue(act.Value, c.Credentials),
		ExpectedOutcome: act.ExpectedOutcome,
		CreatedAt:       time.Now().UTC(),
	}
	return e.runAction(ctx, in.RunID, in.Session, action, in.SkipSensing)
}

// ExecuteAction runs a pre-built Action (one already produced by a replayed
// ActionSequence rather than an LLM call) through the same persist-execute-
// persist-sense pipeline Decide uses, skipping context assembly and the
// Decision LLM entirely. Used by the Cognitive Run Controller's Sequence
// Cache replay branch, where actions are detokenised ahead of time.
func (e *Engine) ExecuteAction(ctx context.Context, runID string, session *browser.Session, action domain.Action) (Result, error) {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	action.RunID = runID
	return e.runAction(ctx, runID, session, action, false)
}

// runAction persists action, executes it against session, persists its
// outcome, fires off vision analysis and Sensing feedback, and returns the
// fresh DOM snapshot for the next call. Shared by Decide and ExecuteAction.
func (e *Engine) runAction(ctx context.Context, runID string, session *browser.Session, action domain.Action, skipSensing bool) (Result, error) {
	if _, err := e.collections.Actions.Create(action); err != nil {
		return Result{}, fmt.Errorf("persist action: %w", err)
	}
	e.narrateEvent(narration.EventActionStarted, runID, fmt.Sprintf("decided to %s", describeAction(action)))

	start := time.Now()
	outcome := e.execute(ctx, session, action)
	outcome.DurationMS = time.Since(start).Milliseconds()
	outcome.ID = uuid.NewString()
	outcome.ActionID = action.ID
	outcome.CreatedAt = time.Now().UTC()

	var dom *domain.DOMSnapshot
	if session != nil {
		if snap, err := session.ExtractPageDOM(session.GetPage()); err == nil {
			dom = snap
			outcome.Artifacts.DOMSnapshot = snap
		}
	}

	if _, err := e.collections.ActionOutcomes.Create(outcome); err != nil {
		return Result{}, fmt.Errorf("persist outcome: %w", err)
	}
	e.narrateEvent(narration.EventActionCompleted, runID, fmt.Sprintf("finished %s: success=%v", describeAction(action), outcome.Success))

	if len(outcome.Artifacts.Screenshots) > 0 && dom != nil {
		e.dispatchVisionAnalysis(outcome.Artifacts.Screenshots[0], domSummary(dom))
	}

	if !skipSensing {
		e.feedSensing(ctx, runID, action, outcome)
	}

	return Result{Action: action, Outcome: outcome, DOM: dom}, nil
}

func (e *Engine) execute(ctx context.Context, session *browser.Session, action domain.Action) domain.ActionOutcome {
	fn, ok := e.registry.Get(action.Type)
	if !ok {
		return domain.ActionOutcome{Success: false, ErrorMessage: fmt.Sprintf("no executor registered for %s", action.Type)}
	}
	if session == nil {
		return domain.ActionOutcome{Success: action.Type == domain.ActionNoOp, ErrorMessage: "no browser session attached"}
	}
	res, err := fn(ctx, session, action)
	outcome := domain.ActionOutcome{
		Success: err == nil,
		Artifacts: domain.ActionArtifacts{
			Screenshots:   res.Screenshots,
			NetworkErrors: res.NetworkErrors,
		},
	}
	outcome.Artifacts.Logs = session.GetConsoleLogs(false)
	netErrs := session.GetNetworkErrors(false)
	outcome.Artifacts.NetworkErrors = append(outcome.Artifacts.NetworkErrors, browser.NetworkErrorStrings(netErrs)...)
	if err != nil {
		outcome.ErrorMessage = err.Error()
	}
	return outcome
}

// feedSensing turns the outcome into Observations for the Belief Engine's
// subscription to pick up.
func (e *Engine) feedSensing(ctx context.Context, runID string, action domain.Action, outcome domain.ActionOutcome) {
	if e.sensor == nil {
		return
	}
	text := fmt.Sprintf("action %s (%s) success=%v rationale=%s", action.Type, action.Selector, outcome.Success, action.Rationale)
	if outcome.ErrorMessage != "" {
		text += " error=" + outcome.ErrorMessage
	}
	if _, err := e.sensor.Ingest(ctx, sensing.Input{
		Kind:      sensing.InputText,
		Text:      text,
		RunID:     runID,
		SessionID: runID,
	}); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("decision engine: feeding outcome through sensing failed")
	}
}

func (e *Engine) narrateEvent(evType narration.EventType, runID, message string) {
	if e.narrate == nil {
		return
	}
	e.narrate.Emit(evType, runID, message, nil)
}

// tokeniseValue keeps ordinary action values transparent and masks any
// value that matches a configured credential.
func tokeniseValue(value string, creds Credentials) domain.TokenisedString {
	if value != "" && (value == creds.Username.Raw || value == creds.Password.Raw) {
		return domain.NewSecret(value)
	}
	return domain.NewTokenisedString(value)
}

func describeAction(a domain.Action) string {
	if a.Selector != "" {
		return fmt.Sprintf("%s on %s", a.Type, a.Selector)
	}
	return string(a.Type)
}

func domSummary(dom *domain.DOMSnapshot) string {
	return fmt.Sprintf("title=%q url=%q errors=%v", dom.Title, dom.URL, dom.ErrorMessages)
}

func sortModelsByConfidenceDesc(models []domain.MentalModel) {
	sort.SliceStable(models, func(i, j int) bool { return models[i].Confidence > models[j].Confidence })
}

func sortExperiencesByConfidenceDesc(exps []domain.Experience) {
	sort.SliceStable(exps, func(i, j int) bool { return exps[i].Confidence > exps[j].Confidence })
}
