// Package crc implements the Cognitive Run Controller: the top-level
// orchestrator that turns a goal and target URL into a plan, executes it as
// a sequence of sense->decide->act->learn cycles bounded by an action
// budget, and assembles the post-run reflection, metrics, and QA report.
//
// The run lifecycle is a state machine (pending -> planning -> executing ->
// reflecting -> completed, or failed/stopped from any state); each plan step
// tries a Sequence Cache replay first and falls through to the Decision
// Engine on a miss or a replay failure.
package crc

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"noema/internal/browser"
	"noema/internal/config"
	"noema/internal/decision"
	"noema/internal/domain"
	"noema/internal/identity"
	"noema/internal/improvement"
	"noema/internal/narration"
	"noema/internal/optimizer"
	"noema/internal/plangen"
	"noema/internal/sequencecache"
	"noema/internal/store"
)

// RunState is the live, in-memory status of one run, queried by the HTTP
// layer's /run/{id}/state handler. Reports only exist once a run reaches
// reflecting/completed/failed/stopped.
type RunState struct {
	mu sync.RWMutex

	runID        string
	task         string
	url          string
	status       domain.RunStatus
	startedAt    time.Time
	finishedAt   time.Time
	report       *Report
	deepLearning bool
}

// Snapshot is a point-in-time, concurrency-safe copy of a RunState.
type Snapshot struct {
	RunID      string           `json:"run_id"`
	Task       string           `json:"task"`
	URL        string           `json:"url"`
	Status     domain.RunStatus `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	ElapsedMS  int64            `json:"elapsed_ms"`
	Report     *Report          `json:"report,omitempty"`
}

func (s *RunState) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	end := time.Now()
	if !s.finishedAt.IsZero() {
		end = s.finishedAt
	}
	return Snapshot{
		RunID:     s.runID,
		Task:      s.task,
		URL:       s.url,
		Status:    s.status,
		StartedAt: s.startedAt,
		ElapsedMS: end.Sub(s.startedAt).Milliseconds(),
		Report:    s.report,
	}
}

func (s *RunState) setStatus(status domain.RunStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *RunState) complete(status domain.RunStatus, report *Report) {
	s.mu.Lock()
	s.status = status
	s.report = report
	s.finishedAt = time.Now().UTC()
	s.mu.Unlock()
}

// Controller owns run lifecycles. One instance serves every run in the
// process; each run carries its own context, cancel func, and Browser
// Session, so multiple runs may be in flight at once.
type Controller struct {
	collections *store.Collections
	narrate     *narration.Bus
	sessions    *browser.Manager
	decision    *decision.Engine
	sequences   *sequencecache.Cache
	plans       *plangen.Generator
	opt         *optimizer.Optimizer
	ids         *identity.Service

	budget                config.BudgetConfig
	creds                 config.CredentialsConfig
	sequenceMinConfidence float64

	mu        sync.Mutex
	runs      map[string]*RunState
	cancels   map[string]context.CancelFunc
	planCache map[string]plangen.TestPlan
}

// New constructs a Controller.
func New(
	collections *store.Collections,
	narrate *narration.Bus,
	sessions *browser.Manager,
	decisionEngine *decision.Engine,
	sequences *sequencecache.Cache,
	plans *plangen.Generator,
	opt *optimizer.Optimizer,
	ids *identity.Service,
	budget config.BudgetConfig,
	creds config.CredentialsConfig,
	sequenceMinConfidence float64,
) *Controller {
	return &Controller{
		collections:           collections,
		narrate:               narrate,
		sessions:              sessions,
		decision:              decisionEngine,
		sequences:             sequences,
		plans:                 plans,
		opt:                   opt,
		ids:                   ids,
		budget:                budget,
		creds:                 creds,
		sequenceMinConfidence: sequenceMinConfidence,
		runs:                  map[string]*RunState{},
		cancels:               map[string]context.CancelFunc{},
		planCache:             map[string]plangen.TestPlan{},
	}
}

// Start validates the target URL, persists a pending RunRecord, and launches
// the run loop in the background, returning its run_id immediately.
// Validation failures never create a run and never touch Identity. When
// deepLearn is true, the Experience Optimizer is launched in the background
// after the report is delivered.
func (c *Controller) Start(task, targetURL string, deepLearn bool) (string, error) {
	if err := ValidateTargetURL(targetURL); err != nil {
		return "", err
	}

	runID := uuid.NewString()
	now := time.Now().UTC()
	if _, err := c.collections.Runs.Create(domain.RunRecord{
		ID:        runID,
		Task:      task,
		URL:       targetURL,
		Status:    domain.RunPending,
		StartedAt: now,
	}); err != nil {
		return "", fmt.Errorf("persist run record: %w", err)
	}

	state := &RunState{runID: runID, task: task, url: targetURL, status: domain.RunPending, startedAt: now, deepLearning: deepLearn}
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.runs[runID] = state
	c.cancels[runID] = cancel
	c.mu.Unlock()

	go c.executeRun(ctx, state)

	return runID, nil
}

// Stop cancels an in-flight run. Cancellation is observed between actions,
// never mid-action.
func (c *Controller) Stop(runID string) bool {
	c.mu.Lock()
	cancel, ok := c.cancels[runID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// State returns a concurrency-safe snapshot of runID's live status.
func (c *Controller) State(runID string) (Snapshot, bool) {
	c.mu.Lock()
	state, ok := c.runs[runID]
	c.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return state.snapshot(), true
}

// States returns a snapshot of every run this process has started since
// boot (the /runs listing reads the persisted RunRecord collection
// directly for cross-restart history; this is the live-process view used by
// /run/{id}/state and /run/{id}/stream).
func (c *Controller) States() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Snapshot, 0, len(c.runs))
	for _, s := range c.runs {
		out = append(out, s.snapshot())
	}
	return out
}

// Optimize triggers the Experience Optimizer against runID on demand
// (POST /run/{id}/optimize), independent of the automatic deep-learn
// handoff a completed run may also have launched.
func (c *Controller) Optimize(ctx context.Context, runID string) (optimizer.Result, error) {
	if c.opt == nil {
		return optimizer.Result{}, fmt.Errorf("experience optimizer is not configured")
	}
	c.mu.Lock()
	state, ok := c.runs[runID]
	c.mu.Unlock()
	if !ok {
		return optimizer.Result{}, fmt.Errorf("unknown run %s", runID)
	}
	snap := state.snapshot()
	task := snap.Task
	stepTitle, actionHint := "optimize prior run", task
	if snap.Report != nil && len(snap.Report.Plan.Steps) > 0 {
		last := snap.Report.Plan.Steps[len(snap.Report.Plan.Steps)-1]
		stepTitle, actionHint = last.Title, last.ActionHint
	}
	result, err := c.opt.Run(ctx, runID, task, stepTitle, actionHint, c.creds)
	if err == nil {
		c.recordOptimizerMetrics(runID, result)
	}
	return result, err
}

// recordOptimizerMetrics folds a deep-learn pass's rollout and experience
// counts into the run's persisted metrics.
func (c *Controller) recordOptimizerMetrics(runID string, result optimizer.Result) {
	if _, err := c.collections.RunMetrics.Update(runID, store.Mutation[domain.RunMetrics]{
		ChangeSummary: "experience optimizer completed",
		Apply: func(m domain.RunMetrics) (domain.RunMetrics, error) {
			m.RolloutsUsed += len(result.Rollouts)
			m.ExperiencesAdded += len(result.ExperiencesAdded)
			return m, nil
		},
	}); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("crc: failed to record optimizer metrics")
	}
}

func (c *Controller) releaseRun(runID string) {
	c.mu.Lock()
	delete(c.cancels, runID)
	c.mu.Unlock()
}

// executeRun drives one run's plan -> execute -> reflect lifecycle to
// completion. Panics are recovered and narrated as error events; a stack
// trace never reaches an HTTP client.
func (c *Controller) executeRun(ctx context.Context, state *RunState) {
	runID := state.runID
	defer c.releaseRun(runID)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("run_id", runID).Msg("crc: run loop panicked")
			c.narrate.Emit(narration.EventError, runID, fmt.Sprintf("run failed: internal error: %v", r), nil)
			state.complete(domain.RunFailed, nil)
			c.finishRunRecord(runID, domain.RunFailed)
		}
	}()

	state.setStatus(domain.RunPlanning)
	c.narrate.Emit(narration.EventRunStarted, runID, fmt.Sprintf("started run for %q", state.task), nil)

	plan, planReused := c.lookupPlan(state.task)
	if planReused {
		c.narrate.Emit(narration.EventPlanGenerated, runID, fmt.Sprintf("reused the %d-step plan from a prior run of this task: %s", len(plan.Steps), plan.Title), nil)
	} else {
		plan = c.plans.Generate(ctx, state.task)
		c.narrate.Emit(narration.EventPlanGenerated, runID, fmt.Sprintf("generated a %d-step plan: %s", len(plan.Steps), plan.Title), nil)
	}

	session, err := c.sessions.Initialize(ctx, runID)
	if err != nil {
		c.narrate.Emit(narration.EventError, runID, fmt.Sprintf("failed to start browser session: %v", err), nil)
		state.complete(domain.RunFailed, nil)
		c.finishRunRecord(runID, domain.RunFailed)
		return
	}
	defer c.sessions.Close(runID)

	state.setStatus(domain.RunExecuting)
	urlHost := hostOf(state.url)

	experiencesAtStart := c.collections.Experiences.Count(nil)
	metrics := domain.RunMetrics{RunID: runID, TaskType: taskType(state.task), PlanReused: planReused}

	steps, stopped := c.runSteps(ctx, runID, session, urlHost, plan, &metrics)
	state.setStatus(domain.RunReflecting)

	status := domain.RunCompleted
	if stopped {
		status = domain.RunStopped
	}

	result := overallResultFromVerdicts(steps, stopped)

	metrics.DurationMS = time.Since(state.startedAt).Milliseconds()
	planReusedSaves := 0.0
	if planReused {
		planReusedSaves = 1.0
	}
	metrics.LLMCallsSaved = planReusedSaves + float64(metrics.StepsFromMemory)*avgActionsPerStep
	metrics.ObservationsCreated = c.collections.Observations.Count(func(o domain.Observation) bool {
		return o.Source.RunID == runID
	})
	metrics.ModelsCreated = c.collections.MentalModels.Count(func(m domain.MentalModel) bool {
		return !m.CreatedAt.Before(state.startedAt)
	})
	metrics.ModelsUpdated = c.collections.MentalModels.Count(func(m domain.MentalModel) bool {
		return m.CreatedAt.Before(state.startedAt) && !m.LastUpdated.Before(state.startedAt)
	})
	metrics.ExperiencesAdded = c.collections.Experiences.Count(func(e domain.Experience) bool {
		return !e.CreatedAt.Before(state.startedAt)
	})
	if metrics.LLMCallsMade > 0 {
		// The Decision Engine consults at most 5 experiences per call.
		metrics.ExperiencesUsed = experiencesAtStart
		if metrics.ExperiencesUsed > 5 {
			metrics.ExperiencesUsed = 5
		}
	}
	metrics.Success = result == domain.ResultPass

	// Close the browser before assembling the report so the video manifest
	// is finalised and its URL can be included.
	c.sessions.Close(runID)
	videoURL := ""
	if session.GetVideoPath() != "" {
		videoURL = "/evidence/videos/" + runID + "/session.json"
	}

	priorMetrics := c.collections.RunMetrics.List(func(m domain.RunMetrics) bool { return m.RunID != runID })
	impReport := improvement.Analyze(metrics, priorMetrics)

	if _, err := c.collections.RunMetrics.Create(metrics); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("crc: failed to persist run metrics")
	}

	report := &Report{
		RunID:       runID,
		Task:        state.task,
		URL:         state.url,
		Result:      result,
		Plan:        plan,
		Steps:       steps,
		Reflection:  buildReflection(steps, impReport, plan.Title),
		Metrics:     metrics,
		Improvement: impReport,
		MemorySavings: MemorySavings{
			PlanReused:      metrics.PlanReused,
			StepsFromMemory: metrics.StepsFromMemory,
			LLMCallsSaved:   metrics.LLMCallsSaved,
		},
		VideoURL:          videoURL,
		SuggestedNextGoal: suggestNextGoal(state.task, result),
		StartedAt:         state.startedAt,
		FinishedAt:        time.Now().UTC(),
	}

	state.complete(status, report)
	c.finishRunRecord(runID, status)
	if result != domain.ResultFail {
		c.storePlan(state.task, plan)
	}

	if _, err := c.ids.Recompute(); err != nil {
		log.Warn().Err(err).Msg("crc: identity recompute failed")
	}

	c.narrate.Emit(narration.EventRunCompleted, runID, fmt.Sprintf("run finished: result=%s suggested_next_goal=%q", report.Result, report.SuggestedNextGoal), map[string]any{"result": string(report.Result)})

	if state.deepLearning {
		c.deepLearnHandoff(runID, state.task, plan)
	}
}

// lookupPlan returns the cached plan from a prior non-failing run of the
// same task type, if any. The cache is in-process only; a restarted process
// regenerates plans.
func (c *Controller) lookupPlan(task string) (plangen.TestPlan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	plan, ok := c.planCache[taskType(task)]
	return plan, ok && len(plan.Steps) > 0
}

func (c *Controller) storePlan(task string, plan plangen.TestPlan) {
	if len(plan.Steps) == 0 {
		return
	}
	c.mu.Lock()
	c.planCache[taskType(task)] = plan
	c.mu.Unlock()
}

func (c *Controller) finishRunRecord(runID string, status domain.RunStatus) {
	now := time.Now().UTC()
	if _, err := c.collections.Runs.Update(runID, store.Mutation[domain.RunRecord]{
		ChangeSummary: "run reached a terminal state",
		Apply: func(r domain.RunRecord) (domain.RunRecord, error) {
			r.Status = status
			r.FinishedAt = &now
			return r, nil
		},
	}); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("crc: failed to finalize run record")
	}
}

// deepLearnHandoff launches the Experience Optimizer in the background
// after the report has already been delivered; its completion never blocks
// run_completed and is narrated as a separate event.
func (c *Controller) deepLearnHandoff(runID, task string, plan plangen.TestPlan) {
	if c.opt == nil || len(plan.Steps) == 0 {
		return
	}
	last := plan.Steps[len(plan.Steps)-1]
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		result, err := c.opt.Run(ctx, runID, task, last.Title, last.ActionHint, c.creds)
		if err != nil {
			log.Warn().Err(err).Str("run_id", runID).Msg("crc: deep-learn handoff failed")
			return
		}
		c.recordOptimizerMetrics(runID, result)
	}()
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Host
}

func taskType(task string) string {
	return improvement.TaskType(sequencecache.ExtractKeywords(task))
}

func overallResultFromVerdicts(steps []StepOutcome, stopped bool) domain.RunResult {
	result := overallResult(steps)
	if stopped && result == domain.ResultPass {
		return domain.ResultPartial
	}
	return result
}

