package plangen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"noema/internal/llm"
)

const plannerSystemPrompt = `You are the test-planning module of a QA testing agent. Given a task
description, respond with exactly one JSON object describing a test plan, and nothing else:

{
  "title": "...",
  "rationale": "...",
  "steps": [
    {"step_id","title","description","test_steps"[],"expected_results"[],"action_hint",
     "expected_outcome","failure_indicator","priority"}
  ]
}

"priority" must be one of critical, important, nice_to_have. The first step should establish
navigation to the relevant page; the last step should be a final verification. Produce at least
3 steps and no more than 12.`

// Generator produces TestPlans: an LLM-primary path with a deterministic
// rule-engine fallback on any failure.
type Generator struct {
	provider         llm.Provider
	model            string
	maxTotalActions  int
	maxCyclesPerStep int
}

// New constructs a Generator. maxTotalActions/maxCyclesPerStep feed the
// rule-engine fallback's budget-trim algorithm.
func New(provider llm.Provider, model string, maxTotalActions, maxCyclesPerStep int) *Generator {
	return &Generator{
		provider:         provider,
		model:            model,
		maxTotalActions:  maxTotalActions,
		maxCyclesPerStep: maxCyclesPerStep,
	}
}

// Generate produces a TestPlan for task. On any LLM failure (call error,
// unparseable response, or empty plan) it falls back to the deterministic
// rule engine rather than returning an error; Plan Generation never fails
// the run.
func (g *Generator) Generate(ctx context.Context, task string) TestPlan {
	plan, err := g.invokeLLM(ctx, task)
	if err != nil {
		log.Warn().Err(err).Str("task", task).Msg("plan generator: llm path failed, falling back to rule engine")
		fallback, ferr := buildRulePlan(task, g.maxTotalActions, g.maxCyclesPerStep)
		if ferr != nil {
			log.Error().Err(ferr).Msg("plan generator: rule engine fallback failed")
			return TestPlan{Title: task, GeneratedBy: GeneratedByBuiltIn}
		}
		return fallback
	}
	return plan
}

func (g *Generator) invokeLLM(ctx context.Context, task string) (TestPlan, error) {
	if g.provider == nil {
		return TestPlan{}, fmt.Errorf("no llm provider configured")
	}
	msgs := []llm.Message{
		{Role: "system", Content: plannerSystemPrompt},
		{Role: "user", Content: "Task: " + task},
	}
	resp, err := g.provider.Chat(ctx, msgs, g.model)
	if err != nil {
		return TestPlan{}, fmt.Errorf("chat: %w", err)
	}
	var plan TestPlan
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Content)), &plan); err != nil {
		return TestPlan{}, fmt.Errorf("parse plan: %w", err)
	}
	if len(plan.Steps) == 0 {
		return TestPlan{}, fmt.Errorf("llm produced a plan with no steps")
	}
	for i := range plan.Steps {
		if plan.Steps[i].StepID == "" {
			plan.Steps[i].StepID = fmt.Sprintf("step-%d", i+1)
		}
	}
	plan.TotalSteps = len(plan.Steps)
	if plan.EstimatedActions == 0 {
		plan.EstimatedActions = len(plan.Steps) * g.maxCyclesPerStep
	}
	plan.GeneratedBy = GeneratedByLLM
	if plan.Title == "" {
		plan.Title = strings.TrimSpace("QA plan: " + task)
	}
	return plan, nil
}
