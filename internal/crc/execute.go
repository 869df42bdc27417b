package crc

import (
	"context"

	"noema/internal/browser"
	"noema/internal/decision"
	"noema/internal/domain"
	"noema/internal/narration"
	"noema/internal/plangen"
	"noema/internal/sequencecache"
)

const recentActionsWindow = 8

// runSteps executes plan's steps in order against session, enforcing the
// global action budget and per-step cycle budget, and returns each step's
// outcome plus whether the run was stopped (cancelled) before completion.
func (c *Controller) runSteps(ctx context.Context, runID string, session *browser.Session, urlHost string, plan plangen.TestPlan, metrics *domain.RunMetrics) ([]StepOutcome, bool) {
	var steps []StepOutcome
	var crossStepTail []domain.Action
	totalUsed := 0
	stopped := false

	for i, step := range plan.Steps {
		if ctx.Err() != nil {
			stopped = true
		}
		if stopped || totalUsed >= c.budget.MaxTotalActions {
			steps = append(steps, c.remainingSkipped(plan.Steps[i:])...)
			break
		}

		steps = append(steps, c.runStep(ctx, runID, session, urlHost, step, crossStepTail, &totalUsed, metrics))
		last := steps[len(steps)-1]
		metrics.StepsTaken++
		if last.Result == StepFail {
			metrics.FailureCount++
		}
		if last.Source == "replay" {
			metrics.StepsFromMemory++
		}

		if len(last.Actions) > 2 {
			crossStepTail = append([]domain.Action{}, last.Actions[len(last.Actions)-2:]...)
		} else {
			crossStepTail = append([]domain.Action{}, last.Actions...)
		}
	}

	return steps, stopped
}

func (c *Controller) remainingSkipped(steps []plangen.PlanStep) []StepOutcome {
	out := make([]StepOutcome, 0, len(steps))
	for _, s := range steps {
		out = append(out, StepOutcome{StepID: s.StepID, Title: s.Title, Source: "skipped", Result: StepSkipped})
	}
	return out
}

// runStep executes one plan step: a Sequence Cache replay attempt that
// falls through to the Decision Engine LLM branch on any action failure.
func (c *Controller) runStep(ctx context.Context, runID string, session *browser.Session, urlHost string, step plangen.PlanStep, crossStepTail []domain.Action, totalUsed *int, metrics *domain.RunMetrics) StepOutcome {
	c.narrate.Emit(narration.EventPlanStepStarted, runID, "starting step: "+step.Title, nil)

	var actions []domain.Action
	var outcomes []domain.ActionOutcome
	var lastDOM *domain.DOMSnapshot
	source := "llm"

	seq, found := c.sequences.FindActionSequence(ctx, step.Title, urlHost, c.sequenceMinConfidence)
	replayComplete := false
	if found {
		source = "replay"
		replayComplete = true
		username := domain.NewSecret(c.creds.Username)
		password := domain.NewSecret(c.creds.Password)
		replayActions := sequencecache.ReplaySequence(*seq, runID, username, password)

		for _, act := range replayActions {
			if ctx.Err() != nil || *totalUsed >= c.budget.MaxTotalActions {
				replayComplete = false
				break
			}
			res, err := c.decision.ExecuteAction(ctx, runID, session, act)
			*totalUsed++
			if err != nil {
				replayComplete = false
				break
			}
			actions = append(actions, res.Action)
			outcomes = append(outcomes, res.Outcome)
			lastDOM = res.DOM
			if !res.Outcome.Success {
				if _, err := c.sequences.RecordSequenceFailure(ctx, seq.ID); err != nil {
					c.narrate.Emit(narration.EventError, runID, "failed to record sequence failure: "+err.Error(), nil)
				}
				replayComplete = false
				break
			}
		}
	}

	if !replayComplete {
		source = "llm"
		recent := append(append([]domain.Action{}, crossStepTail...), actions...)
		for cycle := 0; cycle < c.budget.MaxCyclesPerStep; cycle++ {
			if ctx.Err() != nil || *totalUsed >= c.budget.MaxTotalActions {
				break
			}
			if decision.IsStuckInLoop(recent) {
				break
			}
			res, err := c.decision.Decide(ctx, decision.Input{
				RunID:           runID,
				StepTitle:       step.Title,
				ActionHint:      step.ActionHint,
				ExpectedOutcome: step.ExpectedOutcome,
				RecentActions:   recent,
				LastDOM:         lastDOM,
				Credentials:     c.creds,
				Session:         session,
			})
			*totalUsed++
			metrics.LLMCallsMade++
			if err != nil {
				c.narrate.Emit(narration.EventError, runID, "decision engine error: "+err.Error(), nil)
				break
			}
			actions = append(actions, res.Action)
			outcomes = append(outcomes, res.Outcome)
			lastDOM = res.DOM
			recent = append(recent, res.Action)
			if len(recent) > recentActionsWindow {
				recent = recent[len(recent)-recentActionsWindow:]
			}
			if inferStepResult(actions, outcomes, lastDOM, step) == StepPass {
				break
			}
		}
	}

	result := inferStepResult(actions, outcomes, lastDOM, step)
	metrics.ToolCalls += len(actions)

	if result == StepPass && countNonNoopSuccesses(actions, outcomes) >= 2 {
		requiresCreds := c.creds.Username != "" || c.creds.Password != ""
		seqSteps := toSequenceSteps(actions, c.creds.Username, c.creds.Password)
		if _, err := c.sequences.RecordActionSequence(ctx, urlHost, step.Title, runID, seqSteps, requiresCreds); err != nil {
			c.narrate.Emit(narration.EventError, runID, "failed to record action sequence: "+err.Error(), nil)
		}
	}

	c.narrate.Emit(narration.EventPlanStepCompleted, runID, "finished step: "+step.Title+" result="+string(result), nil)

	return StepOutcome{StepID: step.StepID, Title: step.Title, Source: source, Result: result, Actions: actions, Outcomes: outcomes}
}
