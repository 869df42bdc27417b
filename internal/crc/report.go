package crc

import (
	"fmt"
	"strings"
	"time"

	"noema/internal/domain"
	"noema/internal/improvement"
	"noema/internal/plangen"
)

// StepVerdict is one plan step's own pass/fail/skip result, distinct from
// the run-level Report.Result (pass/fail/partial).
type StepVerdict string

const (
	StepPass    StepVerdict = "pass"
	StepFail    StepVerdict = "fail"
	StepSkipped StepVerdict = "skipped"
)

// StepOutcome is one executed plan step's record within a Report.
type StepOutcome struct {
	StepID   string                  `json:"step_id"`
	Title    string                  `json:"title"`
	Source   string                  `json:"source"` // "replay", "llm", or "skipped"
	Result   StepVerdict             `json:"result"`
	Actions  []domain.Action         `json:"actions"`
	Outcomes []domain.ActionOutcome  `json:"outcomes"`
}

// Reflection is the deterministic post-run reflection struct, built from
// this run's step actions and outcomes plus the Improvement Analyzer's
// comparison against prior same-task_type runs.
type Reflection struct {
	WhatObserved        []string `json:"what_observed"`
	WhatBelieved        []string `json:"what_believed"`
	WhatTried           []string `json:"what_tried"`
	WhatWorkedBetter    []string `json:"what_worked_better"`
	WhatLearned         []string `json:"what_learned"`
	ImprovementSummary  string   `json:"improvement_summary"`
	OpenQuestions       []string `json:"open_questions"`
	NextBestAction      string   `json:"next_best_action"`
}

// MemorySavings summarises how much Decision-LLM work this run avoided by
// reusing a plan or replaying cached action sequences.
type MemorySavings struct {
	PlanReused      bool    `json:"plan_reused"`
	StepsFromMemory int     `json:"steps_from_memory"`
	LLMCallsSaved   float64 `json:"llm_calls_saved"`
}

// Report is the QA report the Cognitive Run Controller assembles at the end
// of a run and publishes with run_completed.
type Report struct {
	RunID             string               `json:"run_id"`
	Task              string               `json:"task"`
	URL               string               `json:"url"`
	Result            domain.RunResult     `json:"result"`
	Plan              plangen.TestPlan     `json:"plan"`
	Steps             []StepOutcome        `json:"steps"`
	Reflection        Reflection           `json:"reflection"`
	Metrics           domain.RunMetrics    `json:"metrics"`
	Improvement       improvement.Report   `json:"improvement"`
	MemorySavings     MemorySavings        `json:"memory_savings"`
	VideoURL          string               `json:"video_url,omitempty"`
	SuggestedNextGoal string               `json:"suggested_next_goal"`
	StartedAt         time.Time            `json:"started_at"`
	FinishedAt        time.Time            `json:"finished_at"`
}

// avgActionsPerStep approximates the Decision-LLM calls a memory-served step
// would otherwise have spent, for the llm_calls_saved estimate.
const avgActionsPerStep = 3.0

// overallResult derives the report's pass/fail/partial verdict: pass when
// every step passed, fail when no step passed (each one failed or was
// skipped, or there are no steps), partial otherwise.
func overallResult(steps []StepOutcome) domain.RunResult {
	if len(steps) == 0 {
		return domain.ResultFail
	}
	anyPass, anyFailOrSkip := false, false
	for _, s := range steps {
		switch s.Result {
		case StepPass:
			anyPass = true
		default:
			anyFailOrSkip = true
		}
	}
	switch {
	case anyPass && anyFailOrSkip:
		return domain.ResultPartial
	case anyFailOrSkip:
		return domain.ResultFail
	default:
		return domain.ResultPass
	}
}

// buildReflection derives the deterministic reflection struct from this
// run's steps and the Improvement Analyzer's comparison.
func buildReflection(steps []StepOutcome, imp improvement.Report, planTitle string) Reflection {
	r := Reflection{}
	for _, s := range steps {
		for _, a := range s.Actions {
			r.WhatTried = append(r.WhatTried, fmt.Sprintf("%s: %s", s.Title, describeAction(a)))
		}
		for _, o := range s.Outcomes {
			if o.Success {
				r.WhatObserved = append(r.WhatObserved, fmt.Sprintf("%s succeeded", s.Title))
			} else if o.ErrorMessage != "" {
				r.WhatObserved = append(r.WhatObserved, fmt.Sprintf("%s: %s", s.Title, o.ErrorMessage))
			}
		}
		if s.Source == "replay" {
			r.WhatWorkedBetter = append(r.WhatWorkedBetter, fmt.Sprintf("%s replayed from a cached sequence instead of a fresh decision", s.Title))
		}
	}

	for _, c := range imp.Comparisons {
		if c.Label == improvement.Improved {
			pct := c.RelativeDelta * 100
			if pct < 0 {
				pct = -pct
			}
			r.WhatLearned = append(r.WhatLearned, fmt.Sprintf("%s improved %.0f%% against prior runs of this task", c.Metric, pct))
		}
	}

	switch {
	case imp.PriorRuns == 0:
		r.ImprovementSummary = "first run of this task type; no prior baseline to compare against"
	case imp.HasImproved:
		r.ImprovementSummary = fmt.Sprintf("improved against the mean of %d prior run(s) of this task type", imp.PriorRuns)
	default:
		r.ImprovementSummary = fmt.Sprintf("no net improvement against the mean of %d prior run(s) of this task type", imp.PriorRuns)
	}

	var failed []string
	for _, s := range steps {
		if s.Result == StepFail {
			failed = append(failed, s.Title)
		}
	}
	if len(failed) > 0 {
		r.OpenQuestions = append(r.OpenQuestions, fmt.Sprintf("why did these steps fail: %s", strings.Join(failed, ", ")))
		r.NextBestAction = fmt.Sprintf("retry %q with a fresh Decision Engine pass instead of cached replay", failed[0])
	} else {
		r.NextBestAction = fmt.Sprintf("run a deeper variant of %q to widen belief coverage", planTitle)
	}
	return r
}

func describeAction(a domain.Action) string {
	if a.Selector != "" {
		return fmt.Sprintf("%s on %s", a.Type, a.Selector)
	}
	return string(a.Type)
}

// suggestNextGoal proposes a follow-up goal, derived from whether the run
// passed and which task type it was.
func suggestNextGoal(task string, result domain.RunResult) string {
	switch result {
	case domain.ResultPass:
		return "extend coverage: " + task + " under a second, less-privileged account"
	case domain.ResultPartial:
		return "re-run the failed or skipped steps of: " + task
	default:
		return "diagnose the failure cause before re-attempting: " + task
	}
}
