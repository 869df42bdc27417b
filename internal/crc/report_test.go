package crc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"noema/internal/domain"
	"noema/internal/improvement"
)

func TestOverallResult_EmptyStepsFails(t *testing.T) {
	require.Equal(t, domain.ResultFail, overallResult(nil))
}

func TestOverallResult_AllPassPasses(t *testing.T) {
	steps := []StepOutcome{{Result: StepPass}, {Result: StepPass}}
	require.Equal(t, domain.ResultPass, overallResult(steps))
}

func TestOverallResult_MixedIsPartial(t *testing.T) {
	steps := []StepOutcome{{Result: StepPass}, {Result: StepFail}}
	require.Equal(t, domain.ResultPartial, overallResult(steps))
}

func TestOverallResult_AllFailOrSkipIsFail(t *testing.T) {
	steps := []StepOutcome{{Result: StepFail}, {Result: StepSkipped}}
	require.Equal(t, domain.ResultFail, overallResult(steps))
}

func TestOverallResultFromVerdicts_StoppedDowngradesPassToPartial(t *testing.T) {
	steps := []StepOutcome{{Result: StepPass}}
	require.Equal(t, domain.ResultPartial, overallResultFromVerdicts(steps, true))
}

func TestOverallResultFromVerdicts_StoppedWithFailureStaysFail(t *testing.T) {
	steps := []StepOutcome{{Result: StepFail}}
	require.Equal(t, domain.ResultFail, overallResultFromVerdicts(steps, true))
}

func TestBuildReflection_NoPriorRunsNotesNoBaseline(t *testing.T) {
	steps := []StepOutcome{
		{Title: "log in", Source: "llm", Result: StepPass, Actions: []domain.Action{{Type: domain.ActionFillInput, Selector: "#user"}}, Outcomes: []domain.ActionOutcome{{Success: true}}},
	}
	r := buildReflection(steps, improvement.Report{PriorRuns: 0}, "login flow")
	require.Contains(t, r.ImprovementSummary, "no prior baseline")
	require.Empty(t, r.OpenQuestions)
	require.Contains(t, r.NextBestAction, "login flow")
}

func TestBuildReflection_FailedStepsRaiseOpenQuestions(t *testing.T) {
	steps := []StepOutcome{
		{Title: "submit form", Result: StepFail, Outcomes: []domain.ActionOutcome{{Success: false, ErrorMessage: "timed out"}}},
	}
	r := buildReflection(steps, improvement.Report{PriorRuns: 1}, "checkout flow")
	require.Len(t, r.OpenQuestions, 1)
	require.Contains(t, r.OpenQuestions[0], "submit form")
	require.Contains(t, r.NextBestAction, "submit form")
	require.Contains(t, r.WhatObserved[0], "timed out")
}

func TestBuildReflection_ReplayedStepNotedAsWorkedBetter(t *testing.T) {
	steps := []StepOutcome{
		{Title: "log in", Source: "replay", Result: StepPass, Outcomes: []domain.ActionOutcome{{Success: true}}},
	}
	r := buildReflection(steps, improvement.Report{PriorRuns: 2, HasImproved: true}, "login flow")
	require.Len(t, r.WhatWorkedBetter, 1)
	require.Contains(t, r.ImprovementSummary, "improved against the mean of 2")
}

func TestDescribeAction_IncludesSelectorWhenPresent(t *testing.T) {
	require.Equal(t, "click_element on #submit", describeAction(domain.Action{Type: domain.ActionClickElement, Selector: "#submit"}))
	require.Equal(t, "no_op", describeAction(domain.Action{Type: domain.ActionNoOp}))
}

func TestSuggestNextGoal_VariesByResult(t *testing.T) {
	require.Contains(t, suggestNextGoal("log in", domain.ResultPass), "less-privileged account")
	require.Contains(t, suggestNextGoal("log in", domain.ResultPartial), "re-run the failed or skipped steps")
	require.Contains(t, suggestNextGoal("log in", domain.ResultFail), "diagnose the failure cause")
}
