package crc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"noema/internal/domain"
	"noema/internal/plangen"
)

func TestInferStepResult_NoOutcomesFails(t *testing.T) {
	result := inferStepResult(nil, nil, nil, plangen.PlanStep{})
	require.Equal(t, StepFail, result)
}

func TestInferStepResult_FailureIndicatorMatchWins(t *testing.T) {
	actions := []domain.Action{{Type: domain.ActionSubmitForm}}
	outcomes := []domain.ActionOutcome{{Success: true}}
	dom := &domain.DOMSnapshot{ErrorMessages: []string{"Invalid username or password"}}
	step := plangen.PlanStep{FailureIndicator: "invalid username", ActionHint: "submit_form"}
	require.Equal(t, StepFail, inferStepResult(actions, outcomes, dom, step))
}

func TestInferStepResult_HintedActionSuccessPasses(t *testing.T) {
	actions := []domain.Action{
		{Type: domain.ActionFillInput},
		{Type: domain.ActionSubmitForm},
	}
	outcomes := []domain.ActionOutcome{{Success: false}, {Success: true}}
	dom := &domain.DOMSnapshot{ErrorMessages: []string{"field was empty"}}
	step := plangen.PlanStep{ActionHint: "submit_form"}
	require.Equal(t, StepPass, inferStepResult(actions, outcomes, dom, step))
}

func TestInferStepResult_HintedActionFailureDoesNotPass(t *testing.T) {
	actions := []domain.Action{{Type: domain.ActionSubmitForm}}
	outcomes := []domain.ActionOutcome{{Success: false}}
	step := plangen.PlanStep{ActionHint: "submit_form"}
	require.Equal(t, StepFail, inferStepResult(actions, outcomes, nil, step))
}

func TestInferStepResult_DOMMatchesExpectedResultPasses(t *testing.T) {
	outcomes := []domain.ActionOutcome{{Success: false}}
	dom := &domain.DOMSnapshot{Title: "Account Dashboard"}
	step := plangen.PlanStep{ExpectedResults: []string{"dashboard"}}
	require.Equal(t, StepPass, inferStepResult(nil, outcomes, dom, step))
}

func TestInferStepResult_DOMHeadingMatchesExpectedResultPasses(t *testing.T) {
	outcomes := []domain.ActionOutcome{{Success: false}}
	dom := &domain.DOMSnapshot{Headings: []domain.DOMHeading{{Level: 1, Text: "Welcome back"}}}
	step := plangen.PlanStep{ExpectedResults: []string{"welcome"}}
	require.Equal(t, StepPass, inferStepResult(nil, outcomes, dom, step))
}

func TestInferStepResult_LastActionSuccessNoDOMErrorsPasses(t *testing.T) {
	actions := []domain.Action{
		{Type: domain.ActionClickElement},
		{Type: domain.ActionClickElement},
	}
	outcomes := []domain.ActionOutcome{{Success: false}, {Success: true}}
	dom := &domain.DOMSnapshot{}
	require.Equal(t, StepPass, inferStepResult(actions, outcomes, dom, plangen.PlanStep{}))
}

func TestInferStepResult_LastNoOpSuccessDoesNotPass(t *testing.T) {
	actions := []domain.Action{{Type: domain.ActionNoOp}}
	outcomes := []domain.ActionOutcome{{Success: true}}
	require.Equal(t, StepFail, inferStepResult(actions, outcomes, &domain.DOMSnapshot{}, plangen.PlanStep{}))
}

func TestInferStepResult_NoneOfTheConditionsFails(t *testing.T) {
	actions := []domain.Action{{Type: domain.ActionClickElement}}
	outcomes := []domain.ActionOutcome{{Success: false}}
	dom := &domain.DOMSnapshot{ErrorMessages: []string{"unexpected error"}}
	step := plangen.PlanStep{ExpectedResults: []string{"success page"}}
	require.Equal(t, StepFail, inferStepResult(actions, outcomes, dom, step))
}

func TestInferStepResult_IdempotentForSameInputs(t *testing.T) {
	actions := []domain.Action{{Type: domain.ActionSubmitForm}}
	outcomes := []domain.ActionOutcome{{Success: true}}
	dom := &domain.DOMSnapshot{Title: "Order confirmed"}
	step := plangen.PlanStep{ExpectedResults: []string{"confirmed"}, ActionHint: "submit_form"}
	first := inferStepResult(actions, outcomes, dom, step)
	second := inferStepResult(actions, outcomes, dom, step)
	require.Equal(t, first, second)
	require.Equal(t, StepPass, first)
}

func TestContainsFold_CaseInsensitive(t *testing.T) {
	require.True(t, containsFold("Invalid USERNAME or password", "invalid username"))
	require.False(t, containsFold("all good", "error"))
	require.False(t, containsFold("anything", ""))
}

func TestCountNonNoopSuccesses_SkipsNoOpAndFailures(t *testing.T) {
	actions := []domain.Action{
		{Type: domain.ActionFillInput},
		{Type: domain.ActionNoOp},
		{Type: domain.ActionClickElement},
		{Type: domain.ActionSubmitForm},
	}
	outcomes := []domain.ActionOutcome{
		{Success: true},
		{Success: true},
		{Success: false},
		{Success: true},
	}
	require.Equal(t, 2, countNonNoopSuccesses(actions, outcomes))
}

func TestToSequenceSteps_RetokenisesCredentials(t *testing.T) {
	actions := []domain.Action{
		{Type: domain.ActionFillInput, Selector: "#user", Value: domain.NewTokenisedString("alice")},
		{Type: domain.ActionFillInput, Selector: "#pass", Value: domain.NewTokenisedString("hunter2")},
		{Type: domain.ActionClickElement, Selector: "#submit"},
	}
	steps := toSequenceSteps(actions, "alice", "hunter2")
	require.Len(t, steps, 3)
	require.Equal(t, "${username}", steps[0].ValueTemplate)
	require.Equal(t, "${password}", steps[1].ValueTemplate)
	require.Empty(t, steps[2].ValueTemplate)
}

func TestToSequenceSteps_NoCredentialsConfiguredLeavesValuesAlone(t *testing.T) {
	actions := []domain.Action{
		{Type: domain.ActionFillInput, Selector: "#search", Value: domain.NewTokenisedString("widgets")},
	}
	steps := toSequenceSteps(actions, "", "")
	require.Equal(t, "widgets", steps[0].ValueTemplate)
}
