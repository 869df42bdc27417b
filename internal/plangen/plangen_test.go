package plangen_test

import (
	"context"
	"errors"

	"github.com/stretchr/testify/require"

	"noema/internal/llm"
	"noema/internal/plangen"

	"testing"
)

type fakeProvider struct {
	response string
	err      error
}

func (f *fakeProvider) Chat(ctx context.Context, msgs []llm.Message, model string) (llm.Message, error) {
	if f.err != nil {
		return llm.Message{}, f.err
	}
	return llm.Message{Role: "assistant", Content: f.response}, nil
}

func TestGenerate_LLMSuccess(t *testing.T) {
	planJSON := `{"title":"Login plan","rationale":"because","steps":[
		{"step_id":"s1","title":"Go to login","priority":"critical"},
		{"step_id":"s2","title":"Submit","priority":"important"},
		{"step_id":"s3","title":"Verify","priority":"critical"}
	]}`
	gen := plangen.New(&fakeProvider{response: planJSON}, "test-model", 40, 6)
	plan := gen.Generate(context.Background(), "log in with valid credentials")

	require.Equal(t, plangen.GeneratedByLLM, plan.GeneratedBy)
	require.Len(t, plan.Steps, 3)
	require.Equal(t, 3, plan.TotalSteps)
}

func TestGenerate_LLMFailureFallsBackToRuleEngine(t *testing.T) {
	gen := plangen.New(&fakeProvider{err: errors.New("provider down")}, "test-model", 40, 6)
	plan := gen.Generate(context.Background(), "login to the site")

	require.Equal(t, plangen.GeneratedByBuiltIn, plan.GeneratedBy)
	require.NotEmpty(t, plan.Steps)
	var found bool
	for _, s := range plan.Steps {
		if s.StepID == "login-happy" {
			found = true
		}
	}
	require.True(t, found)
}

func TestGenerate_LLMEmptyPlanFallsBack(t *testing.T) {
	gen := plangen.New(&fakeProvider{response: `{"title":"x","steps":[]}`}, "test-model", 40, 6)
	plan := gen.Generate(context.Background(), "checkout flow")
	require.Equal(t, plangen.GeneratedByBuiltIn, plan.GeneratedBy)
}

func TestGenerate_NoKeywordMatchDefaultsToNav(t *testing.T) {
	gen := plangen.New(&fakeProvider{err: errors.New("down")}, "test-model", 48, 6)
	plan := gen.Generate(context.Background(), "do something unrelated entirely")
	require.NotEmpty(t, plan.Steps)
	require.Equal(t, "navigate", plan.Steps[0].StepID)
	require.Equal(t, "nav-happy", plan.Steps[1].StepID)
}

func TestGenerate_BudgetTrimKeepsFirstAndLast(t *testing.T) {
	// maxTotalActions/maxCyclesPerStep = 0 forces max_steps = max(3, 0) = 3.
	gen := plangen.New(&fakeProvider{err: errors.New("down")}, "test-model", 3, 6)
	plan := gen.Generate(context.Background(), "login cart checkout product form nav logout")

	require.LessOrEqual(t, len(plan.Steps), 3)
	require.Equal(t, "navigate", plan.Steps[0].StepID)
	require.Equal(t, "final-verification", plan.Steps[len(plan.Steps)-1].StepID)
}

func TestGenerate_LoginAndCartGoalCoversExpectedCases(t *testing.T) {
	gen := plangen.New(&fakeProvider{err: errors.New("down")}, "test-model", 48, 6)
	plan := gen.Generate(context.Background(), "Test login and cart flow")

	require.GreaterOrEqual(t, len(plan.Steps), 6)
	titles := make([]string, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		titles = append(titles, s.Title)
	}
	require.Contains(t, titles, "Navigate to the target site")
	require.Contains(t, titles, "Login with invalid credentials")
	require.Contains(t, titles, "Login with valid credentials")
	require.Contains(t, titles, "Add a product to the cart")
	require.Contains(t, titles, "Verify cart contents")
	require.Contains(t, titles, "Log out returns to an unauthenticated view")
	require.Equal(t, "Final verification", titles[len(titles)-1])
}
