package optimizer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"noema/internal/domain"
	"noema/internal/optimizer"
)

func TestScore_SuccessfulOutcomeScoresHigherThanFailure(t *testing.T) {
	success := optimizer.Score(domain.ActionOutcome{
		Success:    true,
		DurationMS: 500,
		Artifacts: domain.ActionArtifacts{
			Screenshots: []string{"shot.png"},
			Logs:        []string{"console: ok"},
		},
	}, 2)

	failure := optimizer.Score(domain.ActionOutcome{
		Success:      false,
		ErrorMessage: "timeout waiting for element",
	}, 0)

	require.Greater(t, success.Overall, failure.Overall)
	require.InDelta(t, 1.0, success.Success, 0.0001)
	require.InDelta(t, 0, failure.Success, 0.0001)
}

func TestScore_ErrorSpecificityRewardsMatchedPatterns(t *testing.T) {
	generic := optimizer.Score(domain.ActionOutcome{Success: false, ErrorMessage: "unknown failure"}, 0)
	specific := optimizer.Score(domain.ActionOutcome{Success: false, ErrorMessage: "navigation failed: timeout waiting for selector"}, 0)

	require.Greater(t, specific.ErrorSpecificity, generic.ErrorSpecificity)
}

func TestScore_OverallStaysWithinUnitRange(t *testing.T) {
	b := optimizer.Score(domain.ActionOutcome{
		Success:    true,
		DurationMS: 100,
		Artifacts: domain.ActionArtifacts{
			Screenshots:   []string{"a.png"},
			Logs:          []string{"a very long console log line repeated many times over to pad the length past the depth threshold"},
			NetworkErrors: []string{"500 https://example.com"},
		},
	}, 10)
	require.GreaterOrEqual(t, b.Overall, 0.0)
	require.LessOrEqual(t, b.Overall, 1.0)
}
