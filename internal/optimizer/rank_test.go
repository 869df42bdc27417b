package optimizer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func rolloutWithOverall(overall float64) Rollout {
	return Rollout{Score: ScoreBreakdown{Overall: overall}}
}

func TestRank_SingleRolloutAlwaysClearWinner(t *testing.T) {
	o := &Optimizer{minWinMargin: 0.15}
	result := Result{Rollouts: []Rollout{rolloutWithOverall(0.2)}}
	o.rank(&result)
	require.True(t, result.HasClearWinner)
	require.Equal(t, 1.0, result.WinMargin)
	require.Equal(t, 0, result.WinnerIndex)
}

func TestRank_MarginBelowThresholdIsNotClear(t *testing.T) {
	o := &Optimizer{minWinMargin: 0.15}
	result := Result{Rollouts: []Rollout{rolloutWithOverall(0.50), rolloutWithOverall(0.45)}}
	o.rank(&result)
	require.False(t, result.HasClearWinner)
	require.InDelta(t, 0.05, result.WinMargin, 1e-9)
	require.Equal(t, 0, result.WinnerIndex)
}

func TestRank_MarginAboveThresholdIsClear(t *testing.T) {
	o := &Optimizer{minWinMargin: 0.15}
	result := Result{Rollouts: []Rollout{rolloutWithOverall(0.40), rolloutWithOverall(0.60)}}
	o.rank(&result)
	require.True(t, result.HasClearWinner)
	require.InDelta(t, 0.20, result.WinMargin, 1e-9)
	require.Equal(t, 1, result.WinnerIndex)
}

func TestRank_TieKeepsRolloutOrder(t *testing.T) {
	o := &Optimizer{minWinMargin: 0.15}
	result := Result{Rollouts: []Rollout{rolloutWithOverall(0.5), rolloutWithOverall(0.5)}}
	o.rank(&result)
	require.Equal(t, 0, result.WinnerIndex)
	require.False(t, result.HasClearWinner)
}

func TestNormalizeStatement_CollapsesWhitespaceAndCase(t *testing.T) {
	a := normalizeStatement("  Prefer   Submitting FORMS ")
	b := normalizeStatement("prefer submitting forms")
	require.Equal(t, b, a)
}
