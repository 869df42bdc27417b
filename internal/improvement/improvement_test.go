package improvement_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"noema/internal/domain"
	"noema/internal/improvement"
)

func TestAnalyze_NoPriorRunsIsSame(t *testing.T) {
	report := improvement.Analyze(domain.RunMetrics{RunID: "r1", TaskType: "login", StepsTaken: 5}, nil)
	require.Equal(t, 0, report.PriorRuns)
	require.False(t, report.HasImproved)
	for _, c := range report.Comparisons {
		require.Equal(t, improvement.Same, c.Label)
	}
}

func TestAnalyze_FewerStepsAndFailuresIsImproved(t *testing.T) {
	priors := []domain.RunMetrics{
		{RunID: "p1", TaskType: "login", StepsTaken: 10, FailureCount: 4, DurationMS: 10000},
		{RunID: "p2", TaskType: "login", StepsTaken: 12, FailureCount: 6, DurationMS: 12000},
	}
	current := domain.RunMetrics{RunID: "r1", TaskType: "login", StepsTaken: 4, FailureCount: 1, DurationMS: 4000}

	report := improvement.Analyze(current, priors)
	require.Equal(t, 2, report.PriorRuns)
	require.True(t, report.HasImproved)

	for _, c := range report.Comparisons {
		if c.Metric == "steps_taken" || c.Metric == "failure_count" || c.Metric == "duration_ms" {
			require.Equal(t, improvement.Improved, c.Label, c.Metric)
		}
	}
}

func TestAnalyze_MoreStepsAndFailuresIsRegressed(t *testing.T) {
	priors := []domain.RunMetrics{
		{RunID: "p1", TaskType: "cart", StepsTaken: 4, FailureCount: 0, DurationMS: 2000},
	}
	current := domain.RunMetrics{RunID: "r1", TaskType: "cart", StepsTaken: 10, FailureCount: 5, DurationMS: 9000}

	report := improvement.Analyze(current, priors)
	require.False(t, report.HasImproved)
	for _, c := range report.Comparisons {
		if c.Metric == "steps_taken" {
			require.Equal(t, improvement.Regressed, c.Label)
		}
	}
}

func TestAnalyze_IgnoresOtherTaskTypes(t *testing.T) {
	priors := []domain.RunMetrics{
		{RunID: "p1", TaskType: "checkout", StepsTaken: 99},
	}
	report := improvement.Analyze(domain.RunMetrics{RunID: "r1", TaskType: "login", StepsTaken: 3}, priors)
	require.Equal(t, 0, report.PriorRuns)
}

func TestTaskType_DefaultsToGeneral(t *testing.T) {
	require.Equal(t, "general", improvement.TaskType(nil))
	require.Equal(t, "login", improvement.TaskType([]string{"login", "cart"}))
}
