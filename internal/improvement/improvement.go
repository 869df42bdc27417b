// Package improvement implements the Improvement Analyzer: a pure function
// comparing one run's RunMetrics against prior runs of the same task_type,
// labelling each metric improved/same/regressed against a 10% threshold.
// Weighted outcome scoring belongs to the Experience Optimizer, not here;
// this is plain relative-delta arithmetic.
package improvement

import "noema/internal/domain"

const regressionThreshold = 0.10

// Label enumerates a metric's comparison verdict.
type Label string

const (
	Improved  Label = "improved"
	Same      Label = "same"
	Regressed Label = "regressed"
)

// MetricComparison is one compared metric's delta against the mean of prior
// runs of the same task_type.
type MetricComparison struct {
	Metric        string  `json:"metric"`
	Current       float64 `json:"current"`
	PriorMean     float64 `json:"prior_mean"`
	RelativeDelta float64 `json:"relative_delta"`
	Label         Label   `json:"label"`
}

// Report is the Improvement Analyzer's output for one run.
type Report struct {
	RunID        string              `json:"run_id"`
	TaskType     string              `json:"task_type"`
	PriorRuns    int                 `json:"prior_runs"`
	Comparisons  []MetricComparison  `json:"comparisons"`
	HasImproved  bool                `json:"has_improved"`
}

// lowerIsBetter marks metrics where a smaller current value counts as an
// improvement (steps_taken, failure_count, duration_ms): fewer steps, fewer
// failures, and less time are all better outcomes. experiences_used is the
// opposite: using more accumulated experience is the improvement.
var lowerIsBetter = map[string]bool{
	"steps_taken":      true,
	"failure_count":    true,
	"duration_ms":      true,
	"experiences_used": false,
}

// Analyze compares current against every entry in priorRuns that shares its
// TaskType, excluding current itself. With no prior runs, every metric is
// labelled "same" and HasImproved is false.
func Analyze(current domain.RunMetrics, priorRuns []domain.RunMetrics) Report {
	var priors []domain.RunMetrics
	for _, r := range priorRuns {
		if r.TaskType == current.TaskType && r.RunID != current.RunID {
			priors = append(priors, r)
		}
	}

	report := Report{RunID: current.RunID, TaskType: current.TaskType, PriorRuns: len(priors)}

	metrics := []struct {
		name    string
		current float64
		values  func(domain.RunMetrics) float64
	}{
		{"steps_taken", float64(current.StepsTaken), func(r domain.RunMetrics) float64 { return float64(r.StepsTaken) }},
		{"failure_count", float64(current.FailureCount), func(r domain.RunMetrics) float64 { return float64(r.FailureCount) }},
		{"duration_ms", float64(current.DurationMS), func(r domain.RunMetrics) float64 { return float64(r.DurationMS) }},
		{"experiences_used", float64(current.ExperiencesUsed), func(r domain.RunMetrics) float64 { return float64(r.ExperiencesUsed) }},
	}

	improvedCount, regressedCount := 0, 0
	for _, m := range metrics {
		if len(priors) == 0 {
			report.Comparisons = append(report.Comparisons, MetricComparison{Metric: m.name, Current: m.current, Label: Same})
			continue
		}
		var sum float64
		for _, p := range priors {
			sum += m.values(p)
		}
		mean := sum / float64(len(priors))

		var rel float64
		if mean != 0 {
			rel = (m.current - mean) / mean
		} else if m.current != 0 {
			rel = 1
		}

		label := Same
		switch {
		case rel > regressionThreshold:
			if lowerIsBetter[m.name] {
				label = Regressed
			} else {
				label = Improved
			}
		case rel < -regressionThreshold:
			if lowerIsBetter[m.name] {
				label = Improved
			} else {
				label = Regressed
			}
		}
		switch label {
		case Improved:
			improvedCount++
		case Regressed:
			regressedCount++
		}

		report.Comparisons = append(report.Comparisons, MetricComparison{
			Metric:        m.name,
			Current:       m.current,
			PriorMean:     mean,
			RelativeDelta: rel,
			Label:         label,
		})
	}

	report.HasImproved = improvedCount > regressedCount
	return report
}

// TaskType extracts the task_type token the Improvement Analyzer and the
// Identity Service both group by: the first keyword-extracted token of the
// goal text, matching the Sequence Cache's keyword extraction so runs of
// "login to saucedemo" and "test login flow" are grouped together.
func TaskType(keywords []string) string {
	if len(keywords) == 0 {
		return "general"
	}
	return keywords[0]
}
