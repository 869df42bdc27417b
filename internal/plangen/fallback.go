package plangen

import (
	_ "embed"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed fallback_library.yaml
var fallbackLibraryYAML []byte

// goalKeywords is the fixed keyword set the rule engine recognises, in a
// stable priority order so login-style goals surface first when
// multiple keywords match the same task.
var goalKeywords = []string{"login", "cart", "checkout", "product", "form", "nav", "logout"}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "to": {}, "of": {}, "and": {}, "or": {}, "for": {},
	"in": {}, "on": {}, "is": {}, "that": {}, "with": {}, "as": {}, "it": {}, "this": {},
}

func loadFallbackLibrary() (map[string][]PlanStep, error) {
	var raw map[string][]PlanStep
	if err := yaml.Unmarshal(fallbackLibraryYAML, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// extractKeywords lower-cases, strips punctuation, drops stop words, and
// returns the distinct tokens of task, preserving first-seen order.
func extractKeywords(task string) []string {
	fields := strings.FieldsFunc(strings.ToLower(task), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	seen := map[string]struct{}{}
	var out []string
	for _, f := range fields {
		if _, stop := stopWords[f]; stop || f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// buildRulePlan expands the task's goal keywords into a fixed library of QA
// test cases (happy + negative), then budget-trims: compute
// max_steps = max(3, floor(maxTotalActions/maxCyclesPerStep)), retain the
// first (navigation) and last (final verification) step, sort the middle by
// priority, and keep up to max_steps.
func buildRulePlan(task string, maxTotalActions, maxCyclesPerStep int) (TestPlan, error) {
	lib, err := loadFallbackLibrary()
	if err != nil {
		return TestPlan{}, err
	}

	tokens := extractKeywords(task)
	matched := map[string]struct{}{}
	for _, kw := range goalKeywords {
		for _, t := range tokens {
			if t == kw {
				matched[kw] = struct{}{}
				break
			}
		}
	}
	if len(matched) == 0 {
		matched["nav"] = struct{}{}
	}
	if _, ok := matched["login"]; ok {
		// A login flow closes with its logout counterpart.
		matched["logout"] = struct{}{}
	}

	steps := []PlanStep{navigationStep()}
	for _, kw := range goalKeywords {
		if _, ok := matched[kw]; !ok {
			continue
		}
		steps = append(steps, lib[kw]...)
	}
	steps = append(steps, finalVerificationStep())

	for i := range steps {
		if steps[i].StepID == "" {
			steps[i].StepID = "step"
		}
	}

	steps = budgetTrim(steps, maxTotalActions, maxCyclesPerStep)

	return TestPlan{
		Title:            "Built-in QA plan: " + task,
		Rationale:        "Generated by the rule-engine fallback from goal keywords: " + strings.Join(sortedKeys(matched), ", "),
		Steps:            steps,
		TotalSteps:       len(steps),
		EstimatedActions: len(steps) * maxCyclesPerStep,
		GeneratedBy:      GeneratedByBuiltIn,
	}, nil
}

// navigationStep opens every rule-engine plan: reach the target site before
// any test case runs.
func navigationStep() PlanStep {
	return PlanStep{
		StepID:           "navigate",
		Title:            "Navigate to the target site",
		Description:      "Load the target URL and confirm the page renders.",
		TestSteps:        []string{"Navigate to the target URL", "Wait for the page to load"},
		ExpectedResults:  []string{"The page loads without a navigation error"},
		ActionHint:       "navigate_to_url",
		ExpectedOutcome:  "target page is loaded",
		FailureIndicator: "navigation failed",
		Priority:         PriorityCritical,
	}
}

// finalVerificationStep closes every rule-engine plan with an evidence
// capture of the end state.
func finalVerificationStep() PlanStep {
	return PlanStep{
		StepID:           "final-verification",
		Title:            "Final verification",
		Description:      "Capture the end state of the session as evidence.",
		TestSteps:        []string{"Capture a full-page screenshot", "Check no error banner is visible"},
		ExpectedResults:  []string{"No unexpected error message is visible"},
		ActionHint:       "capture_screenshot",
		ExpectedOutcome:  "end state captured",
		FailureIndicator: "error",
		Priority:         PriorityCritical,
	}
}

// budgetTrim keeps the first and last steps unconditionally, sorts the
// middle by priority, and keeps at most max_steps total.
func budgetTrim(steps []PlanStep, maxTotalActions, maxCyclesPerStep int) []PlanStep {
	if len(steps) == 0 {
		return steps
	}
	maxSteps := maxTotalActions / maxCyclesPerStep
	if maxSteps < 3 {
		maxSteps = 3
	}
	if len(steps) <= maxSteps {
		return steps
	}

	first, last := steps[0], steps[len(steps)-1]
	middle := append([]PlanStep(nil), steps[1:len(steps)-1]...)
	sort.SliceStable(middle, func(i, j int) bool {
		return priorityRank(middle[i].Priority) < priorityRank(middle[j].Priority)
	})

	keepMiddle := maxSteps - 2
	if keepMiddle < 0 {
		keepMiddle = 0
	}
	if keepMiddle > len(middle) {
		keepMiddle = len(middle)
	}

	out := make([]PlanStep, 0, maxSteps)
	out = append(out, first)
	out = append(out, middle[:keepMiddle]...)
	out = append(out, last)
	return out
}

func priorityRank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityImportant:
		return 1
	default:
		return 2
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
