// Package plangen turns a high-level task into a TestPlan: an LLM-primary
// path with a deterministic rule-engine fallback.
package plangen

// Priority enumerates a PlanStep's importance for budget-trimming.
type Priority string

const (
	PriorityCritical  Priority = "critical"
	PriorityImportant Priority = "important"
	PriorityNiceToHave Priority = "nice_to_have"
)

// GeneratedBy records which path produced a TestPlan.
type GeneratedBy string

const (
	GeneratedByLLM     GeneratedBy = "llm"
	GeneratedByBuiltIn GeneratedBy = "built_in"
)

// PlanStep is one step of a TestPlan.
type PlanStep struct {
	StepID           string   `json:"step_id" yaml:"step_id"`
	Title            string   `json:"title" yaml:"title"`
	Description      string   `json:"description" yaml:"description"`
	TestSteps        []string `json:"test_steps" yaml:"test_steps"`
	ExpectedResults  []string `json:"expected_results" yaml:"expected_results"`
	ActionHint       string   `json:"action_hint" yaml:"action_hint"`
	ExpectedOutcome  string   `json:"expected_outcome" yaml:"expected_outcome"`
	FailureIndicator string   `json:"failure_indicator" yaml:"failure_indicator"`
	Priority         Priority `json:"priority" yaml:"priority"`
}

// TestPlan is the Plan Generator's output, consumed by the Cognitive Run
// Controller one step at a time.
type TestPlan struct {
	Title            string      `json:"title"`
	Rationale        string      `json:"rationale"`
	Steps            []PlanStep  `json:"steps"`
	TotalSteps       int         `json:"total_steps"`
	EstimatedActions int         `json:"estimated_actions"`
	GeneratedBy      GeneratedBy `json:"generated_by"`
}
