package domain

// ModelUpdatePlan is the structured output the Belief Engine's LLM call
// must produce: a set of mental-model mutations and graph updates to apply
// atomically against one salient Observation.
type ModelUpdatePlan struct {
	CreateModels   []ModelCreation     `json:"create_models"`
	UpdateModels   []ModelUpdate       `json:"update_models"`
	GraphUpdates   []GraphEdgeUpdate   `json:"graph_updates"`
	Contradictions []string            `json:"contradictions"`
}

// ModelCreation describes a brand-new MentalModel to create at status
// candidate.
type ModelCreation struct {
	Title             string      `json:"title"`
	Domain            ModelDomain `json:"domain"`
	Tags              []string    `json:"tags"`
	Summary           string      `json:"summary"`
	CorePrinciples    []string    `json:"core_principles"`
	Assumptions       []string    `json:"assumptions"`
	Procedures        []string    `json:"procedures"`
	FailureModes      []string    `json:"failure_modes"`
	Diagnostics       []string    `json:"diagnostics"`
	Examples          []string    `json:"examples"`
	InitialConfidence float64     `json:"initial_confidence"`
}

// ModelUpdate describes an append-only revision to an existing MentalModel.
type ModelUpdate struct {
	ModelID         string   `json:"model_id"`
	ChangeSummary   string   `json:"change_summary"`
	DeltaConfidence float64  `json:"delta_confidence"`
	AddTags         []string `json:"add_tags"`
	AddAssumptions  []string `json:"add_assumptions"`
	AddFailureModes []string `json:"add_failure_modes"`
	AddDiagnostics  []string `json:"add_diagnostics"`
}

// GraphEdgeUpdate describes an edge to create or strengthen.
type GraphEdgeUpdate struct {
	From     string        `json:"from_model"`
	To       string        `json:"to_model"`
	Relation GraphRelation `json:"relation"`
	Weight   float64       `json:"weight"`
}
