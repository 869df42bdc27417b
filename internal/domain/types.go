// Package domain holds the entity types the Cognitive Run Controller reads
// and writes through the Typed Store. Every entity carries a UUID primary key
// and ISO-8601 timestamps; mutation shapes live next to the type they mutate.
package domain

import "time"

// TokenisedString holds both the raw value used for execution and a masked
// form used for narration, logging, and persistence. Narration, logging, and
// JSON serialisation only ever see Masked; action execution only ever reads
// Raw. For a non-secret value the two sides are identical; for a secret the
// masked side is a fixed placeholder. This is the single mechanism behind
// credential redaction.
type TokenisedString struct {
	Raw    string `json:"-"`
	Masked string `json:"masked"`
}

// MaskedPlaceholder is the fixed masked form of every secret value.
const MaskedPlaceholder = "[REDACTED]"

// NewTokenisedString builds a transparent TokenisedString: the value is not
// a secret, so the masked side equals the raw side.
func NewTokenisedString(raw string) TokenisedString {
	return TokenisedString{Raw: raw, Masked: raw}
}

// NewSecret builds a TokenisedString whose masked side is the fixed
// placeholder. Use for credentials and anything else that must never reach
// narration, logs, or disk.
func NewSecret(raw string) TokenisedString {
	if raw == "" {
		return TokenisedString{}
	}
	return TokenisedString{Raw: raw, Masked: MaskedPlaceholder}
}

// ObservationType enumerates the legal Observation.Type values.
type ObservationType string

const (
	ObservationLog             ObservationType = "log"
	ObservationText            ObservationType = "text"
	ObservationScreenshot      ObservationType = "screenshot"
	ObservationVideoFrame      ObservationType = "video_frame"
	ObservationAudioTranscript ObservationType = "audio_transcript"
	ObservationHuman           ObservationType = "human"
	ObservationTestResult      ObservationType = "test_result"
)

// ObservationSource records which sensor and run produced an Observation.
type ObservationSource struct {
	Sensor    string `json:"sensor"`
	SessionID string `json:"session_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

// Observation is a validated, typed record of a perceived input. It is
// immutable after creation; only soft-deletion is supported.
type Observation struct {
	ID         string            `json:"id"`
	Type       ObservationType   `json:"type"`
	Summary    string            `json:"summary"`
	KeyPoints  []string          `json:"key_points"`
	Entities   []string          `json:"entities"`
	Salience   float64           `json:"salience"`
	RawRef     string            `json:"raw_ref,omitempty"`
	Source     ObservationSource `json:"source"`
	// SimHash is a locality-sensitive hash of the chunk text, used only to
	// flag near-duplicate ingests via NearDuplicateOf. Two ingests of the
	// same text still produce two distinct Observations; nothing is
	// deduplicated or dropped.
	SimHash         uint64     `json:"simhash,omitempty"`
	NearDuplicateOf string     `json:"near_duplicate_of,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

// ModelStatus enumerates the lifecycle states of a MentalModel.
type ModelStatus string

const (
	ModelCandidate  ModelStatus = "candidate"
	ModelActive     ModelStatus = "active"
	ModelDeprecated ModelStatus = "deprecated"
)

// ModelDomain enumerates the domains a MentalModel may belong to.
type ModelDomain string

const (
	DomainSoftwareQA  ModelDomain = "software_QA"
	DomainProgramming ModelDomain = "programming"
	DomainResearch    ModelDomain = "research"
	DomainGeneral     ModelDomain = "general"
)

// ModelHistoryEntry is one append-only entry in MentalModel.UpdateHistory.
type ModelHistoryEntry struct {
	Timestamp      time.Time `json:"ts"`
	ChangeSummary  string    `json:"change_summary"`
	DeltaConfidence float64  `json:"delta_confidence"`
	EvidenceIDs    []string  `json:"evidence_ids"`
}

// MentalModel is a durable, confidence-weighted belief about the system
// under test. Only the Belief Engine mutates it, and UpdateHistory is
// append-only: confidence must always equal clip(initial + sum(deltas), 0, 1).
type MentalModel struct {
	ID             string              `json:"id"`
	Title          string              `json:"title"`
	Domain         ModelDomain         `json:"domain"`
	Tags           []string            `json:"tags"`
	Summary        string              `json:"summary"`
	CorePrinciples []string            `json:"core_principles"`
	Assumptions    []string            `json:"assumptions"`
	Procedures     []string            `json:"procedures"`
	FailureModes   []string            `json:"failure_modes"`
	Diagnostics    []string            `json:"diagnostics"`
	Examples       []string            `json:"examples"`
	Confidence     float64             `json:"confidence"`
	Status         ModelStatus         `json:"status"`
	EvidenceIDs    []string            `json:"evidence_ids"`
	CreatedAt      time.Time           `json:"created_at"`
	LastUpdated    time.Time           `json:"last_updated"`
	UpdateHistory  []ModelHistoryEntry `json:"update_history"`
}

// Experience is a short advisory heuristic. Only the Experience Optimizer
// writes it, and the Belief Engine never consults it.
type Experience struct {
	ID          string    `json:"id"`
	Statement   string    `json:"statement"`
	Scope       []string  `json:"scope"`
	Confidence  float64   `json:"confidence"`
	SourceRuns  []string  `json:"source_runs"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// GraphRelation enumerates the legal GraphEdge.Relation values.
type GraphRelation string

const (
	RelationDependsOn  GraphRelation = "depends_on"
	RelationExplains   GraphRelation = "explains"
	RelationExtends    GraphRelation = "extends"
	RelationContradicts GraphRelation = "contradicts"
)

// GraphEdge connects two MentalModels. At most one edge exists per ordered
// pair (From, To); re-assertion strengthens Weight instead of duplicating.
type GraphEdge struct {
	ID          string        `json:"id"`
	From        string        `json:"from_model"`
	To          string        `json:"to_model"`
	Relation    GraphRelation `json:"relation"`
	Weight      float64       `json:"weight"`
	EvidenceIDs []string      `json:"evidence_ids"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// ActionType enumerates the atomic browser actions the Decision Engine may
// produce. All are deterministic and reversible.
type ActionType string

const (
	ActionNavigateToURL       ActionType = "navigate_to_url"
	ActionClickElement        ActionType = "click_element"
	ActionFillInput           ActionType = "fill_input"
	ActionSubmitForm          ActionType = "submit_form"
	ActionCheckElementVisible ActionType = "check_element_visible"
	ActionCaptureScreenshot   ActionType = "capture_screenshot"
	ActionWaitForNetworkIdle  ActionType = "wait_for_network_idle"
	ActionNoOp                ActionType = "no_op"
)

// Action is one atomic instruction produced by the Decision Engine.
type Action struct {
	ID              string            `json:"id"`
	RunID           string            `json:"run_id"`
	Type            ActionType        `json:"type"`
	Rationale       string            `json:"rationale"`
	Selector        string            `json:"selector,omitempty"`
	Value           TokenisedString   `json:"value,omitempty"`
	Inputs          map[string]string `json:"inputs,omitempty"`
	ExpectedOutcome string            `json:"expected_outcome,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// ActionArtifacts bundles the evidence captured while executing an Action.
type ActionArtifacts struct {
	Screenshots   []string `json:"screenshots"`
	Logs          []string `json:"logs"`
	NetworkErrors []string `json:"network_errors"`
	DOMSnapshot   *DOMSnapshot `json:"dom_snapshot,omitempty"`
}

// ActionOutcome records the result of executing an Action. An action may
// have multiple outcomes when retried at a higher layer.
type ActionOutcome struct {
	ID           string          `json:"id"`
	ActionID     string          `json:"action_id"`
	Success      bool            `json:"success"`
	DurationMS   int64           `json:"duration_ms"`
	Artifacts    ActionArtifacts `json:"artifacts"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// RunStatus enumerates the Cognitive Run Controller's state machine states.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunPlanning   RunStatus = "planning"
	RunExecuting  RunStatus = "executing"
	RunReflecting RunStatus = "reflecting"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunStopped    RunStatus = "stopped"
)

// RunResult enumerates the possible QA report verdicts.
type RunResult string

const (
	ResultPass    RunResult = "pass"
	ResultFail    RunResult = "fail"
	ResultPartial RunResult = "partial"
)

// RunRecord is the persisted summary of one run's lifecycle.
type RunRecord struct {
	ID                 string     `json:"id"`
	Task               string     `json:"task"`
	URL                string     `json:"url"`
	Status             RunStatus  `json:"status"`
	ObservationsUsed   []string   `json:"observations_used"`
	ModelsTouched      []string   `json:"models_touched"`
	ExperiencesTouched []string   `json:"experiences_touched"`
	Actions            []string   `json:"actions"`
	Outcomes           []string   `json:"outcomes"`
	StartedAt          time.Time  `json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
}

// SequenceStep is one action template within an ActionSequence.
type SequenceStep struct {
	Type          ActionType        `json:"type"`
	Selector      string            `json:"selector,omitempty"`
	ValueTemplate string            `json:"value_template,omitempty"`
	Inputs        map[string]string `json:"inputs,omitempty"`
	Rationale     string            `json:"rationale,omitempty"`
}

// ActionSequence is an ordered, credential-tokenised list of atomic browser
// actions that historically succeeded for a (domain, step) pair.
type ActionSequence struct {
	ID                 string         `json:"id"`
	URLDomain          string         `json:"url_domain"`
	StepKeywords       []string       `json:"step_keywords"`
	StepTitle          string         `json:"step_title"`
	Actions            []SequenceStep `json:"actions"`
	SuccessCount       int            `json:"success_count"`
	FailureCount       int            `json:"failure_count"`
	Confidence         float64        `json:"confidence"`
	RequiresCredentials bool          `json:"requires_credentials"`
	SourceRunID        string         `json:"source_run_id"`
	CreatedAt          time.Time      `json:"created_at"`
	LastUsedAt         time.Time      `json:"last_used_at"`
}

// RunMetrics is a per-run summary used by the Improvement Analyzer.
type RunMetrics struct {
	RunID              string  `json:"run_id"`
	TaskType            string  `json:"task_type"`
	StepsTaken          int     `json:"steps_taken"`
	ToolCalls           int     `json:"tool_calls"`
	RolloutsUsed        int     `json:"rollouts_used"`
	Success             bool    `json:"success"`
	ExperiencesUsed     int     `json:"experiences_used"`
	ExperiencesAdded    int     `json:"experiences_added"`
	ModelsCreated       int     `json:"models_created"`
	ModelsUpdated       int     `json:"models_updated"`
	ObservationsCreated int     `json:"observations_created"`
	FailureCount        int     `json:"failure_count"`
	DurationMS          int64   `json:"duration_ms"`
	LLMCallsMade        int     `json:"llm_calls_made"`
	LLMCallsSaved       float64 `json:"llm_calls_saved"`
	PlanReused          bool    `json:"plan_reused"`
	StepsFromMemory     int     `json:"steps_from_memory"`
}

// Identity is the process-wide singleton tracking lifetime statistics.
type Identity struct {
	ID                string    `json:"id"`
	CreatedAt         time.Time `json:"created_at"`
	TotalRuns         int       `json:"total_runs"`
	TotalObservations int       `json:"total_observations"`
	TotalModels       int       `json:"total_models"`
	TotalExperiences  int       `json:"total_experiences"`
	DomainsSeen       []string  `json:"domains_seen"`
	LastActiveAt      time.Time `json:"last_active_at"`
}

// DOMHeading is one heading extracted from a page's DOM snapshot.
type DOMHeading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// DOMFormField describes one field within a DOMForm.
type DOMFormField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// DOMForm describes one form found on a page.
type DOMForm struct {
	Selector string         `json:"selector"`
	Fields   []DOMFormField `json:"fields"`
}

// DOMSnapshot is the structured page snapshot returned by extractPageDOM.
type DOMSnapshot struct {
	Title              string       `json:"title"`
	URL                string       `json:"url"`
	MetaDescription    string       `json:"meta_description"`
	Headings           []DOMHeading `json:"headings"`
	InteractiveElements []string    `json:"interactive_elements"`
	Forms              []DOMForm    `json:"forms"`
	ErrorMessages      []string     `json:"error_messages"`
	BodyTextPreview    string       `json:"body_text_preview"`
	TotalElements      int          `json:"total_elements"`
	CapturedAt         time.Time    `json:"captured_at"`
}
