// Package config declares the Cognitive Run Controller's configuration
// shape. Every value maps 1:1 onto a recognised environment variable, plus
// the handful of domain-stack knobs (Redis, Qdrant, browser).
package config

// AnthropicPromptCacheConfig controls Anthropic prompt-cache breakpoints.
// Disabled by default; this repository does not expose env vars for it
// because Anthropic is a secondary provider here (OpenAI/Gemini are
// primary), but the client still accepts the shape.
type AnthropicPromptCacheConfig struct {
	Enabled       bool
	CacheSystem   bool
	CacheMessages bool
}

// AnthropicConfig configures the Anthropic LLMProvider variant.
type AnthropicConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	PromptCache AnthropicPromptCacheConfig
	ExtraParams map[string]any
}

// GoogleConfig configures the Gemini LLMProvider variant. APIKey/Model map
// directly onto GEMINI_API_KEY|GOOGLE_API_KEY and GEMINI_MODEL.
type GoogleConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout int // seconds, 0 = provider default
}

// OpenAIConfig configures the OpenAI LLMProvider variant, the default
// provider (OPENAI_API_KEY).
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	ExtraParams map[string]any
	// LogPayloads enables redacted prompt/response debug logging
	// (LLM_LOG_PAYLOADS).
	LogPayloads bool
}

// LLMClientConfig selects and configures the active LLMProvider.
type LLMClientConfig struct {
	// Provider selects the concrete client: "openai" (default), "anthropic",
	// "google", or "mock".
	Provider  string
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Google    GoogleConfig
	// VisionModel is used for the Decision Engine's fire-and-forget vision
	// analysis call; set via GEMINI_VISION_MODEL.
	VisionModel string
}

// ObsConfig drives OpenTelemetry tracing/metrics setup.
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// StoreConfig configures the Typed Store: one JSON file per collection
// under DataDir, write-through with per-collection locks.
type StoreConfig struct {
	DataDir string
}

// BrowserConfig configures the headless Chrome Browser Session.
type BrowserConfig struct {
	ExecPath    string
	EvidenceDir string
}

// SequenceCacheConfig configures the optional Redis read-through layer in
// front of the action_sequences.json collection.
type SequenceCacheConfig struct {
	RedisAddr           string
	RedisTTLSeconds     int
	MinReplayConfidence float64
}

// ExternalMemoryConfig configures the optional Qdrant-backed semantic
// memory used by Sensing and the Belief Engine (the COGNEE_* variables).
type ExternalMemoryConfig struct {
	Enabled bool
	// Backend selects the vector store behind the semantic memory:
	// "qdrant" (default), "memory" (in-process, for development), or
	// "none".
	Backend     string
	ServiceURL  string
	Collection  string
	Dimensions  int
	Metric      string
	EmbedHost   string
	EmbedModel  string
	EmbedAPIKey string
}

// CredentialsConfig carries the test credentials threaded into Decision
// Engine prompts and Sequence Cache replay, and masked in narration via
// domain.TokenisedString.
type CredentialsConfig struct {
	Username        string
	Password        string
	CredentialsJSON string // TEST_CREDENTIALS_JSON: additional name->value pairs to mask
}

// BudgetConfig bounds one run's action spend.
type BudgetConfig struct {
	MaxTotalActions  int
	MaxCyclesPerStep int
}

// OptimizerConfig configures the Experience Optimizer.
type OptimizerConfig struct {
	Rollouts     int
	MinWinMargin float64
}

// BeliefConfig configures the Belief Engine.
type BeliefConfig struct {
	SalienceThreshold float64
}

// Config is the fully-resolved process configuration.
type Config struct {
	Port int // NOEMA_API_PORT, default 8200

	LLMClient LLMClientConfig
	Obs       ObsConfig
	Store     StoreConfig
	Browser   BrowserConfig
	Sequence  SequenceCacheConfig
	External  ExternalMemoryConfig
	Creds     CredentialsConfig
	Budget    BudgetConfig
	Optimizer OptimizerConfig
	Belief    BeliefConfig

	LogPath  string
	LogLevel string
}
