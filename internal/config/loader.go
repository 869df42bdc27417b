package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"noema/internal/version"
)

// Load reads configuration from environment variables, optionally
// overridden by a .env file at the process root. Every field is read
// directly from the environment, defaults are applied afterward, nothing is
// read from YAML.
func Load() Config {
	_ = godotenv.Overload()

	cfg := Config{}

	cfg.Port = envInt("NOEMA_API_PORT", 8200)

	cfg.LLMClient.Provider = strings.ToLower(env("LLM_PROVIDER", "openai"))
	cfg.LLMClient.OpenAI.APIKey = env("OPENAI_API_KEY", "")
	cfg.LLMClient.OpenAI.Model = env("OPENAI_MODEL", "gpt-4o-mini")
	cfg.LLMClient.OpenAI.BaseURL = env("OPENAI_BASE_URL", "")
	cfg.LLMClient.OpenAI.LogPayloads = envBool("LLM_LOG_PAYLOADS", false)

	cfg.LLMClient.Anthropic.APIKey = env("ANTHROPIC_API_KEY", "")
	cfg.LLMClient.Anthropic.Model = env("ANTHROPIC_MODEL", "")
	cfg.LLMClient.Anthropic.BaseURL = env("ANTHROPIC_BASE_URL", "")

	cfg.LLMClient.Google.APIKey = firstNonEmpty(env("GEMINI_API_KEY", ""), env("GOOGLE_API_KEY", ""))
	cfg.LLMClient.Google.Model = env("GEMINI_MODEL", "gemini-2.0-flash")
	cfg.LLMClient.VisionModel = env("GEMINI_VISION_MODEL", "gemini-2.0-flash")

	cfg.Obs.OTLP = env("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg.Obs.ServiceName = env("OTEL_SERVICE_NAME", "crcd")
	cfg.Obs.ServiceVersion = env("OTEL_SERVICE_VERSION", version.Version)
	cfg.Obs.Environment = env("OTEL_ENVIRONMENT", "development")

	cfg.Store.DataDir = env("NOEMA_DATA_DIR", "./data")

	cfg.Browser.ExecPath = env("CHROME_PATH", "")
	cfg.Browser.EvidenceDir = env("NOEMA_EVIDENCE_DIR", "./data/evidence")

	cfg.Sequence.RedisAddr = env("REDIS_ADDR", "")
	cfg.Sequence.RedisTTLSeconds = envInt("REDIS_SEQUENCE_TTL_SECONDS", 3600)
	cfg.Sequence.MinReplayConfidence = envFloat("MIN_REPLAY_CONFIDENCE", 0.7)

	cfg.External.Enabled = envBool("COGNEE_ENABLED", false)
	cfg.External.Backend = strings.ToLower(env("COGNEE_VECTOR_BACKEND", "qdrant"))
	cfg.External.ServiceURL = env("COGNEE_SERVICE_URL", "http://localhost:8100")
	cfg.External.Collection = env("COGNEE_COLLECTION", "noema_observations")
	cfg.External.Dimensions = envInt("COGNEE_EMBED_DIMENSIONS", 1536)
	cfg.External.Metric = env("COGNEE_METRIC", "cosine")
	cfg.External.EmbedHost = env("EMBEDDINGS_HOST", "")
	cfg.External.EmbedModel = env("EMBEDDINGS_MODEL", "text-embedding-3-small")
	cfg.External.EmbedAPIKey = env("OPENAI_API_KEY", "")

	cfg.Creds.Username = env("TEST_USERNAME", "")
	cfg.Creds.Password = env("TEST_PASSWORD", "")
	cfg.Creds.CredentialsJSON = env("TEST_CREDENTIALS_JSON", "")

	cfg.Budget.MaxTotalActions = envInt("MAX_TOTAL_ACTIONS", 48)
	cfg.Budget.MaxCyclesPerStep = envInt("MAX_CYCLES_PER_STEP", 6)

	cfg.Optimizer.Rollouts = envInt("OPTIMIZER_ROLLOUTS", 2)
	cfg.Optimizer.MinWinMargin = envFloat("OPTIMIZER_MIN_WIN_MARGIN", 0.15)

	cfg.Belief.SalienceThreshold = envFloat("BELIEF_SALIENCE_THRESHOLD", 0.5)

	cfg.LogPath = env("LOG_PATH", "")
	cfg.LogLevel = env("LOG_LEVEL", "info")

	return cfg
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}
