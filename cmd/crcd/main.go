// Command crcd runs the Cognitive Run Controller as an HTTP service: it
// wires the Typed Store, Narration Bus, Browser Session manager, Sensing,
// Belief Engine, Decision Engine, Sequence Cache, Plan Generator, and
// Experience Optimizer into one process and serves the external HTTP
// surface from internal/httpapi.
//
// Startup order: load config (env + optional .env), init logger, init otel,
// build the LLM client, build every domain component, then serve on a plain
// http.ServeMux until SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"noema/internal/belief"
	"noema/internal/browser"
	"noema/internal/config"
	"noema/internal/crc"
	"noema/internal/decision"
	"noema/internal/httpapi"
	"noema/internal/identity"
	"noema/internal/llm"
	"noema/internal/llm/providers"
	"noema/internal/narration"
	"noema/internal/observability"
	"noema/internal/optimizer"
	"noema/internal/persistence/databases"
	"noema/internal/plangen"
	"noema/internal/sensing"
	"noema/internal/sequencecache"
	"noema/internal/store"
	"noema/internal/version"
)

const narrationHistoryCap = 500
const observationHistoryCap = 500

const shutdownGrace = 10 * time.Second

func main() {
	cfg := config.Load()

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)
	llm.ConfigureLogging(cfg.LLMClient.OpenAI.LogPayloads, 0)

	shutdown, err := observability.InitOTel(context.Background(), cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("create data dir")
	}
	if err := os.MkdirAll(cfg.Browser.EvidenceDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("create evidence dir")
	}

	httpClient := observability.NewHTTPClient(nil)

	provider, err := providers.Build(cfg, httpClient)
	if err != nil {
		log.Fatal().Err(err).Msg("build llm provider")
	}
	model := activeModel(cfg.LLMClient)

	collections := store.NewCollections(cfg.Store.DataDir)
	narrate := narration.New(narrationHistoryCap).WithRedactor(narration.NewRedactor(credentialValues(cfg.Creds)...))
	obsBus := sensing.NewObservationBus(observationHistoryCap)
	sessions := browser.NewManager(cfg.Browser.EvidenceDir)
	ids := identity.New(collections)

	dbs := buildDatabases(cfg)
	defer dbs.Close()

	external := buildExternalMemory(cfg, dbs.Vector)
	sensor := sensing.New(collections, obsBus, external)

	beliefEngine := belief.New(collections, provider, narrate, dbs.Graph,
		belief.WithModel(model),
		belief.WithSalienceThreshold(cfg.Belief.SalienceThreshold),
		belief.WithEvidenceRetrieval(external, 0),
	)
	beliefEngine.AttachTo(obsBus)

	decisionEngine := decision.New(collections, provider, sensor, narrate,
		decision.WithModel(model),
		decision.WithVision(provider, cfg.LLMClient.VisionModel),
		decision.WithBeliefFloor(cfg.Belief.SalienceThreshold),
	)

	var redisClient redis.UniversalClient
	if cfg.Sequence.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Sequence.RedisAddr})
	}
	sequences := sequencecache.New(collections.ActionSequences, redisClient,
		time.Duration(cfg.Sequence.RedisTTLSeconds)*time.Second)

	planGen := plangen.New(provider, model, cfg.Budget.MaxTotalActions, cfg.Budget.MaxCyclesPerStep)

	opt := optimizer.New(decisionEngine, sessions, collections.Experiences, provider, model, narrate, cfg.Optimizer)

	controller := crc.New(
		collections, narrate, sessions, decisionEngine, sequences, planGen, opt, ids,
		cfg.Budget, cfg.Creds, cfg.Sequence.MinReplayConfidence,
	)

	server := httpapi.NewServer(controller, collections, narrate, ids, sensor, cfg.Browser.EvidenceDir)

	addr := ":" + strconv.Itoa(cfg.Port)
	srv := &http.Server{Addr: addr, Handler: server}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", addr).Str("version", version.Version).Msg("crcd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown did not complete cleanly")
	}
}

// activeModel picks the default chat model matching the configured provider.
// Each client falls back to its own default when the name is empty.
func activeModel(c config.LLMClientConfig) string {
	switch c.Provider {
	case "google":
		return c.Google.Model
	case "anthropic":
		return c.Anthropic.Model
	case "mock":
		return "mock"
	default:
		return c.OpenAI.Model
	}
}

// credentialValues collects every credential value the Narration Bus must
// mask: TEST_USERNAME, TEST_PASSWORD, and every string value inside
// TEST_CREDENTIALS_JSON.
func credentialValues(creds config.CredentialsConfig) []string {
	values := []string{creds.Username, creds.Password}
	if creds.CredentialsJSON == "" {
		return values
	}
	var extra map[string]string
	if err := json.Unmarshal([]byte(creds.CredentialsJSON), &extra); err != nil {
		log.Warn().Err(err).Msg("TEST_CREDENTIALS_JSON is not a flat string map, ignoring")
		return values
	}
	for _, v := range extra {
		values = append(values, v)
	}
	return values
}

// buildDatabases resolves the graph index and the vector store behind the
// optional semantic memory. A failed Qdrant connection degrades to no
// semantic memory rather than refusing to start.
func buildDatabases(cfg config.Config) databases.Manager {
	vectorCfg := databases.VectorConfig{Backend: "none"}
	if cfg.External.Enabled {
		vectorCfg = databases.VectorConfig{
			Backend:    cfg.External.Backend,
			DSN:        cfg.External.ServiceURL,
			Collection: cfg.External.Collection,
			Dimensions: cfg.External.Dimensions,
			Metric:     cfg.External.Metric,
		}
	}
	dbs, err := databases.NewManager(context.Background(), vectorCfg)
	if err != nil {
		log.Warn().Err(err).Msg("vector backend init failed, continuing without semantic memory")
		fallback, _ := databases.NewManager(context.Background(), databases.VectorConfig{Backend: "none"})
		return fallback
	}
	return dbs
}

// buildExternalMemory constructs the optional semantic memory over the
// resolved vector store. Disabled (NoopExternalMemory) unless
// COGNEE_ENABLED=true and the configured backend is not "none". When the
// Qdrant connection failed and buildDatabases fell back to the no-op vector
// store, the memory is still built over it: chunks are embedded, but nothing
// is stored or retrieved.
func buildExternalMemory(cfg config.Config, vs databases.VectorStore) sensing.ExternalMemory {
	if !cfg.External.Enabled || vs == nil || cfg.External.Backend == "none" {
		return sensing.NoopExternalMemory{}
	}
	return sensing.NewVectorExternalMemory(vs,
		cfg.External.EmbedHost, cfg.External.EmbedModel, cfg.External.EmbedAPIKey)
}
