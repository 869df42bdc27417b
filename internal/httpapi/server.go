// Package httpapi implements the Cognitive Run Controller's external HTTP
// surface: the run lifecycle endpoints, narration history/SSE streaming,
// collection listings, external ingestion, and static evidence serving.
// Routing is a plain http.ServeMux, one HandleFunc per route.
package httpapi

import (
	"net/http"

	"noema/internal/crc"
	"noema/internal/identity"
	"noema/internal/narration"
	"noema/internal/sensing"
	"noema/internal/store"
)

// Server exposes the Cognitive Run Controller over HTTP.
type Server struct {
	controller  *crc.Controller
	collections *store.Collections
	narrate     *narration.Bus
	identity    *identity.Service
	sensor      *sensing.Sensor
	evidenceDir string
	mux         *http.ServeMux
}

// NewServer constructs the HTTP API server wired to the process's services.
func NewServer(
	controller *crc.Controller,
	collections *store.Collections,
	narrate *narration.Bus,
	ids *identity.Service,
	sensor *sensing.Sensor,
	evidenceDir string,
) *Server {
	s := &Server{
		controller:  controller,
		collections: collections,
		narrate:     narrate,
		identity:    ids,
		sensor:      sensor,
		evidenceDir: evidenceDir,
		mux:         http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler, applying the wide-open CORS policy to
// every route before dispatch.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	withCORS(s.mux).ServeHTTP(w, r)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /identity", s.handleIdentity)

	s.mux.HandleFunc("POST /qa/run", s.handleStartRun)
	s.mux.HandleFunc("POST /run/{id}/stop", s.handleStopRun)
	s.mux.HandleFunc("POST /run/{id}/optimize", s.handleOptimizeRun)
	s.mux.HandleFunc("GET /run/{id}/state", s.handleRunState)
	s.mux.HandleFunc("GET /run/{id}/stream", s.handleRunStream)
	s.mux.HandleFunc("GET /run/{id}/events", s.handleRunEvents)
	s.mux.HandleFunc("GET /run/{id}/report", s.handleRunReport)

	s.mux.HandleFunc("GET /runs", s.handleListRuns)
	s.mux.HandleFunc("GET /metrics", s.handleListMetrics)
	s.mux.HandleFunc("GET /metrics/tokens", s.handleTokenMetrics)
	s.mux.HandleFunc("GET /models", s.handleListModels)
	s.mux.HandleFunc("GET /experiences", s.handleListExperiences)
	s.mux.HandleFunc("GET /improvement", s.handleListImprovement)

	s.mux.HandleFunc("POST /ingest", s.handleIngest)

	s.mux.HandleFunc("GET /evidence/screenshots/{file...}", s.handleEvidence("screenshots"))
	s.mux.HandleFunc("GET /evidence/videos/{file...}", s.handleEvidence("videos"))
}
