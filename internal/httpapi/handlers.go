package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"noema/internal/crc"
	"noema/internal/domain"
	"noema/internal/identity"
	"noema/internal/improvement"
	"noema/internal/llm"
	"noema/internal/narration"
	"noema/internal/sensing"
	"noema/internal/validation"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := s.identity.Get()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"identity":  id,
		"age":       time.Since(id.CreatedAt).Round(time.Second).String(),
		"statement": identity.Statement(id),
	})
}

type startRunRequest struct {
	Task               string `json:"task"`
	URL                string `json:"url"`
	EnableOptimization bool   `json:"enable_optimization"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	runID, err := s.controller.Start(req.Task, req.URL, req.EnableOptimization)
	if err != nil {
		var goalErr *crc.ErrInvalidGoal
		if errors.As(err, &goalErr) {
			respondError(w, http.StatusBadRequest, err)
			return
		}
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"run_id": runID, "status": "started"})
}

func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if !s.controller.Stop(runID) {
		respondError(w, http.StatusNotFound, errors.New("run not found or already finished"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"run_id": runID, "status": "stopped"})
}

func (s *Server) handleOptimizeRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	result, err := s.controller.Optimize(r.Context(), runID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"run_id": runID, "message": "deep-learn optimization complete", "result": result})
}

func (s *Server) handleRunState(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	snap, ok := s.controller.State(runID)
	if !ok {
		respondError(w, http.StatusNotFound, errors.New("run not found"))
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	snap, ok := s.controller.State(runID)
	if !ok {
		respondError(w, http.StatusNotFound, errors.New("run not found"))
		return
	}
	if snap.Report == nil {
		respondError(w, http.StatusConflict, errors.New("run has not finished yet"))
		return
	}
	respondJSON(w, http.StatusOK, snap.Report)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	var events []narration.Event
	if since > 0 {
		events = s.narrate.GetEventsSince(since, runID)
	} else {
		events = s.narrate.GetHistory(runID)
	}
	respondJSON(w, http.StatusOK, events)
}

const sseKeepaliveInterval = 15 * time.Second

// handleRunStream serves a Server-Sent Events stream of this run's
// narration, starting from ?since=<seq> (or the full bounded history if
// unset) and then every subsequently emitted event, plus a `:keepalive\n\n`
// comment every 15s so intermediate proxies don't close the connection.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	fl, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var mu sync.Mutex
	writeEvent := func(ev narration.Event) {
		b, err := json.Marshal(ev)
		if err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "data: %s\n\n", b)
		fl.Flush()
	}

	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	for _, ev := range s.narrate.GetEventsSince(since, runID) {
		writeEvent(ev)
	}

	unsubscribe := s.narrate.OnRun(runID, writeEvent)
	defer unsubscribe()

	ticker := time.NewTicker(sseKeepaliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mu.Lock()
			fmt.Fprint(w, ":keepalive\n\n")
			fl.Flush()
			mu.Unlock()
		}
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.collections.Runs.List(nil))
}

func (s *Server) handleListMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.collections.RunMetrics.List(nil))
}

// handleTokenMetrics reports cumulative LLM token usage per model, optionally
// restricted to a trailing window (?window=30m, any time.ParseDuration form).
func (s *Server) handleTokenMetrics(w http.ResponseWriter, r *http.Request) {
	if q := r.URL.Query().Get("window"); q != "" {
		window, err := time.ParseDuration(q)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Errorf("invalid window: %w", err))
			return
		}
		totals, applied := llm.TokenTotalsForWindow(window)
		respondJSON(w, http.StatusOK, map[string]any{
			"totals":         totals,
			"window_seconds": applied.Seconds(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"totals": llm.TokenTotalsSnapshot()})
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.collections.MentalModels.List(nil))
}

func (s *Server) handleListExperiences(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.collections.Experiences.List(nil))
}

// handleListImprovement reports each persisted run's metrics compared
// against the mean of every other run sharing its task_type, the same
// comparison the Cognitive Run Controller computes inline at run_completed.
func (s *Server) handleListImprovement(w http.ResponseWriter, r *http.Request) {
	all := s.collections.RunMetrics.List(nil)
	reports := make([]improvement.Report, 0, len(all))
	for _, m := range all {
		others := make([]domain.RunMetrics, 0, len(all)-1)
		for _, o := range all {
			if o.RunID != m.RunID {
				others = append(others, o)
			}
		}
		reports = append(reports, improvement.Analyze(m, others))
	}
	respondJSON(w, http.StatusOK, reports)
}

type ingestRequest struct {
	Kind           string   `json:"kind"`
	Text           string   `json:"text"`
	LogEntries     []string `json:"log_entries"`
	ScreenshotPath string   `json:"screenshot_path"`
	Summary        string   `json:"summary"`
	SessionID      string   `json:"session_id"`
	RunID          string   `json:"run_id"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.sensor.Ingest(r.Context(), sensing.Input{
		Kind:           sensing.InputKind(req.Kind),
		Text:           req.Text,
		LogEntries:     req.LogEntries,
		ScreenshotPath: req.ScreenshotPath,
		Summary:        req.Summary,
		SessionID:      req.SessionID,
		RunID:          req.RunID,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// handleEvidence serves a static evidence file under
// evidenceDir/{runID}/{subdir}/{name}, where {file...} is "{runID}/{name}".
// Both path segments are independently sanitised via validation.Filename so
// neither can escape the evidence tree.
func (s *Server) handleEvidence(subdir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.PathValue("file")
		parts := strings.SplitN(raw, "/", 2)
		if len(parts) != 2 {
			respondError(w, http.StatusBadRequest, validation.ErrInvalidFilename)
			return
		}
		runID, err := validation.Filename(parts[0])
		if err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
		name, err := validation.Filename(parts[1])
		if err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}

		path := filepath.Join(s.evidenceDir, runID, subdir, name)
		f, err := os.Open(path)
		if err != nil {
			respondError(w, http.StatusNotFound, errors.New("evidence file not found"))
			return
		}
		defer f.Close()
		http.ServeContent(w, r, name, time.Time{}, f)
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": status < 400, "data": data})
}

func respondError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": err.Error()})
}
