package server

import (
	"net/http"
	"strings"
	"time"

	"git.home.luguber.info/inful/matrixci/internal/errors"
	"git.home.luguber.info/inful/matrixci/internal/pipeline"
	"git.home.luguber.info/inful/matrixci/internal/report"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"pipeline":       s.runtime.Config().Pipeline.Name,
		"uptime_seconds": int(time.Since(s.runtime.StartTime()).Seconds()),
	})
}

// handleStatus reports queue depth, active runs, and recent history.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.runtime.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"pipeline":     cfg.Pipeline.Name,
		"branch":       cfg.Pipeline.Trigger.Branch,
		"matrix":       cfg.Pipeline.Matrix.Interpreter,
		"queue_length": s.runtime.QueueLength(),
		"active_runs":  s.runtime.ActiveRuns(),
		"history":      s.runtime.History(),
	})
}

// handleRun serves a single run: JSON by default, a rendered HTML summary
// when the client asks for text/html.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimPrefix(r.URL.Path, "/runs/")
	if runID == "" || strings.Contains(runID, "/") {
		s.errorAdapter.WriteErrorResponse(w, r, errors.ValidationError("invalid run path"))
		return
	}

	run := s.findRun(runID)
	if run == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "run not found", "run_id": runID})
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		html, err := report.HTML(run)
		if err != nil {
			s.errorAdapter.WriteErrorResponse(w, r,
				errors.InternalError("failed to render run summary", err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(html))
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *Server) findRun(runID string) *pipeline.Run {
	for _, run := range s.runtime.ActiveRuns() {
		if run.ID == runID {
			return run
		}
	}
	for _, run := range s.runtime.History() {
		if run.ID == runID {
			return run
		}
	}
	return nil
}
