package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"poudctl/internal/audit"
	"poudctl/internal/jailhouse"
	"poudctl/internal/metrics"
)

const defaultHistoryLimit = 100

// Status is the body of GET /api/status.
type Status struct {
	Status   string               `json:"status"`
	Uptime   float64              `json:"uptime_seconds"`
	Manifest string               `json:"manifest,omitempty"`
	Running  bool                 `json:"running"`
	Jails    int                  `json:"jails"`
	Interval string               `json:"interval,omitempty"`
	LastRun  *jailhouse.RunReport `json:"last_run,omitempty"`
}

// Handler returns the HTTP API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/jails", s.handleJails)
		r.Get("/jails/{name}", s.handleJail)
		r.Get("/history", s.handleHistory)
		r.Post("/reconcile", s.handleReconcile)
	})
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := Status{
		Status:   "running",
		Uptime:   time.Since(s.started).Seconds(),
		Manifest: s.cfg.Manifest,
		Running:  s.Running(),
		Jails:    len(s.cfg.Manager.ListJails()),
		LastRun:  s.cfg.Manager.LastRun(),
	}
	if s.cfg.Interval > 0 {
		status.Interval = s.cfg.Interval.String()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleJails(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Manager.ListJails())
}

func (s *Server) handleJail(w http.ResponseWriter, r *http.Request) {
	state, err := s.cfg.Manager.GetJail(chi.URLParam(r, "name"))
	if errors.Is(err, jailhouse.ErrJailNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	entries, err := audit.Tail(s.cfg.AuditPath, limit)
	if err != nil {
		s.logger.Error("read audit log", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleReconcile(w http.ResponseWriter, _ *http.Request) {
	s.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
