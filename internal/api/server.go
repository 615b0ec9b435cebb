// Package api is the operational HTTP surface: job control, log queries,
// and a live log stream. Sessions and account linking live elsewhere.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stepflow/internal/cronlog"
	"stepflow/internal/domain"
	"stepflow/internal/scheduler"
)

// JobControl is the slice of the registry the API needs.
type JobControl interface {
	Start(ctx context.Context, userID string) error
	Stop(userID string)
	Jobs() []scheduler.JobInfo
}

// ConfigWriter persists settings edits before the job restart.
type ConfigWriter interface {
	UpsertConfig(ctx context.Context, cfg domain.UserScheduleConfig) error
}

type Server struct {
	r    *chi.Mux
	jobs JobControl
	cfgs ConfigWriter
	logs cronlog.Store
	hub  *cronlog.Hub
}

func NewServer(jobs JobControl, cfgs ConfigWriter, logs cronlog.Store, hub *cronlog.Hub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, jobs: jobs, cfgs: cfgs, logs: logs, hub: hub}

	r.Get("/health", s.health)
	r.Get("/api/jobs", s.listJobs)
	r.Post("/api/jobs/{userID}/start", s.startJob)
	r.Post("/api/jobs/{userID}/stop", s.stopJob)
	r.Put("/api/users/{userID}/settings", s.putSettings)
	r.Get("/api/users/{userID}/logs", s.listLogs)
	r.Delete("/api/users/{userID}/logs", s.clearLogs)
	r.Delete("/api/logs", s.cleanupLogs)
	r.Get("/api/logs/stream", s.streamLogs)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.jobs.Jobs()})
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := s.jobs.Start(r.Context(), userID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// Refusals (missing config, disabled, unauthorized) surface through
	// the log channel, not this response.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "requested"})
}

func (s *Server) stopJob(w http.ResponseWriter, r *http.Request) {
	s.jobs.Stop(chi.URLParam(r, "userID"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

type settingsReq struct {
	Enabled     bool   `json:"enabled"`
	Period      int    `json:"period"`
	Unit        string `json:"unit"`
	Random      bool   `json:"random"`
	Increment   int    `json:"increment"`
	Min         int    `json:"min"`
	Max         int    `json:"max"`
	WindowStart string `json:"windowStart"`
	WindowEnd   string `json:"windowEnd"`
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req settingsReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cfg, err := req.toConfig(userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.cfgs.UpsertConfig(r.Context(), cfg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// A settings edit restarts the job so the new cadence takes effect
	// immediately; disabling tears it down.
	if cfg.Enabled {
		if err := s.jobs.Start(r.Context(), userID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	} else {
		s.jobs.Stop(userID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (req settingsReq) toConfig(userID string) (domain.UserScheduleConfig, error) {
	if req.Period < 1 {
		return domain.UserScheduleConfig{}, errors.New("period must be at least 1")
	}
	unit := domain.PeriodUnit(req.Unit)
	switch unit {
	case domain.UnitMinutes, domain.UnitHours, domain.UnitDays:
	default:
		return domain.UserScheduleConfig{}, fmt.Errorf("unknown unit %q", req.Unit)
	}
	start, err := domain.ParseClock(req.WindowStart)
	if err != nil {
		return domain.UserScheduleConfig{}, err
	}
	end, err := domain.ParseClock(req.WindowEnd)
	if err != nil {
		return domain.UserScheduleConfig{}, err
	}
	return domain.UserScheduleConfig{
		UserID:      userID,
		Enabled:     req.Enabled,
		Period:      req.Period,
		Unit:        unit,
		Amount:      domain.AmountPolicy{Random: req.Random, Increment: req.Increment, Min: req.Min, Max: req.Max}.Normalize(),
		WindowStart: start,
		WindowEnd:   end,
	}, nil
}

func (s *Server) listLogs(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 50)

	events, err := s.logs.List(r.Context(), userID, page, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	total, err := s.logs.Count(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	totalPages := (total + limit - 1) / limit
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":        events,
		"total":       total,
		"totalPages":  totalPages,
		"currentPage": page,
	})
}

func (s *Server) clearLogs(w http.ResponseWriter, r *http.Request) {
	n, err := s.logs.DeleteAll(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) cleanupLogs(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 2)
	cutoff := time.Now().AddDate(0, 0, -days)
	n, err := s.logs.DeleteOlderThan(r.Context(), cutoff)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

// sseHeartbeat is how often an idle stream gets a comment frame so
// proxies and load balancers don't reap the connection.
var sseHeartbeat = 15 * time.Second

// streamLogs pushes live log events over SSE until the client hangs up.
// Delivery is at-most-once; history goes through the list endpoint.
func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	hb := time.NewTicker(sseHeartbeat)
	defer hb.Stop()

	user := r.URL.Query().Get("user")
	for {
		select {
		case <-r.Context().Done():
			return
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			fl.Flush()
		case ev, open := <-sub:
			if !open {
				return
			}
			if user != "" && ev.UserID != user {
				continue
			}
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", b)
			fl.Flush()
		}
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
