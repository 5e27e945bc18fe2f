package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leeksaver/leeksaver/internal/errkind"
	"github.com/leeksaver/leeksaver/internal/syncer"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.QuickCheck(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	type taskInfo struct {
		Name        string `json:"name"`
		Tier        string `json:"tier"`
		Description string `json:"description"`
	}
	defs := s.registry.All()
	out := make([]taskInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, taskInfo{Name: d.Name, Tier: string(d.Tier), Description: d.Description})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleTrigger submits one task on demand, optionally narrowed with
// ?code=600519,000001 and ?date=2026-01-02. An unknown name is 404; a
// scope on a task that cannot run scoped is 400; a task already in flight
// (or a full queue) is 409 so callers can tell "queued" from "absorbed".
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "task")

	var scope syncer.Scope
	if raw := r.URL.Query().Get("code"); raw != "" {
		for _, c := range strings.Split(raw, ",") {
			if c = strings.TrimSpace(c); c != "" {
				scope.Codes = append(scope.Codes, c)
			}
		}
	}
	if raw := r.URL.Query().Get("date"); raw != "" {
		at, err := time.Parse("2006-01-02", raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		scope.Since = at
	}

	known, scopable, accepted := s.trigger.TriggerScoped(name, scope)
	if !known {
		s.writeError(w, http.StatusNotFound, "unknown task: "+name)
		return
	}
	if !scopable {
		s.writeError(w, http.StatusBadRequest, "task does not support scoped triggers: "+name)
		return
	}
	if !accepted {
		s.writeError(w, http.StatusConflict, "task already in flight: "+name)
		return
	}
	s.log.Info().Str("task", name).Strs("codes", scope.Codes).Msg("manual trigger accepted")
	s.writeJSON(w, http.StatusAccepted, map[string]string{"task": name, "status": "queued"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.status.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type taskStatus struct {
		TaskName    string `json:"task_name"`
		State       string `json:"state"`
		LastRunAt   string `json:"last_run_at,omitempty"`
		LastOKAt    string `json:"last_ok_at,omitempty"`
		NextRunAt   string `json:"next_run_at,omitempty"`
		ProgressPct *int   `json:"progress_pct,omitempty"`
		DurationMS  int64  `json:"duration_ms"`
		RowsWritten int    `json:"rows_written"`
		LastError   string `json:"last_error,omitempty"`
		DedupSkips  int    `json:"dedup_skips"`
	}
	out := make([]taskStatus, 0, len(snaps))
	for _, snap := range snaps {
		ts := taskStatus{
			TaskName:    snap.TaskName,
			State:       snap.State,
			DurationMS:  snap.DurationMS,
			RowsWritten: snap.RowsWritten,
			LastError:   snap.LastError,
			DedupSkips:  snap.DedupSkips,
		}
		if snap.LastRunAt > 0 {
			ts.LastRunAt = time.Unix(snap.LastRunAt, 0).UTC().Format(time.RFC3339)
		}
		if snap.LastOKAt > 0 {
			ts.LastOKAt = time.Unix(snap.LastOKAt, 0).UTC().Format(time.RFC3339)
		}
		if s.schedule != nil {
			if at, ok := s.schedule.NextRun(snap.TaskName); ok && !at.IsZero() {
				ts.NextRunAt = at.UTC().Format(time.RFC3339)
			}
		}
		if snap.State == "running" {
			if done, total, ok := s.progress.Get(snap.TaskName); ok && total > 0 {
				pct := 100 * done / total
				ts.ProgressPct = &pct
			}
		}
		out = append(out, ts)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSyncErrors(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be 1..1000")
			return
		}
		limit = n
	}

	open, err := s.errors.ListOpen(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, open)
}

// handleDoctorRun runs a full audit synchronously and returns the report.
func (s *Server) handleDoctorRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.doctor.Run(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDoctorLatest(w http.ResponseWriter, r *http.Request) {
	report, err := s.audits.Latest(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if report == nil {
		s.writeError(w, http.StatusNotFound, "no audit has run yet")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleWatchlistList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.watchlist.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleWatchlistAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		s.writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	if err := s.watchlist.Add(r.Context(), req.Code, req.Note); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"code": req.Code})
}

func (s *Server) handleWatchlistRemove(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if err := s.watchlist.Remove(r.Context(), code); err != nil {
		if errkind.KindOf(err) == errkind.ValidationRejected {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleQuotes serves live quotes through the TTL cache. Stale entries
// carry stale=true so clients can flag them.
func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("codes")
	if raw == "" {
		s.writeError(w, http.StatusBadRequest, "codes query parameter is required")
		return
	}
	var codes []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	if len(codes) == 0 || len(codes) > 50 {
		s.writeError(w, http.StatusBadRequest, "1..50 codes per request")
		return
	}

	quotes, err := s.quotes.Get(r.Context(), codes)
	if err != nil {
		switch errkind.KindOf(err) {
		case errkind.RateLimited:
			s.writeError(w, http.StatusTooManyRequests, err.Error())
		case errkind.UpstreamUnavailable:
			s.writeError(w, http.StatusBadGateway, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusOK, quotes)
}
