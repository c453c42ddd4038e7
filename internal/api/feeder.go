package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/nerrad567/catfeeder/internal/feeder"
	"github.com/nerrad567/catfeeder/internal/feeding"
)

// FeedRequest is the body of POST /feed.
type FeedRequest struct {
	Portions *int `json:"portions"`
}

// FeedResponse acknowledges an accepted feeding.
type FeedResponse struct {
	JobID    string `json:"job_id"`
	Portions int    `json:"portions"`
}

// MachinesResponse lists machine snapshots.
type MachinesResponse struct {
	Busy     bool                    `json:"busy"`
	Machines []feeding.MachineStatus `json:"machines"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Version: s.version}
	status := http.StatusOK

	if len(s.checks) > 0 {
		names := make([]string, 0, len(s.checks))
		for name := range s.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		resp.Checks = make(map[string]string, len(names))
		for _, name := range names {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := s.checks[name](ctx)
			cancel()
			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	writeJSON(w, status, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.feeder.Status())
}

func (s *Server) handleMachines(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, MachinesResponse{
		Busy:     s.feeder.Busy(),
		Machines: s.feeder.Machines(),
	})
}

// handleFeed starts a feeding. An empty body feeds one portion.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	var req FeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	portions := 1
	if req.Portions != nil {
		portions = *req.Portions
	}
	if limit := s.feeder.MaxRemotePortions(); portions < 1 || portions > limit {
		writeError(w, http.StatusBadRequest, ErrCodeValidation,
			fmt.Sprintf("portions must be between 1 and %d", limit))
		return
	}

	id, err := s.feeder.Feed(feeding.TriggerAPI, portions)
	switch {
	case errors.Is(err, feeder.ErrBusy):
		writeError(w, http.StatusConflict, ErrCodeConflict, "a feeding job is already running")
		return
	case errors.Is(err, feeder.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "feeder is shutting down")
		return
	case err != nil:
		s.logger.Error("feeding not started", "error", err)
		writeInternalError(w, "feeding not started")
		return
	}

	writeJSON(w, http.StatusAccepted, FeedResponse{JobID: id, Portions: portions})
}

func (s *Server) handleReload(w http.ResponseWriter, _ *http.Request) {
	err := s.feeder.Reload()
	switch {
	case errors.Is(err, feeder.ErrNoLoader):
		writeError(w, http.StatusNotImplemented, ErrCodeNotImplemented, "reload is not configured")
		return
	case err != nil:
		s.logger.Error("reload failed", "error", err)
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
