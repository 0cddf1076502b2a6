package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/wallet-tracker/internal/errors"
	"github.com/wallet-tracker/internal/service"
)

type pagesRequest struct {
	Pages int `json:"pages"`
}

// parsePages reads {"pages": n}; an empty body or zero uses the default
func (s *Server) parsePages(r *http.Request) (int, error) {
	var req pagesRequest
	if err := parseJSONBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		return 0, apperrors.NewInvalidParameterError("body", "expected {\"pages\": n}")
	}
	if req.Pages == 0 {
		return s.config.DefaultPages, nil
	}
	return req.Pages, nil
}

// handleTriggerScan handles POST /api/scans - run collect-and-store now
func (s *Server) handleTriggerScan(w http.ResponseWriter, r *http.Request) {
	pages, err := s.parsePages(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	// a manual run outlives a client that disconnects mid-collection
	report, err := s.pipeline.Run(context.WithoutCancel(r.Context()), pages)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": service.RunSuccessMessage(report),
		"report":  report,
	})
}

// handleLatestScan handles GET /api/scans/latest
func (s *Server) handleLatestScan(w http.ResponseWriter, r *http.Request) {
	s.respondScan(w, r, "")
}

// handleGetScan handles GET /api/scans/{id}
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	s.respondScan(w, r, mux.Vars(r)["id"])
}

func (s *Server) respondScan(w http.ResponseWriter, r *http.Request, scanID string) {
	scan, err := s.analytics.ScanStats(r.Context(), scanID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if scan == nil {
		id := scanID
		if id == "" {
			id = "latest"
		}
		respondServiceError(w, r, apperrors.NewNotFoundError("scan", id))
		return
	}
	respondJSON(w, http.StatusOK, scan)
}

// handleArchiveDaily handles GET /api/archive/daily?days=
func (s *Server) handleArchiveDaily(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Scan archive is not enabled", nil)
		return
	}

	days, err := intParam(r.URL.Query().Get("days"), "days", 30, 1, 3650)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	totals, err := s.archive.DailyTotals(r.Context(), days)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"days":   days,
		"totals": nonNil(totals),
	})
}

// handleSchedulerStatus handles GET /api/scheduler
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.scheduler.Status())
}

// handleSchedulerStart handles POST /api/scheduler/start, replacing any running job
func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	pages, err := s.parsePages(r)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	if err := s.scheduler.Start(r.Context(), pages); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s.scheduler.Status())
}

// handleSchedulerStop handles POST /api/scheduler/stop
func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Stop()
	respondJSON(w, http.StatusOK, s.scheduler.Status())
}
