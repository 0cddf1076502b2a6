package api

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/wallet-tracker/internal/adapter"
	apperrors "github.com/wallet-tracker/internal/errors"
	"github.com/wallet-tracker/internal/export"
	"github.com/wallet-tracker/internal/types"
)

const (
	defaultHistoryLimit = 1000
	maxHistoryLimit     = 10000
	defaultFlowWindow   = 30
)

// handleLatestState handles GET /api/wallets/latest?search=
func (s *Server) handleLatestState(w http.ResponseWriter, r *http.Request) {
	search := strings.TrimSpace(r.URL.Query().Get("search"))

	latest, err := s.analytics.LatestState(r.Context(), search)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"wallets": nonNil(latest),
		"count":   len(latest),
	})
}

// handleDuplicateWallets handles GET /api/wallets/duplicates
func (s *Server) handleDuplicateWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.analytics.DuplicateBalanceWallets(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"wallets": nonNil(wallets),
		"count":   len(wallets),
	})
}

// handleWalletHistory handles GET /api/wallets/{address}/history?limit=
func (s *Server) handleWalletHistory(w http.ResponseWriter, r *http.Request) {
	address := adapter.NormalizeAddress(mux.Vars(r)["address"])

	limit, err := intParam(r.URL.Query().Get("limit"), "limit", defaultHistoryLimit, 1, maxHistoryLimit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	points, err := s.analytics.WalletHistory(r.Context(), address, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if len(points) == 0 {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "No snapshots for address", map[string]interface{}{
			"address": address,
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"address": address,
		"limit":   limit,
		"points":  points,
	})
}

// handleHistory handles GET /api/history?address=&limit=
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit, err := intParam(query.Get("limit"), "limit", defaultHistoryLimit, 1, maxHistoryLimit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	address := query.Get("address")
	if address != "" {
		address = adapter.NormalizeAddress(address)
	}

	snapshots, err := s.analytics.History(r.Context(), address, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": nonNil(snapshots),
		"count":     len(snapshots),
		"limit":     limit,
	})
}

// handleBalanceGroups handles GET /api/groups
func (s *Server) handleBalanceGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.analytics.BalanceGroups(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"groups": nonNil(groups),
		"count":  len(groups),
	})
}

// handleDailyFlow handles GET /api/flows/daily?window=
func (s *Server) handleDailyFlow(w http.ResponseWriter, r *http.Request) {
	window, err := intParam(r.URL.Query().Get("window"), "window", defaultFlowWindow, 1, 3650)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	stats, err := s.analytics.DailyFlowStats(r.Context(), window)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"window": window,
		"days":   nonNil(stats),
	})
}

// handleSignal handles GET /api/signal. The signal never fails; an ERROR label
// is still a 200 response.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.analytics.MarketSignal(r.Context()))
}

// handleSummary handles GET /api/summary
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.analytics.Summary(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// handleViewStats handles GET /api/stats/views
func (s *Server) handleViewStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.analytics.ViewStats())
}

// handleExport handles GET /api/export/{latest|groups}?format=csv|xlsx
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	listing := mux.Vars(r)["listing"]

	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	var snapshots []types.WalletSnapshot
	switch listing {
	case "latest":
		snapshots, err = s.analytics.LatestState(r.Context(), "")
	case "groups":
		snapshots, err = s.analytics.DuplicateBalanceWallets(r.Context())
	default:
		respondServiceError(w, r, apperrors.NewInvalidParameterError("listing", "must be latest or groups"))
		return
	}
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	var body bytes.Buffer
	if err := export.Write(&body, format, listing, snapshots); err != nil {
		respondServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+format.Filename(listing)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = body.WriteTo(w)
}

// intParam parses an optional integer query parameter within [lo, hi]
func intParam(raw, name string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewInvalidParameterError(name, "must be an integer")
	}
	if value < lo || value > hi {
		return 0, apperrors.NewInvalidParameterError(name, "must be between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi))
	}
	return value, nil
}

// nonNil keeps empty listings serialised as [] rather than null
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
