package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bobmcallan/pricecache/internal/clients/yahoo"
	"github.com/bobmcallan/pricecache/internal/common"
	"github.com/bobmcallan/pricecache/internal/interfaces"
	"github.com/bobmcallan/pricecache/internal/models"
	"github.com/bobmcallan/pricecache/internal/services/market"
)

// refreshResponse is the body of POST /api/refresh/{symbol}.
type refreshResponse struct {
	OK          bool       `json:"ok"`
	Refreshed   bool       `json:"refreshed,omitempty"`
	Points      int        `json:"points,omitempty"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// handleAssets handles GET /api/assets.
func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, s.app.Catalog.All())
}

// parseChartRequest builds a read request from the path symbol and the
// start, end and interval query parameters.
func parseChartRequest(r *http.Request, symbol string) (interfaces.ChartRequest, error) {
	req := interfaces.ChartRequest{Symbol: models.CanonicalSymbol(symbol)}
	if req.Symbol == "" {
		return req, errors.New("symbol is required in path")
	}

	var err error
	if req.Start, err = QueryDate(r, "start"); err != nil {
		return req, err
	}
	if req.End, err = QueryDate(r, "end"); err != nil {
		return req, err
	}
	if !req.Start.IsZero() && !req.End.IsZero() && req.Start.After(req.End) {
		return req, fmt.Errorf("start %s is after end %s", req.Start, req.End)
	}

	req.Interval = strings.TrimSpace(r.URL.Query().Get("interval"))
	if req.Interval != "" && !yahoo.ValidInterval(req.Interval) {
		return req, fmt.Errorf("interval must be one of 1d, 1wk, 1mo, got %q", req.Interval)
	}
	return req, nil
}

// readChart runs the read path and writes any error response itself.
func (s *Server) readChart(w http.ResponseWriter, r *http.Request, symbol string) (*models.ChartResponse, bool) {
	req, err := parseChartRequest(r, symbol)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	resp, err := s.app.MarketService.GetChart(r.Context(), req)
	if err != nil {
		if errors.Is(err, market.ErrNoDataAvailable) {
			WriteErrorWithCode(w, http.StatusBadGateway, err.Error(), "no_data_available")
			return nil, false
		}
		s.logger.Error().
			Str("symbol", req.Symbol).
			Str("correlation_id", common.ResolveCorrelationID(r.Context())).
			Err(err).
			Msg("Chart read failed")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return nil, false
	}
	return resp, true
}

// handleChart handles GET /api/chart/{symbol}.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request, symbol string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	resp, ok := s.readChart(w, r, symbol)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// handleChartImage handles GET /api/chart/{symbol}/image.
func (s *Server) handleChartImage(w http.ResponseWriter, r *http.Request, symbol string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	resp, ok := s.readChart(w, r, symbol)
	if !ok {
		return
	}

	png, err := s.app.MarketService.RenderChart(resp.Symbol, resp.Data)
	if err != nil {
		WriteError(w, http.StatusUnprocessableEntity, fmt.Sprintf("cannot render %s: %v", resp.Symbol, err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Chart-Source", resp.Source)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// handleRefreshSymbol handles POST /api/refresh/{symbol}.
func (s *Server) handleRefreshSymbol(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	symbol := models.CanonicalSymbol(PathParam(r, "/api/refresh/", ""))
	if symbol == "" {
		WriteError(w, http.StatusBadRequest, "symbol is required in path")
		return
	}

	entry, err := s.app.MarketService.RefreshSymbol(r.Context(), symbol)
	if err != nil {
		s.logger.Warn().
			Str("symbol", symbol).
			Str("correlation_id", common.ResolveCorrelationID(r.Context())).
			Err(err).
			Msg("Manual refresh failed")
		WriteJSON(w, http.StatusBadGateway, refreshResponse{OK: false, Error: err.Error()})
		return
	}

	lastUpdated := entry.LastUpdated
	WriteJSON(w, http.StatusOK, refreshResponse{
		OK:          true,
		Refreshed:   true,
		Points:      len(entry.Series),
		LastUpdated: &lastUpdated,
	})
}

// handleSnapshot handles GET /api/snapshot, returning the persisted bytes verbatim.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	data, err := s.app.Store.ReadRaw(r.Context())
	if err != nil {
		if errors.Is(err, interfaces.ErrSnapshotNotFound) {
			WriteError(w, http.StatusNotFound, "no snapshot has been persisted yet")
			return
		}
		s.logger.Error().Err(err).Msg("Failed to read price snapshot")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
