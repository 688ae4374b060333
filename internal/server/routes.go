package server

import (
	"net/http"
	"strings"

	"github.com/bobmcallan/pricecache/internal/common"
	"github.com/bobmcallan/pricecache/internal/models"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)

	// Catalog and prices
	mux.HandleFunc("/api/assets", s.handleAssets)
	mux.HandleFunc("/api/chart/", s.routeChart)
	mux.HandleFunc("/api/refresh/", s.handleRefreshSymbol)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)

	// Admin
	mux.HandleFunc("/api/admin/refresh/incremental", s.handleAdminRefresh(models.JobIncremental))
	mux.HandleFunc("/api/admin/refresh/full", s.handleAdminRefresh(models.JobFull))
	mux.HandleFunc("/api/admin/refresh/status", s.handleAdminRefreshStatus)
}

// routeChart dispatches /api/chart/{symbol} and /api/chart/{symbol}/image.
func (s *Server) routeChart(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/chart/")
	if path == "" {
		WriteError(w, http.StatusBadRequest, "symbol is required in path")
		return
	}

	symbol, sub, _ := strings.Cut(path, "/")
	switch sub {
	case "":
		s.handleChart(w, r, symbol)
	case "image":
		s.handleChartImage(w, r, symbol)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, common.GetBuildInfo())
}
