package server

import (
	"errors"
	"net/http"

	"github.com/bobmcallan/pricecache/internal/common"
	"github.com/bobmcallan/pricecache/internal/services/jobmanager"
)

// handleAdminRefresh returns the handler for POST /api/admin/refresh/{job}.
// The job runs in the background; the response carries its run ID.
func (s *Server) handleAdminRefresh(job string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !RequireMethod(w, r, http.MethodPost) {
			return
		}
		if !s.requireAdmin(w, r) {
			return
		}

		runID, err := s.app.Jobs.Trigger(job)
		if err != nil {
			switch {
			case errors.Is(err, jobmanager.ErrJobRunning):
				WriteErrorWithCode(w, http.StatusConflict, err.Error(), "job_running")
			case errors.Is(err, jobmanager.ErrUnknownJob):
				WriteError(w, http.StatusNotFound, err.Error())
			default:
				WriteError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}

		s.logger.Info().
			Str("job", job).
			Str("run_id", runID).
			Str("correlation_id", common.ResolveCorrelationID(r.Context())).
			Msg("Refresh triggered by admin")

		WriteJSON(w, http.StatusAccepted, map[string]string{
			"job":    job,
			"run_id": runID,
		})
	}
}

// handleAdminRefreshStatus handles GET /api/admin/refresh/status.
func (s *Server) handleAdminRefreshStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs": s.app.Jobs.Status(),
	})
}
