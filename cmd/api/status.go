package main

import (
	"net/http"

	"mailgauge/internal/store"
)

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET", "")
		return
	}

	jobID := r.URL.Query().Get("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "missing 'id' parameter", "")
		return
	}

	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "job not found", "")
			return
		}
		s.log.Error().Err(err).Str("job_id", jobID).Msg("job lookup failed")
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to fetch job", "")
		return
	}

	writeJSON(w, http.StatusOK, job)
}
