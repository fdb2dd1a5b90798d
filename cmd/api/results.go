package main

import (
	"net/http"
)

func (s *server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET", "")
		return
	}

	jobID := r.URL.Query().Get("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "missing 'id' parameter", "")
		return
	}

	rows, err := s.store.ListVerdicts(r.Context(), jobID)
	if err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("results lookup failed")
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", "failed to fetch results", "")
		return
	}

	// rows is [] rather than null when nothing is processed yet.
	writeJSON(w, http.StatusOK, rows)
}
