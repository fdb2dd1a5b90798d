package main

import (
	"encoding/json"
	"net/http"

	"mailgauge/internal/models"
)

// handleProbe answers raw reachability only: can any of the domain's
// exchangers be dialed. No RCPT, no verdict.
func (s *server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST", "")
		return
	}

	var req models.ConnectivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "request body is not valid JSON", err.Error())
		return
	}

	report, err := s.engine.CheckConnectivity(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
