package main

import (
	"encoding/json"
	"net/http"

	"mailgauge/internal/models"
)

// handleValidate runs the full pipeline for one address.
func (s *server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST", "")
		return
	}

	var req models.ValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "request body is not valid JSON", err.Error())
		return
	}

	verdict, err := s.engine.Validate(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, verdict)
}

func (s *server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "mailgauge",
		"version": "1.0.0",
		"capabilities": []string{
			"SMTP mailbox probing (RCPT, never DATA)",
			"Catch-all disambiguation",
			"DNS fallback scoring",
			"Reputation signals (SPF, DMARC, DBL, domain age)",
			"Batch validation via CSV upload",
		},
	})
}
