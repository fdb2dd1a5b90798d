package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"

	"mailgauge/internal/models"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// errorEnvelope is the uniform failure shape; Success is always false.
type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message, details string) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message, Details: details}})
}

// writeEngineError maps the engine's two caller-facing errors onto HTTP:
// EMAIL_REQUIRED is the caller's fault, everything else is ours.
func writeEngineError(w http.ResponseWriter, err error) {
	var ee *models.EngineError
	if errors.As(err, &ee) {
		if ee.Code == models.ErrCodeEmailRequired {
			writeError(w, http.StatusBadRequest, string(ee.Code), ee.Message, ee.Details)
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, string(ee.Code), ee.Message, ee.Details)
		return
	}
	sentry.CaptureException(err)
	writeError(w, http.StatusInternalServerError, string(models.ErrCodeInternal), "internal validation error", "")
}
