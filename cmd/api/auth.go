package main

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireAPIKey validates the Bearer token before letting a request
// through.
func (s *server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Lock the server down if the operator forgot to set the key.
		// 500 rather than 401 makes the misconfiguration obvious during
		// deployment instead of looking like a bad token.
		if s.cfg.APIKey == "" {
			writeError(w, http.StatusInternalServerError, "SERVER_MISCONFIGURED",
				"API_SECRET_KEY is not set", "")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))

		// ConstantTimeCompare examines every byte of both inputs, so
		// response latency carries no information about how many leading
		// characters of the guess were correct.
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED",
				"invalid or missing API key", "")
			return
		}

		next(w, r)
	}
}
