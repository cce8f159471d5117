package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

const headerName = "X-API-Key"

// APIKey validates the X-API-Key header with a constant-time comparison.
// An empty configured key disables authentication.
func APIKey(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get(headerName)
			if provided == "" {
				denyJSON(w, http.StatusUnauthorized, "missing API key")
				return
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				denyJSON(w, http.StatusForbidden, "invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func denyJSON(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
