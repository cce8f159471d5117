// Package handlers provides the HTTP handlers for the web API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kozaktomas/face-finder/internal/audit"
	"github.com/kozaktomas/face-finder/internal/match"
	"github.com/kozaktomas/face-finder/internal/similarity"
	"github.com/kozaktomas/face-finder/internal/store"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// errStatus maps domain errors onto HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, match.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, similarity.ErrNoFaceDetected), errors.Is(err, similarity.ErrMultipleFaces):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound), errors.Is(err, similarity.ErrDescriptorNotFound):
		return http.StatusNotFound
	case errors.Is(err, audit.ErrAuditInFlight):
		return http.StatusConflict
	case errors.Is(err, similarity.ErrIndexUnavailable), errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondDomainError maps a domain error to its status code and sends it.
func respondDomainError(w http.ResponseWriter, err error) {
	respondError(w, errStatus(err), err.Error())
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}
