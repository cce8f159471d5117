package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-finder/internal/indexer"
	"github.com/kozaktomas/face-finder/internal/store"
)

// FacesHandler handles face registration and match listing.
type FacesHandler struct {
	indexer *indexer.FaceIndexer
	faces   store.FaceStore
}

// NewFacesHandler creates a new faces handler.
func NewFacesHandler(faceIndexer *indexer.FaceIndexer, faces store.FaceStore) *FacesHandler {
	return &FacesHandler{indexer: faceIndexer, faces: faces}
}

type registerRequest struct {
	UserID string `json:"userId"`
	// Image is the base64-encoded face image.
	Image string `json:"image"`
}

// Register handles POST /api/v1/faces.
func (h *FacesHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	image, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, "image must be base64 encoded")
		return
	}

	result, err := h.indexer.Register(r.Context(), req.UserID, image)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

type matchesResponse struct {
	UserID       string             `json:"userId"`
	DescriptorID string             `json:"descriptorId"`
	Status       store.FaceStatus   `json:"status"`
	Matches      []store.MatchEntry `json:"matches"`
}

// GetMatches handles GET /api/v1/users/{id}/matches. It reports the matches
// of the user's authoritative (newest) face record.
func (h *FacesHandler) GetMatches(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	recs, err := h.faces.FacesByUser(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if len(recs) == 0 {
		respondError(w, http.StatusNotFound, "no face registered for user")
		return
	}

	authoritative := recs[0]
	matches := authoritative.HistoricalMatches
	if matches == nil {
		matches = []store.MatchEntry{}
	}
	respondJSON(w, http.StatusOK, matchesResponse{
		UserID:       userID,
		DescriptorID: authoritative.DescriptorID,
		Status:       authoritative.Status,
		Matches:      matches,
	})
}
