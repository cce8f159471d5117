package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-finder/internal/indexer"
)

// PhotosHandler handles the live matching path for uploaded photos.
type PhotosHandler struct {
	indexer *indexer.PhotoIndexer
}

// NewPhotosHandler creates a new photos handler.
func NewPhotosHandler(photoIndexer *indexer.PhotoIndexer) *PhotosHandler {
	return &PhotosHandler{indexer: photoIndexer}
}

type matchPhotoRequest struct {
	OwnerUserID    string `json:"ownerUserId"`
	StorageLocator string `json:"storageLocator"`
	// Image is the base64-encoded photo.
	Image string `json:"image"`
}

// Match handles POST /api/v1/photos/{id}/match: register the photo's face
// and reconcile every similar registered user against it.
func (h *PhotosHandler) Match(w http.ResponseWriter, r *http.Request) {
	photoID := chi.URLParam(r, "id")

	var req matchPhotoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	image, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		respondError(w, http.StatusBadRequest, "image must be base64 encoded")
		return
	}

	report, err := h.indexer.IndexPhoto(r.Context(), photoID, req.OwnerUserID, req.StorageLocator, image)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}
