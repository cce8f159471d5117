// Package indexer registers new faces with the similarity index and writes
// the corresponding records. Registration is deliberately thin: it never
// populates historical matches itself, so registration latency stays
// decoupled from the potentially large back-fill work the reconciler does.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kozaktomas/face-finder/internal/match"
	"github.com/kozaktomas/face-finder/internal/observability"
	"github.com/kozaktomas/face-finder/internal/similarity"
	"github.com/kozaktomas/face-finder/internal/store"
)

// FaceIndexer registers user faces.
type FaceIndexer struct {
	index  similarity.Index
	faces  store.FaceStore
	logger *slog.Logger
}

// NewFaceIndexer creates a face indexer.
func NewFaceIndexer(index similarity.Index, faces store.FaceStore, logger *slog.Logger) *FaceIndexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FaceIndexer{index: index, faces: faces, logger: logger}
}

// Result describes a successful registration.
type Result struct {
	DescriptorID string `json:"descriptorId"`
	// Attributes is the index's opaque description of the detected face.
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// Register extracts a descriptor from an image containing exactly one face,
// stores it in the index under the user's label, and creates a fresh face
// record with an empty match list. Prior registrations for the same user are
// left untouched; history is preserved as separate records.
func (f *FaceIndexer) Register(ctx context.Context, userID string, image []byte) (*Result, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", match.ErrInvalidInput)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: image is empty", match.ErrInvalidInput)
	}

	normalized, err := normalizeImage(image)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", match.ErrInvalidInput, err)
	}

	reg, err := f.index.Register(ctx, normalized, store.UserLabel(userID))
	if err != nil {
		return nil, fmt.Errorf("register face for user %s: %w", userID, err)
	}

	now := time.Now()
	rec := &store.FaceRecord{
		UserID:       userID,
		DescriptorID: reg.DescriptorID,
		Attributes:   reg.Attributes,
		Status:       store.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := f.faces.PutFace(ctx, rec); err != nil {
		// The descriptor is registered but the record write failed. The
		// descriptor stays in the index; a later registration supersedes it.
		return nil, fmt.Errorf("store face record for user %s: %w", userID, err)
	}

	observability.FacesRegistered.Inc()
	f.logger.Info("face registered", "user_id", userID, "descriptor_id", reg.DescriptorID)

	return &Result{DescriptorID: reg.DescriptorID, Attributes: reg.Attributes}, nil
}
