package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kozaktomas/face-finder/internal/match"
	"github.com/kozaktomas/face-finder/internal/similarity"
	"github.com/kozaktomas/face-finder/internal/store"
)

// PhotoIndexer is the live matching path: when a photo is uploaded, its face
// is registered under a photo label and every registered user similar enough
// is reconciled against the new photo immediately, so fresh uploads match
// without waiting for the next audit pass.
type PhotoIndexer struct {
	index      similarity.Index
	photos     store.PhotoStore
	searcher   *match.Searcher
	reconciler *match.Reconciler
	// searchThreshold is the lowest threshold of any downstream consumer;
	// threshold is the stricter live-upload one applied at reconcile time.
	searchThreshold  float64
	threshold        float64
	searchMaxResults int
	logger           *slog.Logger
}

// NewPhotoIndexer creates a photo indexer.
func NewPhotoIndexer(
	index similarity.Index,
	photos store.PhotoStore,
	searcher *match.Searcher,
	reconciler *match.Reconciler,
	searchThreshold, threshold float64,
	searchMaxResults int,
	logger *slog.Logger,
) *PhotoIndexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PhotoIndexer{
		index:            index,
		photos:           photos,
		searcher:         searcher,
		reconciler:       reconciler,
		searchThreshold:  searchThreshold,
		threshold:        threshold,
		searchMaxResults: searchMaxResults,
		logger:           logger,
	}
}

// PhotoReport summarizes the live matching of one uploaded photo.
type PhotoReport struct {
	PhotoID      string `json:"photoId"`
	DescriptorID string `json:"descriptorId"`
	// UsersMatched counts registered users found similar to the photo face.
	UsersMatched int `json:"usersMatched"`
	// UsersReconciled counts users whose records were updated successfully.
	UsersReconciled int `json:"usersReconciled"`

	Failures []match.ItemFailure `json:"failures,omitempty"`
}

// IndexPhoto registers the photo's face in the index, writes the photo
// record, and reconciles every matching registered user against the photo.
// Per-user reconciliation failures never abort the rest of the fan-out.
func (p *PhotoIndexer) IndexPhoto(ctx context.Context, photoID, ownerUserID, storageLocator string, image []byte) (*PhotoReport, error) {
	if photoID == "" {
		return nil, fmt.Errorf("%w: photo id is required", match.ErrInvalidInput)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: image is empty", match.ErrInvalidInput)
	}

	normalized, err := normalizeImage(image)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", match.ErrInvalidInput, err)
	}

	reg, err := p.index.Register(ctx, normalized, store.PhotoLabel(photoID))
	if err != nil {
		return nil, fmt.Errorf("register photo face %s: %w", photoID, err)
	}

	rec := &store.PhotoRecord{
		ID:             photoID,
		OwnerUserID:    ownerUserID,
		StorageLocator: storageLocator,
		CreatedAt:      time.Now(),
	}
	if err := p.photos.PutPhoto(ctx, rec); err != nil {
		return nil, fmt.Errorf("store photo record %s: %w", photoID, err)
	}

	report := &PhotoReport{PhotoID: photoID, DescriptorID: reg.DescriptorID}

	candidates, err := p.searcher.FindMatches(ctx, reg.DescriptorID, p.searchThreshold, p.searchMaxResults)
	if err != nil {
		// The photo is registered and will be picked up by the next audit
		// pass; the caller still learns the search failed.
		return report, fmt.Errorf("search matches for photo %s: %w", photoID, err)
	}

	photoCandidate := match.Candidate{
		TargetID:        photoID,
		TargetType:      store.TargetPhoto,
		DescriptorID:    reg.DescriptorID,
		Label:           store.PhotoLabel(photoID),
		OwnerUserID:     ownerUserID,
		TargetCreatedAt: rec.CreatedAt,
	}

	for _, c := range candidates {
		if c.TargetType != store.TargetUser {
			continue
		}
		report.UsersMatched++

		// The matched user sees the photo at the similarity between their
		// descriptor and the photo's.
		pc := photoCandidate
		pc.Similarity = c.Similarity

		if _, err := p.reconciler.Reconcile(ctx, c.TargetID, c.DescriptorID, p.threshold, []match.Candidate{pc}); err != nil {
			report.Failures = append(report.Failures, match.ItemFailure{
				TargetID: c.TargetID,
				Reason:   err.Error(),
			})
			p.logger.Warn("live match reconciliation failed",
				"photo_id", photoID, "user_id", c.TargetID, "error", err)
			continue
		}
		report.UsersReconciled++
	}

	p.logger.Info("photo indexed",
		"photo_id", photoID,
		"descriptor_id", reg.DescriptorID,
		"users_matched", report.UsersMatched,
		"users_reconciled", report.UsersReconciled)
	return report, nil
}
