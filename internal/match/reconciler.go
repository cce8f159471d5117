package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-finder/internal/cache"
	"github.com/kozaktomas/face-finder/internal/observability"
	"github.com/kozaktomas/face-finder/internal/store"
)

// ReconcilerConfig bounds a reconciliation run.
type ReconcilerConfig struct {
	// Cap is the maximum historical match list length. When more
	// candidates qualify, only the highest-similarity ones are kept; the
	// loss is deliberate and bounded by the store's per-item size ceiling.
	Cap int
	// PhotoConcurrency bounds parallel photo updates.
	PhotoConcurrency int
}

// Reconciler applies a candidate list to the two denormalized write targets:
// the user's face record and the matched photos' records.
type Reconciler struct {
	faces  store.FaceStore
	photos store.PhotoStore
	cache  *cache.Photos // may be nil
	cfg    ReconcilerConfig
	logger *slog.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(faces store.FaceStore, photos store.PhotoStore, photoCache *cache.Photos, cfg ReconcilerConfig, logger *slog.Logger) *Reconciler {
	if cfg.Cap <= 0 {
		cfg.Cap = 150
	}
	if cfg.PhotoConcurrency <= 0 {
		cfg.PhotoConcurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{faces: faces, photos: photos, cache: photoCache, cfg: cfg, logger: logger}
}

// Reconcile merges candidates into the face record's historical matches,
// then fans out membership updates to every matched photo. The face record
// write strictly precedes the photo writes: a crash mid-run leaves the
// user's own record the more complete one, and the next audit pass repairs
// the photos from it.
//
// The threshold is per operation; it may be stricter than the one the
// candidates were searched with.
func (r *Reconciler) Reconcile(ctx context.Context, userID, descriptorID string, threshold float64, candidates []Candidate) (*Report, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if descriptorID == "" {
		return nil, fmt.Errorf("%w: descriptor id is required", ErrInvalidInput)
	}

	timer := time.Now()
	report := &Report{UserID: userID, DescriptorID: descriptorID}

	kept := r.filterAndCap(userID, descriptorID, threshold, candidates, report)
	report.MatchesFound = len(kept)

	if err := r.updateFaceRecord(ctx, userID, descriptorID, kept, report); err != nil {
		return report, err
	}
	r.updatePhotos(ctx, userID, descriptorID, kept, report)

	observability.ReconcileDuration.Observe(time.Since(timer).Seconds())
	observability.MatchesAdded.Add(float64(report.Added))
	observability.PhotosUpdated.Add(float64(report.PhotosUpdated))
	observability.ReconcileFailures.Add(float64(len(report.Failures)))
	return report, nil
}

// filterAndCap applies the operation threshold, drops self matches that
// slipped past the search boundary, and truncates to the cap keeping the
// highest similarities.
func (r *Reconciler) filterAndCap(userID, descriptorID string, threshold float64, candidates []Candidate, report *Report) []Candidate {
	filtered := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Similarity < threshold {
			report.Skipped++
			continue
		}
		if c.DescriptorID == descriptorID || (c.TargetType == store.TargetUser && c.TargetID == userID) {
			report.Skipped++
			continue
		}
		filtered = append(filtered, c)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Similarity != filtered[j].Similarity {
			return filtered[i].Similarity > filtered[j].Similarity
		}
		return filtered[i].TargetCreatedAt.After(filtered[j].TargetCreatedAt)
	})

	if len(filtered) > r.cfg.Cap {
		report.Skipped += len(filtered) - r.cfg.Cap
		filtered = filtered[:r.cfg.Cap]
	}
	return filtered
}

// updateFaceRecord merges candidates into historical matches and writes the
// result back. Read-modify-write with no optimistic lock: concurrent runs
// for the same user are serialized by the scheduler, not here.
func (r *Reconciler) updateFaceRecord(ctx context.Context, userID, descriptorID string, kept []Candidate, report *Report) error {
	rec, err := r.faces.GetFace(ctx, userID, descriptorID)
	if err != nil {
		return fmt.Errorf("load face record %s/%s: %w", userID, descriptorID, err)
	}

	now := time.Now()
	byTarget := make(map[string]store.MatchEntry, len(rec.HistoricalMatches))
	for _, entry := range rec.HistoricalMatches {
		byTarget[entry.TargetID] = entry
	}

	for _, c := range kept {
		existing, ok := byTarget[c.TargetID]
		if ok {
			report.AlreadyPresent++
			// Keep the higher similarity; never regress an entry.
			if c.Similarity > existing.Similarity {
				existing.Similarity = c.Similarity
				existing.MatchedAt = now
				byTarget[c.TargetID] = existing
			}
			continue
		}
		report.Added++
		byTarget[c.TargetID] = store.MatchEntry{
			TargetID:   c.TargetID,
			TargetType: c.TargetType,
			Similarity: c.Similarity,
			MatchedAt:  now,
		}
	}

	merged := make([]store.MatchEntry, 0, len(byTarget))
	for _, entry := range byTarget {
		merged = append(merged, entry)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Similarity != merged[j].Similarity {
			return merged[i].Similarity > merged[j].Similarity
		}
		return merged[i].TargetID < merged[j].TargetID
	})
	if len(merged) > r.cfg.Cap {
		merged = merged[:r.cfg.Cap]
	}

	// The store's per-item ceiling is the reason the cap exists; if a
	// pathological record still exceeds it, truncate further rather than
	// fail the run.
	for len(merged) > 0 {
		err := r.faces.UpdateMatches(ctx, userID, descriptorID, merged)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrSizeLimit) {
			return fmt.Errorf("update face matches %s/%s: %w", userID, descriptorID, err)
		}
		merged = merged[:len(merged)*3/4]
	}
	return r.faces.UpdateMatches(ctx, userID, descriptorID, merged)
}

// updatePhotos fans out membership updates to matched photos. Photos are
// independent: one failure never aborts the others.
func (r *Reconciler) updatePhotos(ctx context.Context, userID, descriptorID string, kept []Candidate, report *Report) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.PhotoConcurrency)

	for _, c := range kept {
		if c.TargetType != store.TargetPhoto {
			continue
		}
		candidate := c
		g.Go(func() error {
			updated, err := r.addPhotoMembership(gctx, candidate, userID, descriptorID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, store.ErrNotFound):
				// Photo vanished mid-run; the next audit pass will not
				// see it either.
				report.Skipped++
				r.logger.Debug("photo vanished during reconciliation",
					"photo_id", candidate.TargetID, "user_id", userID)
			case err != nil:
				report.Failures = append(report.Failures, ItemFailure{
					TargetID: candidate.TargetID,
					Reason:   err.Error(),
				})
				r.logger.Warn("photo update failed",
					"photo_id", candidate.TargetID, "user_id", userID, "error", err)
			case updated:
				report.PhotosUpdated++
			}
			return nil
		})
	}
	g.Wait()
}

// addPhotoMembership adds the user to a photo's matched_users if absent,
// accepting both the structured and the legacy bare-string representation
// when checking membership. A lost write race is retried once with fresh
// state, then reported.
func (r *Reconciler) addPhotoMembership(ctx context.Context, c Candidate, userID, descriptorID string) (bool, error) {
	const attempts = 2
	var lastErr error

	for i := 0; i < attempts; i++ {
		rec, err := r.photos.GetPhoto(ctx, c.TargetID)
		if err != nil {
			return false, err
		}
		if rec.HasMatchedUser(userID) {
			return false, nil
		}

		users := append(rec.MatchedUsers, store.MatchedUser{
			UserID:       userID,
			DescriptorID: descriptorID,
			Similarity:   c.Similarity,
			MatchedAt:    time.Now(),
		})
		err = r.photos.UpdateMatchedUsers(ctx, c.TargetID, users, rec.Revision)
		if err == nil {
			r.cache.Remove(c.TargetID)
			return true, nil
		}
		if !errors.Is(err, store.ErrWriteConflict) {
			return false, err
		}
		lastErr = err
	}
	return false, lastErr
}
