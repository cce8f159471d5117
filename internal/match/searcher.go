package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kozaktomas/face-finder/internal/cache"
	"github.com/kozaktomas/face-finder/internal/similarity"
	"github.com/kozaktomas/face-finder/internal/store"
)

// Searcher runs similarity searches and classifies the raw hits into typed
// candidates.
type Searcher struct {
	index  similarity.Index
	photos store.PhotoStore
	cache  *cache.Photos // may be nil
	logger *slog.Logger
}

// NewSearcher creates a searcher. cache may be nil to disable photo caching.
func NewSearcher(index similarity.Index, photos store.PhotoStore, photoCache *cache.Photos, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{index: index, photos: photos, cache: photoCache, logger: logger}
}

// FindMatches searches the index for descriptors similar to descriptorID and
// returns classified candidates sorted by similarity descending, ties broken
// by most recently created target. Index failures propagate: an unreachable
// index must never be reconciled as "zero matches".
func (s *Searcher) FindMatches(ctx context.Context, descriptorID string, threshold float64, maxResults int) ([]Candidate, error) {
	if descriptorID == "" {
		return nil, fmt.Errorf("%w: descriptor id is required", ErrInvalidInput)
	}

	hits, err := s.index.Search(ctx, descriptorID, threshold, maxResults)
	if err != nil {
		return nil, fmt.Errorf("similarity search for %s: %w", descriptorID, err)
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		// The index necessarily returns the queried descriptor itself at
		// perfect similarity; drop it here, once, at the boundary.
		if hit.Similarity == 100 && hit.DescriptorID == descriptorID {
			continue
		}

		targetType, targetID := store.ParseLabel(hit.Label)
		c := Candidate{
			TargetID:     targetID,
			TargetType:   targetType,
			DescriptorID: hit.DescriptorID,
			Similarity:   hit.Similarity,
			Label:        hit.Label,
		}
		if targetType == store.TargetPhoto {
			s.resolvePhoto(ctx, &c)
		}
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].TargetCreatedAt.After(candidates[j].TargetCreatedAt)
	})
	return candidates, nil
}

// resolvePhoto attaches owner and creation time from the photo record. A
// vanished photo never fails the search; the candidate keeps id and
// similarity only.
func (s *Searcher) resolvePhoto(ctx context.Context, c *Candidate) {
	if rec, ok := s.cache.Get(c.TargetID); ok {
		c.OwnerUserID = rec.OwnerUserID
		c.TargetCreatedAt = rec.CreatedAt
		return
	}

	rec, err := s.photos.GetPhoto(ctx, c.TargetID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("photo lookup failed during classification",
				"photo_id", c.TargetID, "error", err)
		}
		return
	}
	s.cache.Add(rec)
	c.OwnerUserID = rec.OwnerUserID
	c.TargetCreatedAt = rec.CreatedAt
}
