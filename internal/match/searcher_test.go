package match

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kozaktomas/face-finder/internal/cache"
	"github.com/kozaktomas/face-finder/internal/similarity"
	simmock "github.com/kozaktomas/face-finder/internal/similarity/mock"
	"github.com/kozaktomas/face-finder/internal/store"
	"github.com/kozaktomas/face-finder/internal/store/memory"
)

func TestFindMatches_SelfMatchSuppression(t *testing.T) {
	index := simmock.NewIndex()
	index.AddDescriptor("d1", "user-u1")
	index.Hits = []similarity.Hit{
		{DescriptorID: "dp", Similarity: 96, Label: "photo-photoA"},
	}
	photos := memory.NewPhotoStore()
	photos.PutPhoto(context.Background(), &store.PhotoRecord{ID: "photoA", OwnerUserID: "owner"})

	s := NewSearcher(index, photos, nil, nil)
	candidates, err := s.FindMatches(context.Background(), "d1", 85, 10)
	if err != nil {
		t.Fatalf("FindMatches: %v", err)
	}

	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate after self suppression, got %d", len(candidates))
	}
	c := candidates[0]
	if c.TargetID != "photoA" || c.TargetType != store.TargetPhoto || c.Similarity != 96 {
		t.Errorf("unexpected candidate: %+v", c)
	}
	if c.OwnerUserID != "owner" {
		t.Errorf("photo not resolved: %+v", c)
	}
}

func TestFindMatches_UnknownLabelKept(t *testing.T) {
	index := simmock.NewIndex()
	index.AddDescriptor("d1", "user-u1")
	index.Hits = []similarity.Hit{
		{DescriptorID: "dx", Similarity: 90, Label: "marker-weird"},
	}

	s := NewSearcher(index, memory.NewPhotoStore(), nil, nil)
	candidates, err := s.FindMatches(context.Background(), "d1", 85, 10)
	if err != nil {
		t.Fatalf("FindMatches: %v", err)
	}

	if len(candidates) != 1 {
		t.Fatalf("unknown-label hit must be surfaced, got %d candidates", len(candidates))
	}
	if candidates[0].TargetType != store.TargetUnknown || candidates[0].TargetID != "marker-weird" {
		t.Errorf("unknown label must pass through unmodified: %+v", candidates[0])
	}
}

func TestFindMatches_VanishedPhotoKept(t *testing.T) {
	index := simmock.NewIndex()
	index.AddDescriptor("d1", "user-u1")
	index.Hits = []similarity.Hit{
		{DescriptorID: "dp", Similarity: 92, Label: "photo-gone"},
	}

	s := NewSearcher(index, memory.NewPhotoStore(), nil, nil)
	candidates, err := s.FindMatches(context.Background(), "d1", 85, 10)
	if err != nil {
		t.Fatalf("a vanished photo must not fail the search: %v", err)
	}
	if len(candidates) != 1 || candidates[0].TargetID != "gone" {
		t.Fatalf("vanished photo candidate dropped: %+v", candidates)
	}
	if candidates[0].OwnerUserID != "" {
		t.Errorf("vanished photo should have no resolved owner")
	}
}

func TestFindMatches_IndexErrorPropagates(t *testing.T) {
	index := simmock.NewIndex()
	index.AddDescriptor("d1", "user-u1")
	index.SearchError = similarity.ErrIndexUnavailable

	s := NewSearcher(index, memory.NewPhotoStore(), nil, nil)
	_, err := s.FindMatches(context.Background(), "d1", 85, 10)
	if !errors.Is(err, similarity.ErrIndexUnavailable) {
		t.Errorf("index failure must propagate, got %v", err)
	}
}

func TestFindMatches_Ordering(t *testing.T) {
	index := simmock.NewIndex()
	index.AddDescriptor("d1", "user-u1")
	index.Hits = []similarity.Hit{
		{DescriptorID: "da", Similarity: 90, Label: "photo-old"},
		{DescriptorID: "db", Similarity: 95, Label: "photo-best"},
		{DescriptorID: "dc", Similarity: 90, Label: "photo-new"},
	}
	photos := memory.NewPhotoStore()
	now := time.Now()
	photos.PutPhoto(context.Background(), &store.PhotoRecord{ID: "old", CreatedAt: now.Add(-time.Hour)})
	photos.PutPhoto(context.Background(), &store.PhotoRecord{ID: "new", CreatedAt: now})
	photos.PutPhoto(context.Background(), &store.PhotoRecord{ID: "best", CreatedAt: now.Add(-2 * time.Hour)})

	s := NewSearcher(index, photos, nil, nil)
	candidates, err := s.FindMatches(context.Background(), "d1", 85, 10)
	if err != nil {
		t.Fatalf("FindMatches: %v", err)
	}

	want := []string{"best", "new", "old"}
	if len(candidates) != len(want) {
		t.Fatalf("expected %d candidates, got %d", len(want), len(candidates))
	}
	for i, id := range want {
		if candidates[i].TargetID != id {
			t.Errorf("position %d: got %s, want %s (similarity desc, newest first on ties)",
				i, candidates[i].TargetID, id)
		}
	}
}

func TestFindMatches_UsesCache(t *testing.T) {
	index := simmock.NewIndex()
	index.AddDescriptor("d1", "user-u1")
	index.Hits = []similarity.Hit{
		{DescriptorID: "dp", Similarity: 92, Label: "photo-p1"},
	}
	photos := memory.NewPhotoStore()
	photos.PutPhoto(context.Background(), &store.PhotoRecord{ID: "p1", OwnerUserID: "owner"})

	photoCache := cache.NewPhotos(16, time.Minute)
	s := NewSearcher(index, photos, photoCache, nil)

	if _, err := s.FindMatches(context.Background(), "d1", 85, 10); err != nil {
		t.Fatalf("FindMatches: %v", err)
	}
	if photoCache.Len() != 1 {
		t.Fatalf("expected photo cached after first search, len=%d", photoCache.Len())
	}

	// Second search must resolve from cache even if the store errors.
	photos.GetError = errors.New("store down")
	candidates, err := s.FindMatches(context.Background(), "d1", 85, 10)
	if err != nil {
		t.Fatalf("FindMatches with cache: %v", err)
	}
	if candidates[0].OwnerUserID != "owner" {
		t.Errorf("cached photo not used: %+v", candidates[0])
	}
}

func TestFindMatches_EmptyDescriptor(t *testing.T) {
	s := NewSearcher(simmock.NewIndex(), memory.NewPhotoStore(), nil, nil)
	_, err := s.FindMatches(context.Background(), "", 85, 10)
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
