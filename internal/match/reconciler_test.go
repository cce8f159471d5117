package match

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/kozaktomas/face-finder/internal/store"
	"github.com/kozaktomas/face-finder/internal/store/memory"
)

func newTestStores(t *testing.T) (*memory.FaceStore, *memory.PhotoStore) {
	t.Helper()
	faces := memory.NewFaceStore()
	photos := memory.NewPhotoStore()
	if err := faces.PutFace(context.Background(), &store.FaceRecord{UserID: "u1", DescriptorID: "d1"}); err != nil {
		t.Fatalf("PutFace: %v", err)
	}
	return faces, photos
}

func photoCandidate(photoID string, similarity float64) Candidate {
	return Candidate{
		TargetID:     photoID,
		TargetType:   store.TargetPhoto,
		DescriptorID: "desc-" + photoID,
		Similarity:   similarity,
	}
}

func TestReconcile_BasicPhotoMatch(t *testing.T) {
	faces, photos := newTestStores(t)
	ctx := context.Background()
	photos.PutPhoto(ctx, &store.PhotoRecord{ID: "photoA", OwnerUserID: "owner"})

	r := NewReconciler(faces, photos, nil, ReconcilerConfig{}, nil)
	report, err := r.Reconcile(ctx, "u1", "d1", 85, []Candidate{photoCandidate("photoA", 96)})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if report.Added != 1 || report.PhotosUpdated != 1 {
		t.Errorf("unexpected report: %+v", report)
	}

	rec, err := faces.GetFace(ctx, "u1", "d1")
	if err != nil {
		t.Fatalf("GetFace: %v", err)
	}
	if len(rec.HistoricalMatches) != 1 || rec.HistoricalMatches[0].TargetID != "photoA" || rec.HistoricalMatches[0].Similarity != 96 {
		t.Errorf("unexpected historical matches: %+v", rec.HistoricalMatches)
	}

	photo, err := photos.GetPhoto(ctx, "photoA")
	if err != nil {
		t.Fatalf("GetPhoto: %v", err)
	}
	if !photo.HasMatchedUser("u1") {
		t.Errorf("photoA should list u1: %+v", photo.MatchedUsers)
	}
}

func TestReconcile_Idempotence(t *testing.T) {
	faces, photos := newTestStores(t)
	ctx := context.Background()
	photos.PutPhoto(ctx, &store.PhotoRecord{ID: "photoA", OwnerUserID: "owner"})
	photos.PutPhoto(ctx, &store.PhotoRecord{ID: "photoB", OwnerUserID: "owner"})

	candidates := []Candidate{
		photoCandidate("photoA", 96),
		photoCandidate("photoB", 88),
		{TargetID: "u2", TargetType: store.TargetUser, DescriptorID: "d2", Similarity: 91},
	}

	r := NewReconciler(faces, photos, nil, ReconcilerConfig{}, nil)
	if _, err := r.Reconcile(ctx, "u1", "d1", 85, candidates); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	firstFace, _ := faces.GetFace(ctx, "u1", "d1")
	firstPhoto, _ := photos.GetPhoto(ctx, "photoA")

	report, err := r.Reconcile(ctx, "u1", "d1", 85, candidates)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if report.Added != 0 || report.AlreadyPresent != 3 {
		t.Errorf("second run must add nothing: %+v", report)
	}

	secondFace, _ := faces.GetFace(ctx, "u1", "d1")
	if len(secondFace.HistoricalMatches) != len(firstFace.HistoricalMatches) {
		t.Errorf("historical matches changed between runs: %d vs %d",
			len(firstFace.HistoricalMatches), len(secondFace.HistoricalMatches))
	}
	for i := range secondFace.HistoricalMatches {
		if secondFace.HistoricalMatches[i].TargetID != firstFace.HistoricalMatches[i].TargetID ||
			secondFace.HistoricalMatches[i].Similarity != firstFace.HistoricalMatches[i].Similarity {
			t.Errorf("entry %d differs between runs", i)
		}
	}

	secondPhoto, _ := photos.GetPhoto(ctx, "photoA")
	if len(secondPhoto.MatchedUsers) != len(firstPhoto.MatchedUsers) {
		t.Errorf("matched_users grew on second run: %d vs %d",
			len(firstPhoto.MatchedUsers), len(secondPhoto.MatchedUsers))
	}
}

func TestReconcile_CapKeepsTopSimilarity(t *testing.T) {
	faces, photos := newTestStores(t)
	ctx := context.Background()

	// 200 candidates; only the 150 highest similarities may survive.
	var candidates []Candidate
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("p%03d", i)
		photos.PutPhoto(ctx, &store.PhotoRecord{ID: id})
		candidates = append(candidates, photoCandidate(id, 99.0-float64(i)*0.05))
	}

	r := NewReconciler(faces, photos, nil, ReconcilerConfig{Cap: 150}, nil)
	for run := 0; run < 2; run++ {
		if _, err := r.Reconcile(ctx, "u1", "d1", 80, candidates); err != nil {
			t.Fatalf("Reconcile run %d: %v", run, err)
		}
		rec, _ := faces.GetFace(ctx, "u1", "d1")
		if len(rec.HistoricalMatches) != 150 {
			t.Fatalf("run %d: expected exactly 150 matches, got %d", run, len(rec.HistoricalMatches))
		}
		// Kept entries are exactly the highest 150, sorted descending.
		for i := 0; i < len(rec.HistoricalMatches); i++ {
			if rec.HistoricalMatches[i].TargetID != fmt.Sprintf("p%03d", i) {
				t.Fatalf("run %d: position %d holds %s, want p%03d",
					run, i, rec.HistoricalMatches[i].TargetID, i)
			}
			if i > 0 && rec.HistoricalMatches[i].Similarity > rec.HistoricalMatches[i-1].Similarity {
				t.Fatalf("run %d: matches not sorted descending at %d", run, i)
			}
		}
	}
}

func TestReconcile_ThresholdRefilter(t *testing.T) {
	faces, photos := newTestStores(t)
	ctx := context.Background()
	photos.PutPhoto(ctx, &store.PhotoRecord{ID: "high"})
	photos.PutPhoto(ctx, &store.PhotoRecord{ID: "low"})

	// Search ran at 80; this reconciliation requires 93.
	candidates := []Candidate{
		photoCandidate("high", 95),
		photoCandidate("low", 85),
	}

	r := NewReconciler(faces, photos, nil, ReconcilerConfig{}, nil)
	report, err := r.Reconcile(ctx, "u1", "d1", 93, candidates)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.Added != 1 || report.Skipped != 1 {
		t.Errorf("unexpected report: %+v", report)
	}

	rec, _ := faces.GetFace(ctx, "u1", "d1")
	for _, entry := range rec.HistoricalMatches {
		if entry.Similarity < 93 {
			t.Errorf("entry below write-time threshold persisted: %+v", entry)
		}
	}
}

func TestReconcile_SelfMatchNeverWritten(t *testing.T) {
	faces, photos := newTestStores(t)
	ctx := context.Background()

	// Defensive: a self hit that slipped past the searcher.
	candidates := []Candidate{
		{TargetID: "u1", TargetType: store.TargetUser, DescriptorID: "d1", Similarity: 100},
	}

	r := NewReconciler(faces, photos, nil, ReconcilerConfig{}, nil)
	if _, err := r.Reconcile(ctx, "u1", "d1", 85, candidates); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	rec, _ := faces.GetFace(ctx, "u1", "d1")
	if len(rec.HistoricalMatches) != 0 {
		t.Errorf("self match reconciled into output: %+v", rec.HistoricalMatches)
	}
}

func TestReconcile_LegacyStringMembershipNotDuplicated(t *testing.T) {
	faces, photos := newTestStores(t)
	ctx := context.Background()

	rec := &store.PhotoRecord{ID: "photoA"}
	if err := json.Unmarshal([]byte(`["u1"]`), &rec.MatchedUsers); err != nil {
		t.Fatalf("seed legacy list: %v", err)
	}
	photos.PutPhoto(ctx, rec)

	r := NewReconciler(faces, photos, nil, ReconcilerConfig{}, nil)
	report, err := r.Reconcile(ctx, "u1", "d1", 85, []Candidate{photoCandidate("photoA", 96)})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.PhotosUpdated != 0 {
		t.Errorf("legacy membership must count as present: %+v", report)
	}

	photo, _ := photos.GetPhoto(ctx, "photoA")
	count := 0
	for _, m := range photo.MatchedUsers {
		if m.UserID == "u1" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("u1 appears %d times in matched_users, want 1", count)
	}
}

func TestReconcile_VanishedPhotoSkippedOthersContinue(t *testing.T) {
	faces, photos := newTestStores(t)
	ctx := context.Background()
	photos.PutPhoto(ctx, &store.PhotoRecord{ID: "exists"})

	candidates := []Candidate{
		photoCandidate("gone", 97),
		photoCandidate("exists", 90),
	}

	r := NewReconciler(faces, photos, nil, ReconcilerConfig{}, nil)
	report, err := r.Reconcile(ctx, "u1", "d1", 85, candidates)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.PhotosUpdated != 1 {
		t.Errorf("surviving photo must still be updated: %+v", report)
	}
	if report.Skipped != 1 {
		t.Errorf("vanished photo should be skipped, not failed: %+v", report)
	}

	photo, _ := photos.GetPhoto(ctx, "exists")
	if !photo.HasMatchedUser("u1") {
		t.Error("existing photo missed its update")
	}
}

func TestReconcile_WriteConflictRetriedOnce(t *testing.T) {
	faces, photos := newTestStores(t)
	ctx := context.Background()
	photos.PutPhoto(ctx, &store.PhotoRecord{ID: "photoA"})

	photos.ConflictsBeforeSuccess = 1
	r := NewReconciler(faces, photos, nil, ReconcilerConfig{}, nil)
	report, err := r.Reconcile(ctx, "u1", "d1", 85, []Candidate{photoCandidate("photoA", 96)})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if report.PhotosUpdated != 1 || len(report.Failures) != 0 {
		t.Errorf("single conflict must be retried into success: %+v", report)
	}

	// Two conflicts exhaust the retry budget and become a reported failure.
	photos2 := memory.NewPhotoStore()
	photos2.PutPhoto(ctx, &store.PhotoRecord{ID: "photoA"})
	photos2.ConflictsBeforeSuccess = 2
	r2 := NewReconciler(faces, photos2, nil, ReconcilerConfig{}, nil)
	report2, err := r2.Reconcile(ctx, "u1", "d1", 85, []Candidate{photoCandidate("photoA", 96)})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(report2.Failures) != 1 || report2.PhotosUpdated != 0 {
		t.Errorf("exhausted retries must be reported: %+v", report2)
	}
}

func TestReconcile_SizeLimitTruncatesInsteadOfFailing(t *testing.T) {
	faces, photos := newTestStores(t)
	faces.MaxItemBytes = 2048 // small ceiling to force truncation
	ctx := context.Background()

	var candidates []Candidate
	for i := 0; i < 100; i++ {
		candidates = append(candidates, photoCandidate(fmt.Sprintf("p%03d", i), 99-float64(i)*0.1))
	}

	r := NewReconciler(faces, photos, nil, ReconcilerConfig{}, nil)
	if _, err := r.Reconcile(ctx, "u1", "d1", 80, candidates); err != nil {
		t.Fatalf("size limit must be absorbed by truncation: %v", err)
	}

	rec, _ := faces.GetFace(ctx, "u1", "d1")
	if len(rec.HistoricalMatches) == 0 || len(rec.HistoricalMatches) >= 100 {
		t.Errorf("expected a truncated non-empty list, got %d entries", len(rec.HistoricalMatches))
	}
	// The kept entries are the highest similarities.
	if rec.HistoricalMatches[0].TargetID != "p000" {
		t.Errorf("truncation dropped the best match: %+v", rec.HistoricalMatches[0])
	}
}

func TestReconcile_NoSimilarityRegression(t *testing.T) {
	faces, photos := newTestStores(t)
	ctx := context.Background()
	photos.PutPhoto(ctx, &store.PhotoRecord{ID: "photoA"})

	r := NewReconciler(faces, photos, nil, ReconcilerConfig{}, nil)
	if _, err := r.Reconcile(ctx, "u1", "d1", 85, []Candidate{photoCandidate("photoA", 96)}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	// Same photo comes back with a lower score; the entry must keep 96.
	if _, err := r.Reconcile(ctx, "u1", "d1", 85, []Candidate{photoCandidate("photoA", 88)}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	rec, _ := faces.GetFace(ctx, "u1", "d1")
	if len(rec.HistoricalMatches) != 1 || rec.HistoricalMatches[0].Similarity != 96 {
		t.Errorf("similarity regressed: %+v", rec.HistoricalMatches)
	}
}

func TestReconcile_ValidationBeforeIO(t *testing.T) {
	faces, photos := newTestStores(t)
	faces.GetError = fmt.Errorf("must not be called")

	r := NewReconciler(faces, photos, nil, ReconcilerConfig{}, nil)
	if _, err := r.Reconcile(context.Background(), "", "d1", 85, nil); err == nil {
		t.Error("missing user id must be rejected")
	}
	if _, err := r.Reconcile(context.Background(), "u1", "", 85, nil); err == nil {
		t.Error("missing descriptor id must be rejected")
	}
}

func TestReconcile_FaceRecordWrittenBeforePhotos(t *testing.T) {
	faces, photos := newTestStores(t)
	ctx := context.Background()
	photos.PutPhoto(ctx, &store.PhotoRecord{ID: "photoA"})
	// Photo store rejects everything; the face record must still be written.
	photos.UpdateError = fmt.Errorf("photo store down")

	r := NewReconciler(faces, photos, nil, ReconcilerConfig{}, nil)
	report, err := r.Reconcile(ctx, "u1", "d1", 85, []Candidate{photoCandidate("photoA", 96)})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(report.Failures) != 1 {
		t.Errorf("photo failure must be captured: %+v", report)
	}

	rec, _ := faces.GetFace(ctx, "u1", "d1")
	if len(rec.HistoricalMatches) != 1 {
		t.Error("face record must be complete even when photo writes fail")
	}
}

func TestReconcile_ThresholdInvariantAfterMerge(t *testing.T) {
	faces, photos := newTestStores(t)
	ctx := context.Background()

	// Pre-existing entry from an earlier, looser operation.
	seed := []store.MatchEntry{{TargetID: "old", TargetType: store.TargetPhoto, Similarity: 82, MatchedAt: time.Now()}}
	if err := faces.UpdateMatches(ctx, "u1", "d1", seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := NewReconciler(faces, photos, nil, ReconcilerConfig{}, nil)
	if _, err := r.Reconcile(ctx, "u1", "d1", 93, nil); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	// Entries written by earlier operations at their own thresholds stay.
	rec, _ := faces.GetFace(ctx, "u1", "d1")
	if len(rec.HistoricalMatches) != 1 {
		t.Errorf("existing entries must not be purged by a stricter run: %+v", rec.HistoricalMatches)
	}
}
