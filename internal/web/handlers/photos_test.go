package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-finder/internal/indexer"
	"github.com/kozaktomas/face-finder/internal/similarity"
	"github.com/kozaktomas/face-finder/internal/store"
)

func photosRouter(env *testEnv) *chi.Mux {
	h := NewPhotosHandler(env.photoIndexer)
	r := chi.NewRouter()
	r.Post("/api/v1/photos/{id}/match", h.Match)
	return r
}

func TestMatchPhoto_ReconcilesUsers(t *testing.T) {
	env := newTestEnv(t)
	router := photosRouter(env)

	env.index.AddDescriptor("du1", store.UserLabel("u1"))
	if err := env.faces.PutFace(testCtx, &store.FaceRecord{UserID: "u1", DescriptorID: "du1", Status: store.StatusActive}); err != nil {
		t.Fatalf("PutFace: %v", err)
	}
	env.index.Hits = []similarity.Hit{
		{DescriptorID: "du1", Similarity: 95, Label: store.UserLabel("u1")},
	}

	body := jsonBody(t, matchPhotoRequest{OwnerUserID: "owner", Image: testImageBase64(t)})
	req := httptest.NewRequest("POST", "/api/v1/photos/photo1/match", body)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var report indexer.PhotoReport
	parseJSONResponse(t, recorder, &report)
	if report.UsersMatched != 1 || report.UsersReconciled != 1 {
		t.Errorf("unexpected report: %+v", report)
	}

	photo, err := env.photos.GetPhoto(testCtx, "photo1")
	if err != nil {
		t.Fatalf("GetPhoto: %v", err)
	}
	if !photo.HasMatchedUser("u1") {
		t.Errorf("photo1 should list u1: %+v", photo.MatchedUsers)
	}
}

func TestMatchPhoto_IndexUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.index.RegisterError = similarity.ErrIndexUnavailable
	router := photosRouter(env)

	body := jsonBody(t, matchPhotoRequest{Image: testImageBase64(t)})
	req := httptest.NewRequest("POST", "/api/v1/photos/photo1/match", body)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assertStatusCode(t, recorder, http.StatusServiceUnavailable)
}
