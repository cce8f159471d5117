package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-finder/internal/indexer"
	"github.com/kozaktomas/face-finder/internal/similarity"
	"github.com/kozaktomas/face-finder/internal/store"
)

func facesRouter(env *testEnv) *chi.Mux {
	h := NewFacesHandler(env.faceIndexer, env.faces)
	r := chi.NewRouter()
	r.Post("/api/v1/faces", h.Register)
	r.Get("/api/v1/users/{id}/matches", h.GetMatches)
	return r
}

func TestRegister_Created(t *testing.T) {
	env := newTestEnv(t)
	router := facesRouter(env)

	body := jsonBody(t, registerRequest{UserID: "u1", Image: testImageBase64(t)})
	req := httptest.NewRequest("POST", "/api/v1/faces", body)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assertStatusCode(t, recorder, http.StatusCreated)

	var result indexer.Result
	parseJSONResponse(t, recorder, &result)
	if result.DescriptorID == "" {
		t.Fatal("expected a descriptor id")
	}

	if _, err := env.faces.GetFace(testCtx, "u1", result.DescriptorID); err != nil {
		t.Errorf("face record should exist: %v", err)
	}
}

func TestRegister_BadRequests(t *testing.T) {
	env := newTestEnv(t)
	router := facesRouter(env)

	cases := []struct {
		name string
		body string
	}{
		{"not json", "nope"},
		{"not base64", `{"userId":"u1","image":"%%%"}`},
		{"missing user", `{"userId":"","image":""}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/faces", strings.NewReader(tc.body))
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, req)
			assertStatusCode(t, recorder, http.StatusBadRequest)
		})
	}
}

func TestRegister_NoFaceDetected(t *testing.T) {
	env := newTestEnv(t)
	env.index.RegisterError = similarity.ErrNoFaceDetected
	router := facesRouter(env)

	body := jsonBody(t, registerRequest{UserID: "u1", Image: testImageBase64(t)})
	req := httptest.NewRequest("POST", "/api/v1/faces", body)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assertStatusCode(t, recorder, http.StatusUnprocessableEntity)
}

func TestGetMatches_ReturnsAuthoritativeRecord(t *testing.T) {
	env := newTestEnv(t)
	router := facesRouter(env)

	if err := env.faces.PutFace(testCtx, &store.FaceRecord{
		UserID:       "u1",
		DescriptorID: "d1",
		Status:       store.StatusActive,
		HistoricalMatches: []store.MatchEntry{
			{TargetID: "photoA", TargetType: store.TargetPhoto, Similarity: 96},
		},
	}); err != nil {
		t.Fatalf("PutFace: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/users/u1/matches", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assertStatusCode(t, recorder, http.StatusOK)

	var resp matchesResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.DescriptorID != "d1" || len(resp.Matches) != 1 || resp.Matches[0].TargetID != "photoA" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestGetMatches_UnknownUser(t *testing.T) {
	env := newTestEnv(t)
	router := facesRouter(env)

	req := httptest.NewRequest("GET", "/api/v1/users/ghost/matches", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
}
