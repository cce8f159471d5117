package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-finder/internal/audit"
	"github.com/kozaktomas/face-finder/internal/indexer"
	"github.com/kozaktomas/face-finder/internal/match"
	"github.com/kozaktomas/face-finder/internal/scheduler"
	"github.com/kozaktomas/face-finder/internal/similarity/mock"
	"github.com/kozaktomas/face-finder/internal/store/memory"
)

// testEnv wires the whole engine against in-memory backends.
type testEnv struct {
	index  *mock.Index
	faces  *memory.FaceStore
	photos *memory.PhotoStore

	faceIndexer  *indexer.FaceIndexer
	photoIndexer *indexer.PhotoIndexer
	scheduler    *scheduler.Scheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	index := mock.NewIndex()
	faces := memory.NewFaceStore()
	photos := memory.NewPhotoStore()

	searcher := match.NewSearcher(index, photos, nil, nil)
	reconciler := match.NewReconciler(faces, photos, nil, match.ReconcilerConfig{}, nil)
	auditor := audit.NewAuditor(faces, index, searcher, reconciler, audit.Config{
		SearchThreshold: 80,
		Threshold:       80,
		Gate:            audit.NewInflightGate(),
	}, nil)

	return &testEnv{
		index:        index,
		faces:        faces,
		photos:       photos,
		faceIndexer:  indexer.NewFaceIndexer(index, faces, nil),
		photoIndexer: indexer.NewPhotoIndexer(index, photos, searcher, reconciler, 80, 93, 200, nil),
		scheduler:    scheduler.New(auditor, nil),
	}
}

// testImageBase64 builds a small valid PNG, base64 encoded.
func testImageBase64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return bytes.NewReader(data)
}

// parseJSONResponse parses the recorded body into target.
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code.
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

var testCtx = context.Background()
