package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-finder/internal/similarity"
)

func newTestIndex(t *testing.T, server *httptest.Server) *Index {
	t.Helper()
	x, err := NewIndex(server.URL, "test-key")
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return x
}

func TestRegister(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/faces" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["label"] != "user-u1" {
			t.Errorf("unexpected label %q", req["label"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"descriptorId": "d-123",
			"attributes":   map[string]any{"glasses": true},
		})
	}))
	defer server.Close()

	x := newTestIndex(t, server)
	reg, err := x.Register(context.Background(), []byte("img"), "user-u1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.DescriptorID != "d-123" {
		t.Errorf("unexpected descriptor id %q", reg.DescriptorID)
	}
	if len(reg.Attributes) == 0 {
		t.Error("attributes not passed through")
	}
}

func TestRegisterFaceErrors(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr error
	}{
		{"no face", "no_face", similarity.ErrNoFaceDetected},
		{"multiple faces", "multiple_faces", similarity.ErrMultipleFaces},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnprocessableEntity)
				json.NewEncoder(w).Encode(map[string]string{"error": tt.code})
			}))
			defer server.Close()

			x := newTestIndex(t, server)
			_, err := x.Register(context.Background(), []byte("img"), "user-u1")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSearchUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	x := newTestIndex(t, server)
	_, err := x.Search(context.Background(), "d1", 80, 10)
	if !errors.Is(err, similarity.ErrIndexUnavailable) {
		t.Errorf("expected ErrIndexUnavailable, got %v", err)
	}
}

func TestSearchConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listening anymore

	x := newTestIndex(t, server)
	_, err := x.Search(context.Background(), "d1", 80, 10)
	if !errors.Is(err, similarity.ErrIndexUnavailable) {
		t.Errorf("expected ErrIndexUnavailable, got %v", err)
	}
}

func TestExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/faces/known" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	x := newTestIndex(t, server)
	ok, err := x.Exists(context.Background(), "known")
	if err != nil || !ok {
		t.Errorf("expected known descriptor, got ok=%v err=%v", ok, err)
	}
	ok, err = x.Exists(context.Background(), "unknown")
	if err != nil || ok {
		t.Errorf("expected missing descriptor, got ok=%v err=%v", ok, err)
	}
}

func TestSearchDescriptorNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "not_found"})
	}))
	defer server.Close()

	x := newTestIndex(t, server)
	_, err := x.Search(context.Background(), "gone", 80, 10)
	if !errors.Is(err, similarity.ErrDescriptorNotFound) {
		t.Errorf("expected ErrDescriptorNotFound, got %v", err)
	}
}
