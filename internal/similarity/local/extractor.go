package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kozaktomas/face-finder/internal/similarity"
)

// Extraction is the output of the descriptor extractor for one image.
type Extraction struct {
	// FaceCount is the number of faces detected in the image.
	FaceCount int `json:"faceCount"`
	// Embedding is the descriptor vector for the detected face. Only valid
	// when FaceCount == 1.
	Embedding []float32 `json:"embedding"`
	// Attributes is an opaque description of the detected face.
	Attributes json.RawMessage `json:"attributes"`
}

// Extractor turns a face image into a descriptor vector. The extraction
// model itself is a black box behind this interface.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (*Extraction, error)
}

// HTTPExtractor calls a descriptor extraction service over HTTP. The service
// accepts raw image bytes and responds with an Extraction JSON document.
type HTTPExtractor struct {
	url        string
	httpClient *http.Client
}

// NewHTTPExtractor creates an extractor client for the given base URL.
func NewHTTPExtractor(url string) *HTTPExtractor {
	return &HTTPExtractor{
		url:        strings.TrimRight(url, "/") + "/extract",
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Extract submits the image and decodes the extraction result.
func (e *HTTPExtractor) Extract(ctx context.Context, image []byte) (*Extraction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", similarity.ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("extractor failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result Extraction
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("could not unmarshal extraction: %w", err)
	}
	return &result, nil
}
