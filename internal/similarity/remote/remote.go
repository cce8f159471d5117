// Package remote implements similarity.Index against a managed biometric
// index service over HTTP/JSON.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kozaktomas/face-finder/internal/similarity"
)

// Index is an HTTP client for a remote similarity index.
type Index struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
}

// NewIndex creates a client for the index service at baseURL.
func NewIndex(baseURL, apiKey string) (*Index, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid index URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid index URL %q", baseURL)
	}
	return &Index{
		baseURL:    parsed,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type registerRequest struct {
	Image string `json:"image"` // base64
	Label string `json:"label"`
}

type registerResponse struct {
	DescriptorID string          `json:"descriptorId"`
	Attributes   json.RawMessage `json:"attributes"`
}

type searchRequest struct {
	DescriptorID string  `json:"descriptorId"`
	Threshold    float64 `json:"threshold"`
	MaxResults   int     `json:"maxResults"`
}

type searchResponse struct {
	Hits []struct {
		DescriptorID string  `json:"descriptorId"`
		Similarity   float64 `json:"similarity"`
		Label        string  `json:"label"`
	} `json:"hits"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Register submits an image for descriptor extraction.
func (x *Index) Register(ctx context.Context, image []byte, label string) (*similarity.Registration, error) {
	body := registerRequest{Image: base64.StdEncoding.EncodeToString(image), Label: label}
	resp, err := doPostJSON[registerResponse](ctx, x, "v1/faces", body)
	if err != nil {
		return nil, err
	}
	return &similarity.Registration{DescriptorID: resp.DescriptorID, Attributes: resp.Attributes}, nil
}

// Search runs a similarity search for an already-registered descriptor.
func (x *Index) Search(ctx context.Context, descriptorID string, threshold float64, maxResults int) ([]similarity.Hit, error) {
	body := searchRequest{DescriptorID: descriptorID, Threshold: threshold, MaxResults: maxResults}
	resp, err := doPostJSON[searchResponse](ctx, x, "v1/search", body)
	if err != nil {
		return nil, err
	}
	hits := make([]similarity.Hit, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		hits = append(hits, similarity.Hit{DescriptorID: h.DescriptorID, Similarity: h.Similarity, Label: h.Label})
	}
	return hits, nil
}

// Exists checks descriptor membership.
func (x *Index) Exists(ctx context.Context, descriptorID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, x.resolveURL("v1/faces/"+url.PathEscape(descriptorID)), nil)
	if err != nil {
		return false, fmt.Errorf("could not create request: %w", err)
	}
	x.setHeaders(req, false)

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", similarity.ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("exists check failed with status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}
}

// doPostJSON performs a POST request with a JSON body and unmarshals the
// JSON response into the result type.
func doPostJSON[T any](ctx context.Context, x *Index, endpoint string, requestBody any) (*T, error) {
	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.resolveURL(endpoint), bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	x.setHeaders(req, true)

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", similarity.ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapStatusError(resp.StatusCode, resp.Body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read response body: %w", err)
	}

	var result T
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("could not unmarshal response: %w", err)
	}
	return &result, nil
}

// mapStatusError translates the service's error codes into the package's
// sentinel errors.
func mapStatusError(status int, body io.Reader) error {
	raw, _ := io.ReadAll(io.LimitReader(body, 4096))
	var e errorResponse
	_ = json.Unmarshal(raw, &e)

	switch {
	case status == http.StatusUnprocessableEntity && e.Error == "no_face":
		return similarity.ErrNoFaceDetected
	case status == http.StatusUnprocessableEntity && e.Error == "multiple_faces":
		return similarity.ErrMultipleFaces
	case status == http.StatusNotFound:
		return similarity.ErrDescriptorNotFound
	case status >= 500:
		return fmt.Errorf("%w: status %d: %s", similarity.ErrIndexUnavailable, status, strings.TrimSpace(string(raw)))
	default:
		return fmt.Errorf("request failed with status %d: %s", status, strings.TrimSpace(string(raw)))
	}
}

func (x *Index) resolveURL(endpoint string) string {
	return x.baseURL.String() + "/" + endpoint
}

func (x *Index) setHeaders(req *http.Request, jsonBody bool) {
	if x.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+x.apiKey)
	}
	if jsonBody {
		req.Header.Set("Content-Type", "application/json")
	}
}

func readErrorBody(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return "could not read error body"
	}
	return strings.TrimSpace(string(raw))
}

var _ similarity.Index = (*Index)(nil)
