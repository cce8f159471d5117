// Package mock provides a scripted similarity index for tests.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kozaktomas/face-finder/internal/similarity"
)

// Index is a mock implementation of similarity.Index.
type Index struct {
	mu          sync.Mutex
	descriptors map[string]string // descriptorID -> label
	nextID      int

	// Hits is returned from Search after threshold and maxResults are
	// applied, in the order given.
	Hits []similarity.Hit

	// Error injection
	RegisterError error
	SearchError   error
	ExistsError   error

	// RegisterAttributes is returned from Register when set.
	RegisterAttributes json.RawMessage

	// Calls
	SearchCalls   int
	RegisterCalls int
}

// NewIndex creates an empty mock index.
func NewIndex() *Index {
	return &Index{descriptors: make(map[string]string)}
}

// AddDescriptor pre-registers a descriptor id with a label.
func (m *Index) AddDescriptor(descriptorID, label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.descriptors[descriptorID] = label
}

// Register assigns a sequential descriptor id.
func (m *Index) Register(ctx context.Context, image []byte, label string) (*similarity.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RegisterCalls++
	if m.RegisterError != nil {
		return nil, m.RegisterError
	}
	m.nextID++
	id := fmt.Sprintf("desc-%d", m.nextID)
	m.descriptors[id] = label
	attrs := m.RegisterAttributes
	if attrs == nil {
		attrs = json.RawMessage(`{}`)
	}
	return &similarity.Registration{DescriptorID: id, Attributes: attrs}, nil
}

// Search returns the scripted hits at or above the threshold, capped at
// maxResults, preceded by the self hit the way a real index behaves.
func (m *Index) Search(ctx context.Context, descriptorID string, threshold float64, maxResults int) ([]similarity.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SearchCalls++
	if m.SearchError != nil {
		return nil, m.SearchError
	}
	if _, ok := m.descriptors[descriptorID]; !ok {
		return nil, similarity.ErrDescriptorNotFound
	}

	results := []similarity.Hit{{
		DescriptorID: descriptorID,
		Similarity:   100,
		Label:        m.descriptors[descriptorID],
	}}
	for _, hit := range m.Hits {
		if hit.Similarity >= threshold && len(results) < maxResults {
			results = append(results, hit)
		}
	}
	return results, nil
}

// Exists reports whether the descriptor was registered or added.
func (m *Index) Exists(ctx context.Context, descriptorID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ExistsError != nil {
		return false, m.ExistsError
	}
	_, ok := m.descriptors[descriptorID]
	return ok, nil
}
