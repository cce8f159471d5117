// Package local implements similarity.Index without an external index
// service: descriptors are extracted by a pluggable extractor, searched via
// an in-memory HNSW graph, and optionally persisted so the graph can be
// rebuilt on startup.
package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/hnsw"
	"github.com/google/uuid"

	"github.com/kozaktomas/face-finder/internal/similarity"
)

// hnswMaxNeighbors is the M parameter of the HNSW graph.
const hnswMaxNeighbors = 16

// StoredDescriptor is one persisted descriptor entry.
type StoredDescriptor struct {
	ID        string
	Label     string
	Embedding []float32
}

// DescriptorStore persists descriptors for graph rebuilds. Implementations
// must tolerate Save being called for an id that already exists.
type DescriptorStore interface {
	SaveDescriptor(ctx context.Context, d StoredDescriptor) error
	LoadDescriptors(ctx context.Context) ([]StoredDescriptor, error)
}

// Index is a self-hosted similarity index.
type Index struct {
	extractor Extractor
	persist   DescriptorStore // may be nil (memory-only)

	mu     sync.RWMutex
	graph  *hnsw.Graph[string]
	labels map[string]string // descriptorID -> external label
}

// NewIndex creates an empty local index. persist may be nil for a
// memory-only index.
func NewIndex(extractor Extractor, persist DescriptorStore) *Index {
	return &Index{
		extractor: extractor,
		persist:   persist,
		graph:     newGraph(),
		labels:    make(map[string]string),
	}
}

func newGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors) // Standard HNSW formula
	g.Distance = hnsw.CosineDistance
	return g
}

// Load rebuilds the graph from the descriptor store.
func (x *Index) Load(ctx context.Context) error {
	if x.persist == nil {
		return nil
	}
	descriptors, err := x.persist.LoadDescriptors(ctx)
	if err != nil {
		return fmt.Errorf("load descriptors: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.graph = newGraph()
	x.labels = make(map[string]string, len(descriptors))
	for _, d := range descriptors {
		if len(d.Embedding) == 0 {
			continue
		}
		x.graph.Add(hnsw.MakeNode(d.ID, d.Embedding))
		x.labels[d.ID] = d.Label
	}
	return nil
}

// Count returns the number of descriptors in the graph.
func (x *Index) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.labels)
}

// Register extracts a descriptor from the image and adds it to the graph.
func (x *Index) Register(ctx context.Context, image []byte, label string) (*similarity.Registration, error) {
	extraction, err := x.extractor.Extract(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("extract descriptor: %w", err)
	}
	switch {
	case extraction.FaceCount == 0:
		return nil, similarity.ErrNoFaceDetected
	case extraction.FaceCount > 1:
		return nil, similarity.ErrMultipleFaces
	}

	id := uuid.NewString()
	if x.persist != nil {
		d := StoredDescriptor{ID: id, Label: label, Embedding: extraction.Embedding}
		if err := x.persist.SaveDescriptor(ctx, d); err != nil {
			return nil, fmt.Errorf("persist descriptor: %w", err)
		}
	}

	x.mu.Lock()
	x.graph.Add(hnsw.MakeNode(id, extraction.Embedding))
	x.labels[id] = label
	x.mu.Unlock()

	return &similarity.Registration{DescriptorID: id, Attributes: extraction.Attributes}, nil
}

// Search finds descriptors similar to the given one. The queried descriptor
// itself comes back at similarity 100, as with any real index.
func (x *Index) Search(ctx context.Context, descriptorID string, threshold float64, maxResults int) ([]similarity.Hit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if _, ok := x.labels[descriptorID]; !ok {
		return nil, similarity.ErrDescriptorNotFound
	}
	vec, ok := x.graph.Lookup(descriptorID)
	if !ok {
		return nil, similarity.ErrDescriptorNotFound
	}

	neighbors := x.graph.Search(vec, maxResults)

	hits := make([]similarity.Hit, 0, len(neighbors))
	for _, n := range neighbors {
		sim := similarityPercent(vec, n.Value)
		if sim < threshold {
			continue
		}
		hits = append(hits, similarity.Hit{
			DescriptorID: n.Key,
			Similarity:   sim,
			Label:        x.labels[n.Key],
		})
	}
	return hits, nil
}

// Exists reports whether the descriptor is in the graph.
func (x *Index) Exists(ctx context.Context, descriptorID string) (bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.labels[descriptorID]
	return ok, nil
}

// similarityPercent maps cosine distance to the 0-100 similarity scale the
// rest of the system works in.
func similarityPercent(a, b []float32) float64 {
	d := float64(hnsw.CosineDistance(a, b))
	sim := (1 - d) * 100
	if sim < 0 {
		return 0
	}
	if sim > 100 {
		return 100
	}
	return sim
}

var _ similarity.Index = (*Index)(nil)
