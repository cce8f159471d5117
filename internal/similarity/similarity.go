// Package similarity defines the external biometric index capability. The
// index owns descriptor extraction and similarity search; everything behind
// Register is a black box to the rest of the system.
package similarity

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNoFaceDetected means the submitted image contains no detectable
	// face. Terminal: nothing was registered.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrMultipleFaces means the submitted image contains more than one
	// face. Terminal: nothing was registered.
	ErrMultipleFaces = errors.New("multiple faces detected")
	// ErrIndexUnavailable means the index cannot be reached. Always
	// propagated; an unreachable index must never look like zero matches.
	ErrIndexUnavailable = errors.New("similarity index unavailable")
	// ErrDescriptorNotFound means the referenced descriptor is not in the
	// index.
	ErrDescriptorNotFound = errors.New("descriptor not found")
)

// Registration is the result of registering a face image.
type Registration struct {
	DescriptorID string
	// Attributes is the index's opaque description of the detected face.
	Attributes json.RawMessage
}

// Hit is one raw similarity search result. Label carries the external label
// the descriptor was registered with; classification happens at the search
// boundary, not here.
type Hit struct {
	DescriptorID string
	Similarity   float64 // 0-100
	Label        string
}

// Index is the consumed similarity index capability.
type Index interface {
	// Register extracts a descriptor from an image containing exactly one
	// face and stores it under the given external label.
	Register(ctx context.Context, image []byte, label string) (*Registration, error)
	// Search returns descriptors similar to the given one, at or above the
	// threshold (percent), ranked by similarity. The queried descriptor
	// itself appears in the results at similarity 100.
	Search(ctx context.Context, descriptorID string, threshold float64, maxResults int) ([]Hit, error)
	// Exists reports whether the descriptor is still present in the index.
	Exists(ctx context.Context, descriptorID string) (bool, error)
}
