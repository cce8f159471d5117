// Package match turns raw similarity hits into typed candidates and
// reconciles them into the denormalized match lists on face and photo
// records. Reconciliation is idempotent: running it twice with the same
// candidate set leaves both stores in the same state.
package match

import (
	"errors"
	"time"

	"github.com/kozaktomas/face-finder/internal/store"
)

// ErrInvalidInput marks a request rejected before any I/O.
var ErrInvalidInput = errors.New("invalid input")

// Candidate is a classified similarity hit.
type Candidate struct {
	// TargetID is the photo id, user id, or raw label for unknown types.
	TargetID   string
	TargetType store.TargetType
	// DescriptorID is the matched descriptor in the index.
	DescriptorID string
	Similarity   float64 // 0-100
	// Label is the raw external label, kept for unknown-type passthrough.
	Label string

	// Resolved photo data, when TargetType is photo and the record still
	// exists. A vanished photo keeps the candidate with zero values here.
	OwnerUserID     string
	TargetCreatedAt time.Time
}

// ItemFailure is one per-item failure captured during a batch step.
type ItemFailure struct {
	TargetID string `json:"targetId"`
	Reason   string `json:"reason"`
}

// Report summarizes one reconciliation run.
type Report struct {
	UserID       string `json:"userId"`
	DescriptorID string `json:"descriptorId"`

	// MatchesFound is the candidate count after threshold filtering.
	MatchesFound int `json:"matchesFound"`
	// Added counts match entries newly written to the face record.
	Added int `json:"added"`
	// AlreadyPresent counts entries that were already recorded.
	AlreadyPresent int `json:"alreadyPresent"`
	// Skipped counts candidates dropped by threshold, cap, or vanished
	// records.
	Skipped int `json:"skipped"`
	// PhotosUpdated counts photo records whose matched_users gained this
	// user.
	PhotosUpdated int `json:"photosUpdated"`

	Failures []ItemFailure `json:"failures,omitempty"`
}
