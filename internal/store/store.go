// Package store defines the record stores holding the denormalized match
// state: face records (one per user registration) and photo records. Both
// are key-addressed documents with single-item atomic writes; there are no
// cross-item transactions, which is why all reconciliation logic must
// produce a correct result from one write per item.
package store

import "context"

// MaxItemBytes is the serialized size ceiling for a single record's match
// list. Items over the limit are rejected with ErrSizeLimit; callers react
// by truncating, never by failing the operation.
const MaxItemBytes = 64 * 1024

// FaceStore provides access to face records keyed by (userId, descriptorId).
type FaceStore interface {
	// GetFace retrieves a face record, or ErrNotFound.
	GetFace(ctx context.Context, userID, descriptorID string) (*FaceRecord, error)
	// PutFace creates a new face record. Never overwrites silently: prior
	// registrations stay as separate rows.
	PutFace(ctx context.Context, rec *FaceRecord) error
	// UpdateMatches replaces the historical match list of a face record.
	// Last writer wins; concurrent reconciliations for the same user are
	// serialized by the scheduler, not here. Returns ErrSizeLimit when the
	// serialized list exceeds MaxItemBytes.
	UpdateMatches(ctx context.Context, userID, descriptorID string, matches []MatchEntry) error
	// SetFaceStatus marks a record active or stale.
	SetFaceStatus(ctx context.Context, userID, descriptorID string, status FaceStatus) error
	// FacesByUser returns all face records for a user, newest first.
	FacesByUser(ctx context.Context, userID string) ([]FaceRecord, error)
	// ScanFaces pages through all face records. Pass an empty token to
	// start; a returned empty token means the scan is exhausted. Tokens are
	// opaque and must be followed until exhaustion to visit every record.
	ScanFaces(ctx context.Context, token string, pageSize int) ([]FaceRecord, string, error)
}

// PhotoStore provides access to photo records keyed by photo id.
type PhotoStore interface {
	// GetPhoto retrieves a photo record, or ErrNotFound.
	GetPhoto(ctx context.Context, photoID string) (*PhotoRecord, error)
	// PutPhoto creates or replaces a photo record.
	PutPhoto(ctx context.Context, rec *PhotoRecord) error
	// UpdateMatchedUsers replaces the matched_users list of a photo,
	// guarded by the revision read with the record. A mismatch returns
	// ErrWriteConflict; ErrSizeLimit applies as for face records.
	UpdateMatchedUsers(ctx context.Context, photoID string, users []MatchedUser, expectedRevision int64) error
}
