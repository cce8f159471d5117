// Package memory provides in-memory implementations of the record store
// interfaces. Used as the test double (with error injection) and as the
// development backend when no database is configured.
package memory

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/face-finder/internal/store"
)

type faceKey struct {
	userID       string
	descriptorID string
}

// FaceStore is an in-memory store.FaceStore.
type FaceStore struct {
	mu    sync.RWMutex
	faces map[faceKey]*store.FaceRecord

	// Error injection
	GetError    error
	PutError    error
	UpdateError error
	ScanError   error

	// MaxItemBytes overrides store.MaxItemBytes when > 0, so size limit
	// behavior can be tested without megabyte fixtures.
	MaxItemBytes int
}

// NewFaceStore creates an empty in-memory face store.
func NewFaceStore() *FaceStore {
	return &FaceStore{faces: make(map[faceKey]*store.FaceRecord)}
}

func (s *FaceStore) sizeLimit() int {
	if s.MaxItemBytes > 0 {
		return s.MaxItemBytes
	}
	return store.MaxItemBytes
}

// GetFace retrieves a face record by key.
func (s *FaceStore) GetFace(ctx context.Context, userID, descriptorID string) (*store.FaceRecord, error) {
	if s.GetError != nil {
		return nil, s.GetError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.faces[faceKey{userID, descriptorID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := cloneFace(rec)
	return &cp, nil
}

// PutFace creates a new face record.
func (s *FaceStore) PutFace(ctx context.Context, rec *store.FaceRecord) error {
	if s.PutError != nil {
		return s.PutError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneFace(rec)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.faces[faceKey{rec.UserID, rec.DescriptorID}] = &cp
	return nil
}

// UpdateMatches replaces the historical match list of a record.
func (s *FaceStore) UpdateMatches(ctx context.Context, userID, descriptorID string, matches []store.MatchEntry) error {
	if s.UpdateError != nil {
		return s.UpdateError
	}
	encoded, err := json.Marshal(matches)
	if err != nil {
		return fmt.Errorf("encode matches: %w", err)
	}
	if len(encoded) > s.sizeLimit() {
		return store.ErrSizeLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.faces[faceKey{userID, descriptorID}]
	if !ok {
		return store.ErrNotFound
	}
	rec.HistoricalMatches = append([]store.MatchEntry(nil), matches...)
	rec.UpdatedAt = time.Now()
	return nil
}

// SetFaceStatus marks a record active or stale.
func (s *FaceStore) SetFaceStatus(ctx context.Context, userID, descriptorID string, status store.FaceStatus) error {
	if s.UpdateError != nil {
		return s.UpdateError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.faces[faceKey{userID, descriptorID}]
	if !ok {
		return store.ErrNotFound
	}
	rec.Status = status
	rec.UpdatedAt = time.Now()
	return nil
}

// FacesByUser returns all records for a user, newest first.
func (s *FaceStore) FacesByUser(ctx context.Context, userID string) ([]store.FaceRecord, error) {
	if s.GetError != nil {
		return nil, s.GetError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.FaceRecord
	for key, rec := range s.faces {
		if key.userID == userID {
			out = append(out, cloneFace(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ScanFaces pages through all records in key order.
func (s *FaceStore) ScanFaces(ctx context.Context, token string, pageSize int) ([]store.FaceRecord, string, error) {
	if s.ScanError != nil {
		return nil, "", s.ScanError
	}
	after, err := decodeToken(token)
	if err != nil {
		return nil, "", err
	}

	s.mu.RLock()
	keys := make([]faceKey, 0, len(s.faces))
	for key := range s.faces {
		keys = append(keys, key)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].userID != keys[j].userID {
			return keys[i].userID < keys[j].userID
		}
		return keys[i].descriptorID < keys[j].descriptorID
	})

	var page []store.FaceRecord
	var last faceKey
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range keys {
		if after != nil && !keyAfter(key, *after) {
			continue
		}
		page = append(page, cloneFace(s.faces[key]))
		last = key
		if len(page) == pageSize {
			return page, encodeToken(last), nil
		}
	}
	return page, "", nil
}

func keyAfter(key, after faceKey) bool {
	if key.userID != after.userID {
		return key.userID > after.userID
	}
	return key.descriptorID > after.descriptorID
}

func encodeToken(key faceKey) string {
	return base64.StdEncoding.EncodeToString([]byte(key.userID + "\x00" + key.descriptorID))
}

func decodeToken(token string) (*faceKey, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid continuation token: %w", err)
	}
	parts := strings.SplitN(string(raw), "\x00", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid continuation token")
	}
	return &faceKey{userID: parts[0], descriptorID: parts[1]}, nil
}

func cloneFace(rec *store.FaceRecord) store.FaceRecord {
	cp := *rec
	cp.HistoricalMatches = append([]store.MatchEntry(nil), rec.HistoricalMatches...)
	cp.Attributes = append(json.RawMessage(nil), rec.Attributes...)
	return cp
}

// PhotoStore is an in-memory store.PhotoStore.
type PhotoStore struct {
	mu     sync.RWMutex
	photos map[string]*store.PhotoRecord

	// Error injection
	GetError    error
	PutError    error
	UpdateError error

	// ConflictsBeforeSuccess makes the next N guarded updates fail with
	// ErrWriteConflict regardless of revision, to exercise retry paths.
	ConflictsBeforeSuccess int

	MaxItemBytes int
}

// NewPhotoStore creates an empty in-memory photo store.
func NewPhotoStore() *PhotoStore {
	return &PhotoStore{photos: make(map[string]*store.PhotoRecord)}
}

func (s *PhotoStore) sizeLimit() int {
	if s.MaxItemBytes > 0 {
		return s.MaxItemBytes
	}
	return store.MaxItemBytes
}

// GetPhoto retrieves a photo record by id.
func (s *PhotoStore) GetPhoto(ctx context.Context, photoID string) (*store.PhotoRecord, error) {
	if s.GetError != nil {
		return nil, s.GetError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.photos[photoID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := clonePhoto(rec)
	return &cp, nil
}

// PutPhoto creates or replaces a photo record.
func (s *PhotoStore) PutPhoto(ctx context.Context, rec *store.PhotoRecord) error {
	if s.PutError != nil {
		return s.PutError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := clonePhoto(rec)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.photos[rec.ID] = &cp
	return nil
}

// UpdateMatchedUsers replaces matched_users, guarded by revision.
func (s *PhotoStore) UpdateMatchedUsers(ctx context.Context, photoID string, users []store.MatchedUser, expectedRevision int64) error {
	if s.UpdateError != nil {
		return s.UpdateError
	}
	encoded, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("encode matched users: %w", err)
	}
	if len(encoded) > s.sizeLimit() {
		return store.ErrSizeLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ConflictsBeforeSuccess > 0 {
		s.ConflictsBeforeSuccess--
		return store.ErrWriteConflict
	}
	rec, ok := s.photos[photoID]
	if !ok {
		return store.ErrNotFound
	}
	if rec.Revision != expectedRevision {
		return store.ErrWriteConflict
	}
	rec.MatchedUsers = append([]store.MatchedUser(nil), users...)
	rec.Revision++
	return nil
}

func clonePhoto(rec *store.PhotoRecord) store.PhotoRecord {
	cp := *rec
	cp.MatchedUsers = append([]store.MatchedUser(nil), rec.MatchedUsers...)
	return cp
}
