package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-finder/internal/store"
)

// PhotoRepository provides PostgreSQL-backed photo record storage.
type PhotoRepository struct {
	pool *Pool
}

// NewPhotoRepository creates a new PostgreSQL photo repository.
func NewPhotoRepository(pool *Pool) *PhotoRepository {
	return &PhotoRepository{pool: pool}
}

// GetPhoto retrieves a photo record by id.
func (r *PhotoRepository) GetPhoto(ctx context.Context, photoID string) (*store.PhotoRecord, error) {
	var rec store.PhotoRecord
	var matched []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_user_id, storage_locator, matched_users, revision, created_at
		FROM photo_records
		WHERE id = $1
	`, photoID).Scan(&rec.ID, &rec.OwnerUserID, &rec.StorageLocator, &matched, &rec.Revision, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query photo record: %w", err)
	}
	if err := json.Unmarshal(matched, &rec.MatchedUsers); err != nil {
		return nil, fmt.Errorf("decode matched users: %w", err)
	}
	return &rec, nil
}

// PutPhoto creates or replaces a photo record.
func (r *PhotoRepository) PutPhoto(ctx context.Context, rec *store.PhotoRecord) error {
	matched, err := json.Marshal(usersOrEmpty(rec.MatchedUsers))
	if err != nil {
		return fmt.Errorf("encode matched users: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO photo_records (id, owner_user_id, storage_locator, matched_users, revision, created_at)
		VALUES ($1, $2, $3, $4, 0, $5)
		ON CONFLICT (id) DO UPDATE
		SET owner_user_id = EXCLUDED.owner_user_id,
		    storage_locator = EXCLUDED.storage_locator,
		    matched_users = EXCLUDED.matched_users,
		    revision = photo_records.revision + 1
	`, rec.ID, rec.OwnerUserID, rec.StorageLocator, matched, createdAt)
	if err != nil {
		return fmt.Errorf("upsert photo record: %w", err)
	}
	return nil
}

// UpdateMatchedUsers replaces matched_users, guarded by the revision the
// caller read. Zero affected rows with an existing record means another
// writer won the race.
func (r *PhotoRepository) UpdateMatchedUsers(ctx context.Context, photoID string, users []store.MatchedUser, expectedRevision int64) error {
	encoded, err := json.Marshal(usersOrEmpty(users))
	if err != nil {
		return fmt.Errorf("encode matched users: %w", err)
	}
	if len(encoded) > store.MaxItemBytes {
		return store.ErrSizeLimit
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE photo_records
		SET matched_users = $2, revision = revision + 1
		WHERE id = $1 AND revision = $3
	`, photoID, encoded, expectedRevision)
	if err != nil {
		return fmt.Errorf("update matched users: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Distinguish a missing record from a lost race.
	var exists bool
	if err := r.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM photo_records WHERE id = $1)", photoID).Scan(&exists); err != nil {
		return fmt.Errorf("check photo exists: %w", err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrWriteConflict
}

func usersOrEmpty(users []store.MatchedUser) []store.MatchedUser {
	if users == nil {
		return []store.MatchedUser{}
	}
	return users
}
