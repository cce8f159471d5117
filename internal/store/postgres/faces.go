package postgres

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kozaktomas/face-finder/internal/store"
)

// FaceRepository provides PostgreSQL-backed face record storage.
type FaceRepository struct {
	pool *Pool
}

// NewFaceRepository creates a new PostgreSQL face repository.
func NewFaceRepository(pool *Pool) *FaceRepository {
	return &FaceRepository{pool: pool}
}

const faceColumns = "user_id, descriptor_id, attributes, historical_matches, status, created_at, updated_at"

// GetFace retrieves a face record by key.
func (r *FaceRepository) GetFace(ctx context.Context, userID, descriptorID string) (*store.FaceRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+faceColumns+`
		FROM face_records
		WHERE user_id = $1 AND descriptor_id = $2
	`, userID, descriptorID)

	rec, err := scanFace(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query face record: %w", err)
	}
	return rec, nil
}

// PutFace creates a new face record. Re-registering the same descriptor for
// the same user is rejected; prior descriptors remain as separate rows.
func (r *FaceRepository) PutFace(ctx context.Context, rec *store.FaceRecord) error {
	attrs := rec.Attributes
	if len(attrs) == 0 {
		attrs = json.RawMessage("{}")
	}
	matches, err := json.Marshal(matchesOrEmpty(rec.HistoricalMatches))
	if err != nil {
		return fmt.Errorf("encode matches: %w", err)
	}
	status := rec.Status
	if status == "" {
		status = store.StatusActive
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO face_records (user_id, descriptor_id, attributes, historical_matches, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, rec.UserID, rec.DescriptorID, []byte(attrs), matches, string(status), createdAt)
	if err != nil {
		return fmt.Errorf("insert face record: %w", err)
	}
	return nil
}

// UpdateMatches replaces the historical match list of a record. Last writer
// wins; serialization of concurrent reconciliations happens in the scheduler.
func (r *FaceRepository) UpdateMatches(ctx context.Context, userID, descriptorID string, matches []store.MatchEntry) error {
	encoded, err := json.Marshal(matchesOrEmpty(matches))
	if err != nil {
		return fmt.Errorf("encode matches: %w", err)
	}
	if len(encoded) > store.MaxItemBytes {
		return store.ErrSizeLimit
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE face_records
		SET historical_matches = $3, updated_at = NOW()
		WHERE user_id = $1 AND descriptor_id = $2
	`, userID, descriptorID, encoded)
	if err != nil {
		return fmt.Errorf("update face matches: %w", err)
	}
	return requireRow(result)
}

// SetFaceStatus marks a record active or stale.
func (r *FaceRepository) SetFaceStatus(ctx context.Context, userID, descriptorID string, status store.FaceStatus) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE face_records
		SET status = $3, updated_at = NOW()
		WHERE user_id = $1 AND descriptor_id = $2
	`, userID, descriptorID, string(status))
	if err != nil {
		return fmt.Errorf("update face status: %w", err)
	}
	return requireRow(result)
}

// FacesByUser returns all face records for a user, newest first.
func (r *FaceRepository) FacesByUser(ctx context.Context, userID string) ([]store.FaceRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+faceColumns+`
		FROM face_records
		WHERE user_id = $1
		ORDER BY created_at DESC, descriptor_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query faces by user: %w", err)
	}
	defer rows.Close()

	return collectFaces(rows)
}

// ScanFaces pages through all face records by primary key. The continuation
// token encodes the last key of the previous page.
func (r *FaceRepository) ScanFaces(ctx context.Context, token string, pageSize int) ([]store.FaceRecord, string, error) {
	afterUser, afterDescriptor, err := decodeScanToken(token)
	if err != nil {
		return nil, "", err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+faceColumns+`
		FROM face_records
		WHERE (user_id, descriptor_id) > ($1, $2)
		ORDER BY user_id, descriptor_id
		LIMIT $3
	`, afterUser, afterDescriptor, pageSize)
	if err != nil {
		return nil, "", fmt.Errorf("scan face records: %w", err)
	}
	defer rows.Close()

	page, err := collectFaces(rows)
	if err != nil {
		return nil, "", err
	}
	if len(page) < pageSize {
		return page, "", nil
	}
	last := page[len(page)-1]
	return page, encodeScanToken(last.UserID, last.DescriptorID), nil
}

func matchesOrEmpty(matches []store.MatchEntry) []store.MatchEntry {
	if matches == nil {
		return []store.MatchEntry{}
	}
	return matches
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFace(row rowScanner) (*store.FaceRecord, error) {
	var rec store.FaceRecord
	var attrs, matches []byte
	var status string
	if err := row.Scan(&rec.UserID, &rec.DescriptorID, &attrs, &matches, &status, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	rec.Attributes = json.RawMessage(attrs)
	rec.Status = store.FaceStatus(status)
	if err := json.Unmarshal(matches, &rec.HistoricalMatches); err != nil {
		return nil, fmt.Errorf("decode historical matches: %w", err)
	}
	return &rec, nil
}

func collectFaces(rows *sql.Rows) ([]store.FaceRecord, error) {
	var out []store.FaceRecord
	for rows.Next() {
		rec, err := scanFace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan face record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate face records: %w", err)
	}
	return out, nil
}

func encodeScanToken(userID, descriptorID string) string {
	return base64.StdEncoding.EncodeToString([]byte(userID + "\x00" + descriptorID))
}

func decodeScanToken(token string) (string, string, error) {
	if token == "" {
		return "", "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", fmt.Errorf("invalid continuation token: %w", err)
	}
	parts := strings.SplitN(string(raw), "\x00", 2)
	if len(parts) != 2 {
		return "", "", errors.New("invalid continuation token")
	}
	return parts[0], parts[1], nil
}
