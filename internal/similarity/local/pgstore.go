package local

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgDescriptorStore persists descriptors in PostgreSQL with pgvector, so a
// restarted process can rebuild its HNSW graph without re-extracting faces.
type PgDescriptorStore struct {
	pool *pgxpool.Pool
	dim  int
}

// NewPgDescriptorStore connects to PostgreSQL and ensures the descriptors
// table exists with the configured embedding dimension.
func NewPgDescriptorStore(ctx context.Context, connStr string, dim int) (*PgDescriptorStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PgDescriptorStore{pool: pool, dim: dim}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PgDescriptorStore) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS descriptors (
			id         VARCHAR(255) PRIMARY KEY,
			label      VARCHAR(512) NOT NULL,
			embedding  vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.dim)
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create descriptors table: %w", err)
	}
	return nil
}

// SaveDescriptor stores one descriptor; re-saving an id is a no-op update.
func (s *PgDescriptorStore) SaveDescriptor(ctx context.Context, d StoredDescriptor) error {
	vec := pgvector.NewVector(d.Embedding)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO descriptors (id, label, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET label = EXCLUDED.label, embedding = EXCLUDED.embedding
	`, d.ID, d.Label, vec)
	if err != nil {
		return fmt.Errorf("insert descriptor: %w", err)
	}
	return nil
}

// LoadDescriptors returns every persisted descriptor.
func (s *PgDescriptorStore) LoadDescriptors(ctx context.Context) ([]StoredDescriptor, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, label, embedding FROM descriptors ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("query descriptors: %w", err)
	}
	defer rows.Close()

	var out []StoredDescriptor
	for rows.Next() {
		var d StoredDescriptor
		var vec pgvector.Vector
		if err := rows.Scan(&d.ID, &d.Label, &vec); err != nil {
			return nil, fmt.Errorf("scan descriptor: %w", err)
		}
		d.Embedding = vec.Slice()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate descriptors: %w", err)
	}
	return out, nil
}

// Close releases the connection pool.
func (s *PgDescriptorStore) Close() {
	s.pool.Close()
}
