package embeddings

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// Store keeps note vectors in pgvector.
type Store struct {
	pool *pgxpool.Pool
}

// Match is a vector hit; lower distance is closer.
type Match struct {
	NoteID   string
	Distance float64
}

// Vector is one note embedding to store.
type Vector struct {
	NoteID      string
	UserID      string
	Embedding   []float32
	ContentHash string
}

// NewStore connects to PostgreSQL and registers the pgvector types.
func NewStore(ctx context.Context, pgURL string) (*Store, error) {
	config, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres URL: %w", err)
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Init creates the extension, table and HNSW index.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		`CREATE TABLE IF NOT EXISTS note_embeddings (
			note_id      TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			embedding    vector(768) NOT NULL,
			content_hash TEXT NOT NULL,
			embedded_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		"CREATE INDEX IF NOT EXISTS idx_note_embeddings_user ON note_embeddings (user_id)",
		`CREATE INDEX IF NOT EXISTS idx_note_embeddings_hnsw ON note_embeddings
			USING hnsw (embedding vector_cosine_ops) WITH (m = 16, ef_construction = 64)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init embedding store: %w", err)
		}
	}
	slog.Info("embedding store initialized")
	return nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Upsert stores vectors in one transaction.
func (s *Store) Upsert(ctx context.Context, vectors []Vector) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, v := range vectors {
		_, err := tx.Exec(ctx, `
			INSERT INTO note_embeddings (note_id, user_id, embedding, content_hash, embedded_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (note_id) DO UPDATE
			SET embedding = EXCLUDED.embedding,
				content_hash = EXCLUDED.content_hash,
				embedded_at = now()
		`, v.NoteID, v.UserID, pgvector.NewVector(v.Embedding), v.ContentHash)
		if err != nil {
			return fmt.Errorf("upsert embedding %s: %w", v.NoteID, err)
		}
	}
	return tx.Commit(ctx)
}

// Search returns the user's notes closest to query by cosine distance.
func (s *Store) Search(ctx context.Context, userID string, query []float32, limit int) ([]Match, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT note_id, embedding <=> $2 AS distance
		FROM note_embeddings
		WHERE user_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3
	`, userID, pgvector.NewVector(query), limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var m Match
		err := row.Scan(&m.NoteID, &m.Distance)
		return m, err
	})
}

// Hashes returns the content hash of every embedded note.
func (s *Store) Hashes(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT note_id, content_hash FROM note_embeddings")
	if err != nil {
		return nil, fmt.Errorf("get embedded: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fmt.Errorf("scan embedded: %w", err)
		}
		hashes[id] = hash
	}
	return hashes, rows.Err()
}

// Delete removes the vectors of deleted notes.
func (s *Store) Delete(ctx context.Context, noteIDs []string) error {
	if len(noteIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, "DELETE FROM note_embeddings WHERE note_id = ANY($1)", noteIDs)
	return err
}
