package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"docuchat.app/engine/core/db"
	"docuchat.app/engine/internal/model"
)

type ChunkStore struct {
	db *db.DB
}

func (s *ChunkStore) Create(ctx context.Context, tx pgx.Tx, chunk *model.Chunk) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO chunks (id, document_id, chunk_index, text, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		chunk.ID, chunk.DocumentID, chunk.ChunkIndex, chunk.Text)
	if err != nil {
		return fmt.Errorf("creating chunk: %w", err)
	}
	return nil
}

func (s *ChunkStore) GetByID(ctx context.Context, id string) (*model.Chunk, error) {
	var c model.Chunk
	err := s.db.Pool().QueryRow(ctx, `
		SELECT id, document_id, chunk_index, text, created_at
		FROM chunks
		WHERE id = $1`, id).
		Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Text, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting chunk: %w", err)
	}
	return &c, nil
}

// GetInDocument fetches a chunk only if it belongs to the given document.
// Guards against a valid chunkId paired with the wrong docId.
func (s *ChunkStore) GetInDocument(ctx context.Context, id, documentID string) (*model.Chunk, error) {
	var c model.Chunk
	err := s.db.Pool().QueryRow(ctx, `
		SELECT id, document_id, chunk_index, text, created_at
		FROM chunks
		WHERE id = $1 AND document_id = $2`, id, documentID).
		Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Text, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting chunk in document: %w", err)
	}
	return &c, nil
}

func (s *ChunkStore) ListByDocument(ctx context.Context, documentID string) ([]*model.Chunk, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, document_id, chunk_index, text, created_at
		FROM chunks
		WHERE document_id = $1
		ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		var c model.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Text, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks = append(chunks, &c)
	}

	return chunks, rows.Err()
}

func (s *ChunkStore) DeleteByDocument(ctx context.Context, tx pgx.Tx, documentID string) error {
	_, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}
