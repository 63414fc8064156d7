package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bobarin/beatcut/internal/models"
	"github.com/google/uuid"
)

func (db *DB) CreateMediaItem(ctx context.Context, item *models.MediaItem) error {
	query := `
		INSERT INTO media_items (
			id, owner_id, name, kind, mime_type, byte_size,
			duration_seconds, thumbnail, storage_path
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		item.ID, item.OwnerID, item.Name, item.Kind, item.MimeType, item.ByteSize,
		item.DurationSeconds, item.Thumbnail, item.StoragePath,
	).Scan(&item.CreatedAt)
}

func (db *DB) GetMediaItem(ctx context.Context, id uuid.UUID) (*models.MediaItem, error) {
	query := `
		SELECT
			id, owner_id, name, kind, mime_type, byte_size,
			duration_seconds, thumbnail, storage_path, created_at
		FROM media_items
		WHERE id = $1
	`

	item := &models.MediaItem{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&item.ID, &item.OwnerID, &item.Name, &item.Kind, &item.MimeType,
		&item.ByteSize, &item.DurationSeconds, &item.Thumbnail,
		&item.StoragePath, &item.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("media item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media item: %w", err)
	}

	return item, nil
}

// ListMediaItems returns an owner's media, newest first. Thumbnails are
// left out to keep listings small.
func (db *DB) ListMediaItems(ctx context.Context, ownerID string) ([]models.MediaItem, error) {
	query := `
		SELECT
			id, owner_id, name, kind, mime_type, byte_size,
			duration_seconds, storage_path, created_at
		FROM media_items
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`

	rows, err := db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query media items: %w", err)
	}
	defer rows.Close()

	var items []models.MediaItem
	for rows.Next() {
		var item models.MediaItem
		err := rows.Scan(
			&item.ID, &item.OwnerID, &item.Name, &item.Kind, &item.MimeType,
			&item.ByteSize, &item.DurationSeconds, &item.StoragePath, &item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media item: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}
