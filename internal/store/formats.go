package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Format is a named output format specification saved by users.
type Format struct {
	Key       string    `json:"key"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetFormat fetches a saved format by key.
func (s *Store) GetFormat(ctx context.Context, key string) (*Format, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT key, title, content, updated_at
		FROM output_formats WHERE key = $1`, key)

	var f Format
	if err := row.Scan(&f.Key, &f.Title, &f.Content, &f.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get format %q: %w", key, err)
	}
	return &f, nil
}

// UpsertFormat creates or replaces a saved format.
func (s *Store) UpsertFormat(ctx context.Context, f Format) (*Format, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO output_formats (key, title, content)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET title = EXCLUDED.title, content = EXCLUDED.content, updated_at = now()
		RETURNING key, title, content, updated_at`,
		f.Key, f.Title, f.Content,
	)

	var out Format
	if err := row.Scan(&out.Key, &out.Title, &out.Content, &out.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert format %q: %w", f.Key, err)
	}
	return &out, nil
}

func (s *Store) ListFormats(ctx context.Context) ([]Format, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT key, title, content, updated_at
		FROM output_formats ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list formats: %w", err)
	}
	defer rows.Close()

	var out []Format
	for rows.Next() {
		var f Format
		if err := rows.Scan(&f.Key, &f.Title, &f.Content, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan format: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteFormat removes a saved format. Deleting a missing key returns ErrNotFound.
func (s *Store) DeleteFormat(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM output_formats WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete format %q: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
