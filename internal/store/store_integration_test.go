//go:build integration

package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_FormatLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	key := "it-" + uuid.New().String()[:8]
	t.Cleanup(func() { _ = s.DeleteFormat(context.Background(), key) })

	if _, err := s.GetFormat(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before insert, got %v", err)
	}

	created, err := s.UpsertFormat(ctx, Format{Key: key, Title: "Weekly counts", Content: "columns: week, count"})
	if err != nil {
		t.Fatalf("UpsertFormat failed: %v", err)
	}
	if created.UpdatedAt.IsZero() {
		t.Error("expected updated_at to be set")
	}

	updated, err := s.UpsertFormat(ctx, Format{Key: key, Title: "Weekly counts", Content: "columns: week, total"})
	if err != nil {
		t.Fatalf("second UpsertFormat failed: %v", err)
	}
	if updated.Content != "columns: week, total" {
		t.Errorf("expected replaced content, got %q", updated.Content)
	}

	got, err := s.GetFormat(ctx, key)
	if err != nil {
		t.Fatalf("GetFormat failed: %v", err)
	}
	if got.Title != "Weekly counts" {
		t.Errorf("expected title, got %q", got.Title)
	}

	all, err := s.ListFormats(ctx)
	if err != nil {
		t.Fatalf("ListFormats failed: %v", err)
	}
	found := false
	for _, f := range all {
		if f.Key == key {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s in list", key)
	}

	if err := s.DeleteFormat(ctx, key); err != nil {
		t.Fatalf("DeleteFormat failed: %v", err)
	}
	if err := s.DeleteFormat(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}
