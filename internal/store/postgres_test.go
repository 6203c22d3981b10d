package store

import (
	"context"
	"os"
	"testing"
)

// TestPostgresStore runs against a scratch database named by
// TEST_DATABASE_URL. Its tables are dropped first.
func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	s, err := NewPostgresStore(ctx, url)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	defer s.Close()

	if _, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS messages, notifications, prendas`); err != nil {
		t.Fatalf("drop tables: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO prendas (id, nombre, owner) VALUES (12, 'Winter coat', 'ana')`); err != nil {
		t.Fatalf("seed subject: %v", err)
	}

	runBackendTests(t, s)

	name, err := s.SubjectName(ctx, 12)
	if err != nil || name != "Winter coat" {
		t.Errorf("SubjectName = %q, %v", name, err)
	}
}
