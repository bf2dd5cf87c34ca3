package db

import (
	"context"
	"io/fs"
	"os"
	"strings"
	"testing"
)

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(embedMigrations, "migrations/*.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no migrations embedded")
	}

	for _, name := range files {
		data, err := fs.ReadFile(embedMigrations, name)
		if err != nil {
			t.Fatal(err)
		}
		body := string(data)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Errorf("%s is missing goose annotations", name)
		}
	}
}

// TestNewPool migrates a real database when DATABASE_URL is set.
func TestNewPool(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}

	pool, err := NewPool(context.Background(), dsn)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Close()

	var exists bool
	err = pool.QueryRow(context.Background(), `SELECT to_regclass('public.hub_sessions') IS NOT NULL`).Scan(&exists)
	if err != nil || !exists {
		t.Errorf("hub_sessions missing after migrations: exists=%v err=%v", exists, err)
	}
}

func TestNewPoolRejectsBadDSN(t *testing.T) {
	if _, err := NewPool(context.Background(), "://not a dsn"); err == nil {
		t.Error("NewPool() accepted an invalid DSN")
	}
}
