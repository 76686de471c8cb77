package database

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMigratorRun(t *testing.T) {
	db, err := Open(&Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	migrator := NewMigrator(db)
	ctx := context.Background()

	if v, err := migrator.Version(ctx); err != nil || v != 0 {
		t.Fatalf("Expected version 0 before migrating, got %d (%v)", v, err)
	}

	if err := migrator.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Running again should be idempotent
	if err := migrator.Run(ctx); err != nil {
		t.Fatalf("Second Run failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("Failed to query schema_migrations: %v", err)
	}

	available, err := availableMigrations()
	if err != nil {
		t.Fatalf("availableMigrations failed: %v", err)
	}
	if count != len(available) {
		t.Errorf("Expected %d applied migrations, got %d", len(available), count)
	}

	v, err := migrator.Version(ctx)
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if v != available[len(available)-1].Version {
		t.Errorf("Expected version %d, got %d", available[len(available)-1].Version, v)
	}
}

func TestAvailableMigrationsSorted(t *testing.T) {
	migrations, err := availableMigrations()
	if err != nil {
		t.Fatalf("availableMigrations failed: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("Expected at least one embedded migration")
	}
	if migrations[0].Version != 1 || migrations[0].Name != "initial_schema" {
		t.Errorf("Unexpected first migration: %d %s", migrations[0].Version, migrations[0].Name)
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version <= migrations[i-1].Version {
			t.Errorf("Migrations not sorted at index %d", i)
		}
	}
}
