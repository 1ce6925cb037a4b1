// Package db tests for database migration management.
package db

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"V1__widgets.up.sql":   {Data: []byte("CREATE TABLE widgets (id TEXT PRIMARY KEY);")},
		"V1__widgets.down.sql": {Data: []byte("DROP TABLE widgets;")},
		"V2__gadgets.up.sql":   {Data: []byte("CREATE TABLE gadgets (id TEXT PRIMARY KEY);")},
		"V2__gadgets.down.sql": {Data: []byte("DROP TABLE gadgets;")},
		"README.md":            {Data: []byte("not a migration")},
	}
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("sqlite_master query failed: %v", err)
	}
	return n == 1
}

// TestMigrator_Up verifies pending migrations are applied in order.
func TestMigrator_Up(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)
	m := NewMigrator(db, testMigrations())

	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(ctx); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	version, err := m.CurrentVersion(ctx)
	if err != nil {
		t.Fatalf("CurrentVersion() failed: %v", err)
	}
	if version != 2 {
		t.Errorf("CurrentVersion() = %d, want 2", version)
	}
	if !tableExists(t, db, "widgets") || !tableExists(t, db, "gadgets") {
		t.Error("migration tables were not created")
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("GetAppliedMigrations() failed: %v", err)
	}
	if len(applied) != 2 || applied[0].Description != "widgets" || len(applied[0].Checksum) != 64 {
		t.Errorf("applied = %+v", applied)
	}

	// Second run is a no-op.
	if err := m.Up(ctx); err != nil {
		t.Errorf("second Up() failed: %v", err)
	}
}

// TestMigrator_Up_modified verifies edited migrations are detected.
func TestMigrator_Up_modified(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)
	fsys := testMigrations()
	m := NewMigrator(db, fsys)
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(ctx); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}

	fsys["V1__widgets.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE widgets (id TEXT PRIMARY KEY, name TEXT);")}
	if err := m.Up(ctx); err == nil {
		t.Error("Up() should fail when an applied migration changed")
	}
}

// TestMigrator_Down verifies the latest migration is rolled back.
func TestMigrator_Down(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)
	m := NewMigrator(db, testMigrations())
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	if err := m.Down(ctx); err == nil {
		t.Error("Down() with nothing applied should fail")
	}

	if err := m.Up(ctx); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	if err := m.Down(ctx); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}

	version, _ := m.CurrentVersion(ctx)
	if version != 1 {
		t.Errorf("CurrentVersion() after Down = %d, want 1", version)
	}
	if tableExists(t, db, "gadgets") {
		t.Error("gadgets table should be dropped")
	}
	if !tableExists(t, db, "widgets") {
		t.Error("widgets table should remain")
	}
}

// TestMigrations_embedded verifies the built-in migrations apply cleanly.
func TestMigrations_embedded(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)
	m := NewMigrator(db, Migrations())
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := m.Up(ctx); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	for _, table := range []string{"meta", "collections", "collection_indexes", "records", "record_index"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s missing", table)
		}
	}
	if err := m.Down(ctx); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}
	if tableExists(t, db, "records") {
		t.Error("records table should be dropped by Down()")
	}
}
